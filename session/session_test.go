////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/chatsync/dialogs"
	"gitlab.com/elixxir/chatsync/event"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/network"
	"gitlab.com/elixxir/chatsync/raw"
	"gitlab.com/elixxir/chatsync/replay"
	"gitlab.com/elixxir/chatsync/sending"
	"gitlab.com/elixxir/chatsync/storage/versioned"
	"gitlab.com/elixxir/ekv"
)

const (
	self        = ids.PeerID(1)
	alice       = ids.PeerID(42)
	group       = ids.PeerID(-5)
	newsChannel = ids.ChannelID(7)
)

var news = ids.ChannelPeer(newsChannel)

// testNet gates and reorders the replies of the scripted server.
type testNet struct {
	*replay.Network
	sendGate    chan struct{}
	readGate    chan struct{}
	readStarted chan struct{}
	// reverse delivers the long send reply NewMessage first.
	reverse bool
}

func (n *testNet) SendMessage(ctx context.Context,
	req network.SendRequest) (raw.SentMessage, error) {
	if n.sendGate != nil {
		<-n.sendGate
	}
	res, err := n.Network.SendMessage(ctx, req)
	if n.reverse && len(res.Updates) == 2 {
		res.Updates[0], res.Updates[1] = res.Updates[1], res.Updates[0]
	}
	return res, err
}

func (n *testNet) ReadHistory(ctx context.Context, peer ids.PeerID,
	maxID int64) error {
	if n.readStarted != nil {
		n.readStarted <- struct{}{}
	}
	if n.readGate != nil {
		<-n.readGate
	}
	return n.Network.ReadHistory(ctx, peer, maxID)
}

// newTestNet holds three conversations. Alice has three unread messages
// above a read one. The group shares the default numbering space with
// Alice; the channel counts on its own.
func newTestNet() *testNet {
	n := replay.NewNetwork(self)
	n.AddMessages(
		raw.Message{ID: 10, Peer: self, From: alice, Date: 1010, Text: "a"},
		raw.Message{ID: 11, Peer: self, From: alice, Date: 1011, Text: "b"},
		raw.Message{ID: 12, Peer: self, From: alice, Date: 1012, Text: "c"},
		raw.Message{ID: 13, Peer: self, From: alice, Date: 1013, Text: "d"},
		raw.Message{ID: 14, Peer: group, From: 43, Date: 1014, Text: "e"},
		raw.Message{ID: 1, Peer: news, Date: 1001, Text: "f", Post: true},
		raw.Message{ID: 2, Peer: news, Date: 1002, Text: "g", Post: true},
		raw.Message{ID: 3, Peer: news, Date: 1003, Text: "h", Post: true},
	)
	n.AddDialog(raw.Dialog{Peer: alice, ReadInboxMaxID: 10, UnreadCount: 3})
	n.AddDialog(raw.Dialog{Peer: group, ReadInboxMaxID: 14})
	n.AddDialog(raw.Dialog{Peer: news, ReadInboxMaxID: 3})
	return &testNet{Network: n}
}

func newTestSession(t *testing.T, net network.Client, kv *versioned.KV,
	params Params) (*Session, *event.Recorder) {
	rec := &event.Recorder{}
	if kv == nil {
		kv = versioned.NewKV(ekv.MakeMemstore())
	}
	s, err := newSession(kv, net, self, params, rec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func loadDialogs(t *testing.T, s *Session) {
	_, err := s.GetDialogs(context.Background(), dialogs.MainFolder, 0, 20)
	require.NoError(t, err)
}

// A sent message shows up at once under a temporary ID and is replaced by
// the server's ID when the reply arrives.
func TestSession_SendText(t *testing.T) {
	net := newTestNet()
	net.sendGate = make(chan struct{})
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	tempID, err := s.SendText(alice, "hi", sending.SendOptions{})
	require.NoError(t, err)
	require.True(t, tempID.IsTemp())

	res, err := s.GetHistory(ctx, alice, 0, 1, 0)
	require.NoError(t, err)
	require.Equal(t, tempID, res.IDs[0])
	placeholder := s.Message(tempID)
	require.True(t, placeholder.Pending)
	require.Equal(t, "hi", placeholder.Text)
	ps, ok := s.Pending(tempID)
	require.True(t, ok)
	require.Equal(t, sending.PendingLocal, ps.State)

	close(net.sendGate)
	s.Wait()

	const sentID = ids.MessageID(15)
	res, err = s.GetHistory(ctx, alice, 0, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []ids.MessageID{sentID}, res.IDs)

	m := s.Message(sentID)
	require.Equal(t, "hi", m.Text)
	require.False(t, m.Pending)
	require.True(t, m.Out)
	_, known := s.store.Lookup(tempID)
	require.False(t, known)
	_, ok = s.Pending(tempID)
	require.False(t, ok)

	sent := rec.OfKind(event.MessageSent)
	require.Len(t, sent, 1)
	require.Equal(t, tempID, sent[0].TempID)
	require.Equal(t, sentID, sent[0].ID)

	dlg, _ := s.Dialog(alice)
	require.Equal(t, sentID, dlg.TopMessage)
	require.Equal(t, sentID, s.MaxSeenID())
}

// The server's ID and the message itself may arrive in either order.
func TestSession_SendText_LongReply(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		net := newTestNet()
		net.LongSends(true)
		net.reverse = reverse
		s, rec := newTestSession(t, net, nil, GetDefaultParams())
		loadDialogs(t, s)

		tempID, err := s.SendText(alice, "hi", sending.SendOptions{})
		require.NoError(t, err)
		s.Wait()

		res, err := s.GetHistory(context.Background(), alice, 0, 2, 0)
		require.NoError(t, err)
		require.Equal(t, []ids.MessageID{15, 13}, res.IDs, "reverse %v", reverse)
		require.False(t, s.Message(15).Pending)
		_, known := s.store.Lookup(tempID)
		require.False(t, known)
		require.Len(t, rec.OfKind(event.MessageSent), 1)

		dlg, _ := s.Dialog(alice)
		require.Equal(t, 3, dlg.UnreadCount, "own messages are not unread")
	}
}

func TestSession_SendText_FailRetry(t *testing.T) {
	net := newTestNet()
	net.FailSends(1)
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)

	tempID, err := s.SendText(alice, "hi", sending.SendOptions{})
	require.NoError(t, err)
	s.Wait()
	require.True(t, s.Message(tempID).Error)
	ps, _ := s.Pending(tempID)
	require.Equal(t, sending.Failed, ps.State)
	require.NotEmpty(t, rec.OfKind(event.MessagesPending))

	require.NoError(t, s.Retry(tempID))
	s.Wait()
	require.False(t, s.Message(15).Error)
	require.Equal(t, "hi", s.Message(15).Text)
	require.Len(t, net.Messages(alice), 5)

	_, err = s.SendText(alice, "  ", sending.SendOptions{})
	require.ErrorIs(t, err, network.ErrMessageEmpty)
}

// Reading the newest message clears the unread counter.
func TestSession_ReadHistory(t *testing.T) {
	net := newTestNet()
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	dlg, _ := s.Dialog(alice)
	require.Equal(t, 3, dlg.UnreadCount)
	require.True(t, s.Message(13).Unread)

	require.NoError(t, s.ReadHistory(ctx, alice, 0))
	dlg, _ = s.Dialog(alice)
	require.Equal(t, 0, dlg.UnreadCount)
	require.Equal(t, ids.MessageID(13), dlg.ReadInboxMaxID)
	require.False(t, s.Message(13).Unread)

	unread := rec.OfKind(event.DialogUnread)
	require.Equal(t, 0, unread[len(unread)-1].UnreadCount)
	require.Equal(t, []ids.MessageID{13},
		rec.OfKind(event.HistoryUpdate)[0].IDs)

	server, _ := net.Dialog(alice)
	require.Equal(t, int64(13), server.ReadInboxMaxID)
	require.Equal(t, 0, server.UnreadCount)

	// Reading again sends nothing.
	require.NoError(t, s.ReadHistory(ctx, alice, 0))
	require.Equal(t, 1, net.Calls("read"))

	require.ErrorIs(t, s.ReadHistory(ctx, 99, 0), dialogs.ErrNoDialog)
}

// A read issued while another is in flight raises the ID the first one
// reads up to instead of sending its own request.
func TestSession_ReadHistory_Coalesced(t *testing.T) {
	net := newTestNet()
	net.readGate = make(chan struct{})
	net.readStarted = make(chan struct{}, 2)
	s, _ := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	done := make(chan error)
	go func() { done <- s.ReadHistory(ctx, alice, 11) }()

	select {
	case <-net.readStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("read request was never sent")
	}
	require.NoError(t, s.ReadHistory(ctx, alice, 13))
	require.NoError(t, s.ReadHistory(ctx, alice, 12))

	close(net.readGate)
	require.NoError(t, <-done)

	require.Equal(t, 2, net.Calls("read"))
	server, _ := net.Dialog(alice)
	require.Equal(t, int64(13), server.ReadInboxMaxID)
	dlg, _ := s.Dialog(alice)
	require.Equal(t, 0, dlg.UnreadCount)
}

// An ID whose numbering space is unknown makes the conversation reload.
func TestSession_UnknownSlotReloads(t *testing.T) {
	net := newTestNet()
	s, _ := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)

	bogus := ids.MessageID(99*ids.Modulus + 5)
	s.store.Put(messages.Message{ID: bogus, Peer: news, Text: "x"})

	err := s.EditMessage(context.Background(), bogus, "y")
	require.ErrorIs(t, err, ids.ErrUnknownSlot)
	s.Wait()
	require.Equal(t, 1, net.Calls("getPeerDialogs"))
	require.Zero(t, net.Calls("edit"))
}

// Updates for a conversation the session has never seen wait for it to be
// loaded.
func TestSession_HandleUpdates_NewDialog(t *testing.T) {
	net := newTestNet()
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)

	u := net.Incoming(99, "hello")
	s.HandleUpdates([]raw.Update{u})
	s.Wait()

	dlg, exists := s.Dialog(99)
	require.True(t, exists)
	require.Equal(t, ids.MessageID(15), dlg.TopMessage)
	require.Equal(t, 1, dlg.UnreadCount)
	require.Equal(t, "hello", s.Message(15).Text)
	require.NotEmpty(t, rec.OfKind(event.DialogsMultiupdate))
}

func TestSession_EditMessage(t *testing.T) {
	net := newTestNet()
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	require.NoError(t, s.EditMessage(ctx, 13, "edited"))
	require.Equal(t, "edited", s.Message(13).Text)
	require.NotZero(t, s.Message(13).EditDate)
	require.Len(t, rec.OfKind(event.MessageEdit), 1)

	// No change is not an error.
	require.NoError(t, s.EditMessage(ctx, 13, "edited"))
	require.Len(t, rec.OfKind(event.MessageEdit), 1)

	require.ErrorIs(t, s.EditMessage(ctx, 400, "x"), ErrUnknownMessage)
}

// An edit of a message still being sent applies to the placeholder now and
// to the server's message once it exists.
func TestSession_EditMessage_Pending(t *testing.T) {
	net := newTestNet()
	net.sendGate = make(chan struct{})
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	tempID, err := s.SendText(alice, "hi", sending.SendOptions{})
	require.NoError(t, err)
	require.NoError(t, s.EditMessage(ctx, tempID, "hi there"))
	require.Equal(t, "hi there", s.Message(tempID).Text)
	require.Len(t, rec.OfKind(event.MessageEdit), 1)

	close(net.sendGate)
	s.Wait()

	require.Equal(t, "hi there", net.Messages(alice)[0].Text)
	require.Equal(t, "hi there", s.Message(15).Text)
	require.Equal(t, 1, net.Calls("edit"))
}

// Confirmed messages are deleted with one request per numbering space.
func TestSession_DeleteMessages(t *testing.T) {
	net := newTestNet()
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	_, err := s.GetHistory(ctx, alice, 0, 5, 0)
	require.NoError(t, err)
	_, err = s.GetHistory(ctx, news, 0, 5, 0)
	require.NoError(t, err)
	newsTwo := s.space.ToGlobal(2, newsChannel)
	require.Equal(t, "g", s.Message(newsTwo).Text)

	require.NoError(t, s.DeleteMessages(ctx,
		[]ids.MessageID{11, newsTwo, 12}, true))
	require.Equal(t, 2, net.Calls("delete"))
	require.Len(t, net.Messages(alice), 2)
	require.Len(t, net.Messages(news), 2)

	require.True(t, s.Message(11).Deleted)
	require.True(t, s.Message(newsTwo).Deleted)
	require.False(t, s.history.Get(alice).Contains(11))
	require.False(t, s.history.Get(news).Contains(newsTwo))
	require.Len(t, rec.OfKind(event.HistoryDelete), 2)

	dlg, _ := s.Dialog(alice)
	require.Equal(t, 1, dlg.UnreadCount)
}

// Deleting a message that is still being sent withdraws the send.
func TestSession_DeleteMessages_Pending(t *testing.T) {
	net := newTestNet()
	net.sendGate = make(chan struct{})
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	tempID, err := s.SendText(alice, "oops", sending.SendOptions{})
	require.NoError(t, err)
	require.NoError(t, s.DeleteMessages(ctx, []ids.MessageID{tempID}, true))
	_, known := s.store.Lookup(tempID)
	require.False(t, known)
	require.Len(t, rec.OfKind(event.HistoryDelete), 1)

	close(net.sendGate)
	s.Wait()
	require.Len(t, net.Messages(alice), 4)
	require.Empty(t, rec.OfKind(event.MessageSent))
}

func TestSession_GetDialogs_Paging(t *testing.T) {
	net := newTestNet()
	params := GetDefaultParams()
	params.DialogsPageSize = 1
	s, _ := newTestSession(t, net, nil, params)
	ctx := context.Background()

	list, err := s.GetDialogs(ctx, dialogs.MainFolder, 0, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, group, list[0].Peer)
	require.Equal(t, alice, list[1].Peer)
	require.Equal(t, 2, net.Calls("getDialogs"))

	list, err = s.GetDialogs(ctx, dialogs.MainFolder, list[1].Index, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, news, list[0].Peer)
	require.Equal(t, 4, net.Calls("getDialogs"))

	// The folder is complete; the cache answers alone.
	list, err = s.GetDialogs(ctx, dialogs.MainFolder, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, 4, net.Calls("getDialogs"))
}

func TestSession_TogglePin(t *testing.T) {
	net := newTestNet()
	s, rec := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	require.NoError(t, s.TogglePin(ctx, news, dialogs.MainFolder))
	server, _ := net.Dialog(news)
	require.True(t, server.Pinned)
	list, err := s.GetDialogs(ctx, dialogs.MainFolder, 0, 10)
	require.NoError(t, err)
	require.Equal(t, news, list[0].Peer)
	require.True(t, list[0].Pinned)

	require.NoError(t, s.TogglePin(ctx, news, dialogs.MainFolder))
	list, _ = s.GetDialogs(ctx, dialogs.MainFolder, 0, 10)
	require.Equal(t, group, list[0].Peer)

	// Filters pin locally.
	require.NoError(t, s.SetFilter(dialogs.Filter{ID: 2, Title: "people",
		Users: true, Channels: true}))
	rec.Reset()
	require.NoError(t, s.TogglePin(ctx, news, 2))
	list, err = s.GetDialogs(ctx, 2, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, news, list[0].Peer)
	require.Len(t, rec.OfKind(event.DialogsMultiupdate), 1)
	require.Equal(t, 2, net.Calls("pin"))

	require.NoError(t, s.TogglePin(ctx, news, 2))
	list, _ = s.GetDialogs(ctx, 2, 0, 10)
	require.Equal(t, alice, list[0].Peer)

	require.Error(t, s.TogglePin(ctx, news, 9))
	require.ErrorIs(t, s.TogglePin(ctx, 99, dialogs.MainFolder),
		dialogs.ErrNoDialog)
}

func TestSession_MarkDialogUnread(t *testing.T) {
	net := newTestNet()
	s, _ := newTestSession(t, net, nil, GetDefaultParams())
	loadDialogs(t, s)
	ctx := context.Background()

	require.NoError(t, s.MarkDialogUnread(ctx, group, true))
	dlg, _ := s.Dialog(group)
	require.True(t, dlg.UnreadMark)
	require.Equal(t, 2, s.FolderUnread(dialogs.MainFolder).Dialogs)
	server, _ := net.Dialog(group)
	require.True(t, server.UnreadMark)
}

func TestSession_Callbacks(t *testing.T) {
	net := newTestNet()
	s, _ := newTestSession(t, net, nil, GetDefaultParams())

	got := make(chan event.Notification, 100)
	require.NoError(t, s.RegisterCallback("test", func(n event.Notification) {
		got <- n
	}))
	loadDialogs(t, s)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-got:
			if n.Kind != event.DialogsMultiupdate {
				continue
			}
			require.Len(t, n.Peers, 3)
			s.UnregisterCallback("test")
			return
		case <-timeout:
			t.Fatal("dialog update never delivered")
		}
	}
}

// The highest seen ID survives a restart.
func TestSession_Persistence(t *testing.T) {
	kv := versioned.NewKV(ekv.MakeMemstore())
	net := newTestNet()
	s, _ := newTestSession(t, net, kv, GetDefaultParams())
	loadDialogs(t, s)
	_, err := s.GetHistory(context.Background(), news, 0, 5, 0)
	require.NoError(t, err)
	require.Equal(t, ids.MessageID(14), s.MaxSeenID())
	newsTwo := s.space.ToGlobal(2, newsChannel)
	require.NoError(t, s.Save())

	loaded, err := New(kv, net, self, GetDefaultParams())
	require.NoError(t, err)
	defer loaded.Close()
	require.Equal(t, ids.MessageID(14), loaded.MaxSeenID())
	require.Equal(t, self, loaded.Self())

	local, channel, err := loaded.space.FromGlobal(newsTwo)
	require.NoError(t, err)
	require.Equal(t, int64(2), local)
	require.Equal(t, newsChannel, channel)
}

func TestParams_Marshal(t *testing.T) {
	p := GetDefaultParams()
	p.DialogsPageSize = 7
	data, err := p.Marshal()
	require.NoError(t, err)

	got, err := GetParameters(string(data))
	require.NoError(t, err)
	require.Equal(t, p, got)

	got, err = GetParameters(`{"EventQueueSize": 3}`)
	require.NoError(t, err)
	require.Equal(t, 3, got.EventQueueSize)
	require.Equal(t, GetDefaultParams().DialogsPageSize, got.DialogsPageSize)

	_, err = GetParameters("{")
	require.Error(t, err)
}
