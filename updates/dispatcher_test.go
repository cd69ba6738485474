////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package updates

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/chatsync/dialogs"
	"gitlab.com/elixxir/chatsync/event"
	"gitlab.com/elixxir/chatsync/history"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/raw"
	"gitlab.com/elixxir/chatsync/storage/versioned"
	"gitlab.com/elixxir/ekv"
)

const self = ids.PeerID(1)

type fakeReloader struct {
	pages map[ids.PeerID]raw.DialogsPage
	err   error
	gate  chan struct{}
	calls int
	mux   sync.Mutex
}

func (r *fakeReloader) GetPeerDialogs(_ context.Context,
	peers []ids.PeerID) (raw.DialogsPage, error) {
	if r.gate != nil {
		<-r.gate
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	r.calls++
	if r.err != nil {
		return raw.DialogsPage{}, r.err
	}
	var out raw.DialogsPage
	for _, p := range peers {
		page := r.pages[p]
		out.Dialogs = append(out.Dialogs, page.Dialogs...)
		out.Messages = append(out.Messages, page.Messages...)
	}
	return out, nil
}

func (r *fakeReloader) Calls() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.calls
}

type fixture struct {
	d        *Dispatcher
	space    *ids.Space
	store    *messages.Store
	dialogs  *dialogs.Store
	hm       *history.Manager
	events   *event.Recorder
	reloader *fakeReloader
}

func newFixture(t *testing.T) *fixture {
	kv := versioned.NewKV(ekv.MakeMemstore())
	space, err := ids.NewSpace(kv)
	require.NoError(t, err)
	dlgs, err := dialogs.NewStore(kv)
	require.NoError(t, err)
	store := messages.NewStore(space, dlgs)
	hm, err := history.NewManager(nil, store, kv, history.GetDefaultParams())
	require.NoError(t, err)

	f := &fixture{
		space:    space,
		store:    store,
		dialogs:  dlgs,
		hm:       hm,
		events:   &event.Recorder{},
		reloader: &fakeReloader{pages: make(map[ids.PeerID]raw.DialogsPage)},
	}
	f.d = NewDispatcher(space, store, dlgs, hm, nil, f.events, f.reloader,
		GetDefaultParams())
	return f
}

// incoming builds a message received from peer, or posted in it for chats
// and channels.
func incoming(peer ids.PeerID, id, date int64) raw.Message {
	if peer.IsUser() {
		return raw.Message{ID: id, Peer: self, From: peer, Date: date}
	}
	return raw.Message{ID: id, Peer: peer, Post: peer.IsChannel(), Date: date}
}

// dialogPage is a page with one dialog whose top message is read.
func dialogPage(peer ids.PeerID, top, date int64) raw.DialogsPage {
	return raw.DialogsPage{
		Dialogs: []raw.Dialog{{Peer: peer, TopMessage: top,
			ReadInboxMaxID: top}},
		Messages: []raw.Message{incoming(peer, top, date)},
	}
}

func (f *fixture) addDialog(peer ids.PeerID, top, date int64) {
	f.d.SaveDialogs(dialogPage(peer, top, date))
}

func TestDispatcher_NewMessage(t *testing.T) {
	f := newFixture(t)
	f.addDialog(42, 10, 1000)
	f.addDialog(43, 20, 2000)
	f.events.Reset()

	f.d.Handle([]raw.Update{
		raw.NewMessage{Message: incoming(42, 11, 3000)},
		raw.NewMessage{Message: incoming(43, 21, 3001)},
		raw.NewMessage{Message: incoming(42, 12, 3002)},
	})

	require.Equal(t, []ids.MessageID{12, 11, 10}, f.hm.Get(42).History())
	d42, _ := f.dialogs.Get(42)
	d43, _ := f.dialogs.Get(43)
	require.Equal(t, 2, d42.UnreadCount)
	require.Equal(t, ids.MessageID(12), d42.TopMessage)
	require.Greater(t, d42.Index, d43.Index)
	require.True(t, f.store.Get(12).Unread)
	require.Equal(t, ids.MessageID(21), f.store.MaxSeenID())

	require.Len(t, f.events.OfKind(event.HistoryAppend), 3)
	multi := f.events.OfKind(event.DialogsMultiupdate)
	require.Len(t, multi, 1)
	require.Equal(t, []ids.PeerID{42, 43}, multi[0].Peers)

	// A repeated push changes nothing.
	f.d.Handle([]raw.Update{raw.NewMessage{Message: incoming(42, 12, 3002)}})
	d42, _ = f.dialogs.Get(42)
	require.Equal(t, 2, d42.UnreadCount)
	require.Equal(t, []ids.MessageID{12, 11, 10}, f.hm.Get(42).History())
}

func TestDispatcher_UnknownPeerReload(t *testing.T) {
	f := newFixture(t)
	f.reloader.gate = make(chan struct{})
	f.reloader.pages[50] = raw.DialogsPage{
		Dialogs: []raw.Dialog{{Peer: 50, TopMessage: 31, ReadInboxMaxID: 30,
			UnreadCount: 1}},
		Messages: []raw.Message{incoming(50, 31, 5000)},
	}

	f.d.Handle([]raw.Update{
		raw.NewMessage{Message: incoming(50, 31, 5000)},
		raw.ReadHistoryInbox{Peer: 50, MaxID: 31, StillUnread: 0},
	})
	require.True(t, f.d.Reloading(50))
	_, exists := f.dialogs.Get(50)
	require.False(t, exists)

	close(f.reloader.gate)
	f.d.Wait()

	require.Equal(t, 1, f.reloader.Calls())
	require.False(t, f.d.Reloading(50))
	dlg, exists := f.dialogs.Get(50)
	require.True(t, exists)
	require.Equal(t, 0, dlg.UnreadCount)
	require.Equal(t, ids.MessageID(31), dlg.ReadInboxMaxID)
	require.Equal(t, []ids.MessageID{31}, f.hm.Get(50).History())
	require.False(t, f.store.Get(31).Unread)
}

func TestDispatcher_ReloadFailure(t *testing.T) {
	f := newFixture(t)
	f.reloader.err = errors.New("connection reset")

	f.d.Handle([]raw.Update{raw.NewMessage{Message: incoming(60, 5, 100)}})
	f.d.Wait()

	_, exists := f.dialogs.Get(60)
	require.False(t, exists)
	_, known := f.store.Lookup(5)
	require.False(t, known)
	require.False(t, f.d.Reloading(60))
}

func TestDispatcher_ReloadNoDialog(t *testing.T) {
	f := newFixture(t)

	f.d.Handle([]raw.Update{raw.NotifySettings{Peer: 61, MuteUntil: 1}})
	f.d.Wait()

	drops := f.events.OfKind(event.DialogDrop)
	require.Len(t, drops, 1)
	require.Equal(t, ids.PeerID(61), drops[0].Peer)
}

func TestDispatcher_DeleteMessages(t *testing.T) {
	f := newFixture(t)
	f.addDialog(42, 10, 1000)
	f.d.Handle([]raw.Update{
		raw.NewMessage{Message: incoming(42, 11, 1001)},
		raw.NewMessage{Message: incoming(42, 12, 1002)},
	})
	f.events.Reset()

	f.d.Handle([]raw.Update{raw.DeleteMessages{IDs: []int64{12, 99}}})

	m := f.store.Get(12)
	require.True(t, m.Deleted)
	require.False(t, m.Empty)
	require.Equal(t, []ids.MessageID{11, 10}, f.hm.Get(42).History())

	dlg, _ := f.dialogs.Get(42)
	require.Equal(t, 1, dlg.UnreadCount)
	require.Equal(t, ids.MessageID(11), dlg.TopMessage)
	require.Equal(t, int64(1001), dlg.TopDate)

	deleted := f.events.OfKind(event.HistoryDelete)
	require.Len(t, deleted, 1)
	require.Equal(t, []ids.MessageID{12}, deleted[0].IDs)
	require.Len(t, f.events.OfKind(event.DialogsMultiupdate), 1)
}

func TestDispatcher_EditMessage(t *testing.T) {
	f := newFixture(t)
	f.addDialog(42, 10, 1000)
	f.events.Reset()

	edited := incoming(42, 10, 1000)
	edited.Text = "edited"
	edited.EditDate = 1100
	f.d.Handle([]raw.Update{
		raw.EditMessage{Message: edited},
		raw.EditMessage{Message: incoming(42, 77, 1000)},
	})

	m := f.store.Get(10)
	require.Equal(t, "edited", m.Text)
	require.Equal(t, int64(1100), m.EditDate)
	require.Len(t, f.events.OfKind(event.MessageEdit), 1)
	_, known := f.store.Lookup(77)
	require.False(t, known)
}

func TestDispatcher_ReadHistory(t *testing.T) {
	f := newFixture(t)
	f.addDialog(42, 10, 1000)
	out := raw.Message{ID: 13, Peer: 42, From: self, Out: true, Date: 1003}
	f.d.Handle([]raw.Update{
		raw.NewMessage{Message: incoming(42, 11, 1001)},
		raw.NewMessage{Message: incoming(42, 12, 1002)},
		raw.NewMessage{Message: out},
	})
	f.events.Reset()

	f.d.Handle([]raw.Update{
		raw.ReadHistoryInbox{Peer: 42, MaxID: 11, StillUnread: 1},
		raw.ReadHistoryOutbox{Peer: 42, MaxID: 13},
	})

	require.True(t, f.store.Get(12).Unread)
	require.False(t, f.store.Get(11).Unread)
	require.False(t, f.store.Get(13).Unread)
	dlg, _ := f.dialogs.Get(42)
	require.Equal(t, 1, dlg.UnreadCount)
	require.Equal(t, ids.MessageID(11), dlg.ReadInboxMaxID)
	require.Equal(t, ids.MessageID(13), dlg.ReadOutboxMaxID)

	updated := f.events.OfKind(event.HistoryUpdate)
	require.Len(t, updated, 2)
	require.Equal(t, []ids.MessageID{11}, updated[0].IDs)
	require.Equal(t, []ids.MessageID{13}, updated[1].IDs)
}

func TestDispatcher_Pinning(t *testing.T) {
	f := newFixture(t)
	f.addDialog(7, 1, 1000)
	f.addDialog(9, 2, 2000)
	f.addDialog(11, 3, 3000)
	f.events.Reset()

	f.d.Handle([]raw.Update{
		raw.DialogPinned{Peer: 7, Pinned: true},
		raw.DialogPinned{Peer: 9, Pinned: true},
	})
	d7, _ := f.dialogs.Get(7)
	d9, _ := f.dialogs.Get(9)
	d11, _ := f.dialogs.Get(11)
	require.Greater(t, d9.Index, d7.Index)
	require.Greater(t, d7.Index, d11.Index)
	require.Len(t, f.events.OfKind(event.DialogsMultiupdate), 1)

	f.d.Handle([]raw.Update{
		raw.PinnedDialogsOrder{FolderID: dialogs.MainFolder,
			Order: []ids.PeerID{7, 9}},
	})
	d7, _ = f.dialogs.Get(7)
	d9, _ = f.dialogs.Get(9)
	require.Greater(t, d7.Index, d9.Index)
}

func TestDispatcher_ChannelAvailableMessages(t *testing.T) {
	f := newFixture(t)
	channel := ids.ChannelPeer(900)
	f.addDialog(channel, 7, 1000)
	f.d.Handle([]raw.Update{raw.NewMessage{Message: incoming(channel, 8, 1001)}})
	g7 := f.space.ToGlobal(7, 900)
	g8 := f.space.ToGlobal(8, 900)
	require.Equal(t, []ids.MessageID{g8, g7}, f.hm.Get(channel).History())
	f.events.Reset()

	f.d.Handle([]raw.Update{
		raw.ChannelAvailableMessages{Channel: 900, AvailableMinID: 7},
	})

	require.Equal(t, []ids.MessageID{g8}, f.hm.Get(channel).History())
	require.True(t, f.store.Get(g7).Deleted)
	deleted := f.events.OfKind(event.HistoryDelete)
	require.Len(t, deleted, 1)
	require.Equal(t, []ids.MessageID{g7}, deleted[0].IDs)
	require.False(t, f.d.Reloading(channel))
}

// nestingConfirmer hands the dispatcher a new batch while it applies one.
type nestingConfirmer struct {
	d            *Dispatcher
	markedDuring bool
}

func (c *nestingConfirmer) HandleMessageID(int64, int64) bool {
	c.d.Enqueue([]raw.Update{raw.DialogUnreadMark{Peer: 42, Unread: true}})
	dlg, _ := c.d.dialogs.Get(42)
	c.markedDuring = dlg.UnreadMark
	return true
}

func (c *nestingConfirmer) CheckPending(messages.Message) bool { return false }

func TestDispatcher_NestedHandle(t *testing.T) {
	f := newFixture(t)
	f.addDialog(42, 10, 1000)
	c := &nestingConfirmer{d: f.d}
	f.d.SetConfirmer(c)

	f.d.Handle([]raw.Update{raw.MessageID{RandomID: 5, ID: 11}})

	require.False(t, c.markedDuring)
	dlg, _ := f.dialogs.Get(42)
	require.True(t, dlg.UnreadMark)
}

// stallingReporter blocks the first notification reported after arm until
// release is closed.
type stallingReporter struct {
	event.Recorder
	armed   bool
	stalled chan struct{}
	release chan struct{}
	mux     sync.Mutex
}

func (r *stallingReporter) arm() {
	r.mux.Lock()
	r.armed = true
	r.stalled = make(chan struct{})
	r.release = make(chan struct{})
	r.mux.Unlock()
}

func (r *stallingReporter) Report(n event.Notification) {
	r.mux.Lock()
	stall := r.armed
	r.armed = false
	r.mux.Unlock()
	if stall {
		close(r.stalled)
		<-r.release
	}
	r.Recorder.Report(n)
}

// Tests that Handle called while another goroutine drains the queue returns
// only once its own batch was applied.
func TestDispatcher_Handle_Concurrent(t *testing.T) {
	f := newFixture(t)
	reporter := &stallingReporter{}
	f.d = NewDispatcher(f.space, f.store, f.dialogs, f.hm, nil, reporter,
		f.reloader, GetDefaultParams())
	f.addDialog(42, 10, 1000)
	reporter.arm()

	go f.d.Handle([]raw.Update{raw.NewMessage{Message: incoming(42, 11, 2000)}})
	<-reporter.stalled

	deleted := make(chan bool)
	go func() {
		f.d.Handle([]raw.Update{raw.DeleteMessages{IDs: []int64{10}}})
		deleted <- f.store.Get(10).Deleted
	}()

	select {
	case <-deleted:
		t.Fatal("Handle returned before its batch was applied")
	case <-time.After(50 * time.Millisecond):
	}

	close(reporter.release)
	select {
	case applied := <-deleted:
		require.True(t, applied)
	case <-time.After(5 * time.Second):
		t.Fatal("Handle did not return")
	}

	f.d.Wait()
	require.Equal(t, []ids.MessageID{11}, f.hm.Get(42).History())
}

// Tests that Wait covers a batch queued behind one being applied.
func TestDispatcher_Wait_Queued(t *testing.T) {
	f := newFixture(t)
	reporter := &stallingReporter{}
	f.d = NewDispatcher(f.space, f.store, f.dialogs, f.hm, nil, reporter,
		f.reloader, GetDefaultParams())
	f.addDialog(42, 10, 1000)
	reporter.arm()

	go f.d.Handle([]raw.Update{raw.NewMessage{Message: incoming(42, 11, 2000)}})
	<-reporter.stalled
	done := f.d.Enqueue([]raw.Update{
		raw.DialogUnreadMark{Peer: 42, Unread: true}})
	require.NotNil(t, done)

	waited := make(chan struct{})
	go func() {
		f.d.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while batches were queued")
	case <-time.After(50 * time.Millisecond):
	}

	close(reporter.release)
	<-waited
	<-done
	dlg, _ := f.dialogs.Get(42)
	require.True(t, dlg.UnreadMark)
	require.Nil(t, f.d.Enqueue(nil))
}
