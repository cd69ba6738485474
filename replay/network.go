////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package replay

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/network"
	"gitlab.com/elixxir/chatsync/raw"
	"gitlab.com/xx_network/primitives/netTime"
)

// ErrSendFailed is returned by sends the network was told to fail.
var ErrSendFailed = errors.New("send failed")

// Network is an in-memory server implementing network.Client. Message IDs
// are allocated per numbering space the way the real server does: one
// counter shared by users and basic chats, one per channel.
type Network struct {
	self ids.PeerID

	dialogs map[ids.PeerID]*raw.Dialog
	// history holds each conversation newest first.
	history map[ids.PeerID][]raw.Message
	lastID  map[ids.ChannelID]int64
	sent    map[int64]raw.Message

	failSends int
	longSends bool
	calls     map[string]int

	mux sync.Mutex
}

// NewNetwork returns an empty server for the given account.
func NewNetwork(self ids.PeerID) *Network {
	return &Network{
		self:    self,
		dialogs: make(map[ids.PeerID]*raw.Dialog),
		history: make(map[ids.PeerID][]raw.Message),
		lastID:  make(map[ids.ChannelID]int64),
		sent:    make(map[int64]raw.Message),
		calls:   make(map[string]int),
	}
}

// FromFixture builds a server holding the fixture's initial state.
func FromFixture(f *Fixture) *Network {
	n := NewNetwork(f.Self)
	n.AddMessages(f.Messages...)
	for _, d := range f.Dialogs {
		n.AddDialog(d)
	}
	return n
}

// AddDialog adds or replaces a dialog. A zero top message points at the
// newest stored message.
func (n *Network) AddDialog(d raw.Dialog) {
	n.mux.Lock()
	defer n.mux.Unlock()
	if d.TopMessage == 0 {
		if h := n.history[d.Peer]; len(h) > 0 {
			d.TopMessage = h[0].ID
		}
	}
	n.dialogs[d.Peer] = &d
}

// AddMessages stores messages without emitting updates.
func (n *Network) AddMessages(msgs ...raw.Message) {
	n.mux.Lock()
	defer n.mux.Unlock()
	for _, m := range msgs {
		n.store(m)
	}
}

// FailSends makes the next count sends fail.
func (n *Network) FailSends(count int) {
	n.mux.Lock()
	n.failSends = count
	n.mux.Unlock()
}

// LongSends makes sends reply with a MessageID and NewMessage update pair
// instead of the short form.
func (n *Network) LongSends(long bool) {
	n.mux.Lock()
	n.longSends = long
	n.mux.Unlock()
}

// Calls returns how many times a method was called.
func (n *Network) Calls(method string) int {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.calls[method]
}

// Dialog returns the server's copy of a dialog.
func (n *Network) Dialog(peer ids.PeerID) (raw.Dialog, bool) {
	n.mux.Lock()
	defer n.mux.Unlock()
	d, exists := n.dialogs[peer]
	if !exists {
		return raw.Dialog{}, false
	}
	return *d, true
}

// Messages returns a conversation newest first.
func (n *Network) Messages(peer ids.PeerID) []raw.Message {
	n.mux.Lock()
	defer n.mux.Unlock()
	return append([]raw.Message(nil), n.history[peer]...)
}

// Incoming delivers a message from peer to the account and returns the
// update the server pushes for it.
func (n *Network) Incoming(peer ids.PeerID, text string) raw.Update {
	n.mux.Lock()
	defer n.mux.Unlock()
	m := raw.Message{
		ID:   n.nextID(peer.ChannelID()),
		Peer: peer,
		Date: netTime.Now().Unix(),
		Text: text,
	}
	if peer.IsUser() {
		m.Peer = n.self
		m.From = peer
	}
	n.store(m)
	n.dialog(peer).UnreadCount++
	return raw.NewMessage{Message: m}
}

func (n *Network) GetDialogs(ctx context.Context,
	req network.DialogsRequest) (raw.DialogsPage, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["getDialogs"]++
	if err := ctx.Err(); err != nil {
		return raw.DialogsPage{}, err
	}

	list := make([]*raw.Dialog, 0, len(n.dialogs))
	for _, d := range n.dialogs {
		if d.FolderID == req.FolderID {
			list = append(list, d)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		di, dj := n.topDate(list[i]), n.topDate(list[j])
		if di != dj {
			return di > dj
		}
		return list[i].Peer > list[j].Peer
	})

	start := 0
	if req.OffsetPeer != 0 {
		for i, d := range list {
			if d.Peer == req.OffsetPeer {
				start = i + 1
				break
			}
		}
	}
	end := len(list)
	if req.Limit > 0 && start+req.Limit < end {
		end = start + req.Limit
	}

	page := raw.DialogsPage{Count: len(list)}
	if start < end {
		page = n.page(list[start:end])
		page.Count = len(list)
	}
	jww.TRACE.Printf("[REPLAY] getDialogs folder %d offset %s: %d of %d",
		req.FolderID, req.OffsetPeer, len(page.Dialogs), len(list))
	return page, nil
}

func (n *Network) GetPeerDialogs(ctx context.Context,
	peers []ids.PeerID) (raw.DialogsPage, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["getPeerDialogs"]++
	if err := ctx.Err(); err != nil {
		return raw.DialogsPage{}, err
	}
	list := make([]*raw.Dialog, 0, len(peers))
	for _, p := range peers {
		if d, exists := n.dialogs[p]; exists {
			list = append(list, d)
		}
	}
	page := n.page(list)
	page.Count = len(page.Dialogs)
	return page, nil
}

func (n *Network) GetHistory(ctx context.Context, peer ids.PeerID,
	offsetID int64, addOffset, limit int) (raw.HistoryPage, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["getHistory"]++
	if err := ctx.Err(); err != nil {
		return raw.HistoryPage{}, err
	}

	h := n.history[peer]
	start := 0
	if offsetID != 0 {
		start = sort.Search(len(h), func(i int) bool {
			return h[i].ID < offsetID
		})
	}
	start += addOffset
	if start < 0 {
		start = 0
	}
	end := start + limit
	if end > len(h) {
		end = len(h)
	}
	page := raw.HistoryPage{Count: len(h)}
	if start < end {
		page.Messages = append([]raw.Message(nil), h[start:end]...)
	}
	return page, nil
}

func (n *Network) SendMessage(ctx context.Context,
	req network.SendRequest) (raw.SentMessage, error) {
	return n.send(ctx, req, nil)
}

func (n *Network) SendMedia(ctx context.Context,
	req network.SendRequest) (raw.SentMessage, error) {
	if req.File == nil {
		return raw.SentMessage{}, errors.New("no file to upload")
	}
	kind := raw.MediaDocument
	if strings.HasPrefix(req.File.MimeType, "image/") {
		kind = raw.MediaPhoto
	}
	n.mux.Lock()
	mediaID := int64(len(n.sent) + 1)
	n.mux.Unlock()
	return n.send(ctx, req, &raw.Media{
		Kind:     kind,
		ID:       mediaID,
		MimeType: req.File.MimeType,
		Size:     int64(len(req.File.Data)),
		FileName: req.File.Name,
	})
}

func (n *Network) send(ctx context.Context, req network.SendRequest,
	media *raw.Media) (raw.SentMessage, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["send"]++
	if err := ctx.Err(); err != nil {
		return raw.SentMessage{}, err
	}
	if n.failSends > 0 {
		n.failSends--
		return raw.SentMessage{}, ErrSendFailed
	}
	if media == nil && strings.TrimSpace(req.Text) == "" {
		return raw.SentMessage{}, network.ErrMessageEmpty
	}

	m, repeated := n.sent[req.RandomID]
	if !repeated {
		m = raw.Message{
			ID:        n.nextID(req.Peer.ChannelID()),
			Peer:      req.Peer,
			From:      n.self,
			Out:       true,
			Date:      netTime.Now().Unix(),
			Text:      req.Text,
			Media:     media,
			ReplyToID: req.ReplyTo,
		}
		n.store(m)
		n.sent[req.RandomID] = m
	}

	if n.longSends {
		return raw.SentMessage{Updates: []raw.Update{
			raw.MessageID{RandomID: req.RandomID, ID: m.ID},
			raw.NewMessage{Message: m},
		}}, nil
	}
	return raw.SentMessage{ID: m.ID, Date: m.Date, Media: m.Media}, nil
}

func (n *Network) EditMessage(ctx context.Context, peer ids.PeerID, id int64,
	text string) ([]raw.Update, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["edit"]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := n.history[peer]
	for i := range h {
		if h[i].ID != id {
			continue
		}
		if h[i].Text == text {
			return nil, network.ErrMessageNotModified
		}
		if strings.TrimSpace(text) == "" && h[i].Media == nil {
			return nil, network.ErrMessageEmpty
		}
		h[i].Text = text
		h[i].EditDate = netTime.Now().Unix()
		return []raw.Update{raw.EditMessage{Message: h[i]}}, nil
	}
	return nil, errors.Errorf("message %d not found in %s", id, peer)
}

func (n *Network) DeleteMessages(ctx context.Context, peer ids.PeerID,
	msgIDs []int64, revoke bool) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["delete"]++
	if err := ctx.Err(); err != nil {
		return err
	}
	remove := make(map[int64]bool, len(msgIDs))
	for _, id := range msgIDs {
		remove[id] = true
	}
	channel := peer.ChannelID()
	for p, h := range n.history {
		if p.ChannelID() != channel {
			continue
		}
		kept := h[:0]
		for _, m := range h {
			if !remove[m.ID] {
				kept = append(kept, m)
			}
		}
		n.history[p] = kept
		if d, exists := n.dialogs[p]; exists && remove[d.TopMessage] {
			d.TopMessage = 0
			if len(kept) > 0 {
				d.TopMessage = kept[0].ID
			}
		}
	}
	return nil
}

func (n *Network) ReadHistory(ctx context.Context, peer ids.PeerID,
	maxID int64) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["read"]++
	if err := ctx.Err(); err != nil {
		return err
	}
	d, exists := n.dialogs[peer]
	if !exists {
		return errors.Errorf("no dialog with %s", peer)
	}
	if maxID > d.ReadInboxMaxID {
		d.ReadInboxMaxID = maxID
	}
	d.UnreadCount = 0
	for _, m := range n.history[peer] {
		if !m.Out && m.ID > d.ReadInboxMaxID {
			d.UnreadCount++
		}
	}
	d.UnreadMark = false
	return nil
}

func (n *Network) ToggleDialogPin(ctx context.Context, peer ids.PeerID,
	pinned bool) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["pin"]++
	if err := ctx.Err(); err != nil {
		return err
	}
	d, exists := n.dialogs[peer]
	if !exists {
		return errors.Errorf("no dialog with %s", peer)
	}
	d.Pinned = pinned
	return nil
}

func (n *Network) MarkDialogUnread(ctx context.Context, peer ids.PeerID,
	unread bool) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.calls["markUnread"]++
	if err := ctx.Err(); err != nil {
		return err
	}
	d, exists := n.dialogs[peer]
	if !exists {
		return errors.Errorf("no dialog with %s", peer)
	}
	d.UnreadMark = unread
	return nil
}

// page collects the dialogs and their top messages.
func (n *Network) page(list []*raw.Dialog) raw.DialogsPage {
	var page raw.DialogsPage
	for _, d := range list {
		page.Dialogs = append(page.Dialogs, *d)
		if m, exists := n.find(d.Peer, d.TopMessage); exists {
			page.Messages = append(page.Messages, m)
		}
	}
	return page
}

func (n *Network) topDate(d *raw.Dialog) int64 {
	m, _ := n.find(d.Peer, d.TopMessage)
	return m.Date
}

func (n *Network) find(peer ids.PeerID, id int64) (raw.Message, bool) {
	for _, m := range n.history[peer] {
		if m.ID == id {
			return m, true
		}
	}
	return raw.Message{}, false
}

// store inserts a message into its conversation, keeping it newest first,
// and moves the dialog's top to it when newer.
func (n *Network) store(m raw.Message) {
	peer := m.ConversationPeer()
	channel := peer.ChannelID()
	if m.ID > n.lastID[channel] {
		n.lastID[channel] = m.ID
	}
	h := n.history[peer]
	i := sort.Search(len(h), func(i int) bool { return h[i].ID <= m.ID })
	if i < len(h) && h[i].ID == m.ID {
		h[i] = m
		return
	}
	h = append(h, raw.Message{})
	copy(h[i+1:], h[i:])
	h[i] = m
	n.history[peer] = h

	if d := n.dialog(peer); m.ID > d.TopMessage {
		d.TopMessage = m.ID
	}
}

func (n *Network) dialog(peer ids.PeerID) *raw.Dialog {
	d, exists := n.dialogs[peer]
	if !exists {
		d = &raw.Dialog{Peer: peer}
		n.dialogs[peer] = d
	}
	return d
}

func (n *Network) nextID(channel ids.ChannelID) int64 {
	n.lastID[channel]++
	return n.lastID[channel]
}
