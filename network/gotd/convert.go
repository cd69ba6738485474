////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package gotd

import (
	"github.com/gotd/td/tg"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/raw"
)

// Converter turns gotd objects into the engine's raw types. Self is the
// logged in user, needed to attribute outgoing messages.
type Converter struct {
	Self ids.PeerID
}

// PeerID converts a server peer.
func PeerID(p tg.PeerClass) ids.PeerID {
	switch p := p.(type) {
	case *tg.PeerUser:
		return ids.UserPeer(p.UserID)
	case *tg.PeerChat:
		return ids.ChatPeer(p.ChatID)
	case *tg.PeerChannel:
		return ids.ChannelPeer(ids.ChannelID(p.ChannelID))
	default:
		return 0
	}
}

func dialogPeerID(p tg.DialogPeerClass) ids.PeerID {
	if dp, ok := p.(*tg.DialogPeer); ok {
		return PeerID(dp.Peer)
	}
	return 0
}

func toInt64s(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

// Message converts a message. Returns false for nil input.
func (c Converter) Message(m tg.MessageClass) (raw.Message, bool) {
	switch m := m.(type) {
	case *tg.Message:
		out := raw.Message{
			ID:       int64(m.ID),
			Peer:     PeerID(m.PeerID),
			Out:      m.Out,
			Post:     m.Post,
			Date:     int64(m.Date),
			EditDate: int64(m.EditDate),
			Text:     m.Message,
			Media:    media(m.Media),
		}
		if from, ok := m.GetFromID(); ok {
			out.From = PeerID(from)
		}
		c.attribute(&out)
		if reply, ok := m.GetReplyTo(); ok {
			out.ReplyToID = replyTo(reply)
		}
		if fwd, ok := m.GetFwdFrom(); ok {
			out.Forward = forward(fwd)
		}
		return out, true

	case *tg.MessageService:
		out := raw.Message{
			ID:     int64(m.ID),
			Peer:   PeerID(m.PeerID),
			Out:    m.Out,
			Post:   m.Post,
			Date:   int64(m.Date),
			Action: action(m.Action),
		}
		if from, ok := m.GetFromID(); ok {
			out.From = PeerID(from)
		}
		c.attribute(&out)
		return out, true

	case *tg.MessageEmpty:
		out := raw.Message{ID: int64(m.ID), Empty: true}
		if peer, ok := m.GetPeerID(); ok {
			out.Peer = PeerID(peer)
		}
		return out, true

	default:
		return raw.Message{}, false
	}
}

// attribute fills in the sender of private messages, which the server
// leaves out.
func (c Converter) attribute(m *raw.Message) {
	if m.From != 0 {
		return
	}
	if m.Out {
		m.From = c.Self
	} else if m.Peer.IsUser() {
		m.From = m.Peer
	}
}

// Messages converts a list, skipping what cannot be converted.
func (c Converter) Messages(in []tg.MessageClass) []raw.Message {
	out := make([]raw.Message, 0, len(in))
	for _, m := range in {
		if msg, ok := c.Message(m); ok {
			out = append(out, msg)
		}
	}
	return out
}

func replyTo(h tg.MessageReplyHeaderClass) int64 {
	if h, ok := h.(*tg.MessageReplyHeader); ok {
		if id, ok := h.GetReplyToMsgID(); ok {
			return int64(id)
		}
	}
	return 0
}

func forward(h tg.MessageFwdHeader) *raw.Forward {
	out := &raw.Forward{Date: int64(h.Date)}
	if from, ok := h.GetFromID(); ok {
		out.FromID = PeerID(from)
	}
	out.FromName, _ = h.GetFromName()
	if post, ok := h.GetChannelPost(); ok {
		out.ChannelPost = int64(post)
	}
	out.PostAuthor, _ = h.GetPostAuthor()
	if saved, ok := h.GetSavedFromPeer(); ok {
		out.SavedFrom = PeerID(saved)
	}
	if id, ok := h.GetSavedFromMsgID(); ok {
		out.SavedFromID = int64(id)
	}
	return out
}

func media(m tg.MessageMediaClass) *raw.Media {
	switch m := m.(type) {
	case nil, *tg.MessageMediaEmpty:
		return nil
	case *tg.MessageMediaPhoto:
		out := &raw.Media{Kind: raw.MediaPhoto}
		if p, ok := m.Photo.(*tg.Photo); ok {
			out.ID = p.ID
		}
		return out
	case *tg.MessageMediaDocument:
		out := &raw.Media{Kind: raw.MediaDocument}
		if d, ok := m.Document.(*tg.Document); ok {
			out.ID = d.ID
			out.MimeType = d.MimeType
			out.Size = d.Size
			for _, attr := range d.Attributes {
				if name, ok := attr.(*tg.DocumentAttributeFilename); ok {
					out.FileName = name.FileName
				}
			}
		}
		return out
	case *tg.MessageMediaWebPage:
		return &raw.Media{Kind: raw.MediaWebPage}
	default:
		return &raw.Media{Kind: raw.MediaUnsupported}
	}
}

func action(a tg.MessageActionClass) *raw.Action {
	switch a := a.(type) {
	case *tg.MessageActionChatMigrateTo:
		return &raw.Action{Kind: raw.ActionMigrateTo,
			ChannelID: ids.ChannelID(a.ChannelID)}
	case *tg.MessageActionChannelMigrateFrom:
		return &raw.Action{Kind: raw.ActionMigrateFrom, ChatID: a.ChatID}
	default:
		return &raw.Action{Kind: raw.ActionOther}
	}
}

// Dialog converts a dialog. Folders are not dialogs and return false.
func (c Converter) Dialog(d tg.DialogClass) (raw.Dialog, bool) {
	dlg, ok := d.(*tg.Dialog)
	if !ok {
		return raw.Dialog{}, false
	}
	out := raw.Dialog{
		Peer:            PeerID(dlg.Peer),
		TopMessage:      int64(dlg.TopMessage),
		ReadInboxMaxID:  int64(dlg.ReadInboxMaxID),
		ReadOutboxMaxID: int64(dlg.ReadOutboxMaxID),
		UnreadCount:     dlg.UnreadCount,
		UnreadMark:      dlg.UnreadMark,
		Pinned:          dlg.Pinned,
	}
	out.FolderID, _ = dlg.GetFolderID()
	if mute, ok := dlg.NotifySettings.GetMuteUntil(); ok {
		out.MuteUntil = int64(mute)
	}
	return out, true
}

// Update converts one update. Returns false for updates the engine does not
// handle.
func (c Converter) Update(u tg.UpdateClass) (raw.Update, bool) {
	switch u := u.(type) {
	case *tg.UpdateNewMessage:
		m, ok := c.Message(u.Message)
		return raw.NewMessage{Message: m}, ok
	case *tg.UpdateNewChannelMessage:
		m, ok := c.Message(u.Message)
		return raw.NewMessage{Message: m}, ok
	case *tg.UpdateEditMessage:
		m, ok := c.Message(u.Message)
		return raw.EditMessage{Message: m}, ok
	case *tg.UpdateEditChannelMessage:
		m, ok := c.Message(u.Message)
		return raw.EditMessage{Message: m}, ok

	case *tg.UpdateDeleteMessages:
		return raw.DeleteMessages{IDs: toInt64s(u.Messages)}, true
	case *tg.UpdateDeleteChannelMessages:
		return raw.DeleteMessages{Channel: ids.ChannelID(u.ChannelID),
			IDs: toInt64s(u.Messages)}, true

	case *tg.UpdateReadHistoryInbox:
		return raw.ReadHistoryInbox{Peer: PeerID(u.Peer),
			MaxID: int64(u.MaxID), StillUnread: u.StillUnreadCount}, true
	case *tg.UpdateReadChannelInbox:
		return raw.ReadHistoryInbox{
			Peer:        ids.ChannelPeer(ids.ChannelID(u.ChannelID)),
			MaxID:       int64(u.MaxID),
			StillUnread: u.StillUnreadCount,
		}, true
	case *tg.UpdateReadHistoryOutbox:
		return raw.ReadHistoryOutbox{Peer: PeerID(u.Peer),
			MaxID: int64(u.MaxID)}, true
	case *tg.UpdateReadChannelOutbox:
		return raw.ReadHistoryOutbox{
			Peer:  ids.ChannelPeer(ids.ChannelID(u.ChannelID)),
			MaxID: int64(u.MaxID),
		}, true

	case *tg.UpdateDialogPinned:
		peer := dialogPeerID(u.Peer)
		return raw.DialogPinned{Peer: peer, FolderID: u.FolderID,
			Pinned: u.Pinned}, peer != 0
	case *tg.UpdatePinnedDialogs:
		order := make([]ids.PeerID, 0, len(u.Order))
		for _, p := range u.Order {
			if peer := dialogPeerID(p); peer != 0 {
				order = append(order, peer)
			}
		}
		return raw.PinnedDialogsOrder{FolderID: u.FolderID, Order: order}, true

	case *tg.UpdateMessageID:
		return raw.MessageID{RandomID: u.RandomID, ID: int64(u.ID)}, true
	case *tg.UpdateChannelAvailableMessages:
		return raw.ChannelAvailableMessages{
			Channel:        ids.ChannelID(u.ChannelID),
			AvailableMinID: int64(u.AvailableMinID),
		}, true

	case *tg.UpdateNotifySettings:
		np, ok := u.Peer.(*tg.NotifyPeer)
		if !ok {
			return nil, false
		}
		mute, _ := u.NotifySettings.GetMuteUntil()
		return raw.NotifySettings{Peer: PeerID(np.Peer),
			MuteUntil: int64(mute)}, true
	case *tg.UpdateDialogUnreadMark:
		peer := dialogPeerID(u.Peer)
		return raw.DialogUnreadMark{Peer: peer, Unread: u.Unread}, peer != 0

	default:
		return nil, false
	}
}

// Updates flattens an update container into a batch. Short forms are
// expanded into the updates they stand for.
func (c Converter) Updates(u tg.UpdatesClass) []raw.Update {
	var list []tg.UpdateClass
	switch u := u.(type) {
	case *tg.Updates:
		list = u.Updates
	case *tg.UpdatesCombined:
		list = u.Updates
	case *tg.UpdateShort:
		list = []tg.UpdateClass{u.Update}
	case *tg.UpdateShortMessage:
		return []raw.Update{raw.NewMessage{Message: c.shortMessage(u)}}
	case *tg.UpdateShortChatMessage:
		return []raw.Update{raw.NewMessage{Message: c.shortChatMessage(u)}}
	default:
		return nil
	}

	out := make([]raw.Update, 0, len(list))
	for _, upd := range list {
		if r, ok := c.Update(upd); ok {
			out = append(out, r)
		}
	}
	return out
}

func (c Converter) shortMessage(u *tg.UpdateShortMessage) raw.Message {
	m := raw.Message{
		ID:   int64(u.ID),
		Peer: ids.UserPeer(u.UserID),
		Out:  u.Out,
		Date: int64(u.Date),
		Text: u.Message,
	}
	c.attribute(&m)
	if reply, ok := u.GetReplyTo(); ok {
		m.ReplyToID = replyTo(reply)
	}
	if fwd, ok := u.GetFwdFrom(); ok {
		m.Forward = forward(fwd)
	}
	return m
}

func (c Converter) shortChatMessage(u *tg.UpdateShortChatMessage) raw.Message {
	m := raw.Message{
		ID:   int64(u.ID),
		Peer: ids.ChatPeer(u.ChatID),
		From: ids.UserPeer(u.FromID),
		Out:  u.Out,
		Date: int64(u.Date),
		Text: u.Message,
	}
	if reply, ok := u.GetReplyTo(); ok {
		m.ReplyToID = replyTo(reply)
	}
	if fwd, ok := u.GetFwdFrom(); ok {
		m.Forward = forward(fwd)
	}
	return m
}
