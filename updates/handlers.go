////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package updates

import (
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/event"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/raw"
)

func (d *Dispatcher) newMessage(u raw.Update) {
	r := u.(raw.NewMessage).Message
	peer := r.ConversationPeer()
	id := d.space.ToGlobal(r.ID, peer.ChannelID())

	if existing, known := d.store.Lookup(id); known && !existing.Empty {
		jww.DEBUG.Printf("[SYNC] Message %d of %s already known", id, peer)
		if d.sends != nil {
			d.sends.CheckPending(existing)
		}
		return
	}

	saved := d.store.Save([]raw.Message{r}, messages.SaveOptions{IsNew: true})
	msg := saved[0]
	d.history.ObserveMigrations(saved)
	d.store.IncrementMaxSeen(msg.ID)

	finalized := d.sends != nil && d.sends.CheckPending(msg)
	if d.history.Get(peer).AppendNew(msg.ID) && !finalized {
		d.events.Report(event.Notification{
			Kind: event.HistoryAppend,
			Peer: peer,
			IDs:  []ids.MessageID{msg.ID},
		})
	}

	d.dialogs.SetTop(peer, msg.ID, msg.Date, false)
	if !msg.Out && msg.Unread {
		if dlg, ok := d.dialogs.AddUnread(peer, 1); ok {
			d.reportUnread(peer, dlg.UnreadCount)
		}
	}
	d.markReorder(peer)
}

func (d *Dispatcher) editMessage(u raw.Update) {
	r := u.(raw.EditMessage).Message
	peer := r.ConversationPeer()
	id := d.space.ToGlobal(r.ID, peer.ChannelID())
	if existing, known := d.store.Lookup(id); !known || existing.Empty {
		jww.DEBUG.Printf("[SYNC] Ignoring edit of unknown message %d", id)
		return
	}
	d.store.Save([]raw.Message{r}, messages.SaveOptions{IsEdited: true})
	d.events.Report(event.Notification{
		Kind: event.MessageEdit,
		Peer: peer,
		IDs:  []ids.MessageID{id},
	})
}

func (d *Dispatcher) deleteMessages(u raw.Update) {
	r := u.(raw.DeleteMessages)

	byPeer := make(map[ids.PeerID][]ids.MessageID)
	var peers []ids.PeerID
	for _, local := range r.IDs {
		id := d.space.ToGlobal(local, r.Channel)
		m, known := d.store.Lookup(id)
		if !known {
			continue
		}
		if _, exists := byPeer[m.Peer]; !exists {
			peers = append(peers, m.Peer)
		}
		byPeer[m.Peer] = append(byPeer[m.Peer], id)
	}

	for _, peer := range peers {
		d.removeMessages(peer, byPeer[peer])
	}
}

// removeMessages tombstones confirmed messages, drops temporary ones and
// takes both out of the conversation's timeline.
func (d *Dispatcher) removeMessages(peer ids.PeerID, msgIDs []ids.MessageID) {
	var confirmed []ids.MessageID
	unread := 0
	for _, id := range msgIDs {
		if id.IsTemp() {
			d.store.Remove(id)
			continue
		}
		if m := d.store.Get(id); m.Unread && !m.Out && !m.Deleted {
			unread++
		}
		confirmed = append(confirmed, id)
	}
	d.store.Tombstone(confirmed)
	if s, exists := d.history.Lookup(peer); exists {
		s.Remove(msgIDs...)
	}

	d.events.Report(event.Notification{
		Kind: event.HistoryDelete,
		Peer: peer,
		IDs:  msgIDs,
	})
	if unread > 0 {
		if dlg, ok := d.dialogs.AddUnread(peer, -unread); ok {
			d.reportUnread(peer, dlg.UnreadCount)
		}
	}
	d.repairTop(peer, msgIDs)
}

// repairTop picks a new top message when the top of a dialog was removed.
// The next newest cached message is used if the cache reaches the bottom,
// otherwise the dialog is reloaded.
func (d *Dispatcher) repairTop(peer ids.PeerID, removed []ids.MessageID) {
	dlg, exists := d.dialogs.Get(peer)
	if !exists || !containsID(removed, dlg.TopMessage) {
		return
	}
	if s, ok := d.history.Lookup(peer); ok && s.AtBottom() {
		if top := s.Newest(); top != 0 {
			d.dialogs.SetTop(peer, top, d.store.Get(top).Date, true)
			d.markReorder(peer)
			return
		}
	}
	d.Reload(peer)
}

func (d *Dispatcher) readHistoryInbox(u raw.Update) {
	r := u.(raw.ReadHistoryInbox)
	maxID := d.space.ToGlobal(r.MaxID, r.Peer.ChannelID())

	marked := d.history.MarkRead(r.Peer, maxID, false)
	dlg, ok := d.dialogs.SetReadInbox(r.Peer, maxID, r.StillUnread)
	if len(marked) > 0 {
		d.events.Report(event.Notification{
			Kind: event.HistoryUpdate,
			Peer: r.Peer,
			IDs:  marked,
		})
	}
	if ok {
		d.reportUnread(r.Peer, dlg.UnreadCount)
	}
}

func (d *Dispatcher) readHistoryOutbox(u raw.Update) {
	r := u.(raw.ReadHistoryOutbox)
	maxID := d.space.ToGlobal(r.MaxID, r.Peer.ChannelID())

	marked := d.history.MarkRead(r.Peer, maxID, true)
	d.dialogs.SetReadOutbox(r.Peer, maxID)
	if len(marked) > 0 {
		d.events.Report(event.Notification{
			Kind: event.HistoryUpdate,
			Peer: r.Peer,
			IDs:  marked,
		})
	}
}

func (d *Dispatcher) dialogPinned(u raw.Update) {
	r := u.(raw.DialogPinned)
	affected, err := d.dialogs.SetPinned(r.Peer, r.Pinned)
	if err != nil {
		jww.ERROR.Printf("[SYNC] Failed to pin %s: %+v", r.Peer, err)
	}
	d.markReorder(affected...)
}

func (d *Dispatcher) pinnedDialogsOrder(u raw.Update) {
	r := u.(raw.PinnedDialogsOrder)
	affected, err := d.dialogs.SetPinnedOrder(r.FolderID, r.Order)
	if err != nil {
		jww.ERROR.Printf("[SYNC] Failed to store pinned order of folder "+
			"%d: %+v", r.FolderID, err)
	}
	d.markReorder(affected...)

	for _, peer := range r.Order {
		if _, exists := d.dialogs.Get(peer); !exists {
			d.Reload(peer)
		}
	}
}

func (d *Dispatcher) messageID(u raw.Update) {
	r := u.(raw.MessageID)
	if d.sends == nil || !d.sends.HandleMessageID(r.RandomID, r.ID) {
		jww.DEBUG.Printf("[SYNC] No pending send for random ID %d", r.RandomID)
	}
}

func (d *Dispatcher) channelAvailableMessages(u raw.Update) {
	r := u.(raw.ChannelAvailableMessages)
	peer := ids.ChannelPeer(r.Channel)
	maxID := d.space.ToGlobal(r.AvailableMinID, r.Channel)

	removed := d.history.Get(peer).RemoveUpTo(maxID)
	if len(removed) > 0 {
		d.store.Tombstone(removed)
		d.events.Report(event.Notification{
			Kind: event.HistoryDelete,
			Peer: peer,
			IDs:  removed,
		})
	}
	if dlg, exists := d.dialogs.Get(peer); exists && dlg.TopMessage <= maxID {
		d.Reload(peer)
	}
}

func (d *Dispatcher) notifySettings(u raw.Update) {
	r := u.(raw.NotifySettings)
	if _, ok := d.dialogs.SetMute(r.Peer, r.MuteUntil); ok {
		d.events.Report(event.Notification{
			Kind: event.DialogNotifySettings,
			Peer: r.Peer,
		})
	}
}

func (d *Dispatcher) dialogUnreadMark(u raw.Update) {
	r := u.(raw.DialogUnreadMark)
	if dlg, ok := d.dialogs.SetUnreadMark(r.Peer, r.Unread); ok {
		d.reportUnread(r.Peer, dlg.UnreadCount)
	}
}

func (d *Dispatcher) reportUnread(peer ids.PeerID, count int) {
	d.events.Report(event.Notification{
		Kind:        event.DialogUnread,
		Peer:        peer,
		UnreadCount: count,
	})
}

func containsID(list []ids.MessageID, id ids.MessageID) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}
