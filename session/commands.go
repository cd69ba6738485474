////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package session

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/dialogs"
	"gitlab.com/elixxir/chatsync/event"
	"gitlab.com/elixxir/chatsync/history"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/network"
	"gitlab.com/elixxir/chatsync/raw"
	"gitlab.com/elixxir/chatsync/sending"
)

// ErrUnknownMessage is returned for commands on messages not in the store.
var ErrUnknownMessage = errors.New("message is not known")

// SendText shows a text message in the conversation at once and sends it in
// the background. Failures are flagged on the message.
func (s *Session) SendText(peer ids.PeerID, text string,
	opts sending.SendOptions) (ids.MessageID, error) {
	return s.sends.SendText(peer, text, opts)
}

// SendFile is SendText with an attachment.
func (s *Session) SendFile(peer ids.PeerID, file network.File, caption string,
	opts sending.SendOptions) (ids.MessageID, error) {
	return s.sends.SendFile(peer, file, caption, opts)
}

// Retry sends a failed message again.
func (s *Session) Retry(tempID ids.MessageID) error {
	return s.sends.Retry(tempID)
}

// Cancel withdraws a send the server has not accepted yet.
func (s *Session) Cancel(tempID ids.MessageID) error {
	return s.sends.Cancel(tempID)
}

// EditMessage replaces the text of a message. Editing a message that is
// still being sent changes the placeholder now and edits the confirmed
// message once the send completes. Edits that change nothing are not
// errors.
func (s *Session) EditMessage(ctx context.Context, id ids.MessageID,
	text string) error {
	m, known := s.store.Lookup(id)
	if !known || m.Deleted {
		return errors.WithMessagef(ErrUnknownMessage, "cannot edit %d", id)
	}

	if !id.IsTemp() {
		return s.editConfirmed(ctx, m.Peer, id, text)
	}

	if _, ok := s.store.Apply(id, messages.SetText(text, 0)); ok {
		s.reporter.Report(event.Notification{
			Kind: event.MessageEdit,
			Peer: m.Peer,
			IDs:  []ids.MessageID{id},
		})
	}
	return s.sends.AfterSent(id, "edit", func(confirmed messages.Message) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(),
				s.params.Send.SendTimeout)
			defer cancel()
			err := s.editConfirmed(ctx, confirmed.Peer, confirmed.ID, text)
			if err != nil {
				jww.ERROR.Printf("[SYNC] Failed to apply edit of %d to %d: %+v",
					id, confirmed.ID, err)
			}
		}()
	})
}

func (s *Session) editConfirmed(ctx context.Context, peer ids.PeerID,
	id ids.MessageID, text string) error {
	local, err := s.serverID(peer, id)
	if err != nil {
		return err
	}
	updates, err := s.client.EditMessage(ctx, peer, local, text)
	if network.IsBenign(err) {
		jww.DEBUG.Printf("[SYNC] Edit of %d ignored: %v", id, err)
		return nil
	} else if err != nil {
		return errors.WithMessagef(err, "failed to edit %d", id)
	}
	s.dispatcher.Handle(updates)
	return nil
}

// serverID converts a global ID to the server's ID. An ID in an unknown
// slot triggers a reload of the conversation.
func (s *Session) serverID(peer ids.PeerID, id ids.MessageID) (int64, error) {
	local, _, err := s.space.FromGlobal(id)
	if errors.Is(err, ids.ErrUnknownSlot) {
		jww.WARN.Printf("[SYNC] %d of %s has an unknown slot, reloading",
			id, peer)
		s.dispatcher.Reload(peer)
	}
	return local, err
}

// DeleteMessages deletes messages. Pending sends are cancelled, or deleted
// once confirmed if the server already accepted them. Confirmed messages
// are deleted on the server, one request per numbering space, and then
// removed locally.
func (s *Session) DeleteMessages(ctx context.Context, msgIDs []ids.MessageID,
	revoke bool) error {
	var confirmed []ids.MessageID
	for _, id := range msgIDs {
		if !id.IsTemp() {
			confirmed = append(confirmed, id)
			continue
		}
		err := s.sends.Cancel(id)
		if errors.Is(err, sending.ErrAcknowledged) {
			err = s.sends.AfterSent(id, "delete", func(m messages.Message) {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					ctx, cancel := context.WithTimeout(context.Background(),
						s.params.Send.SendTimeout)
					defer cancel()
					if err := s.DeleteMessages(ctx,
						[]ids.MessageID{m.ID}, revoke); err != nil {
						jww.ERROR.Printf("[SYNC] %+v", err)
					}
				}()
			})
		}
		if err != nil && !errors.Is(err, sending.ErrNotPending) {
			return errors.WithMessagef(err, "failed to delete %d", id)
		}
	}

	for channel, local := range s.space.SplitByChannel(confirmed) {
		peer := ids.ChannelPeer(channel)
		if channel == 0 {
			peer = s.store.Get(s.space.ToGlobal(local[0], 0)).Peer
		}
		if err := s.client.DeleteMessages(ctx, peer, local, revoke); err != nil {
			return errors.WithMessagef(err, "failed to delete %d messages "+
				"of %s", len(local), peer)
		}
		s.dispatcher.Handle([]raw.Update{
			raw.DeleteMessages{Channel: channel, IDs: local},
		})
	}
	return nil
}

// ReadHistory marks a conversation read up to maxID, or entirely if maxID
// is zero. Local state changes at once. Overlapping calls share one request
// chain: a call made while a request is in flight only raises the ID the
// chain reads up to.
func (s *Session) ReadHistory(ctx context.Context, peer ids.PeerID,
	maxID ids.MessageID) error {
	dlg, exists := s.dialogs.Get(peer)
	if !exists {
		return errors.WithMessagef(dialogs.ErrNoDialog, "cannot read %s", peer)
	}
	if maxID == 0 || maxID > dlg.TopMessage {
		maxID = dlg.TopMessage
	}

	s.markRead(peer, dlg, maxID)
	return s.sendRead(ctx, peer, maxID)
}

// markRead applies a read locally. Unread counters are reduced by the
// number of messages marked, or cleared when the top message is read.
func (s *Session) markRead(peer ids.PeerID, dlg dialogs.Dialog,
	maxID ids.MessageID) {
	marked := s.history.MarkRead(peer, maxID, false)

	stillUnread := -1
	if maxID >= dlg.TopMessage {
		stillUnread = 0
	} else if len(marked) > 0 {
		s.dialogs.AddUnread(peer, -len(marked))
	}
	updated, _ := s.dialogs.SetReadInbox(peer, maxID, stillUnread)

	if len(marked) > 0 {
		s.reporter.Report(event.Notification{
			Kind: event.HistoryUpdate,
			Peer: peer,
			IDs:  marked,
		})
	}
	s.reporter.Report(event.Notification{
		Kind:        event.DialogUnread,
		Peer:        peer,
		UnreadCount: updated.UnreadCount,
	})

	// Without the newest messages cached the unread run may have a gap.
	// The server's counters are authoritative then.
	if st, ok := s.history.Lookup(peer); (!ok || !st.AtBottom()) &&
		stillUnread != 0 {
		s.dispatcher.Reload(peer)
	}
}

func (s *Session) sendRead(ctx context.Context, peer ids.PeerID,
	maxID ids.MessageID) error {
	st := s.history.Get(peer)

	s.mux.Lock()
	if !st.TryRead(maxID) || s.reading[peer] {
		s.mux.Unlock()
		return nil
	}
	s.reading[peer] = true
	s.mux.Unlock()

	for {
		local, err := s.serverID(peer, maxID)
		if err == nil {
			err = s.client.ReadHistory(ctx, peer, local)
		}
		if err != nil {
			s.mux.Lock()
			delete(s.reading, peer)
			s.mux.Unlock()
			return errors.WithMessagef(err, "failed to read %s up to %d",
				peer, maxID)
		}

		s.mux.Lock()
		next := st.TriedToReadMaxID()
		if next <= maxID {
			delete(s.reading, peer)
			s.mux.Unlock()
			return nil
		}
		s.mux.Unlock()
		jww.DEBUG.Printf("[SYNC] Read of %s moved to %d while in flight",
			peer, next)
		maxID = next
	}
}

// GetHistory returns limit messages of a conversation older than maxID and
// backLimit messages at or above it, newest first. A maxID of zero starts at
// the newest message, pending sends included.
func (s *Session) GetHistory(ctx context.Context, peer ids.PeerID,
	maxID ids.MessageID, limit, backLimit int) (history.Result, error) {
	return s.history.GetHistory(ctx, peer, maxID, limit, backLimit)
}

// GetDialogs returns limit dialogs of a folder or filter with an index
// below offsetIndex, or from the top if offsetIndex is zero. Pages missing
// from the cache are fetched for real folders.
func (s *Session) GetDialogs(ctx context.Context, folder int,
	offsetIndex int64, limit int) ([]dialogs.Dialog, error) {
	for {
		list := s.dialogs.List(folder, offsetIndex, limit)
		if len(list) >= limit || folder >= dialogs.FirstFilterID {
			return list, nil
		}

		s.mux.Lock()
		complete := s.dialogsComplete[folder]
		s.mux.Unlock()
		if complete {
			return list, nil
		}

		fetched, err := s.fetchDialogs(ctx, folder)
		if err != nil {
			return list, err
		}
		if fetched == 0 {
			return list, nil
		}
	}
}

// fetchDialogs loads the page of dialogs below the last cached one. Returns
// the number of dialogs received.
func (s *Session) fetchDialogs(ctx context.Context, folder int) (int, error) {
	req := network.DialogsRequest{
		FolderID: folder,
		Limit:    s.params.DialogsPageSize,
	}
	if cached := s.dialogs.List(folder, 0, 0); len(cached) > 0 {
		var last dialogs.Dialog
		for i := len(cached) - 1; i >= 0; i-- {
			if !cached[i].Pinned {
				last = cached[i]
				break
			}
		}
		if last.Peer != 0 {
			offsetID, _, err := s.space.FromGlobal(last.TopMessage)
			if err != nil {
				return 0, err
			}
			req.OffsetDate = last.TopDate
			req.OffsetID = offsetID
			req.OffsetPeer = last.Peer
		}
	}

	page, err := s.client.GetDialogs(ctx, req)
	if err != nil {
		return 0, errors.WithMessagef(err, "failed to get dialogs of "+
			"folder %d", folder)
	}
	before := s.dialogs.Len()
	if req.OffsetPeer == 0 {
		s.dispatcher.SaveFolderTop(folder, page)
	} else {
		s.dispatcher.SaveDialogs(page)
	}
	added := s.dialogs.Len() - before

	if len(page.Dialogs) < req.Limit || added == 0 {
		s.mux.Lock()
		s.dialogsComplete[folder] = true
		s.mux.Unlock()
	}
	jww.DEBUG.Printf("[SYNC] Fetched %d dialogs of folder %d, %d new",
		len(page.Dialogs), folder, added)
	return added, nil
}

// TogglePin pins or unpins a dialog. In a real folder the change is sent to
// the server; in a custom filter it only changes the filter's pinned peers.
func (s *Session) TogglePin(ctx context.Context, peer ids.PeerID,
	folder int) error {
	if folder >= dialogs.FirstFilterID {
		return s.toggleFilterPin(peer, folder)
	}

	dlg, exists := s.dialogs.Get(peer)
	if !exists {
		return errors.WithMessagef(dialogs.ErrNoDialog, "cannot pin %s", peer)
	}
	pinned := !dlg.Pinned
	if err := s.client.ToggleDialogPin(ctx, peer, pinned); err != nil {
		return errors.WithMessagef(err, "failed to pin %s", peer)
	}
	s.dispatcher.Handle([]raw.Update{
		raw.DialogPinned{Peer: peer, FolderID: dlg.FolderID, Pinned: pinned},
	})
	return nil
}

func (s *Session) toggleFilterPin(peer ids.PeerID, folder int) error {
	f, exists := s.dialogs.Filter(folder)
	if !exists {
		return errors.Errorf("no filter %d", folder)
	}
	pinned := f.PinnedPeers[:0:0]
	found := false
	for _, p := range f.PinnedPeers {
		if p == peer {
			found = true
			continue
		}
		pinned = append(pinned, p)
	}
	if !found {
		pinned = append([]ids.PeerID{peer}, pinned...)
	}
	f.PinnedPeers = pinned
	if err := s.dialogs.SetFilter(f); err != nil {
		return err
	}
	s.reporter.Report(event.Notification{
		Kind:  event.DialogsMultiupdate,
		Peers: []ids.PeerID{peer},
	})
	return nil
}

// MarkDialogUnread sets or clears the manual unread mark of a dialog.
func (s *Session) MarkDialogUnread(ctx context.Context, peer ids.PeerID,
	unread bool) error {
	if _, exists := s.dialogs.Get(peer); !exists {
		return errors.WithMessagef(dialogs.ErrNoDialog, "cannot mark %s", peer)
	}
	if err := s.client.MarkDialogUnread(ctx, peer, unread); err != nil {
		return errors.WithMessagef(err, "failed to mark %s unread", peer)
	}
	s.dispatcher.Handle([]raw.Update{
		raw.DialogUnreadMark{Peer: peer, Unread: unread},
	})
	return nil
}
