////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package updates

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/dialogs"
	"gitlab.com/elixxir/chatsync/event"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/metrics"
	"gitlab.com/elixxir/chatsync/raw"
)

// shouldDefer queues an update whose dialog is unknown or reloading and
// starts a reload if none is running. Edits apply to known messages only and
// are never held.
func (d *Dispatcher) shouldDefer(u raw.Update) bool {
	if u.Kind() == raw.KindEditMessage {
		return false
	}
	peer, ok := raw.UpdatePeer(u)
	if !ok {
		return false
	}

	d.mux.Lock()
	queued, reloading := d.deferred[peer]
	if !reloading {
		if _, known := d.dialogs.Get(peer); known {
			d.mux.Unlock()
			return false
		}
	}
	d.deferred[peer] = append(queued, u)
	d.mux.Unlock()

	metrics.UpdatesDeferred.Inc()
	jww.INFO.Printf("[SYNC] Holding %s for %s until its dialog is loaded",
		u.Kind(), peer)
	if !reloading {
		d.startReload(peer)
	}
	return true
}

// Reload fetches the dialog of a peer again in the background. Updates for
// the peer are held until the reload completes and are then applied in the
// order they arrived.
func (d *Dispatcher) Reload(peer ids.PeerID) {
	d.mux.Lock()
	_, reloading := d.deferred[peer]
	if !reloading {
		d.deferred[peer] = nil
	}
	d.mux.Unlock()
	if !reloading {
		d.startReload(peer)
	}
}

// Reloading returns true while a reload of the peer's dialog is running.
func (d *Dispatcher) Reloading(peer ids.PeerID) bool {
	d.mux.Lock()
	defer d.mux.Unlock()
	_, reloading := d.deferred[peer]
	return reloading
}

func (d *Dispatcher) startReload(peer ids.PeerID) {
	d.started()
	go func() {
		defer d.finished()
		err := d.reload(peer)

		d.mux.Lock()
		queued := d.deferred[peer]
		delete(d.deferred, peer)
		d.mux.Unlock()

		if err != nil {
			metrics.DialogReloads.WithLabelValues("failed").Inc()
			jww.ERROR.Printf("[SYNC] Failed to reload dialog of %s, "+
				"dropping %d held updates: %+v", peer, len(queued), err)
			return
		}
		metrics.DialogReloads.WithLabelValues("ok").Inc()
		jww.INFO.Printf("[SYNC] Reloaded dialog of %s, replaying %d updates",
			peer, len(queued))
		d.Handle(queued)
	}()
}

func (d *Dispatcher) reload(peer ids.PeerID) error {
	if d.reloader == nil {
		return errors.Errorf("cannot reload %s without a reloader", peer)
	}
	ctx, cancel := context.WithTimeout(context.Background(),
		d.params.ReloadTimeout)
	defer cancel()

	page, err := d.reloader.GetPeerDialogs(ctx, []ids.PeerID{peer})
	if err != nil {
		return errors.WithMessagef(err, "failed to get dialog of %s", peer)
	}
	d.SaveDialogs(page)

	if _, exists := d.dialogs.Get(peer); !exists {
		d.history.Drop(peer)
		d.events.Report(event.Notification{Kind: event.DialogDrop, Peer: peer})
		return errors.WithMessagef(dialogs.ErrNoDialog,
			"server returned no dialog for %s", peer)
	}
	return nil
}

// SaveDialogs stores a page of dialogs and their top messages. The history
// of a new dialog starts with its top message. Pinned dialogs of the page
// keep the page's order above dialogs pinned before. Returns the stored
// dialogs in page order.
func (d *Dispatcher) SaveDialogs(page raw.DialogsPage) []dialogs.Dialog {
	return d.saveDialogs(page, nil)
}

// SaveFolderTop stores the first page of a folder listing. The folder's
// pinned order is replaced by the pinned dialogs of the page, so dialogs
// the server no longer reports as pinned are unpinned.
func (d *Dispatcher) SaveFolderTop(folder int,
	page raw.DialogsPage) []dialogs.Dialog {
	unpinned, err := d.dialogs.SetPinnedOrder(folder, nil)
	if err != nil {
		jww.ERROR.Printf("[SYNC] Failed to reset pinned dialogs of folder "+
			"%d: %+v", folder, err)
	}
	return d.saveDialogs(page, unpinned)
}

// saveDialogs stores a page and reindexes the extra peers after it.
func (d *Dispatcher) saveDialogs(page raw.DialogsPage,
	extra []ids.PeerID) []dialogs.Dialog {
	dates := make(map[ids.MessageID]int64, len(page.Messages))
	for _, m := range page.Messages {
		dates[d.space.ToGlobal(m.ID, m.Channel())] = m.Date
	}

	// Walked from the bottom since every pin goes on top of the order.
	out := make([]dialogs.Dialog, len(page.Dialogs))
	for i := len(page.Dialogs) - 1; i >= 0; i-- {
		rd := page.Dialogs[i]
		channel := rd.Peer.ChannelID()
		top := d.space.ToGlobal(rd.TopMessage, channel)
		out[i] = d.dialogs.Upsert(dialogs.Dialog{
			Peer:            rd.Peer,
			TopMessage:      top,
			TopDate:         dates[top],
			ReadInboxMaxID:  d.space.ToGlobal(rd.ReadInboxMaxID, channel),
			ReadOutboxMaxID: d.space.ToGlobal(rd.ReadOutboxMaxID, channel),
			UnreadCount:     rd.UnreadCount,
			UnreadMark:      rd.UnreadMark,
			Pinned:          rd.Pinned,
			FolderID:        rd.FolderID,
			MuteUntil:       rd.MuteUntil,
		})
		d.store.IncrementMaxSeen(top)
	}

	peers := make([]ids.PeerID, 0, len(out)+len(extra))
	for _, dlg := range out {
		peers = append(peers, dlg.Peer)
	}
	for _, peer := range d.dialogs.Reindex(extra...) {
		if !containsPeer(peers, peer) {
			peers = append(peers, peer)
		}
	}

	saved := d.store.Save(page.Messages, messages.SaveOptions{})
	d.history.ObserveMigrations(saved)

	for _, dlg := range out {
		if dlg.TopMessage == 0 {
			continue
		}
		s := d.history.Get(dlg.Peer)
		if s.SeedTop(dlg.TopMessage) {
			continue
		}
		// A newer top than the cached bottom means messages are missing in
		// between. The cache no longer reaches the bottom.
		if s.AtBottom() && s.Newest() < dlg.TopMessage {
			s.SetAtBottom(false)
		}
	}

	if len(peers) > 0 {
		d.events.Report(event.Notification{
			Kind:  event.DialogsMultiupdate,
			Peers: peers,
		})
	}
	return out
}

func containsPeer(peers []ids.PeerID, peer ids.PeerID) bool {
	for _, p := range peers {
		if p == peer {
			return true
		}
	}
	return false
}
