////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package dialogs holds the dialog summaries and keeps each folder sorted by
// dialog index.
//
// A dialog's index is its top message date shifted left 16 bits plus a
// tiebreak counter, so dialogs with messages in the same second still order
// strictly. Pinned dialogs use a reserved range above every date, ordered by
// their position in the folder's pinned order.
package dialogs

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/storage/versioned"
	"gitlab.com/xx_network/primitives/netTime"
)

const (
	storePrefix         = "dialogs"
	pinnedOrdersKey     = "pinnedOrders"
	pinnedOrdersVersion = 0
)

// ErrNoDialog is returned for operations on a peer without a dialog.
var ErrNoDialog = errors.New("no dialog for peer")

// Store holds every known dialog.
type Store struct {
	dialogs map[ids.PeerID]*Dialog
	// folders holds the peers of each real folder sorted by descending
	// index.
	folders map[int][]ids.PeerID
	// pinned holds the pinned order of each real folder, most recently
	// pinned first.
	pinned  map[int][]ids.PeerID
	filters map[int]*Filter

	tiebreak uint32

	kv  *versioned.KV
	mux sync.RWMutex
}

// NewStore loads the pinned orders from storage and returns an empty Store.
func NewStore(kv *versioned.KV) (*Store, error) {
	s := &Store{
		dialogs: make(map[ids.PeerID]*Dialog),
		folders: map[int][]ids.PeerID{MainFolder: nil, ArchiveFolder: nil},
		pinned:  make(map[int][]ids.PeerID),
		filters: make(map[int]*Filter),
		kv:      kv.Prefix(storePrefix),
	}

	if _, err := s.kv.LoadJSON(pinnedOrdersKey, pinnedOrdersVersion,
		&s.pinned); err != nil {
		return nil, errors.WithMessage(err, "failed to load pinned orders")
	}
	return s, nil
}

// Get returns a copy of the dialog of a peer.
func (s *Store) Get(peer ids.PeerID) (Dialog, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	d, exists := s.dialogs[peer]
	if !exists {
		return Dialog{}, false
	}
	return *d, true
}

// Len returns the number of dialogs.
func (s *Store) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.dialogs)
}

// ReadMaxIDs returns the read markers of a peer's dialog.
func (s *Store) ReadMaxIDs(peer ids.PeerID) (ids.MessageID, ids.MessageID, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	d, exists := s.dialogs[peer]
	if !exists {
		return 0, 0, false
	}
	return d.ReadInboxMaxID, d.ReadOutboxMaxID, true
}

// Upsert stores the dialog, computes its index and places it in its folder.
// The dialog's pinned flag is reconciled with the folder's pinned order.
func (s *Store) Upsert(d Dialog) Dialog {
	s.mux.Lock()
	defer s.mux.Unlock()

	if d.FolderID != MainFolder && d.FolderID != ArchiveFolder {
		jww.WARN.Printf("[DIALOGS] Dialog %s in unknown folder %d, "+
			"using main", d.Peer, d.FolderID)
		d.FolderID = MainFolder
	}

	if old, exists := s.dialogs[d.Peer]; exists {
		if old.FolderID != d.FolderID {
			s.unlist(old.FolderID, d.Peer)
			if old.Pinned {
				s.unpin(old.FolderID, d.Peer)
			}
		}
	}

	stored := d
	s.dialogs[d.Peer] = &stored
	if d.Pinned {
		s.pin(d.FolderID, d.Peer)
	} else {
		s.unpin(d.FolderID, d.Peer)
	}
	s.reindex(d.Peer)
	return stored
}

// Drop removes a dialog. Returns false if it did not exist.
func (s *Store) Drop(peer ids.PeerID) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	d, exists := s.dialogs[peer]
	if !exists {
		return false
	}
	s.unlist(d.FolderID, peer)
	if d.Pinned {
		s.unpin(d.FolderID, peer)
	}
	delete(s.dialogs, peer)
	return true
}

// update applies fn to the stored dialog under the lock.
func (s *Store) update(peer ids.PeerID, fn func(d *Dialog)) (Dialog, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	d, exists := s.dialogs[peer]
	if !exists {
		return Dialog{}, false
	}
	fn(d)
	return *d, true
}

// SetTop changes the top message without moving the dialog. Call Reindex
// to move it. Older top messages are ignored unless force is set.
func (s *Store) SetTop(peer ids.PeerID, top ids.MessageID, date int64,
	force bool) (Dialog, bool) {
	return s.update(peer, func(d *Dialog) {
		if !force && top < d.TopMessage {
			return
		}
		d.TopMessage = top
		d.TopDate = date
	})
}

// SetReadInbox moves the incoming read marker forward. A stillUnread of -1
// keeps the unread count.
func (s *Store) SetReadInbox(peer ids.PeerID, maxID ids.MessageID,
	stillUnread int) (Dialog, bool) {
	return s.update(peer, func(d *Dialog) {
		if maxID > d.ReadInboxMaxID {
			d.ReadInboxMaxID = maxID
		}
		if stillUnread >= 0 {
			d.UnreadCount = stillUnread
		}
		d.UnreadMark = false
	})
}

// SetReadOutbox moves the outgoing read marker forward.
func (s *Store) SetReadOutbox(peer ids.PeerID, maxID ids.MessageID) (Dialog, bool) {
	return s.update(peer, func(d *Dialog) {
		if maxID > d.ReadOutboxMaxID {
			d.ReadOutboxMaxID = maxID
		}
	})
}

// AddUnread changes the unread count by delta, floored at zero.
func (s *Store) AddUnread(peer ids.PeerID, delta int) (Dialog, bool) {
	return s.update(peer, func(d *Dialog) {
		d.UnreadCount += delta
		if d.UnreadCount < 0 {
			d.UnreadCount = 0
		}
	})
}

// SetUnreadMark sets the manual unread mark.
func (s *Store) SetUnreadMark(peer ids.PeerID, unread bool) (Dialog, bool) {
	return s.update(peer, func(d *Dialog) { d.UnreadMark = unread })
}

// SetMute sets the time until which the dialog is muted.
func (s *Store) SetMute(peer ids.PeerID, until int64) (Dialog, bool) {
	return s.update(peer, func(d *Dialog) { d.MuteUntil = until })
}

// SetPinned pins or unpins a dialog in its folder. A newly pinned dialog is
// put first. The dialog is not moved; Reindex the returned peers, which are
// every dialog whose pinned position may have changed.
func (s *Store) SetPinned(peer ids.PeerID, pinned bool) ([]ids.PeerID, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	d, exists := s.dialogs[peer]
	if !exists {
		return nil, errors.WithMessagef(ErrNoDialog, "cannot pin %s", peer)
	}
	if d.Pinned == pinned {
		return nil, nil
	}

	affected := append([]ids.PeerID{peer}, s.pinned[d.FolderID]...)
	d.Pinned = pinned
	if pinned {
		s.pin(d.FolderID, peer)
	} else {
		s.unpin(d.FolderID, peer)
	}
	return dedup(affected), s.savePinned()
}

// SetPinnedOrder replaces the pinned order of a folder. Dialogs in the order
// become pinned and dialogs removed from it are unpinned. Peers without a
// dialog are kept in the order and apply once their dialog is loaded.
// Returns the peers to Reindex.
func (s *Store) SetPinnedOrder(folder int, order []ids.PeerID) ([]ids.PeerID, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	affected := append([]ids.PeerID(nil), s.pinned[folder]...)
	for _, peer := range s.pinned[folder] {
		if d, exists := s.dialogs[peer]; exists {
			d.Pinned = false
		}
	}

	s.pinned[folder] = dedup(append([]ids.PeerID(nil), order...))
	for _, peer := range s.pinned[folder] {
		if d, exists := s.dialogs[peer]; exists && d.FolderID == folder {
			d.Pinned = true
		}
	}

	return dedup(append(affected, order...)), s.savePinned()
}

// PinnedOrder returns the pinned order of a folder, most recently pinned
// first.
func (s *Store) PinnedOrder(folder int) []ids.PeerID {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return append([]ids.PeerID(nil), s.pinned[folder]...)
}

// Reindex recomputes the index of each dialog and moves it to its sorted
// position. Unknown peers are skipped. Returns the peers that were
// reindexed.
func (s *Store) Reindex(peers ...ids.PeerID) []ids.PeerID {
	s.mux.Lock()
	defer s.mux.Unlock()
	out := make([]ids.PeerID, 0, len(peers))
	for _, peer := range dedup(peers) {
		if s.reindex(peer) {
			out = append(out, peer)
		}
	}
	return out
}

// reindex computes a dialog's index and moves it. The lock must be held.
func (s *Store) reindex(peer ids.PeerID) bool {
	d, exists := s.dialogs[peer]
	if !exists {
		return false
	}

	s.tiebreak++
	d.DateIndex = dateIndex(d.TopDate, s.tiebreak)
	d.Index = d.DateIndex
	if d.Pinned {
		order := s.pinned[d.FolderID]
		for i, p := range order {
			if p == peer {
				d.Index = pinnedIndex(len(order) - 1 - i)
				break
			}
		}
	}

	s.unlist(d.FolderID, peer)
	s.list(d.FolderID, peer, d.Index)
	return true
}

// list inserts a peer into a folder at its sorted position. The scan starts
// from whichever end is nearer, since updates mostly move dialogs to the
// top and loads append at the bottom.
func (s *Store) list(folder int, peer ids.PeerID, index int64) {
	l := s.folders[folder]
	pos := len(l)
	if len(l) > 0 && index > s.dialogs[l[len(l)/2]].Index {
		pos = 0
		for pos < len(l) && s.dialogs[l[pos]].Index > index {
			pos++
		}
	} else {
		for pos > 0 && s.dialogs[l[pos-1]].Index < index {
			pos--
		}
	}

	l = append(l, 0)
	copy(l[pos+1:], l[pos:])
	l[pos] = peer
	s.folders[folder] = l
}

func (s *Store) unlist(folder int, peer ids.PeerID) {
	l := s.folders[folder]
	for i, p := range l {
		if p == peer {
			s.folders[folder] = append(l[:i], l[i+1:]...)
			return
		}
	}
}

func (s *Store) pin(folder int, peer ids.PeerID) {
	if !contains(s.pinned[folder], peer) {
		s.pinned[folder] = append([]ids.PeerID{peer}, s.pinned[folder]...)
		if err := s.savePinned(); err != nil {
			jww.ERROR.Printf("[DIALOGS] %+v", err)
		}
	}
}

func (s *Store) unpin(folder int, peer ids.PeerID) {
	order := s.pinned[folder]
	for i, p := range order {
		if p == peer {
			s.pinned[folder] = append(order[:i:i], order[i+1:]...)
			if err := s.savePinned(); err != nil {
				jww.ERROR.Printf("[DIALOGS] %+v", err)
			}
			return
		}
	}
}

func (s *Store) savePinned() error {
	return errors.WithMessage(
		s.kv.StoreJSON(pinnedOrdersKey, pinnedOrdersVersion, s.pinned),
		"failed to store pinned orders")
}

// List returns up to limit dialogs of a folder or filter with an index
// below offsetIndex, highest index first. An offsetIndex of zero starts at
// the top.
func (s *Store) List(folder int, offsetIndex int64, limit int) []Dialog {
	s.mux.RLock()
	defer s.mux.RUnlock()

	if folder >= FirstFilterID {
		return s.listFilter(folder, offsetIndex, limit)
	}

	var out []Dialog
	for _, peer := range s.folders[folder] {
		if limit > 0 && len(out) >= limit {
			break
		}
		d := s.dialogs[peer]
		if offsetIndex != 0 && d.Index >= offsetIndex {
			continue
		}
		out = append(out, *d)
	}
	return out
}

// listFilter builds the view of a custom filter. Dialogs carry their index
// within the filter. The read lock must be held.
func (s *Store) listFilter(id int, offsetIndex int64, limit int) []Dialog {
	f, exists := s.filters[id]
	if !exists {
		return nil
	}

	now := netTime.Now().Unix()
	var view []Dialog
	for _, d := range s.dialogs {
		if !f.Matches(*d, now) {
			continue
		}
		v := *d
		v.Index = f.index(v)
		if offsetIndex != 0 && v.Index >= offsetIndex {
			continue
		}
		view = append(view, v)
	}

	// Ties keep peer order so the view is stable between calls.
	sort.Slice(view, func(i, j int) bool {
		if view[i].Index != view[j].Index {
			return view[i].Index > view[j].Index
		}
		return view[i].Peer < view[j].Peer
	})
	if limit > 0 && len(view) > limit {
		view = view[:limit]
	}
	return view
}

// SetFilter adds or replaces a custom filter.
func (s *Store) SetFilter(f Filter) error {
	if f.ID < FirstFilterID {
		return errors.Errorf("filter ID %d is reserved for real folders", f.ID)
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.filters[f.ID] = &f
	return nil
}

// Filter returns a copy of a custom filter.
func (s *Store) Filter(id int) (Filter, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	f, exists := s.filters[id]
	if !exists {
		return Filter{}, false
	}
	out := *f
	out.PinnedPeers = append([]ids.PeerID(nil), f.PinnedPeers...)
	return out, true
}

// RemoveFilter deletes a custom filter.
func (s *Store) RemoveFilter(id int) {
	s.mux.Lock()
	delete(s.filters, id)
	s.mux.Unlock()
}

// FolderUnread summarizes the unread state of a folder or filter.
type FolderUnread struct {
	Messages       int
	Dialogs        int
	UnmutedDialogs int
}

// FolderUnread returns the unread summary of a folder or filter.
func (s *Store) FolderUnread(folder int) FolderUnread {
	now := netTime.Now().Unix()
	var out FolderUnread
	for _, d := range s.List(folder, 0, 0) {
		if !d.Unread() {
			continue
		}
		out.Messages += d.UnreadCount
		out.Dialogs++
		if !d.Muted(now) {
			out.UnmutedDialogs++
		}
	}
	return out
}

func dedup(peers []ids.PeerID) []ids.PeerID {
	seen := make(map[ids.PeerID]struct{}, len(peers))
	out := peers[:0:0]
	for _, p := range peers {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
