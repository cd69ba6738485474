////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package history

import (
	"sort"
	"sync"

	"gitlab.com/elixxir/chatsync/ids"
)

// unknownCount marks a message count the server has not reported yet.
const unknownCount = -1

// Storage is the timeline of one conversation. The cached history is a single
// contiguous run of confirmed IDs, newest first. Pending IDs are kept apart
// and are shown above the history when it reaches the bottom.
type Storage struct {
	peer ids.PeerID

	history []ids.MessageID
	pending []ids.MessageID
	count   int

	// scrolledAll is set once the oldest message of the conversation is in
	// history. No further backfill is attempted afterwards.
	scrolledAll bool
	// atBottom is set while history[0] is the newest message.
	atBottom bool

	// triedToReadMaxID is the highest ID a read request was sent for.
	triedToReadMaxID ids.MessageID

	mux sync.RWMutex
	// fetch serializes network fetches for the conversation.
	fetch sync.Mutex
}

func newStorage(peer ids.PeerID) *Storage {
	return &Storage{peer: peer, count: unknownCount}
}

// Peer returns the conversation the Storage belongs to.
func (s *Storage) Peer() ids.PeerID { return s.peer }

// History returns a copy of the cached history, newest first.
func (s *Storage) History() []ids.MessageID {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return append([]ids.MessageID(nil), s.history...)
}

// Pending returns a copy of the pending IDs, newest first.
func (s *Storage) Pending() []ids.MessageID {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return append([]ids.MessageID(nil), s.pending...)
}

// Newest returns the newest cached ID, or zero if nothing is cached.
func (s *Storage) Newest() ids.MessageID {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if len(s.history) == 0 {
		return 0
	}
	return s.history[0]
}

// Oldest returns the oldest cached ID, or zero if nothing is cached.
func (s *Storage) Oldest() ids.MessageID {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if len(s.history) == 0 {
		return 0
	}
	return s.history[len(s.history)-1]
}

// Count returns the server's message count and whether it is known.
func (s *Storage) Count() (int, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.count, s.count != unknownCount
}

// ScrolledAll returns true once the start of the conversation is cached.
func (s *Storage) ScrolledAll() bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.scrolledAll
}

// AtBottom returns true if the history reaches the newest message.
func (s *Storage) AtBottom() bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.atBottom
}

// SetAtBottom marks whether the history reaches the newest message.
func (s *Storage) SetAtBottom(atBottom bool) {
	s.mux.Lock()
	s.atBottom = atBottom
	s.mux.Unlock()
}

// Contains returns true if id is in the history.
func (s *Storage) Contains(id ids.MessageID) bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	_, found := s.search(id)
	return found
}

// search returns the index of id, or the index it would be inserted at.
func (s *Storage) search(id ids.MessageID) (int, bool) {
	i := sort.Search(len(s.history), func(i int) bool {
		return s.history[i] <= id
	})
	return i, i < len(s.history) && s.history[i] == id
}

// Insert adds confirmed IDs to the history in sort position. Duplicates and
// temporary IDs are ignored. Returns the IDs that were added.
func (s *Storage) Insert(msgIDs ...ids.MessageID) []ids.MessageID {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.insert(msgIDs)
}

func (s *Storage) insert(msgIDs []ids.MessageID) []ids.MessageID {
	var added []ids.MessageID
	for _, id := range msgIDs {
		if id <= 0 {
			continue
		}
		i, found := s.search(id)
		if found {
			continue
		}
		s.history = append(s.history, 0)
		copy(s.history[i+1:], s.history[i:])
		s.history[i] = id
		added = append(added, id)
	}
	return added
}

// AppendNew adds a newly received message. The message is only put in the
// history if the history reaches the bottom, otherwise it would open a gap.
// The known count grows either way. Returns true if the ID was added.
func (s *Storage) AppendNew(id ids.MessageID) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.count != unknownCount {
		s.count++
	}
	if !s.atBottom {
		return false
	}
	return len(s.insert([]ids.MessageID{id})) == 1
}

// Remove deletes IDs from the history and pending lists. Returns the IDs
// that were present.
func (s *Storage) Remove(msgIDs ...ids.MessageID) []ids.MessageID {
	s.mux.Lock()
	defer s.mux.Unlock()
	var removed []ids.MessageID
	for _, id := range msgIDs {
		if id.IsTemp() {
			if s.removePending(id) {
				removed = append(removed, id)
			}
			continue
		}
		i, found := s.search(id)
		if !found {
			continue
		}
		s.history = append(s.history[:i], s.history[i+1:]...)
		removed = append(removed, id)
		if s.count > 0 {
			s.count--
		}
	}
	return removed
}

// RemoveUpTo deletes every cached ID at or below maxID. Returns the removed
// IDs.
func (s *Storage) RemoveUpTo(maxID ids.MessageID) []ids.MessageID {
	s.mux.Lock()
	defer s.mux.Unlock()
	i, _ := s.search(maxID)
	if i == len(s.history) {
		return nil
	}
	removed := append([]ids.MessageID(nil), s.history[i:]...)
	s.history = s.history[:i]
	if s.count != unknownCount {
		s.count -= len(removed)
		if s.count < 0 {
			s.count = 0
		}
	}
	return removed
}

// AddPending puts a temporary ID at the top of the pending list.
func (s *Storage) AddPending(id ids.MessageID) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, p := range s.pending {
		if p == id {
			return
		}
	}
	s.pending = append([]ids.MessageID{id}, s.pending...)
}

// RemovePending deletes a temporary ID from the pending list. Returns false
// if it was not there.
func (s *Storage) RemovePending(id ids.MessageID) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.removePending(id)
}

func (s *Storage) removePending(id ids.MessageID) bool {
	for i, p := range s.pending {
		if p == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Finalize swaps a pending ID for its confirmed ID in one step, so the two
// are never both present. The confirmed ID is only inserted while the
// history reaches the bottom. Returns false if it was not inserted.
func (s *Storage) Finalize(tempID, id ids.MessageID) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.removePending(tempID)
	if !s.atBottom {
		return false
	}
	return len(s.insert([]ids.MessageID{id})) == 1
}

// TriedToReadMaxID returns the highest ID a read request was sent for.
func (s *Storage) TriedToReadMaxID() ids.MessageID {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.triedToReadMaxID
}

// TryRead records an attempt to read up to maxID. Returns false if a request
// covering maxID was already sent.
func (s *Storage) TryRead(maxID ids.MessageID) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if maxID <= s.triedToReadMaxID {
		return false
	}
	s.triedToReadMaxID = maxID
	return true
}

// window computes the slice of history for a request. ok is false if the
// cache cannot answer it.
func (s *Storage) window(maxID ids.MessageID, limit, backLimit int) (
	out []ids.MessageID, ok bool) {

	if maxID == 0 {
		if !s.atBottom || (len(s.history) < limit && !s.scrolledAll) {
			return nil, false
		}
		end := min(limit, len(s.history))
		return s.withPending(0, s.history[:end]), true
	}

	// The anchor must fall inside the cached run.
	if len(s.history) == 0 {
		return nil, false
	}
	if maxID > s.history[0] && !s.atBottom {
		return nil, false
	}

	off, _ := s.search(maxID - 1)
	if off+limit > len(s.history) && !s.scrolledAll {
		return nil, false
	}
	start := off - backLimit
	if start < 0 {
		if !s.atBottom {
			return nil, false
		}
		start = 0
	}
	end := min(off+limit, len(s.history))
	return s.withPending(start, s.history[start:end]), true
}

// withPending prepends the pending IDs to a window that starts at the
// bottom of the conversation.
func (s *Storage) withPending(start int, window []ids.MessageID) []ids.MessageID {
	out := make([]ids.MessageID, 0, len(s.pending)+len(window))
	if start == 0 && s.atBottom {
		out = append(out, s.pending...)
	}
	return append(out, window...)
}

// SeedTop starts an empty history with the top message of its dialog. The
// top message is by definition the newest, so the history is at the bottom.
// Returns false if the history was not empty.
func (s *Storage) SeedTop(top ids.MessageID) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if len(s.history) != 0 || top <= 0 {
		return false
	}
	s.history = []ids.MessageID{top}
	s.atBottom = true
	return true
}

// reachesStart returns true if window ends at the first message of the
// conversation. The read lock must be held.
func (s *Storage) reachesStart(window []ids.MessageID) bool {
	if !s.scrolledAll {
		return false
	}
	if len(window) == 0 || len(s.history) == 0 {
		return true
	}
	return window[len(window)-1] == s.history[len(s.history)-1]
}
