////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package sending

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/metrics"
	"gitlab.com/elixxir/chatsync/network"
)

// State is the stage of an outgoing message.
type State uint8

const (
	// Composing is a send that has not been registered yet.
	Composing State = iota
	// PendingLocal is shown locally and the request is queued or in
	// flight.
	PendingLocal
	// Acknowledged means the server accepted the request but the confirmed
	// ID has not been matched yet. It can no longer be cancelled.
	Acknowledged
	Confirmed
	// Failed sends keep their placeholder until retried or cancelled.
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Composing:
		return "composing"
	case PendingLocal:
		return "pendingLocal"
	case Acknowledged:
		return "acknowledged"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// PendingSend is an outgoing message between its local creation and its
// confirmation.
type PendingSend struct {
	RandomID    int64
	Peer        ids.PeerID
	TempID      ids.MessageID
	State       State
	ConfirmedID ids.MessageID

	Text    string
	ReplyTo ids.MessageID
	File    *network.File
}

var (
	// ErrNotPending is returned for temporary IDs that are not tracked,
	// either because they were never sent or were already finalized.
	ErrNotPending = errors.New("message is not pending")
	// ErrAcknowledged is returned when cancelling a send the server
	// already accepted. Delete the message instead.
	ErrAcknowledged = errors.New("send was already acknowledged")
)

// Tracker indexes pending sends by random ID, temporary ID and confirmed ID.
type Tracker struct {
	byRandomID    map[int64]*PendingSend
	byTempID      map[ids.MessageID]int64
	byConfirmedID map[ids.MessageID]int64
	mux           sync.RWMutex
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byRandomID:    make(map[int64]*PendingSend),
		byTempID:      make(map[ids.MessageID]int64),
		byConfirmedID: make(map[ids.MessageID]int64),
	}
}

// Track registers a send. Returns an error if the random ID is in use.
func (t *Tracker) Track(ps PendingSend) error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if _, exists := t.byRandomID[ps.RandomID]; exists {
		return errors.Errorf("random ID %d already tracked", ps.RandomID)
	}
	ps.State = PendingLocal
	t.byRandomID[ps.RandomID] = &ps
	t.byTempID[ps.TempID] = ps.RandomID
	metrics.PendingSends.Inc()
	return nil
}

// Get returns a copy of the send with the given random ID.
func (t *Tracker) Get(randomID int64) (PendingSend, bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()
	ps, exists := t.byRandomID[randomID]
	if !exists {
		return PendingSend{}, false
	}
	return *ps, true
}

// ByTemp returns the send with the given temporary ID.
func (t *Tracker) ByTemp(tempID ids.MessageID) (PendingSend, bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()
	randomID, exists := t.byTempID[tempID]
	if !exists {
		return PendingSend{}, false
	}
	return *t.byRandomID[randomID], true
}

// ByConfirmed returns the send whose confirmation carried id.
func (t *Tracker) ByConfirmed(id ids.MessageID) (PendingSend, bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()
	randomID, exists := t.byConfirmedID[id]
	if !exists {
		return PendingSend{}, false
	}
	return *t.byRandomID[randomID], true
}

// transition moves a send from one of the allowed states to next.
func (t *Tracker) transition(randomID int64, next State,
	from ...State) (PendingSend, error) {
	t.mux.Lock()
	defer t.mux.Unlock()
	ps, exists := t.byRandomID[randomID]
	if !exists {
		return PendingSend{}, ErrNotPending
	}
	for _, s := range from {
		if ps.State == s {
			ps.State = next
			return *ps, nil
		}
	}
	return *ps, errors.Errorf("cannot move send %d from %s to %s",
		randomID, ps.State, next)
}

// Acknowledge records that the server accepted the request.
func (t *Tracker) Acknowledge(randomID int64) (PendingSend, error) {
	return t.transition(randomID, Acknowledged, PendingLocal, Acknowledged)
}

// Confirm records the confirmed ID of a send. The send stays tracked until
// Untrack so a message arriving later can still be matched.
func (t *Tracker) Confirm(randomID int64, id ids.MessageID) (PendingSend, error) {
	t.mux.Lock()
	defer t.mux.Unlock()
	ps, exists := t.byRandomID[randomID]
	if !exists {
		return PendingSend{}, ErrNotPending
	}
	if ps.State == Cancelled {
		return *ps, errors.Errorf("send %d was cancelled", randomID)
	}
	ps.State = Confirmed
	ps.ConfirmedID = id
	t.byConfirmedID[id] = randomID
	return *ps, nil
}

// Fail marks an unacknowledged send failed.
func (t *Tracker) Fail(randomID int64) (PendingSend, error) {
	return t.transition(randomID, Failed, PendingLocal)
}

// Retry moves a failed send back to pending.
func (t *Tracker) Retry(tempID ids.MessageID) (PendingSend, error) {
	ps, exists := t.ByTemp(tempID)
	if !exists {
		return PendingSend{}, ErrNotPending
	}
	return t.transition(ps.RandomID, PendingLocal, Failed)
}

// Cancel marks a send cancelled if the server has not acknowledged it.
func (t *Tracker) Cancel(tempID ids.MessageID) (PendingSend, error) {
	ps, exists := t.ByTemp(tempID)
	if !exists {
		return PendingSend{}, ErrNotPending
	}
	ps, err := t.transition(ps.RandomID, Cancelled, PendingLocal, Failed)
	if err != nil && (ps.State == Acknowledged || ps.State == Confirmed) {
		return ps, ErrAcknowledged
	}
	return ps, err
}

// Untrack forgets a send.
func (t *Tracker) Untrack(randomID int64) {
	t.mux.Lock()
	defer t.mux.Unlock()
	ps, exists := t.byRandomID[randomID]
	if !exists {
		return
	}
	delete(t.byRandomID, randomID)
	delete(t.byTempID, ps.TempID)
	if ps.ConfirmedID != 0 {
		delete(t.byConfirmedID, ps.ConfirmedID)
	}
	metrics.PendingSends.Dec()
}

// Len returns the number of tracked sends.
func (t *Tracker) Len() int {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return len(t.byRandomID)
}

// finish removes a confirmed send and returns it. Only one caller wins when
// the confirmation is matched from two paths at once.
func (t *Tracker) finish(randomID int64) (PendingSend, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()
	ps, exists := t.byRandomID[randomID]
	if !exists || ps.State != Confirmed {
		return PendingSend{}, false
	}
	delete(t.byRandomID, randomID)
	delete(t.byTempID, ps.TempID)
	delete(t.byConfirmedID, ps.ConfirmedID)
	metrics.PendingSends.Dec()
	return *ps, true
}
