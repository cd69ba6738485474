////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package event delivers state change notifications to UI callbacks.
//
// Notifications are delivered on a single goroutine in the order they were
// reported. The dispatcher reports content changes as soon as they are
// applied and reports DialogsMultiupdate once at the end of each update
// batch, so a callback sees message changes before the reorder they caused.
package event

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/stoppable"
)

const defaultQueueSize = 1000

// Manager is a Reporter that fans notifications out to named callbacks.
type Manager struct {
	eventCh chan Notification
	cbs     sync.Map
}

// NewManager returns a Manager with a queue of the given size. A size of zero
// uses the default.
func NewManager(queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Manager{eventCh: make(chan Notification, queueSize)}
}

// Report queues a notification. If the queue is full the notification is
// dropped and an error is logged.
func (m *Manager) Report(n Notification) {
	select {
	case m.eventCh <- n:
		jww.TRACE.Printf("[EVENT] Reported %s", n)
	default:
		jww.ERROR.Printf("[EVENT] Queue full, unable to report %s", n)
	}
}

// RegisterCallback registers a callback under a unique name.
func (m *Manager) RegisterCallback(name string, cb Callback) error {
	if _, exists := m.cbs.LoadOrStore(name, cb); exists {
		return errors.Errorf("callback %q already registered", name)
	}
	return nil
}

// UnregisterCallback removes the named callback.
func (m *Manager) UnregisterCallback(name string) {
	m.cbs.Delete(name)
}

// EventService starts the delivery goroutine.
func (m *Manager) EventService() stoppable.Stoppable {
	stop := stoppable.NewSingle("EventReporting")
	go m.deliver(stop)
	return stop
}

func (m *Manager) deliver(stop *stoppable.Single) {
	jww.DEBUG.Print("[EVENT] Delivery started")
	for {
		select {
		case <-stop.Quit():
			jww.DEBUG.Print("[EVENT] Delivery stopping")
			stop.ToStopped()
			return
		case n := <-m.eventCh:
			// Callbacks run inline. A slow callback backs up the queue and
			// is reported through the queue full error.
			m.cbs.Range(func(_, cb interface{}) bool {
				cb.(Callback)(n)
				return true
			})
		}
	}
}

// Recorder is a Reporter that keeps every notification in memory. It is used
// by the replay tool and in tests to observe notifications synchronously.
type Recorder struct {
	mux    sync.Mutex
	events []Notification
}

// Report appends the notification.
func (r *Recorder) Report(n Notification) {
	r.mux.Lock()
	r.events = append(r.events, n)
	r.mux.Unlock()
}

// Events returns a copy of everything reported so far.
func (r *Recorder) Events() []Notification {
	r.mux.Lock()
	defer r.mux.Unlock()
	return append([]Notification(nil), r.events...)
}

// OfKind returns the notifications of one kind.
func (r *Recorder) OfKind(k Kind) []Notification {
	var out []Notification
	for _, n := range r.Events() {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// Reset clears the recorded notifications.
func (r *Recorder) Reset() {
	r.mux.Lock()
	r.events = nil
	r.mux.Unlock()
}

// Tee reports every notification to all of the given reporters.
type Tee []Reporter

// Report forwards n to every reporter.
func (t Tee) Report(n Notification) {
	for _, r := range t {
		r.Report(n)
	}
}
