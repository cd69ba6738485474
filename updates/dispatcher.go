////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package updates applies server pushes to the local stores.
package updates

import (
	"context"
	"sync"
	"time"

	"github.com/golang-collections/collections/queue"
	"github.com/golang-collections/collections/set"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/dialogs"
	"gitlab.com/elixxir/chatsync/event"
	"gitlab.com/elixxir/chatsync/history"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/metrics"
	"gitlab.com/elixxir/chatsync/raw"
)

// Reloader fetches the dialogs of individual peers.
type Reloader interface {
	GetPeerDialogs(ctx context.Context, peers []ids.PeerID) (raw.DialogsPage, error)
}

// Confirmer matches send confirmations to pending sends.
type Confirmer interface {
	HandleMessageID(randomID, localID int64) bool
	CheckPending(m messages.Message) bool
}

// Params configures the Dispatcher.
type Params struct {
	// ReloadTimeout bounds a dialog reload.
	ReloadTimeout time.Duration
}

// GetDefaultParams returns the default dispatcher parameters.
func GetDefaultParams() Params {
	return Params{ReloadTimeout: 30 * time.Second}
}

type handler func(u raw.Update)

// Dispatcher applies updates in the order they are received. Message and
// history changes take effect as each update is applied. Dialog moves are
// collected and applied once at the end of each batch.
type Dispatcher struct {
	space    *ids.Space
	store    *messages.Store
	dialogs  *dialogs.Store
	history  *history.Manager
	sends    Confirmer
	events   event.Reporter
	reloader Reloader
	params   Params

	handlers map[raw.Kind]handler

	// batches holds batches waiting to be applied. Only one goroutine
	// drains it at a time, so a batch handed in while another is applied
	// waits its turn instead of running nested.
	batches  *queue.Queue
	draining bool
	// outstanding counts queued batches and running reloads. idle is
	// signalled when it drops to zero.
	outstanding int
	idle        *sync.Cond
	qmux        sync.Mutex

	// reorder holds the peers to reindex at the end of the current batch,
	// in the order they were touched.
	reorder     *set.Set
	reorderList []ids.PeerID

	// deferred holds the updates of peers whose dialog is reloading.
	deferred map[ids.PeerID][]raw.Update
	mux      sync.Mutex
}

// queuedBatch is a batch waiting to be applied. done is closed once it was.
type queuedBatch struct {
	updates []raw.Update
	done    chan struct{}
}

// NewDispatcher builds a Dispatcher. sends may be nil if nothing is sent.
func NewDispatcher(space *ids.Space, store *messages.Store,
	dlgs *dialogs.Store, hm *history.Manager, sends Confirmer,
	events event.Reporter, reloader Reloader, params Params) *Dispatcher {
	d := &Dispatcher{
		space:    space,
		store:    store,
		dialogs:  dlgs,
		history:  hm,
		sends:    sends,
		events:   events,
		reloader: reloader,
		params:   params,
		batches:  queue.New(),
		reorder:  set.New(),
		deferred: make(map[ids.PeerID][]raw.Update),
	}
	d.idle = sync.NewCond(&d.qmux)
	d.handlers = map[raw.Kind]handler{
		raw.KindNewMessage:               d.newMessage,
		raw.KindEditMessage:              d.editMessage,
		raw.KindDeleteMessages:           d.deleteMessages,
		raw.KindReadHistoryInbox:         d.readHistoryInbox,
		raw.KindReadHistoryOutbox:        d.readHistoryOutbox,
		raw.KindDialogPinned:             d.dialogPinned,
		raw.KindPinnedDialogsOrder:       d.pinnedDialogsOrder,
		raw.KindMessageID:                d.messageID,
		raw.KindChannelAvailableMessages: d.channelAvailableMessages,
		raw.KindNotifySettings:           d.notifySettings,
		raw.KindDialogUnreadMark:         d.dialogUnreadMark,
	}
	return d
}

// SetConfirmer sets the send pipeline. Must be called before updates are
// handled.
func (d *Dispatcher) SetConfirmer(c Confirmer) { d.sends = c }

// Handle applies a batch of updates and returns once it was applied. If
// another batch is being applied the batch waits its turn. Handle must not
// be called from a handler or a Confirmer; use Enqueue there.
func (d *Dispatcher) Handle(updates []raw.Update) {
	if done := d.Enqueue(updates); done != nil {
		<-done
	}
}

// Enqueue queues a batch behind the ones already waiting and returns at
// once if another goroutine is draining the queue, otherwise it drains the
// queue itself. The returned channel is closed when the batch was applied,
// it is nil for an empty batch.
func (d *Dispatcher) Enqueue(updates []raw.Update) <-chan struct{} {
	if len(updates) == 0 {
		return nil
	}
	b := &queuedBatch{updates: updates, done: make(chan struct{})}
	d.qmux.Lock()
	d.batches.Enqueue(b)
	d.outstanding++
	if d.draining {
		d.qmux.Unlock()
		return b.done
	}
	d.draining = true
	d.qmux.Unlock()

	d.drain()
	return b.done
}

// drain applies queued batches until the queue is empty.
func (d *Dispatcher) drain() {
	for {
		d.qmux.Lock()
		if d.batches.Len() == 0 {
			d.draining = false
			d.qmux.Unlock()
			return
		}
		b := d.batches.Dequeue().(*queuedBatch)
		d.qmux.Unlock()

		d.apply(b.updates)
		close(b.done)
		d.finished()
	}
}

// started counts a unit of background work for Wait.
func (d *Dispatcher) started() {
	d.qmux.Lock()
	d.outstanding++
	d.qmux.Unlock()
}

// finished marks a batch or reload as done.
func (d *Dispatcher) finished() {
	d.qmux.Lock()
	d.outstanding--
	if d.outstanding == 0 {
		d.idle.Broadcast()
	}
	d.qmux.Unlock()
}

// apply runs the handlers of a batch and then moves the dialogs it touched.
func (d *Dispatcher) apply(batch []raw.Update) {
	for _, u := range batch {
		if d.shouldDefer(u) {
			continue
		}
		h, exists := d.handlers[u.Kind()]
		if !exists {
			jww.WARN.Printf("[SYNC] No handler for update %s", u.Kind())
			continue
		}
		h(u)
		metrics.UpdatesApplied.WithLabelValues(u.Kind().String()).Inc()
	}
	d.flushReorder()
}

// markReorder schedules dialogs to be reindexed at the end of the batch.
func (d *Dispatcher) markReorder(peers ...ids.PeerID) {
	for _, p := range peers {
		if !d.reorder.Has(p) {
			d.reorder.Insert(p)
			d.reorderList = append(d.reorderList, p)
		}
	}
}

func (d *Dispatcher) flushReorder() {
	if d.reorder.Len() == 0 {
		return
	}
	peers := d.reorderList
	d.reorder = set.New()
	d.reorderList = nil

	moved := d.dialogs.Reindex(peers...)
	if len(moved) == 0 {
		return
	}
	d.events.Report(event.Notification{
		Kind:  event.DialogsMultiupdate,
		Peers: moved,
	})
}

// Wait blocks until every queued batch was applied and every running reload
// has finished and its updates were replayed.
func (d *Dispatcher) Wait() {
	d.qmux.Lock()
	for d.outstanding > 0 {
		d.idle.Wait()
	}
	d.qmux.Unlock()
}
