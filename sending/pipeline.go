////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package sending shows outgoing messages before the server confirms them
// and swaps the placeholders for the confirmed messages once it does.
package sending

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/event"
	"gitlab.com/elixxir/chatsync/history"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/metrics"
	"gitlab.com/elixxir/chatsync/network"
	"gitlab.com/elixxir/chatsync/raw"
	"gitlab.com/elixxir/crypto/fastRNG"
	"gitlab.com/xx_network/primitives/netTime"
)

// Sender is the part of the network client used to send.
type Sender interface {
	SendMessage(ctx context.Context, req network.SendRequest) (raw.SentMessage, error)
	SendMedia(ctx context.Context, req network.SendRequest) (raw.SentMessage, error)
}

// UpdateSink receives the updates a send produced. They are applied like
// pushed updates, which is where the confirmation is matched.
type UpdateSink func(updates []raw.Update)

// SentCallback is run with the confirmed message once a send is finalized.
type SentCallback func(confirmed messages.Message)

// Params configures the pipeline.
type Params struct {
	// SendTimeout bounds each send request. A timed out send fails like a
	// rejected one.
	SendTimeout time.Duration
}

// GetDefaultParams returns the default send parameters.
func GetDefaultParams() Params {
	return Params{SendTimeout: 30 * time.Second}
}

// SendOptions are the optional parts of a send.
type SendOptions struct {
	ReplyTo ids.MessageID
}

// Pipeline creates placeholder messages, sends them and reconciles them with
// the server's confirmation.
type Pipeline struct {
	sender  Sender
	space   *ids.Space
	store   *messages.Store
	history *history.Manager
	events  event.Reporter
	rng     *fastRNG.StreamGenerator
	params  Params
	self    ids.PeerID
	sink    UpdateSink

	tracker *Tracker
	uploads *uploads

	afterSent map[ids.MessageID]map[string]SentCallback
	cancels   map[int64]context.CancelFunc
	mux       sync.Mutex

	wg sync.WaitGroup
}

// NewPipeline builds a Pipeline. self is the local user and sink receives
// the updates of successful sends.
func NewPipeline(sender Sender, space *ids.Space, store *messages.Store,
	hm *history.Manager, events event.Reporter, rng *fastRNG.StreamGenerator,
	self ids.PeerID, sink UpdateSink, params Params) *Pipeline {
	return &Pipeline{
		sender:    sender,
		space:     space,
		store:     store,
		history:   hm,
		events:    events,
		rng:       rng,
		params:    params,
		self:      self,
		sink:      sink,
		tracker:   NewTracker(),
		uploads:   newUploads(),
		afterSent: make(map[ids.MessageID]map[string]SentCallback),
		cancels:   make(map[int64]context.CancelFunc),
	}
}

// Tracker returns the pending sends.
func (p *Pipeline) Tracker() *Tracker { return p.tracker }

// SendText shows a text message in the conversation at once and sends it in
// the background. The returned temporary ID identifies the placeholder
// until the server confirms it.
func (p *Pipeline) SendText(peer ids.PeerID, text string,
	opts SendOptions) (ids.MessageID, error) {
	if strings.TrimSpace(text) == "" {
		return 0, network.ErrMessageEmpty
	}
	return p.send(peer, text, nil, opts)
}

// SendFile is SendText with an attachment. Uploads to the same peer go out
// one at a time in the order they were issued.
func (p *Pipeline) SendFile(peer ids.PeerID, file network.File,
	caption string, opts SendOptions) (ids.MessageID, error) {
	return p.send(peer, caption, &file, opts)
}

func (p *Pipeline) send(peer ids.PeerID, text string, file *network.File,
	opts SendOptions) (ids.MessageID, error) {
	tempID := p.space.NewTempID()

	var ps PendingSend
	for {
		randomID, err := p.newRandomID()
		if err != nil {
			return 0, err
		}
		ps = PendingSend{
			RandomID: randomID,
			Peer:     peer,
			TempID:   tempID,
			Text:     text,
			ReplyTo:  opts.ReplyTo,
			File:     file,
		}
		if err = p.tracker.Track(ps); err == nil {
			break
		}
	}
	ps.State = PendingLocal

	p.store.Put(p.placeholder(ps))
	p.history.Get(peer).AddPending(tempID)
	p.events.Report(event.Notification{
		Kind: event.HistoryAppend,
		Peer: peer,
		IDs:  []ids.MessageID{tempID},
	})
	jww.DEBUG.Printf("[SEND] Queued message %d to %s (random ID %d)",
		tempID, peer, ps.RandomID)

	p.dispatch(ps)
	return tempID, nil
}

// placeholder synthesizes the local record shown while a send is pending.
func (p *Pipeline) placeholder(ps PendingSend) messages.Message {
	m := messages.Message{
		ID:       ps.TempID,
		Peer:     ps.Peer,
		From:     p.self,
		Date:     netTime.Now().Unix(),
		ReplyTo:  ps.ReplyTo,
		Out:      true,
		Unread:   true,
		Pending:  true,
		RandomID: ps.RandomID,
	}
	if ps.File != nil {
		kind := raw.MediaDocument
		if strings.HasPrefix(ps.File.MimeType, "image/") {
			kind = raw.MediaPhoto
		}
		m.Media = &raw.Media{
			Kind:     kind,
			MimeType: ps.File.MimeType,
			Size:     int64(len(ps.File.Data)),
			FileName: ps.File.Name,
		}
	}
	messages.SetText(ps.Text, 0)(&m)
	return m
}

// dispatch issues the request in the background. Text goes out at once;
// files wait behind earlier uploads to the same peer. The send timeout
// starts when the request is issued, not while it waits in the queue.
func (p *Pipeline) dispatch(ps PendingSend) {
	ctx, cancel := context.WithCancel(context.Background())
	p.mux.Lock()
	p.cancels[ps.RandomID] = cancel
	p.mux.Unlock()

	p.wg.Add(1)
	job := func() {
		defer p.wg.Done()
		defer p.clearCancel(ps.RandomID)

		if cur, ok := p.tracker.Get(ps.RandomID); !ok || cur.State != PendingLocal {
			return
		}

		req := network.SendRequest{
			Peer:     ps.Peer,
			Text:     ps.Text,
			RandomID: ps.RandomID,
			ReplyTo:  p.serverReplyTo(ps.ReplyTo),
			File:     ps.File,
		}
		ctx, stop := context.WithTimeout(ctx, p.params.SendTimeout)
		defer stop()

		var res raw.SentMessage
		var err error
		if ps.File != nil {
			res, err = p.sender.SendMedia(ctx, req)
		} else {
			res, err = p.sender.SendMessage(ctx, req)
		}
		p.handleResult(ps, req, res, err)
	}

	if ps.File == nil {
		go job()
		return
	}
	p.uploads.enqueue(ps.Peer, job)
}

func (p *Pipeline) clearCancel(randomID int64) {
	p.mux.Lock()
	cancel, exists := p.cancels[randomID]
	delete(p.cancels, randomID)
	p.mux.Unlock()
	if exists {
		cancel()
	}
}

func (p *Pipeline) serverReplyTo(id ids.MessageID) int64 {
	if id == 0 || id.IsTemp() {
		return 0
	}
	local, _, err := p.space.FromGlobal(id)
	if err != nil {
		jww.WARN.Printf("[SEND] Dropping reply to %d: %+v", id, err)
		return 0
	}
	return local
}

func (p *Pipeline) handleResult(ps PendingSend, req network.SendRequest,
	res raw.SentMessage, err error) {
	if err != nil {
		if cur, ok := p.tracker.Get(ps.RandomID); !ok || cur.State == Cancelled {
			jww.DEBUG.Printf("[SEND] Cancelled send %d ended with: %+v",
				ps.TempID, err)
			return
		}
		p.fail(ps, err)
		return
	}

	if _, err = p.tracker.Acknowledge(ps.RandomID); err != nil {
		jww.WARN.Printf("[SEND] Send %d completed after it was cancelled, "+
			"it will show up as a regular message: %+v", ps.TempID, err)
	} else {
		metrics.Sends.WithLabelValues("acknowledged").Inc()
	}

	updates := res.Updates
	if len(updates) == 0 && res.ID != 0 {
		// Short reply: fold it into the same pair of updates the long
		// reply carries so both are matched in one place.
		media := res.Media
		if media == nil && req.File != nil {
			media = &raw.Media{Kind: raw.MediaDocument,
				MimeType: req.File.MimeType, FileName: req.File.Name,
				Size: int64(len(req.File.Data))}
		}
		updates = []raw.Update{
			raw.MessageID{RandomID: ps.RandomID, ID: res.ID},
			raw.NewMessage{Message: raw.Message{
				ID:        res.ID,
				Peer:      ps.Peer,
				From:      p.self,
				Out:       true,
				Date:      res.Date,
				Text:      ps.Text,
				Media:     media,
				ReplyToID: req.ReplyTo,
			}},
		}
	}
	if len(updates) > 0 && p.sink != nil {
		p.sink(updates)
	}
}

// fail marks the placeholder failed. It stays pending until retried or
// cancelled.
func (p *Pipeline) fail(ps PendingSend, err error) {
	if _, tErr := p.tracker.Fail(ps.RandomID); tErr != nil {
		jww.DEBUG.Printf("[SEND] Not failing send %d: %+v", ps.TempID, tErr)
		return
	}
	jww.ERROR.Printf("[SEND] Failed to send message %d to %s: %+v",
		ps.TempID, ps.Peer, err)
	metrics.Sends.WithLabelValues("failed").Inc()
	p.store.Apply(ps.TempID, messages.SetError(true))
	p.events.Report(event.Notification{
		Kind: event.MessagesPending,
		Peer: ps.Peer,
		IDs:  []ids.MessageID{ps.TempID},
	})
}

// HandleMessageID matches a confirmation to its send. localID is the server
// ID in the send's numbering space. If the confirmed message is already
// stored the send is finalized at once, otherwise it is finalized when the
// message arrives. Returns false if no send uses randomID.
func (p *Pipeline) HandleMessageID(randomID, localID int64) bool {
	ps, exists := p.tracker.Get(randomID)
	if !exists {
		return false
	}
	id := p.space.ToGlobal(localID, ps.Peer.ChannelID())
	ps, err := p.tracker.Confirm(randomID, id)
	if err != nil {
		jww.WARN.Printf("[SEND] Ignoring confirmation %d of %d: %+v",
			id, ps.TempID, err)
		return false
	}
	jww.DEBUG.Printf("[SEND] Send %d confirmed as %d", ps.TempID, id)

	if m, known := p.store.Lookup(id); known && !m.Empty {
		p.finalize(ps, m)
	}
	return true
}

// CheckPending finalizes the send confirmed as m.ID, if there is one.
// Returns true if a placeholder was replaced by m.
func (p *Pipeline) CheckPending(m messages.Message) bool {
	ps, exists := p.tracker.ByConfirmed(m.ID)
	if !exists {
		return false
	}
	return p.finalize(ps, m)
}

// finalize swaps the placeholder for the confirmed message.
func (p *Pipeline) finalize(ps PendingSend, confirmed messages.Message) bool {
	ps, ok := p.tracker.finish(ps.RandomID)
	if !ok {
		return false
	}

	p.history.Get(ps.Peer).Finalize(ps.TempID, ps.ConfirmedID)
	p.store.Remove(ps.TempID)

	p.mux.Lock()
	callbacks := p.afterSent[ps.TempID]
	delete(p.afterSent, ps.TempID)
	p.mux.Unlock()
	for name, cb := range callbacks {
		jww.TRACE.Printf("[SEND] Running %q for %d -> %d",
			name, ps.TempID, ps.ConfirmedID)
		cb(confirmed)
	}

	metrics.Sends.WithLabelValues("confirmed").Inc()
	p.events.Report(event.Notification{
		Kind:   event.MessageSent,
		Peer:   ps.Peer,
		TempID: ps.TempID,
		ID:     ps.ConfirmedID,
	})
	jww.INFO.Printf("[SEND] Message %d to %s finalized as %d",
		ps.TempID, ps.Peer, ps.ConfirmedID)
	return true
}

// AfterSent registers a callback run with the confirmed message once the
// send with the temporary ID is finalized. A second registration under the
// same name replaces the first.
func (p *Pipeline) AfterSent(tempID ids.MessageID, name string,
	cb SentCallback) error {
	if _, exists := p.tracker.ByTemp(tempID); !exists {
		return errors.WithMessagef(ErrNotPending,
			"cannot register %q for %d", name, tempID)
	}
	p.mux.Lock()
	defer p.mux.Unlock()
	callbacks, exists := p.afterSent[tempID]
	if !exists {
		callbacks = make(map[string]SentCallback)
		p.afterSent[tempID] = callbacks
	}
	callbacks[name] = cb
	return nil
}

// Retry sends a failed message again with the same IDs.
func (p *Pipeline) Retry(tempID ids.MessageID) error {
	ps, err := p.tracker.Retry(tempID)
	if err != nil {
		return errors.WithMessagef(err, "cannot retry %d", tempID)
	}
	p.store.Apply(tempID, messages.SetError(false))
	p.events.Report(event.Notification{
		Kind: event.MessagesPending,
		Peer: ps.Peer,
		IDs:  []ids.MessageID{tempID},
	})
	jww.INFO.Printf("[SEND] Retrying message %d to %s", tempID, ps.Peer)
	metrics.Sends.WithLabelValues("retried").Inc()
	p.dispatch(ps)
	return nil
}

// Cancel withdraws a send the server has not acknowledged. The placeholder
// is removed and a delete is reported. Returns ErrAcknowledged once the
// server accepted the send.
func (p *Pipeline) Cancel(tempID ids.MessageID) error {
	ps, err := p.tracker.Cancel(tempID)
	if err != nil {
		return err
	}
	p.clearCancel(ps.RandomID)
	p.tracker.Untrack(ps.RandomID)

	p.mux.Lock()
	delete(p.afterSent, tempID)
	p.mux.Unlock()

	p.history.Get(ps.Peer).RemovePending(tempID)
	p.store.Remove(tempID)
	metrics.Sends.WithLabelValues("cancelled").Inc()
	p.events.Report(event.Notification{
		Kind: event.HistoryDelete,
		Peer: ps.Peer,
		IDs:  []ids.MessageID{tempID},
	})
	jww.INFO.Printf("[SEND] Cancelled message %d to %s", tempID, ps.Peer)
	return nil
}

// Wait blocks until every issued request has returned.
func (p *Pipeline) Wait() { p.wg.Wait() }

// newRandomID draws a non-zero nonce.
func (p *Pipeline) newRandomID() (int64, error) {
	stream := p.rng.GetStream()
	defer stream.Close()
	b := make([]byte, 8)
	for {
		if _, err := stream.Read(b); err != nil {
			return 0, errors.WithMessage(err, "failed to generate random ID")
		}
		if id := int64(binary.BigEndian.Uint64(b)); id != 0 {
			return id, nil
		}
	}
}
