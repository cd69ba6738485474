////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package session owns the local mirror of the server's conversation state
// and exposes the commands the UI layer issues against it.
package session

import (
	"sync"
	"time"

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
	"gitlab.com/elixxir/chatsync/stoppable"
	"gitlab.com/elixxir/chatsync/storage/versioned"
	"gitlab.com/elixxir/chatsync/updates"
	"gitlab.com/elixxir/crypto/fastRNG"
	"gitlab.com/xx_network/crypto/csprng"
)

const (
	sessionPrefix  = "session"
	maxSeenKey     = "maxSeenID"
	maxSeenVersion = 0
)

// Session ties the stores, the send pipeline and the update dispatcher to
// one network client. All state is owned by the Session; nothing is shared
// between sessions.
type Session struct {
	params Params
	kv     *versioned.KV
	client network.Client
	self   ids.PeerID

	space      *ids.Space
	store      *messages.Store
	dialogs    *dialogs.Store
	history    *history.Manager
	sends      *sending.Pipeline
	dispatcher *updates.Dispatcher

	events   *event.Manager
	reporter event.Reporter
	services *stoppable.Multi

	// dialogsComplete marks folders whose whole list has been fetched.
	dialogsComplete map[int]bool
	// reading marks peers with a read request in flight.
	reading map[ids.PeerID]bool
	mux     sync.Mutex

	wg sync.WaitGroup
}

// New loads or creates the session stored in kv. self is the local user.
func New(kv *versioned.KV, client network.Client, self ids.PeerID,
	params Params) (*Session, error) {
	return newSession(kv, client, self, params, nil)
}

// newSession builds a Session. Notifications also go to extra if it is set.
func newSession(kv *versioned.KV, client network.Client, self ids.PeerID,
	params Params, extra event.Reporter) (*Session, error) {
	space, err := ids.NewSpace(kv)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load message ID space")
	}
	dlgs, err := dialogs.NewStore(kv)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load dialogs")
	}
	store := messages.NewStore(space, dlgs)
	hm, err := history.NewManager(client, store, kv, params.History)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load history")
	}

	events := event.NewManager(params.EventQueueSize)
	var reporter event.Reporter = events
	if extra != nil {
		reporter = event.Tee{events, extra}
	}

	s := &Session{
		params:          params,
		kv:              kv.Prefix(sessionPrefix),
		client:          client,
		self:            self,
		space:           space,
		store:           store,
		dialogs:         dlgs,
		history:         hm,
		events:          events,
		reporter:        reporter,
		services:        stoppable.NewMulti("Session"),
		dialogsComplete: make(map[int]bool),
		reading:         make(map[ids.PeerID]bool),
	}

	s.dispatcher = updates.NewDispatcher(space, store, dlgs, hm, nil,
		reporter, client, params.Updates)
	rng := fastRNG.NewStreamGenerator(100, 5, csprng.NewSystemRNG)
	s.sends = sending.NewPipeline(client, space, store, hm, reporter, rng,
		self, s.dispatcher.Handle, params.Send)
	s.dispatcher.SetConfirmer(s.sends)

	if err = s.loadState(); err != nil {
		return nil, err
	}
	s.services.Add(events.EventService())

	jww.INFO.Printf("[SYNC] Session for %s loaded, %d channel slots known",
		self, space.Slots())
	return s, nil
}

func (s *Session) loadState() error {
	var maxSeen ids.MessageID
	found, err := s.kv.LoadJSON(maxSeenKey, maxSeenVersion, &maxSeen)
	if err != nil {
		return errors.WithMessage(err, "failed to load max seen ID")
	}
	if found {
		s.store.SetMaxSeen(maxSeen)
	}
	return nil
}

// Save persists the session state that is not saved as it changes.
func (s *Session) Save() error {
	err := s.kv.StoreJSON(maxSeenKey, maxSeenVersion, s.store.MaxSeenID())
	return errors.WithMessage(err, "failed to store max seen ID")
}

// Close waits for outstanding work, saves the session and stops event
// delivery.
func (s *Session) Close() error {
	s.Wait()
	err := s.Save()
	if stopErr := s.services.Close(); stopErr != nil {
		jww.ERROR.Printf("[SYNC] Failed to stop session services: %+v", stopErr)
	}
	if !stoppable.WaitForStopped(s.services, 5*time.Second) {
		jww.WARN.Printf("[SYNC] Session services did not stop in time")
	}
	return err
}

// Wait blocks until every background send, reload and deferred edit has
// finished.
func (s *Session) Wait() {
	s.sends.Wait()
	s.dispatcher.Wait()
	s.wg.Wait()
	s.sends.Wait()
}

// HandleUpdates applies a batch of server updates.
func (s *Session) HandleUpdates(batch []raw.Update) {
	s.dispatcher.Handle(batch)
}

// RegisterCallback registers a named notification callback.
func (s *Session) RegisterCallback(name string, cb event.Callback) error {
	return s.events.RegisterCallback(name, cb)
}

// UnregisterCallback removes a notification callback.
func (s *Session) UnregisterCallback(name string) {
	s.events.UnregisterCallback(name)
}

// Self returns the local user.
func (s *Session) Self() ids.PeerID { return s.self }

// Message returns a message, or an empty tombstone if it is unknown.
func (s *Session) Message(id ids.MessageID) messages.Message {
	return s.store.Get(id)
}

// Reply returns the message id replies to, if it is known.
func (s *Session) Reply(id ids.MessageID) (messages.Message, bool) {
	return s.store.Reply(id)
}

// Dialog returns the dialog of a peer.
func (s *Session) Dialog(peer ids.PeerID) (dialogs.Dialog, bool) {
	return s.dialogs.Get(peer)
}

// FolderUnread returns the unread summary of a folder or filter.
func (s *Session) FolderUnread(folder int) dialogs.FolderUnread {
	return s.dialogs.FolderUnread(folder)
}

// SetFilter adds or replaces a custom dialog filter.
func (s *Session) SetFilter(f dialogs.Filter) error {
	return s.dialogs.SetFilter(f)
}

// Pending returns the state of the send behind a temporary ID.
func (s *Session) Pending(tempID ids.MessageID) (sending.PendingSend, bool) {
	return s.sends.Tracker().ByTemp(tempID)
}

// MaxSeenID returns the highest message ID seen in the default space.
func (s *Session) MaxSeenID() ids.MessageID { return s.store.MaxSeenID() }

// MessageID returns the ID a server message ID of peer has locally.
func (s *Session) MessageID(peer ids.PeerID, serverID int64) ids.MessageID {
	return s.space.ToGlobal(serverID, peer.ChannelID())
}
