////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package history

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/raw"
	"gitlab.com/elixxir/chatsync/storage/versioned"
)

const (
	migrationsPrefix  = "history"
	migrationsKey     = "migrations"
	migrationsVersion = 0
)

// migrations links conversations that were upgraded to a successor. Both
// directions are kept; only the forward map is stored.
type migrations struct {
	forward  map[ids.PeerID]ids.PeerID
	backward map[ids.PeerID]ids.PeerID
	kv       *versioned.KV
	mux      sync.RWMutex
}

func loadMigrations(kv *versioned.KV) (*migrations, error) {
	mig := &migrations{
		forward:  make(map[ids.PeerID]ids.PeerID),
		backward: make(map[ids.PeerID]ids.PeerID),
		kv:       kv.Prefix(migrationsPrefix),
	}

	stored := make(map[string]ids.PeerID)
	if _, err := mig.kv.LoadJSON(migrationsKey, migrationsVersion,
		&stored); err != nil {
		return nil, errors.WithMessage(err, "failed to load migrations")
	}
	for fromStr, to := range stored {
		from, err := strconv.ParseInt(fromStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid migration source %q", fromStr)
		}
		mig.forward[ids.PeerID(from)] = to
		mig.backward[to] = ids.PeerID(from)
	}
	return mig, nil
}

func (mig *migrations) to(from ids.PeerID) (ids.PeerID, bool) {
	mig.mux.RLock()
	defer mig.mux.RUnlock()
	to, ok := mig.forward[from]
	return to, ok
}

func (mig *migrations) from(to ids.PeerID) (ids.PeerID, bool) {
	mig.mux.RLock()
	defer mig.mux.RUnlock()
	from, ok := mig.backward[to]
	return from, ok
}

// set links from to to. Returns false if the link already existed.
func (mig *migrations) set(from, to ids.PeerID) (bool, error) {
	mig.mux.Lock()
	defer mig.mux.Unlock()
	if mig.forward[from] == to {
		return false, nil
	}
	mig.forward[from] = to
	mig.backward[to] = from

	stored := make(map[string]ids.PeerID, len(mig.forward))
	for f, t := range mig.forward {
		stored[strconv.FormatInt(int64(f), 10)] = t
	}
	return true, mig.kv.StoreJSON(migrationsKey, migrationsVersion, stored)
}

// SetMigration records that from was upgraded to to. The link is stored and
// from then on the history of to continues into the history of from.
func (m *Manager) SetMigration(from, to ids.PeerID) error {
	if from == to || from == 0 || to == 0 {
		return errors.Errorf("invalid migration %s -> %s", from, to)
	}
	added, err := m.migrations.set(from, to)
	if err != nil {
		return errors.WithMessagef(err, "failed to store migration %s -> %s",
			from, to)
	}
	if added {
		jww.INFO.Printf("[HISTORY] %s migrated to %s", from, to)
	}
	return nil
}

// MigratedTo returns the successor of a conversation.
func (m *Manager) MigratedTo(from ids.PeerID) (ids.PeerID, bool) {
	return m.migrations.to(from)
}

// MigratedFrom returns the predecessor of a conversation.
func (m *Manager) MigratedFrom(to ids.PeerID) (ids.PeerID, bool) {
	return m.migrations.from(to)
}

// ObserveMigrations records the links announced by migration service
// messages.
func (m *Manager) ObserveMigrations(msgs []messages.Message) {
	for _, msg := range msgs {
		if msg.Action == nil {
			continue
		}
		var err error
		switch msg.Action.Kind {
		case raw.ActionMigrateTo:
			if msg.Action.ChannelID != 0 {
				err = m.SetMigration(msg.Peer, ids.ChannelPeer(msg.Action.ChannelID))
			}
		case raw.ActionMigrateFrom:
			if msg.Action.ChatID != 0 {
				err = m.SetMigration(ids.ChatPeer(msg.Action.ChatID), msg.Peer)
			}
		}
		if err != nil {
			jww.ERROR.Printf("[HISTORY] %+v", err)
		}
	}
}
