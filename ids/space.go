////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package ids maps per-channel message numbering into one ordered int64 space.
//
// Messages of users and basic chats share the default space and keep their
// server IDs. Every channel is given a slot on first sight and its messages
// are numbered slot*Modulus + localID, so IDs of different conversations can
// be compared and never collide. Negative IDs are temporary and belong to
// messages that are still being sent.
package ids

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/storage/versioned"
)

// Modulus is the size of one channel's numbering space.
const Modulus int64 = 1 << 32

const (
	slotTableKey     = "slotTable"
	slotTableVersion = 0
	spacePrefix      = "ids"
)

// ErrUnknownSlot is returned by FromGlobal when an ID falls in a slot that was
// never allocated. The conversation owning it must be reloaded.
var ErrUnknownSlot = errors.New("message ID belongs to an unknown channel slot")

// MessageID is a global message identifier.
type MessageID int64

// IsTemp returns true for IDs of messages not yet confirmed by the server.
func (id MessageID) IsTemp() bool { return id < 0 }

func (id MessageID) String() string { return strconv.FormatInt(int64(id), 10) }

// ServerID returns the local part of a confirmed ID, the number the server
// knows the message by.
func ServerID(id MessageID) int64 {
	if id <= 0 {
		return int64(id)
	}
	return int64(id) % Modulus
}

// IsTemp returns true for IDs of messages not yet confirmed by the server.
func IsTemp(id MessageID) bool { return id.IsTemp() }

// Space owns the channel slot table and the temporary ID counter.
type Space struct {
	bySlot    map[int64]ChannelID
	byChannel map[ChannelID]int64
	lastSlot  int64
	lastTemp  int64

	kv  *versioned.KV
	mux sync.RWMutex
}

// slotTable is the stored form of the slot allocation table.
type slotTable struct {
	LastSlot int64               `json:"lastSlot"`
	Slots    map[string]ChannelID `json:"slots"`
}

// NewSpace loads the slot table from storage, or starts an empty one if none
// is stored.
func NewSpace(kv *versioned.KV) (*Space, error) {
	s := &Space{
		bySlot:    make(map[int64]ChannelID),
		byChannel: make(map[ChannelID]int64),
		kv:        kv.Prefix(spacePrefix),
	}

	var st slotTable
	found, err := s.kv.LoadJSON(slotTableKey, slotTableVersion, &st)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load slot table")
	}
	if !found {
		jww.DEBUG.Printf("[IDS] No slot table stored, starting empty")
		return s, nil
	}

	for slotStr, channel := range st.Slots {
		slot, err := strconv.ParseInt(slotStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid slot %q in table", slotStr)
		}
		s.bySlot[slot] = channel
		s.byChannel[channel] = slot
	}
	s.lastSlot = st.LastSlot
	jww.DEBUG.Printf("[IDS] Loaded %d channel slots", len(s.bySlot))

	return s, nil
}

// ToGlobal converts a server ID within a channel into a global ID. IDs in
// the default space and non-positive IDs are returned unchanged.
func (s *Space) ToGlobal(localID int64, channel ChannelID) MessageID {
	if channel == 0 || localID <= 0 {
		return MessageID(localID)
	}

	s.mux.RLock()
	slot, exists := s.byChannel[channel]
	s.mux.RUnlock()
	if exists {
		return MessageID(slot*Modulus + localID)
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	if slot, exists = s.byChannel[channel]; !exists {
		s.lastSlot++
		slot = s.lastSlot
		s.byChannel[channel] = slot
		s.bySlot[slot] = channel
		jww.DEBUG.Printf("[IDS] Allocated slot %d to channel %d", slot, channel)
		if err := s.save(); err != nil {
			jww.ERROR.Printf("[IDS] Failed to save slot table: %+v", err)
		}
	}

	return MessageID(slot*Modulus + localID)
}

// FromGlobal splits a global ID into its server ID and channel. Returns
// ErrUnknownSlot if the ID belongs to a slot this Space never allocated.
func (s *Space) FromGlobal(id MessageID) (int64, ChannelID, error) {
	if int64(id) < Modulus {
		return int64(id), 0, nil
	}

	localID := int64(id) % Modulus
	slot := int64(id) / Modulus

	s.mux.RLock()
	channel, exists := s.bySlot[slot]
	s.mux.RUnlock()
	if !exists {
		return localID, 0, errors.Wrapf(ErrUnknownSlot, "id %d slot %d",
			id, slot)
	}
	return localID, channel, nil
}

// SplitByChannel groups global IDs by channel, converting them to server IDs.
// IDs with an unknown slot are logged and skipped.
func (s *Space) SplitByChannel(msgIDs []MessageID) map[ChannelID][]int64 {
	out := make(map[ChannelID][]int64)
	for _, id := range msgIDs {
		localID, channel, err := s.FromGlobal(id)
		if err != nil {
			jww.WARN.Printf("[IDS] Skipping message %d: %+v", id, err)
			continue
		}
		out[channel] = append(out[channel], localID)
	}
	return out
}

// Slots returns the number of allocated channel slots.
func (s *Space) Slots() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.bySlot)
}

// NewTempID returns a new temporary ID. Temporary IDs decrease and are never
// reused within the life of the Space.
func (s *Space) NewTempID() MessageID {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.lastTemp--
	return MessageID(s.lastTemp)
}

// save writes the slot table. The lock must be held.
func (s *Space) save() error {
	st := slotTable{
		LastSlot: s.lastSlot,
		Slots:    make(map[string]ChannelID, len(s.bySlot)),
	}
	for slot, channel := range s.bySlot {
		st.Slots[strconv.FormatInt(slot, 10)] = channel
	}
	return s.kv.StoreJSON(slotTableKey, slotTableVersion, st)
}
