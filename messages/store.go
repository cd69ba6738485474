////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package messages is the canonical store of message records, keyed by
// global message ID.
package messages

import (
	"strings"
	"sync"

	"github.com/forPelevin/gomoji"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/raw"
)

// ReadState reports the read markers of a conversation. ok is false if no
// dialog is known for the peer.
type ReadState interface {
	ReadMaxIDs(peer ids.PeerID) (inbox, outbox ids.MessageID, ok bool)
}

// SaveOptions tune how Save treats the received messages.
type SaveOptions struct {
	// IsNew is set for messages pushed as new. Without a dialog they are
	// marked unread.
	IsNew bool
	// IsEdited merges into the existing record instead of replacing it.
	IsEdited bool
}

// Store holds every known message.
type Store struct {
	space *ids.Space
	read  ReadState

	messages map[ids.MessageID]Message
	maxSeen  ids.MessageID

	mux sync.RWMutex
}

// NewStore returns an empty Store.
func NewStore(space *ids.Space, read ReadState) *Store {
	return &Store{
		space:    space,
		read:     read,
		messages: make(map[ids.MessageID]Message),
	}
}

// Get returns the message, or an empty tombstone if it is unknown.
func (s *Store) Get(id ids.MessageID) Message {
	if m, exists := s.Lookup(id); exists {
		return m
	}
	return Message{ID: id, Deleted: true, Empty: true}
}

// Lookup returns the message and whether it is known.
func (s *Store) Lookup(id ids.MessageID) (Message, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	m, exists := s.messages[id]
	return m, exists
}

// Len returns the number of records, tombstones included.
func (s *Store) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.messages)
}

// Save converts and stores messages received from the server and returns
// the stored records in the same order.
func (s *Store) Save(raws []raw.Message, opts SaveOptions) []Message {
	out := make([]Message, 0, len(raws))
	for _, r := range raws {
		m := s.convert(r, opts)

		s.mux.Lock()
		existing, exists := s.messages[m.ID]
		if opts.IsEdited && exists && !existing.Deleted {
			m = applyEdit(existing, m)
		}
		s.messages[m.ID] = m
		s.mux.Unlock()

		out = append(out, m)
	}
	return out
}

// convert turns a raw message into a record without touching the store.
func (s *Store) convert(r raw.Message, opts SaveOptions) Message {
	peer := r.ConversationPeer()
	channel := peer.ChannelID()

	m := Message{
		ID:   s.space.ToGlobal(r.ID, channel),
		Peer: peer,
		Date: r.Date,
	}
	if r.Empty {
		m.Deleted = true
		m.Empty = true
		return m
	}

	if r.Post || r.From == 0 {
		m.From = peer
	} else {
		m.From = r.From
	}
	m.Out = r.Out
	m.Post = r.Post
	m.EditDate = r.EditDate
	m.Text = r.Text
	m.Action = r.Action
	if r.ReplyToID > 0 {
		m.ReplyTo = s.space.ToGlobal(r.ReplyToID, channel)
	}

	if r.Media != nil && r.Media.Kind != raw.MediaNone {
		media := *r.Media
		m.Media = &media
		if media.Kind == raw.MediaUnsupported || media.Kind > raw.MediaUnsupported {
			jww.DEBUG.Printf("[SYNC] Storing message %d with unsupported "+
				"media", m.ID)
			m.Media = &raw.Media{Kind: raw.MediaUnsupported}
			m.Text = ""
		}
	}

	if r.Forward != nil {
		m.Forward = s.normalizeForward(*r.Forward)
	}

	m.EmojiOnly = countEmojiOnly(m.Text, m.Media)
	m.Unread = s.isUnread(m, opts.IsNew)

	return m
}

// normalizeForward globalizes the message IDs in a forward header and
// resolves where the original message can be found.
func (s *Store) normalizeForward(f raw.Forward) *Forward {
	out := &Forward{
		FromID:     f.FromID,
		FromName:   f.FromName,
		PostAuthor: f.PostAuthor,
		Date:       f.Date,
	}

	switch {
	case f.SavedFrom != 0 && f.SavedFromID > 0:
		out.SavedFromPeer = f.SavedFrom
		out.SavedFromID = s.space.ToGlobal(f.SavedFromID,
			f.SavedFrom.ChannelID())
	case f.FromID != 0 && f.ChannelPost > 0:
		out.SavedFromPeer = f.FromID
		out.SavedFromID = s.space.ToGlobal(f.ChannelPost, f.FromID.ChannelID())
	}
	return out
}

func (s *Store) isUnread(m Message, isNew bool) bool {
	if s.read == nil {
		return isNew
	}
	inbox, outbox, ok := s.read.ReadMaxIDs(m.Peer)
	if !ok {
		return isNew
	}
	if m.Out {
		return m.ID > outbox
	}
	return m.ID > inbox
}

// countEmojiOnly returns the number of emojis in text when the text holds
// nothing else, and zero otherwise.
func countEmojiOnly(text string, media *raw.Media) int {
	if media != nil || text == "" {
		return 0
	}
	if strings.TrimSpace(gomoji.RemoveEmojis(text)) != "" {
		return 0
	}
	return len(gomoji.CollectAll(text))
}

// Put stores a locally built record, replacing any record with the same ID.
func (s *Store) Put(m Message) {
	s.mux.Lock()
	s.messages[m.ID] = m
	s.mux.Unlock()
}

// Apply applies the patches to a copy of the message and stores the result.
// Returns false if the message is unknown.
func (s *Store) Apply(id ids.MessageID, patches ...Patch) (Message, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	m, exists := s.messages[id]
	if !exists {
		return Message{}, false
	}
	for _, p := range patches {
		p(&m)
	}
	s.messages[id] = m
	return m, true
}

// Tombstone replaces known messages with tombstones and returns the
// tombstones. Unknown IDs are skipped.
func (s *Store) Tombstone(msgIDs []ids.MessageID) []Message {
	s.mux.Lock()
	defer s.mux.Unlock()
	out := make([]Message, 0, len(msgIDs))
	for _, id := range msgIDs {
		m, exists := s.messages[id]
		if !exists {
			continue
		}
		t := tombstone(m)
		s.messages[id] = t
		out = append(out, t)
	}
	return out
}

// Remove physically deletes a temporary record. Confirmed records are only
// ever tombstoned; Remove returns false for them.
func (s *Store) Remove(id ids.MessageID) bool {
	if !id.IsTemp() {
		jww.WARN.Printf("[SYNC] Refusing to remove confirmed message %d", id)
		return false
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	_, exists := s.messages[id]
	delete(s.messages, id)
	return exists
}

// Reply resolves the message that id replies to. Returns false if id is not
// a reply or the target is not known locally.
func (s *Store) Reply(id ids.MessageID) (Message, bool) {
	m, exists := s.Lookup(id)
	if !exists || m.ReplyTo == 0 {
		return Message{}, false
	}
	return s.Lookup(m.ReplyTo)
}

// MaxSeenID returns the highest message ID seen in the default numbering
// space.
func (s *Store) MaxSeenID() ids.MessageID {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.maxSeen
}

// IncrementMaxSeen raises the max seen ID. Returns true if it changed. IDs
// in channel spaces are ignored, their numbering is per channel.
func (s *Store) IncrementMaxSeen(id ids.MessageID) bool {
	if id <= 0 || int64(id) >= ids.Modulus {
		return false
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if id <= s.maxSeen {
		return false
	}
	s.maxSeen = id
	return true
}

// SetMaxSeen sets the max seen ID when restoring from storage.
func (s *Store) SetMaxSeen(id ids.MessageID) {
	s.mux.Lock()
	s.maxSeen = id
	s.mux.Unlock()
}

// Disjoint reports whether no confirmed record carries pending state and no
// temporary record lacks it. Used by tests and debug checks.
func (s *Store) Disjoint() bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	for id, m := range s.messages {
		if id.IsTemp() != m.Pending {
			return false
		}
	}
	return true
}
