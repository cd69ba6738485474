////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package messages

import (
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/raw"
)

// Message is the local record of a message.
type Message struct {
	ID       ids.MessageID `json:"id"`
	Peer     ids.PeerID    `json:"peer"`
	From     ids.PeerID    `json:"from"`
	Date     int64         `json:"date"`
	EditDate int64         `json:"editDate,omitempty"`
	Text     string        `json:"text,omitempty"`
	Media    *raw.Media    `json:"media,omitempty"`
	Action   *raw.Action   `json:"action,omitempty"`
	Forward  *Forward      `json:"forward,omitempty"`

	// ReplyTo is the ID of the message this one replies to. The target may
	// not be known locally; resolve it with Store.Reply.
	ReplyTo ids.MessageID `json:"replyTo,omitempty"`

	Out    bool `json:"out,omitempty"`
	Post   bool `json:"post,omitempty"`
	Unread bool `json:"unread,omitempty"`

	// Deleted marks a tombstone. The content is cleared but the record is
	// kept so replies to it still resolve.
	Deleted bool `json:"deleted,omitempty"`
	// Empty marks a record that was never received.
	Empty bool `json:"empty,omitempty"`

	// Pending is set while the message has a temporary ID. RandomID is the
	// nonce the send was issued with and Error is set when the send failed.
	Pending  bool  `json:"pending,omitempty"`
	RandomID int64 `json:"randomId,omitempty"`
	Error    bool  `json:"error,omitempty"`

	// EmojiOnly is the number of emojis in a message made of nothing else.
	EmojiOnly int `json:"emojiOnly,omitempty"`
}

// Forward is the normalized provenance of a forwarded message.
type Forward struct {
	FromID     ids.PeerID `json:"fromId,omitempty"`
	FromName   string     `json:"fromName,omitempty"`
	PostAuthor string     `json:"postAuthor,omitempty"`
	Date       int64      `json:"date"`

	// SavedFromPeer and SavedFromID locate the original message when it is
	// known, either from the saved-from fields or from the channel post.
	SavedFromPeer ids.PeerID    `json:"savedFromPeer,omitempty"`
	SavedFromID   ids.MessageID `json:"savedFromId,omitempty"`
}

// Patch changes a copy of a message record.
type Patch func(m *Message)

// MarkRead clears the unread flag.
func MarkRead(m *Message) { m.Unread = false }

// MarkUnread sets the unread flag.
func MarkUnread(m *Message) { m.Unread = true }

// SetError sets the failed send flag.
func SetError(failed bool) Patch {
	return func(m *Message) { m.Error = failed }
}

// SetText replaces the text of a message, as done by a local edit.
func SetText(text string, editDate int64) Patch {
	return func(m *Message) {
		m.Text = text
		m.EditDate = editDate
		m.EmojiOnly = countEmojiOnly(text, m.Media)
	}
}

// applyEdit merges an edited version into the existing record. Content
// fields come from the edit; local state (unread, pending, send error) is
// kept from the existing record.
func applyEdit(existing, edited Message) Message {
	out := existing
	out.Text = edited.Text
	out.Media = edited.Media
	out.EditDate = edited.EditDate
	out.ReplyTo = edited.ReplyTo
	out.Forward = edited.Forward
	out.EmojiOnly = edited.EmojiOnly
	out.Deleted = false
	out.Empty = false
	return out
}

// tombstone clears the content of a message and marks it deleted.
func tombstone(m Message) Message {
	return Message{
		ID:      m.ID,
		Peer:    m.Peer,
		From:    m.From,
		Date:    m.Date,
		Out:     m.Out,
		Deleted: true,
	}
}
