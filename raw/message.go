////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package raw holds the server payloads the engine consumes, already parsed
// out of the wire representation. Message IDs here are server IDs, local to
// the numbering space of the conversation they belong to; the messages
// package is responsible for globalizing them.
package raw

import "gitlab.com/elixxir/chatsync/ids"

// MediaKind classifies attached media.
type MediaKind uint8

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaDocument
	MediaWebPage
	// MediaUnsupported is media the engine does not understand or that
	// failed to parse. It is kept so the message still occupies its place in
	// the history.
	MediaUnsupported
)

func (k MediaKind) String() string {
	switch k {
	case MediaNone:
		return "none"
	case MediaPhoto:
		return "photo"
	case MediaDocument:
		return "document"
	case MediaWebPage:
		return "webpage"
	case MediaUnsupported:
		return "unsupported"
	default:
		return "INVALID MEDIA"
	}
}

// Media is the attachment of a message.
type Media struct {
	Kind     MediaKind `json:"kind"`
	ID       int64     `json:"id,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Size     int64     `json:"size,omitempty"`
	FileName string    `json:"fileName,omitempty"`
}

// Forward is the provenance of a forwarded message. At least one of FromID
// and FromName is set for a well-formed forward.
type Forward struct {
	FromID      ids.PeerID `json:"fromId,omitempty"`
	FromName    string     `json:"fromName,omitempty"`
	Date        int64      `json:"date"`
	ChannelPost int64      `json:"channelPost,omitempty"`
	PostAuthor  string     `json:"postAuthor,omitempty"`
	SavedFrom   ids.PeerID `json:"savedFrom,omitempty"`
	SavedFromID int64      `json:"savedFromId,omitempty"`
}

// ActionKind identifies the service action of a service message.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	// ActionMigrateTo is posted in a basic chat that was upgraded to a
	// channel.
	ActionMigrateTo
	// ActionMigrateFrom is the first message of a channel created by
	// upgrading a basic chat.
	ActionMigrateFrom
	ActionOther
)

// Action is the payload of a service message.
type Action struct {
	Kind      ActionKind    `json:"kind"`
	ChannelID ids.ChannelID `json:"channelId,omitempty"`
	ChatID    int64         `json:"chatId,omitempty"`
}

// Message is a message as received from the server.
type Message struct {
	ID int64 `json:"id"`
	// Peer is the conversation the message was posted in from the point of
	// view of the sender: the recipient user for private messages, the chat
	// or channel otherwise.
	Peer      ids.PeerID `json:"peer"`
	From      ids.PeerID `json:"from,omitempty"`
	Out       bool       `json:"out,omitempty"`
	Post      bool       `json:"post,omitempty"`
	Date      int64      `json:"date"`
	EditDate  int64      `json:"editDate,omitempty"`
	Text      string     `json:"text,omitempty"`
	Media     *Media     `json:"media,omitempty"`
	ReplyToID int64      `json:"replyToId,omitempty"`
	Forward   *Forward   `json:"forward,omitempty"`
	Action    *Action    `json:"action,omitempty"`
	// Empty is set for placeholders of messages the server no longer has.
	Empty bool `json:"empty,omitempty"`
}

// Dialog is a conversation summary as received from the server.
type Dialog struct {
	Peer            ids.PeerID `json:"peer"`
	TopMessage      int64      `json:"topMessage"`
	ReadInboxMaxID  int64      `json:"readInboxMaxId"`
	ReadOutboxMaxID int64      `json:"readOutboxMaxId"`
	UnreadCount     int        `json:"unreadCount"`
	UnreadMark      bool       `json:"unreadMark,omitempty"`
	Pinned          bool       `json:"pinned,omitempty"`
	FolderID        int        `json:"folderId,omitempty"`
	MuteUntil       int64      `json:"muteUntil,omitempty"`
}

// HistoryPage is the result of a history request. Count is the server's
// total message count for the conversation, or -1 when it was not reported.
type HistoryPage struct {
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
}

// DialogsPage is one page of the dialog list. Messages holds the top message
// of every dialog.
type DialogsPage struct {
	Dialogs  []Dialog  `json:"dialogs"`
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
}

// SentMessage is the reply to a send request. When the server answers with
// the short form, ID is set and Updates is empty. Otherwise the confirmation
// is folded into Updates as a MessageID and NewMessage pair.
type SentMessage struct {
	ID      int64    `json:"id,omitempty"`
	Date    int64    `json:"date,omitempty"`
	Media   *Media   `json:"media,omitempty"`
	Updates []Update `json:"-"`
}

// ConversationPeer returns the conversation the message belongs to from the
// local user's point of view. Outgoing messages belong to their destination.
// Incoming private messages belong to their sender. Everything else belongs
// to the chat or channel it was posted in.
func (m Message) ConversationPeer() ids.PeerID {
	if !m.Out && m.Peer.IsUser() && m.From != 0 {
		return m.From
	}
	return m.Peer
}

// Channel returns the numbering space the message ID belongs to.
func (m Message) Channel() ids.ChannelID {
	return m.ConversationPeer().ChannelID()
}
