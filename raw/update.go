////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package raw

import (
	"strconv"

	"gitlab.com/elixxir/chatsync/ids"
)

// Kind tags the variants of Update.
type Kind uint8

const (
	KindNewMessage Kind = iota + 1
	KindEditMessage
	KindDeleteMessages
	KindReadHistoryInbox
	KindReadHistoryOutbox
	KindDialogPinned
	KindPinnedDialogsOrder
	KindMessageID
	KindChannelAvailableMessages
	KindNotifySettings
	KindDialogUnreadMark
)

func (k Kind) String() string {
	switch k {
	case KindNewMessage:
		return "newMessage"
	case KindEditMessage:
		return "editMessage"
	case KindDeleteMessages:
		return "deleteMessages"
	case KindReadHistoryInbox:
		return "readHistoryInbox"
	case KindReadHistoryOutbox:
		return "readHistoryOutbox"
	case KindDialogPinned:
		return "dialogPinned"
	case KindPinnedDialogsOrder:
		return "pinnedDialogsOrder"
	case KindMessageID:
		return "messageId"
	case KindChannelAvailableMessages:
		return "channelAvailableMessages"
	case KindNotifySettings:
		return "notifySettings"
	case KindDialogUnreadMark:
		return "dialogUnreadMark"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Update is one server push. The set of implementations is closed; the
// unexported method keeps other packages from adding variants.
type Update interface {
	Kind() Kind
	update()
}

// NewMessage announces a message that was not seen before.
type NewMessage struct {
	Message Message
}

// EditMessage carries the new version of an edited message.
type EditMessage struct {
	Message Message
}

// DeleteMessages removes messages. Channel is zero for the default space.
type DeleteMessages struct {
	Channel ids.ChannelID
	IDs     []int64
}

// ReadHistoryInbox moves the incoming read marker of a conversation.
type ReadHistoryInbox struct {
	Peer        ids.PeerID
	MaxID       int64
	StillUnread int
}

// ReadHistoryOutbox moves the outgoing read marker of a conversation.
type ReadHistoryOutbox struct {
	Peer  ids.PeerID
	MaxID int64
}

// DialogPinned pins or unpins one dialog.
type DialogPinned struct {
	Peer     ids.PeerID
	FolderID int
	Pinned   bool
}

// PinnedDialogsOrder replaces the pinned order of a folder. Order lists the
// most prominent dialog first.
type PinnedDialogsOrder struct {
	FolderID int
	Order    []ids.PeerID
}

// MessageID confirms a send. RandomID is the nonce the client sent with the
// request.
type MessageID struct {
	RandomID int64
	ID       int64
}

// ChannelAvailableMessages reports that channel history before
// AvailableMinID is no longer available.
type ChannelAvailableMessages struct {
	Channel        ids.ChannelID
	AvailableMinID int64
}

// NotifySettings changes the mute state of a conversation.
type NotifySettings struct {
	Peer      ids.PeerID
	MuteUntil int64
}

// DialogUnreadMark sets or clears the manual unread mark of a dialog.
type DialogUnreadMark struct {
	Peer   ids.PeerID
	Unread bool
}

func (NewMessage) Kind() Kind               { return KindNewMessage }
func (EditMessage) Kind() Kind              { return KindEditMessage }
func (DeleteMessages) Kind() Kind           { return KindDeleteMessages }
func (ReadHistoryInbox) Kind() Kind         { return KindReadHistoryInbox }
func (ReadHistoryOutbox) Kind() Kind        { return KindReadHistoryOutbox }
func (DialogPinned) Kind() Kind             { return KindDialogPinned }
func (PinnedDialogsOrder) Kind() Kind       { return KindPinnedDialogsOrder }
func (MessageID) Kind() Kind                { return KindMessageID }
func (ChannelAvailableMessages) Kind() Kind { return KindChannelAvailableMessages }
func (NotifySettings) Kind() Kind           { return KindNotifySettings }
func (DialogUnreadMark) Kind() Kind         { return KindDialogUnreadMark }

func (NewMessage) update()               {}
func (EditMessage) update()              {}
func (DeleteMessages) update()           {}
func (ReadHistoryInbox) update()         {}
func (ReadHistoryOutbox) update()        {}
func (DialogPinned) update()             {}
func (PinnedDialogsOrder) update()       {}
func (MessageID) update()                {}
func (ChannelAvailableMessages) update() {}
func (NotifySettings) update()           {}
func (DialogUnreadMark) update()         {}

// UpdatePeer returns the conversation an update concerns, if it names one
// directly. Deletes and send confirmations return false.
func UpdatePeer(u Update) (ids.PeerID, bool) {
	switch u := u.(type) {
	case NewMessage:
		return u.Message.ConversationPeer(), true
	case EditMessage:
		return u.Message.ConversationPeer(), true
	case ReadHistoryInbox:
		return u.Peer, true
	case ReadHistoryOutbox:
		return u.Peer, true
	case DialogPinned:
		return u.Peer, true
	case NotifySettings:
		return u.Peer, true
	case DialogUnreadMark:
		return u.Peer, true
	case ChannelAvailableMessages:
		return ids.ChannelPeer(u.Channel), true
	default:
		return 0, false
	}
}
