////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package event

import (
	"fmt"

	"gitlab.com/elixxir/chatsync/ids"
)

// Kind identifies a notification.
type Kind uint8

const (
	// HistoryAppend is reported when a message is added at the bottom of a
	// conversation. Sends report it before the server confirms them.
	HistoryAppend Kind = iota + 1
	// HistoryUpdate is reported when messages of a conversation change
	// without moving.
	HistoryUpdate
	// HistoryDelete carries the IDs removed from a conversation.
	HistoryDelete
	// MessageSent carries the temporary ID of a send and the confirmed ID
	// that replaced it.
	MessageSent
	MessageEdit
	// DialogUnread is reported when the unread counters of a dialog change.
	DialogUnread
	// DialogsMultiupdate is reported once per update batch with every dialog
	// whose position in the list changed.
	DialogsMultiupdate
	DialogDrop
	DialogNotifySettings
	// MessagesPending is reported when a send fails or is retried so the UI
	// can show or hide the retry affordance.
	MessagesPending
)

func (k Kind) String() string {
	switch k {
	case HistoryAppend:
		return "history_append"
	case HistoryUpdate:
		return "history_update"
	case HistoryDelete:
		return "history_delete"
	case MessageSent:
		return "message_sent"
	case MessageEdit:
		return "message_edit"
	case DialogUnread:
		return "dialog_unread"
	case DialogsMultiupdate:
		return "dialogs_multiupdate"
	case DialogDrop:
		return "dialog_drop"
	case DialogNotifySettings:
		return "dialog_notify_settings"
	case MessagesPending:
		return "messages_pending"
	default:
		return fmt.Sprintf("INVALID KIND %d", uint8(k))
	}
}

// Notification describes one change of local state. Only the fields relevant
// to the Kind are set.
type Notification struct {
	Kind  Kind
	Peer  ids.PeerID
	IDs   []ids.MessageID
	Peers []ids.PeerID

	// Set for MessageSent.
	TempID ids.MessageID
	ID     ids.MessageID

	// Set for DialogUnread.
	UnreadCount int
}

func (n Notification) String() string {
	switch n.Kind {
	case MessageSent:
		return fmt.Sprintf("%s(%s, %d -> %d)", n.Kind, n.Peer, n.TempID, n.ID)
	case DialogsMultiupdate:
		return fmt.Sprintf("%s(%v)", n.Kind, n.Peers)
	case DialogUnread:
		return fmt.Sprintf("%s(%s, %d)", n.Kind, n.Peer, n.UnreadCount)
	default:
		return fmt.Sprintf("%s(%s, %v)", n.Kind, n.Peer, n.IDs)
	}
}
