////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package dialogs

import (
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/xx_network/primitives/netTime"
)

// Real folders. Every dialog lives in exactly one of them. Custom filters
// use IDs from FirstFilterID up.
const (
	MainFolder    = 0
	ArchiveFolder = 1
	FirstFilterID = 2
)

const (
	pinnedDateBase = 0x7fff0000
	indexShift     = 0x10000
	tiebreakMask   = 0xFFFF
)

// Dialog is the summary of one conversation.
type Dialog struct {
	Peer            ids.PeerID    `json:"peer"`
	TopMessage      ids.MessageID `json:"topMessage"`
	TopDate         int64         `json:"topDate"`
	ReadInboxMaxID  ids.MessageID `json:"readInboxMaxId"`
	ReadOutboxMaxID ids.MessageID `json:"readOutboxMaxId"`
	UnreadCount     int           `json:"unreadCount"`
	UnreadMark      bool          `json:"unreadMark,omitempty"`
	Pinned          bool          `json:"pinned,omitempty"`
	FolderID        int           `json:"folderId"`
	MuteUntil       int64         `json:"muteUntil,omitempty"`

	// Index orders the dialog within its folder, highest first.
	Index int64 `json:"index"`
	// DateIndex is the index the dialog has when not pinned. Filters that
	// do not pin the dialog order it by this.
	DateIndex int64 `json:"dateIndex"`
}

// Muted returns true if notifications are muted at the given unix time.
func (d Dialog) Muted(now int64) bool {
	return d.MuteUntil > now
}

// Unread returns true if the dialog shows an unread badge.
func (d Dialog) Unread() bool {
	return d.UnreadCount > 0 || d.UnreadMark
}

// pinnedIndex returns the index of a dialog at the given position among the
// pinned dialogs of its folder. Higher positions sort first.
func pinnedIndex(position int) int64 {
	return (pinnedDateBase + int64(position&tiebreakMask)) * indexShift
}

// dateIndex returns the index of a dialog whose top message is dated date.
func dateIndex(date int64, tiebreak uint32) int64 {
	if date == 0 {
		date = netTime.Now().Unix()
	}
	return date*indexShift + int64(tiebreak&tiebreakMask)
}
