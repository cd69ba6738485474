////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package network declares the server calls the engine makes. A Client is
// expected to convert server identifiers and payloads into the raw types;
// message IDs passed in and out are server IDs, local to their channel.
package network

import (
	"context"

	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/raw"
)

// Client is the set of RPCs the engine uses.
type Client interface {
	// GetDialogs returns a page of the dialog list of a folder, starting
	// below the given offset. A zero offset starts at the top.
	GetDialogs(ctx context.Context, req DialogsRequest) (raw.DialogsPage, error)

	// GetPeerDialogs returns the dialogs of the given peers. It is used to
	// reload a single conversation.
	GetPeerDialogs(ctx context.Context, peers []ids.PeerID) (raw.DialogsPage, error)

	// GetHistory returns limit messages of a conversation, starting
	// addOffset positions above the first message older than offsetID.
	GetHistory(ctx context.Context, peer ids.PeerID, offsetID int64,
		addOffset, limit int) (raw.HistoryPage, error)

	// SendMessage sends a text message.
	SendMessage(ctx context.Context, req SendRequest) (raw.SentMessage, error)

	// SendMedia uploads and sends req.File with req.Text as caption.
	SendMedia(ctx context.Context, req SendRequest) (raw.SentMessage, error)

	// EditMessage replaces the text of a message. The returned updates
	// carry the edited message.
	EditMessage(ctx context.Context, peer ids.PeerID, id int64,
		text string) ([]raw.Update, error)

	// DeleteMessages deletes messages of one numbering space. Only channel
	// peers select a space; for other peers the IDs are in the default
	// space. Revoke deletes them for every participant.
	DeleteMessages(ctx context.Context, peer ids.PeerID, msgIDs []int64,
		revoke bool) error

	// ReadHistory marks the conversation read up to maxID.
	ReadHistory(ctx context.Context, peer ids.PeerID, maxID int64) error

	// ToggleDialogPin pins or unpins a dialog.
	ToggleDialogPin(ctx context.Context, peer ids.PeerID, pinned bool) error

	// MarkDialogUnread sets or clears the manual unread mark of a dialog.
	MarkDialogUnread(ctx context.Context, peer ids.PeerID, unread bool) error
}

// DialogsRequest pages the dialog list. The offset fields are those of the
// last dialog of the previous page.
type DialogsRequest struct {
	FolderID   int
	OffsetDate int64
	OffsetID   int64
	OffsetPeer ids.PeerID
	Limit      int
}

// SendRequest is a message to send. RandomID is the idempotency key of the
// send; a retry reuses it.
type SendRequest struct {
	Peer     ids.PeerID
	Text     string
	RandomID int64
	ReplyTo  int64
	File     *File
}

// File is an attachment to upload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}
