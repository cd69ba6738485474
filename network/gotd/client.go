////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package gotd implements the engine's network client over the gotd MTProto
// library and converts its updates into raw updates.
package gotd

import (
	"context"
	"strings"

	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/network"
	"gitlab.com/elixxir/chatsync/raw"
)

// Client implements network.Client with a gotd API client.
type Client struct {
	api   *tg.Client
	peers *Peers
	conv  Converter
}

var _ network.Client = (*Client)(nil)

// NewClient wraps an API client. peers is shared with the update Handler so
// entities seen in either direction can be addressed.
func NewClient(api *tg.Client, self ids.PeerID, peers *Peers) *Client {
	return &Client{
		api:   api,
		peers: peers,
		conv:  Converter{Self: self},
	}
}

// convertError maps server refusals onto the engine's errors.
func convertError(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case tgerr.Is(err, "MESSAGE_NOT_MODIFIED"):
		return errors.WithMessage(network.ErrMessageNotModified, op)
	case tgerr.Is(err, "MESSAGE_EMPTY"):
		return errors.WithMessage(network.ErrMessageEmpty, op)
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		jww.WARN.Printf("[NET] %s hit a flood wait of %s", op, wait)
	}
	return errors.WithMessage(err, op)
}

func (c *Client) GetDialogs(ctx context.Context,
	req network.DialogsRequest) (raw.DialogsPage, error) {
	offsetPeer := tg.InputPeerClass(&tg.InputPeerEmpty{})
	if req.OffsetPeer != 0 {
		p, err := c.peers.InputPeer(req.OffsetPeer)
		if err != nil {
			return raw.DialogsPage{}, err
		}
		offsetPeer = p
	}
	res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		FolderID:   req.FolderID,
		OffsetDate: int(req.OffsetDate),
		OffsetID:   int(req.OffsetID),
		OffsetPeer: offsetPeer,
		Limit:      req.Limit,
	})
	if err != nil {
		return raw.DialogsPage{}, convertError(err, "getDialogs")
	}

	switch res := res.(type) {
	case *tg.MessagesDialogs:
		page := c.dialogsPage(res.Dialogs, res.Messages, res.Users, res.Chats)
		page.Count = len(page.Dialogs)
		return page, nil
	case *tg.MessagesDialogsSlice:
		page := c.dialogsPage(res.Dialogs, res.Messages, res.Users, res.Chats)
		page.Count = res.Count
		return page, nil
	case *tg.MessagesDialogsNotModified:
		return raw.DialogsPage{Count: res.Count}, nil
	default:
		return raw.DialogsPage{}, errors.Errorf("unexpected dialogs %T", res)
	}
}

func (c *Client) dialogsPage(dlgs []tg.DialogClass, msgs []tg.MessageClass,
	users []tg.UserClass, chats []tg.ChatClass) raw.DialogsPage {
	c.peers.Learn(users, chats)
	page := raw.DialogsPage{Messages: c.conv.Messages(msgs)}
	for _, d := range dlgs {
		if dlg, ok := c.conv.Dialog(d); ok {
			page.Dialogs = append(page.Dialogs, dlg)
		}
	}
	return page
}

func (c *Client) GetPeerDialogs(ctx context.Context,
	peers []ids.PeerID) (raw.DialogsPage, error) {
	in := make([]tg.InputDialogPeerClass, 0, len(peers))
	for _, p := range peers {
		dp, err := c.peers.inputDialogPeer(p)
		if err != nil {
			return raw.DialogsPage{}, err
		}
		in = append(in, dp)
	}
	res, err := c.api.MessagesGetPeerDialogs(ctx, in)
	if err != nil {
		return raw.DialogsPage{}, convertError(err, "getPeerDialogs")
	}
	page := c.dialogsPage(res.Dialogs, res.Messages, res.Users, res.Chats)
	page.Count = len(page.Dialogs)
	return page, nil
}

func (c *Client) GetHistory(ctx context.Context, peer ids.PeerID,
	offsetID int64, addOffset, limit int) (raw.HistoryPage, error) {
	in, err := c.peers.InputPeer(peer)
	if err != nil {
		return raw.HistoryPage{}, err
	}
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      in,
		OffsetID:  int(offsetID),
		AddOffset: addOffset,
		Limit:     limit,
	})
	if err != nil {
		return raw.HistoryPage{}, convertError(err, "getHistory")
	}

	switch res := res.(type) {
	case *tg.MessagesMessages:
		c.peers.Learn(res.Users, res.Chats)
		msgs := c.conv.Messages(res.Messages)
		return raw.HistoryPage{Messages: msgs, Count: len(msgs)}, nil
	case *tg.MessagesMessagesSlice:
		c.peers.Learn(res.Users, res.Chats)
		return raw.HistoryPage{Messages: c.conv.Messages(res.Messages),
			Count: res.Count}, nil
	case *tg.MessagesChannelMessages:
		c.peers.Learn(res.Users, res.Chats)
		return raw.HistoryPage{Messages: c.conv.Messages(res.Messages),
			Count: res.Count}, nil
	case *tg.MessagesMessagesNotModified:
		return raw.HistoryPage{Count: res.Count}, nil
	default:
		return raw.HistoryPage{}, errors.Errorf("unexpected messages %T", res)
	}
}

func replyHeader(id int64) tg.InputReplyToClass {
	if id == 0 {
		return nil
	}
	return &tg.InputReplyToMessage{ReplyToMsgID: int(id)}
}

func (c *Client) SendMessage(ctx context.Context,
	req network.SendRequest) (raw.SentMessage, error) {
	in, err := c.peers.InputPeer(req.Peer)
	if err != nil {
		return raw.SentMessage{}, err
	}
	res, err := c.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     in,
		ReplyTo:  replyHeader(req.ReplyTo),
		Message:  req.Text,
		RandomID: req.RandomID,
	})
	if err != nil {
		return raw.SentMessage{}, convertError(err, "sendMessage")
	}
	return c.sent(res), nil
}

func (c *Client) SendMedia(ctx context.Context,
	req network.SendRequest) (raw.SentMessage, error) {
	if req.File == nil {
		return raw.SentMessage{}, errors.New("no file to send")
	}
	in, err := c.peers.InputPeer(req.Peer)
	if err != nil {
		return raw.SentMessage{}, err
	}

	file, err := uploader.NewUploader(c.api).FromBytes(ctx, req.File.Name,
		req.File.Data)
	if err != nil {
		return raw.SentMessage{}, convertError(err, "upload")
	}
	var m tg.InputMediaClass
	if strings.HasPrefix(req.File.MimeType, "image/") {
		m = &tg.InputMediaUploadedPhoto{File: file}
	} else {
		m = &tg.InputMediaUploadedDocument{
			File:     file,
			MimeType: req.File.MimeType,
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: req.File.Name},
			},
		}
	}

	res, err := c.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     in,
		ReplyTo:  replyHeader(req.ReplyTo),
		Media:    m,
		Message:  req.Text,
		RandomID: req.RandomID,
	})
	if err != nil {
		return raw.SentMessage{}, convertError(err, "sendMedia")
	}
	return c.sent(res), nil
}

// sent converts a send reply. The short form carries only the new ID.
func (c *Client) sent(res tg.UpdatesClass) raw.SentMessage {
	if short, ok := res.(*tg.UpdateShortSentMessage); ok {
		return raw.SentMessage{
			ID:    int64(short.ID),
			Date:  int64(short.Date),
			Media: media(short.Media),
		}
	}
	c.learn(res)
	return raw.SentMessage{Updates: c.conv.Updates(res)}
}

func (c *Client) learn(res tg.UpdatesClass) {
	switch res := res.(type) {
	case *tg.Updates:
		c.peers.Learn(res.Users, res.Chats)
	case *tg.UpdatesCombined:
		c.peers.Learn(res.Users, res.Chats)
	}
}

func (c *Client) EditMessage(ctx context.Context, peer ids.PeerID, id int64,
	text string) ([]raw.Update, error) {
	in, err := c.peers.InputPeer(peer)
	if err != nil {
		return nil, err
	}
	res, err := c.api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:    in,
		ID:      int(id),
		Message: text,
	})
	if err != nil {
		return nil, convertError(err, "editMessage")
	}
	c.learn(res)
	return c.conv.Updates(res), nil
}

func (c *Client) DeleteMessages(ctx context.Context, peer ids.PeerID,
	msgIDs []int64, revoke bool) error {
	list := make([]int, len(msgIDs))
	for i, id := range msgIDs {
		list[i] = int(id)
	}

	if peer.IsChannel() {
		ch, err := c.peers.InputChannel(peer.ChannelID())
		if err != nil {
			return err
		}
		_, err = c.api.ChannelsDeleteMessages(ctx,
			&tg.ChannelsDeleteMessagesRequest{Channel: ch, ID: list})
		return convertError(err, "deleteChannelMessages")
	}
	_, err := c.api.MessagesDeleteMessages(ctx,
		&tg.MessagesDeleteMessagesRequest{Revoke: revoke, ID: list})
	return convertError(err, "deleteMessages")
}

func (c *Client) ReadHistory(ctx context.Context, peer ids.PeerID,
	maxID int64) error {
	if peer.IsChannel() {
		ch, err := c.peers.InputChannel(peer.ChannelID())
		if err != nil {
			return err
		}
		_, err = c.api.ChannelsReadHistory(ctx, &tg.ChannelsReadHistoryRequest{
			Channel: ch,
			MaxID:   int(maxID),
		})
		return convertError(err, "readChannelHistory")
	}
	in, err := c.peers.InputPeer(peer)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesReadHistory(ctx, &tg.MessagesReadHistoryRequest{
		Peer:  in,
		MaxID: int(maxID),
	})
	return convertError(err, "readHistory")
}

func (c *Client) ToggleDialogPin(ctx context.Context, peer ids.PeerID,
	pinned bool) error {
	dp, err := c.peers.inputDialogPeer(peer)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesToggleDialogPin(ctx,
		&tg.MessagesToggleDialogPinRequest{Pinned: pinned, Peer: dp})
	return convertError(err, "toggleDialogPin")
}

func (c *Client) MarkDialogUnread(ctx context.Context, peer ids.PeerID,
	unread bool) error {
	dp, err := c.peers.inputDialogPeer(peer)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesMarkDialogUnread(ctx,
		&tg.MessagesMarkDialogUnreadRequest{Unread: unread, Peer: dp})
	return convertError(err, "markDialogUnread")
}
