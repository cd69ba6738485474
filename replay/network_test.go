////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/network"
	"gitlab.com/elixxir/chatsync/raw"
)

const channelPeer = ids.PeerID(-1000000000007)

func testNetwork(t *testing.T) *Network {
	f, err := ParseFixture([]byte(testFixture))
	require.NoError(t, err)
	return FromFixture(f)
}

func TestNetwork_GetDialogs(t *testing.T) {
	n := testNetwork(t)
	ctx := context.Background()

	page, err := n.GetDialogs(ctx, network.DialogsRequest{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Len(t, page.Dialogs, 1)
	require.Equal(t, channelPeer, page.Dialogs[0].Peer, "pinned comes first")
	require.Len(t, page.Messages, 1)
	require.Equal(t, int64(5), page.Messages[0].ID)

	page, err = n.GetDialogs(ctx, network.DialogsRequest{
		OffsetPeer: channelPeer, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Dialogs, 1)
	require.Equal(t, ids.PeerID(42), page.Dialogs[0].Peer)

	page, err = n.GetDialogs(ctx, network.DialogsRequest{
		OffsetPeer: 42, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, page.Dialogs)
	require.Equal(t, 3, n.Calls("getDialogs"))
}

func TestNetwork_IDSpaces(t *testing.T) {
	n := testNetwork(t)
	ctx := context.Background()

	sent, err := n.SendMessage(ctx, network.SendRequest{
		Peer: 42, Text: "a", RandomID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(12), sent.ID)

	sent, err = n.SendMessage(ctx, network.SendRequest{
		Peer: channelPeer, Text: "b", RandomID: 2})
	require.NoError(t, err)
	require.Equal(t, int64(6), sent.ID, "channels count on their own")

	u := n.Incoming(-5, "group")
	require.Equal(t, int64(13), u.(raw.NewMessage).Message.ID)

	// Repeating a random ID returns the first result.
	sent, err = n.SendMessage(ctx, network.SendRequest{
		Peer: 42, Text: "a", RandomID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(12), sent.ID)
	require.Len(t, n.Messages(42), 3)
}

func TestNetwork_SendForms(t *testing.T) {
	n := testNetwork(t)
	ctx := context.Background()

	n.FailSends(1)
	_, err := n.SendMessage(ctx, network.SendRequest{Peer: 42, Text: "x",
		RandomID: 5})
	require.ErrorIs(t, err, ErrSendFailed)

	_, err = n.SendMessage(ctx, network.SendRequest{Peer: 42, Text: " ",
		RandomID: 6})
	require.ErrorIs(t, err, network.ErrMessageEmpty)

	n.LongSends(true)
	sent, err := n.SendMedia(ctx, network.SendRequest{Peer: 42, RandomID: 7,
		File: &network.File{Name: "a.png", MimeType: "image/png",
			Data: []byte{1, 2}}})
	require.NoError(t, err)
	require.Len(t, sent.Updates, 2)
	require.Equal(t, raw.MessageID{RandomID: 7, ID: 12}, sent.Updates[0])
	m := sent.Updates[1].(raw.NewMessage).Message
	require.Equal(t, raw.MediaPhoto, m.Media.Kind)
	require.Equal(t, int64(2), m.Media.Size)
	require.True(t, m.Out)
	require.Equal(t, 3, n.Calls("send"))

	d, _ := n.Dialog(42)
	require.Equal(t, int64(12), d.TopMessage)
}

func TestNetwork_EditDelete(t *testing.T) {
	n := testNetwork(t)
	ctx := context.Background()

	_, err := n.EditMessage(ctx, 42, 10, "hello")
	require.ErrorIs(t, err, network.ErrMessageNotModified)
	require.True(t, network.IsBenign(err))

	u, err := n.EditMessage(ctx, 42, 10, "bye")
	require.NoError(t, err)
	edited := u[0].(raw.EditMessage).Message
	require.Equal(t, "bye", edited.Text)
	require.NotZero(t, edited.EditDate)

	require.NoError(t, n.DeleteMessages(ctx, 42, []int64{11}, true))
	d, _ := n.Dialog(42)
	require.Equal(t, int64(10), d.TopMessage)

	// Default space IDs are not looked up in channels.
	require.NoError(t, n.DeleteMessages(ctx, 42, []int64{5}, true))
	require.Len(t, n.Messages(channelPeer), 1)
	require.NoError(t, n.DeleteMessages(ctx, channelPeer, []int64{5}, true))
	require.Empty(t, n.Messages(channelPeer))
}

func TestNetwork_ReadPinUnread(t *testing.T) {
	n := testNetwork(t)
	ctx := context.Background()

	n.Incoming(42, "new")
	d, _ := n.Dialog(42)
	require.Equal(t, 2, d.UnreadCount)

	require.NoError(t, n.ReadHistory(ctx, 42, 11))
	d, _ = n.Dialog(42)
	require.Equal(t, int64(11), d.ReadInboxMaxID)
	require.Equal(t, 1, d.UnreadCount)

	require.NoError(t, n.ToggleDialogPin(ctx, 42, true))
	require.NoError(t, n.MarkDialogUnread(ctx, 42, true))
	d, _ = n.Dialog(42)
	require.True(t, d.Pinned)
	require.True(t, d.UnreadMark)

	require.Error(t, n.ReadHistory(ctx, 99, 1))

	page, err := n.GetPeerDialogs(ctx, []ids.PeerID{42, 99})
	require.NoError(t, err)
	require.Len(t, page.Dialogs, 1)
	require.Equal(t, int64(12), page.Messages[0].ID)
}

func TestNetwork_GetHistory(t *testing.T) {
	n := testNetwork(t)
	ctx := context.Background()

	page, err := n.GetHistory(ctx, 42, 0, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Equal(t, int64(11), page.Messages[0].ID)

	page, err = n.GetHistory(ctx, 42, 11, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, int64(10), page.Messages[0].ID)

	page, err = n.GetHistory(ctx, 42, 11, -1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(11), page.Messages[0].ID)
}
