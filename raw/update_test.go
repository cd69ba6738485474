////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package raw

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/chatsync/ids"
)

func TestMessage_ConversationPeer(t *testing.T) {
	// Outgoing private message belongs to the recipient.
	out := Message{ID: 1, Peer: 42, From: 1, Out: true}
	require.Equal(t, ids.PeerID(42), out.ConversationPeer())

	// Incoming private message is addressed to us, it belongs to the sender.
	in := Message{ID: 2, Peer: 1, From: 42}
	require.Equal(t, ids.PeerID(42), in.ConversationPeer())

	// Group and channel messages belong to the chat itself.
	group := Message{ID: 3, Peer: ids.ChatPeer(7), From: 42}
	require.Equal(t, ids.ChatPeer(7), group.ConversationPeer())

	post := Message{ID: 4, Peer: ids.ChannelPeer(900), Post: true}
	require.Equal(t, ids.ChannelPeer(900), post.ConversationPeer())
	require.Equal(t, ids.ChannelID(900), post.Channel())
}

func TestUpdatePeer(t *testing.T) {
	peer, ok := UpdatePeer(NewMessage{Message: Message{Peer: 42, Out: true}})
	require.True(t, ok)
	require.Equal(t, ids.PeerID(42), peer)

	peer, ok = UpdatePeer(ChannelAvailableMessages{Channel: 900})
	require.True(t, ok)
	require.Equal(t, ids.ChannelPeer(900), peer)

	_, ok = UpdatePeer(MessageID{RandomID: 1, ID: 2})
	require.False(t, ok)
	_, ok = UpdatePeer(DeleteMessages{IDs: []int64{1}})
	require.False(t, ok)
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "pinnedDialogsOrder", PinnedDialogsOrder{}.Kind().String())
	require.Equal(t, "Kind(99)", Kind(99).String())
}
