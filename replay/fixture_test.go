////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package replay

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/raw"
)

const testFixture = `{
	"self": 1,
	"dialogs": [
		{"peer": 42, "topMessage": 11, "readInboxMaxId": 10, "unreadCount": 1},
		{"peer": -1000000000007, "topMessage": 5, "pinned": true}
	],
	"messages": [
		{"id": 10, "peer": 1, "from": 42, "date": 1000, "text": "hello"},
		{"id": 11, "peer": 1, "from": 42, "date": 1001, "text": "there",
		 "media": {"kind": 1, "id": 9007199254740993}},
		{"id": 5, "peer": -1000000000007, "date": 900, "text": "news", "post": true}
	],
	"steps": [
		{"op": "getDialogs", "limit": 20},
		{"op": "send", "peer": 42, "text": "hi"},
		{"op": "updates", "updates": [
			{"kind": "messageId", "randomId": 77, "id": 12},
			{"kind": "readHistoryInbox", "peer": 42, "maxId": 11, "stillUnread": 0},
			{"kind": "deleteMessages", "channel": 7, "ids": [5]},
			{"kind": "newMessage", "message": {"id": 13, "peer": 1, "from": 42, "date": 1002}}
		]},
		{"op": "read", "peer": 42, "maxId": "11"}
	]
}`

func TestParseFixture(t *testing.T) {
	f, err := ParseFixture([]byte(testFixture))
	require.NoError(t, err)

	require.Equal(t, ids.PeerID(1), f.Self)
	require.Len(t, f.Dialogs, 2)
	require.Equal(t, raw.Dialog{Peer: 42, TopMessage: 11, ReadInboxMaxID: 10,
		UnreadCount: 1}, f.Dialogs[0])
	require.True(t, f.Dialogs[1].Pinned)
	require.True(t, f.Dialogs[1].Peer.IsChannel())

	require.Len(t, f.Messages, 3)
	require.Equal(t, ids.PeerID(42), f.Messages[0].ConversationPeer())
	require.NotNil(t, f.Messages[1].Media)
	require.Equal(t, raw.MediaPhoto, f.Messages[1].Media.Kind)
	require.Equal(t, int64(9007199254740993), f.Messages[1].Media.ID)

	require.Len(t, f.Steps, 4)
	require.Equal(t, OpGetDialogs, f.Steps[0].Op)
	require.Equal(t, 20, f.Steps[0].Limit)
	require.Equal(t, "hi", f.Steps[1].Text)

	require.Equal(t, []raw.Update{
		raw.MessageID{RandomID: 77, ID: 12},
		raw.ReadHistoryInbox{Peer: 42, MaxID: 11},
		raw.DeleteMessages{Channel: 7, IDs: []int64{5}},
		raw.NewMessage{Message: raw.Message{ID: 13, Peer: 1, From: 42,
			Date: 1002}},
	}, f.Steps[2].Updates)

	// Weak typing accepts numeric strings.
	require.Equal(t, int64(11), f.Steps[3].MaxID)
}

func TestParseFixture_Errors(t *testing.T) {
	_, err := ParseFixture([]byte("{not json"))
	require.Error(t, err)

	_, err = ParseFixture([]byte(`{"steps": [{"op": "updates",
		"updates": [{"kind": "bogus"}]}]}`))
	require.ErrorContains(t, err, "unknown kind")

	_, err = ParseFixture([]byte(`{"steps": [3]}`))
	require.ErrorContains(t, err, "not an object")
}

func TestDecodeUpdates_Empty(t *testing.T) {
	u, err := DecodeUpdates(nil)
	require.NoError(t, err)
	require.Empty(t, u)

	_, err = DecodeUpdates("nope")
	require.Error(t, err)
}
