////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/chatsync/ids"
)

func TestManager_Delivery(t *testing.T) {
	var mux sync.Mutex
	var got []Notification
	wait := make(chan struct{}, 10)
	cb := func(n Notification) {
		mux.Lock()
		got = append(got, n)
		mux.Unlock()
		wait <- struct{}{}
	}

	m := NewManager(0)
	stop := m.EventService()
	require.NoError(t, m.RegisterCallback("test", cb))
	require.Error(t, m.RegisterCallback("test", cb))

	m.Report(Notification{Kind: HistoryAppend, Peer: 42, IDs: []ids.MessageID{-1}})
	m.Report(Notification{Kind: MessageSent, Peer: 42, TempID: -1, ID: 555})
	m.Report(Notification{Kind: DialogsMultiupdate, Peers: []ids.PeerID{42}})

	for i := 0; i < 3; i++ {
		select {
		case <-wait:
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for notification %d", i)
		}
	}

	mux.Lock()
	require.Len(t, got, 3)
	require.Equal(t, HistoryAppend, got[0].Kind)
	require.Equal(t, MessageSent, got[1].Kind)
	require.Equal(t, DialogsMultiupdate, got[2].Kind)
	mux.Unlock()

	m.UnregisterCallback("test")
	m.Report(Notification{Kind: DialogDrop, Peer: 42})
	select {
	case <-wait:
		t.Error("Received a notification after unregistering")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, stop.Close())
}

// A full queue drops rather than blocks.
func TestManager_Report_Full(t *testing.T) {
	m := NewManager(1)
	m.Report(Notification{Kind: HistoryUpdate})
	m.Report(Notification{Kind: HistoryUpdate})
	require.Len(t, m.eventCh, 1)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	Tee{r}.Report(Notification{Kind: HistoryDelete, IDs: []ids.MessageID{1}})
	r.Report(Notification{Kind: DialogUnread, UnreadCount: 2})
	require.Len(t, r.Events(), 2)
	require.Len(t, r.OfKind(DialogUnread), 1)
	r.Reset()
	require.Empty(t, r.Events())
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "dialogs_multiupdate", DialogsMultiupdate.String())
	require.Equal(t, "message_sent", MessageSent.String())
}
