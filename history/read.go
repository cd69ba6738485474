////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package history

import (
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
)

// MarkRead clears the unread flag of the cached messages of a conversation
// up to maxID, walking down from the newest. Only incoming messages are
// touched, or only outgoing ones if outgoing is set. The walk stops at the
// first message that is already read since unread messages form a run at
// the top. Returns the IDs that changed.
func (m *Manager) MarkRead(peer ids.PeerID, maxID ids.MessageID,
	outgoing bool) []ids.MessageID {
	s, exists := m.Lookup(peer)
	if !exists {
		return nil
	}

	var marked []ids.MessageID
	for _, id := range s.History() {
		if id > maxID {
			continue
		}
		msg, known := m.store.Lookup(id)
		if !known || msg.Deleted || msg.Out != outgoing {
			continue
		}
		if !msg.Unread {
			break
		}
		m.store.Apply(id, messages.MarkRead)
		marked = append(marked, id)
	}
	return marked
}
