////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package dialogs

import (
	"gitlab.com/elixxir/chatsync/ids"
)

// Filter is a custom folder. Membership is decided by a predicate over the
// dialog; the dialog itself stays in its real folder.
type Filter struct {
	ID    int    `json:"id"`
	Title string `json:"title"`

	// PinnedPeers are always included and shown first, in order.
	PinnedPeers  []ids.PeerID `json:"pinnedPeers,omitempty"`
	IncludePeers []ids.PeerID `json:"includePeers,omitempty"`
	ExcludePeers []ids.PeerID `json:"excludePeers,omitempty"`

	Users    bool `json:"users,omitempty"`
	Groups   bool `json:"groups,omitempty"`
	Channels bool `json:"channels,omitempty"`

	ExcludeMuted    bool `json:"excludeMuted,omitempty"`
	ExcludeRead     bool `json:"excludeRead,omitempty"`
	ExcludeArchived bool `json:"excludeArchived,omitempty"`
}

func contains(peers []ids.PeerID, peer ids.PeerID) bool {
	for _, p := range peers {
		if p == peer {
			return true
		}
	}
	return false
}

// Matches returns true if the dialog belongs to the filter at unix time now.
func (f *Filter) Matches(d Dialog, now int64) bool {
	if contains(f.ExcludePeers, d.Peer) {
		return false
	}
	if contains(f.PinnedPeers, d.Peer) || contains(f.IncludePeers, d.Peer) {
		return true
	}

	if f.ExcludeMuted && d.Muted(now) {
		return false
	}
	if f.ExcludeRead && !d.Unread() {
		return false
	}
	if f.ExcludeArchived && d.FolderID == ArchiveFolder {
		return false
	}

	switch {
	case d.Peer.IsUser():
		return f.Users
	case d.Peer.IsChannel():
		return f.Channels
	default:
		return f.Groups
	}
}

// index returns the order of the dialog within the filter.
func (f *Filter) index(d Dialog) int64 {
	for i, p := range f.PinnedPeers {
		if p == d.Peer {
			return pinnedIndex(len(f.PinnedPeers) - 1 - i)
		}
	}
	return d.DateIndex
}
