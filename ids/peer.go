////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package ids

import "strconv"

// channelPeerBase offsets channel peers below basic chat peers.
const channelPeerBase = 1000000000000

// PeerID identifies a conversation. Users are positive, basic chats are the
// negated chat ID and channels are -(1e12 + channel ID).
type PeerID int64

// ChannelID is the server identifier of a channel. Zero is the default
// numbering space shared by users and basic chats.
type ChannelID int64

// UserPeer returns the PeerID of a user.
func UserPeer(userID int64) PeerID { return PeerID(userID) }

// ChatPeer returns the PeerID of a basic chat.
func ChatPeer(chatID int64) PeerID { return PeerID(-chatID) }

// ChannelPeer returns the PeerID of a channel.
func ChannelPeer(channel ChannelID) PeerID {
	return PeerID(-(channelPeerBase + int64(channel)))
}

// IsUser returns true for private conversations.
func (p PeerID) IsUser() bool { return p > 0 }

// IsChannel returns true for channels and supergroups.
func (p PeerID) IsChannel() bool { return p < -channelPeerBase }

// IsChat returns true for basic groups.
func (p PeerID) IsChat() bool { return p < 0 && !p.IsChannel() }

// ChannelID returns the channel owning the peer's numbering space, or zero
// for users and basic chats.
func (p PeerID) ChannelID() ChannelID {
	if !p.IsChannel() {
		return 0
	}
	return ChannelID(-int64(p) - channelPeerBase)
}

// ChatID returns the basic chat ID, or zero if the peer is not a basic chat.
func (p PeerID) ChatID() int64 {
	if !p.IsChat() {
		return 0
	}
	return -int64(p)
}

// UserID returns the user ID, or zero if the peer is not a user.
func (p PeerID) UserID() int64 {
	if !p.IsUser() {
		return 0
	}
	return int64(p)
}

func (p PeerID) String() string {
	switch {
	case p.IsChannel():
		return "channel:" + strconv.FormatInt(int64(p.ChannelID()), 10)
	case p.IsChat():
		return "chat:" + strconv.FormatInt(p.ChatID(), 10)
	default:
		return "user:" + strconv.FormatInt(int64(p), 10)
	}
}
