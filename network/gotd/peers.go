////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package gotd

import (
	"sync"

	"github.com/gotd/td/tg"
	"github.com/pkg/errors"
	"gitlab.com/elixxir/chatsync/ids"
)

// ErrUnknownPeer is returned for peers whose access hash was never seen.
var ErrUnknownPeer = errors.New("peer access hash is not known")

// Peers remembers the access hashes the server hands out with users and
// channels, which every request addressing them must carry.
type Peers struct {
	self     ids.PeerID
	users    map[int64]int64
	channels map[int64]int64
	mux      sync.RWMutex
}

// NewPeers returns an empty cache.
func NewPeers(self ids.PeerID) *Peers {
	return &Peers{
		self:     self,
		users:    make(map[int64]int64),
		channels: make(map[int64]int64),
	}
}

// Learn records the access hashes of the given entities.
func (p *Peers) Learn(users []tg.UserClass, chats []tg.ChatClass) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, u := range users {
		if u, ok := u.(*tg.User); ok {
			if hash, ok := u.GetAccessHash(); ok {
				p.users[u.ID] = hash
			}
		}
	}
	for _, c := range chats {
		switch c := c.(type) {
		case *tg.Channel:
			if hash, ok := c.GetAccessHash(); ok {
				p.channels[c.ID] = hash
			}
		case *tg.ChannelForbidden:
			p.channels[c.ID] = c.AccessHash
		}
	}
}

// InputPeer addresses a peer in a request.
func (p *Peers) InputPeer(peer ids.PeerID) (tg.InputPeerClass, error) {
	switch {
	case peer == p.self:
		return &tg.InputPeerSelf{}, nil
	case peer.IsChat():
		return &tg.InputPeerChat{ChatID: peer.ChatID()}, nil
	case peer.IsChannel():
		ch, err := p.InputChannel(peer.ChannelID())
		if err != nil {
			return nil, err
		}
		return &tg.InputPeerChannel{ChannelID: ch.ChannelID,
			AccessHash: ch.AccessHash}, nil
	}

	p.mux.RLock()
	hash, exists := p.users[peer.UserID()]
	p.mux.RUnlock()
	if !exists {
		return nil, errors.WithMessagef(ErrUnknownPeer, "user %d",
			peer.UserID())
	}
	return &tg.InputPeerUser{UserID: peer.UserID(), AccessHash: hash}, nil
}

// InputChannel addresses a channel in a channel request.
func (p *Peers) InputChannel(channel ids.ChannelID) (*tg.InputChannel, error) {
	p.mux.RLock()
	hash, exists := p.channels[int64(channel)]
	p.mux.RUnlock()
	if !exists {
		return nil, errors.WithMessagef(ErrUnknownPeer, "channel %d", channel)
	}
	return &tg.InputChannel{ChannelID: int64(channel), AccessHash: hash}, nil
}

func (p *Peers) inputDialogPeer(peer ids.PeerID) (*tg.InputDialogPeer, error) {
	in, err := p.InputPeer(peer)
	if err != nil {
		return nil, err
	}
	return &tg.InputDialogPeer{Peer: in}, nil
}
