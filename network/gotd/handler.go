////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package gotd

import (
	"context"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/raw"
)

// Sink receives converted update batches, one per server container.
type Sink func(batch []raw.Update)

// Handler is a telegram.UpdateHandler that feeds converted updates to a
// sink. Entities carried by the updates are added to the peer cache first
// so the sink can address them.
type Handler struct {
	sink  Sink
	peers *Peers
	conv  Converter
}

var _ telegram.UpdateHandler = (*Handler)(nil)

// NewHandler returns a Handler delivering to sink.
func NewHandler(self ids.PeerID, peers *Peers, sink Sink) *Handler {
	return &Handler{sink: sink, peers: peers, conv: Converter{Self: self}}
}

// Handle implements telegram.UpdateHandler.
func (h *Handler) Handle(_ context.Context, u tg.UpdatesClass) error {
	switch u := u.(type) {
	case *tg.Updates:
		h.peers.Learn(u.Users, u.Chats)
	case *tg.UpdatesCombined:
		h.peers.Learn(u.Users, u.Chats)
	case *tg.UpdatesTooLong:
		jww.WARN.Printf("[NET] Server reported an update gap")
		return nil
	}

	batch := h.conv.Updates(u)
	if len(batch) == 0 {
		return nil
	}
	jww.TRACE.Printf("[NET] Received %d updates", len(batch))
	h.sink(batch)
	return nil
}
