////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package ids

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/chatsync/storage/versioned"
	"gitlab.com/elixxir/ekv"
)

func newTestSpace(t *testing.T, kv *versioned.KV) *Space {
	s, err := NewSpace(kv)
	require.NoError(t, err)
	return s
}

// Tests that every (localID, channel) pair survives a round trip.
func TestSpace_ToGlobal_FromGlobal(t *testing.T) {
	s := newTestSpace(t, versioned.NewKV(ekv.MakeMemstore()))

	channels := []ChannelID{900, 1, 77777, 900, 12}
	locals := []int64{1, 10, 555, Modulus - 1}
	for _, channel := range channels {
		for _, local := range locals {
			id := s.ToGlobal(local, channel)
			require.GreaterOrEqual(t, int64(id), Modulus)

			gotLocal, gotChannel, err := s.FromGlobal(id)
			require.NoError(t, err)
			require.Equal(t, local, gotLocal)
			require.Equal(t, channel, gotChannel)
			require.Equal(t, local, ServerID(id))
		}
	}
}

// IDs in the default space and non-positive IDs pass through unchanged.
func TestSpace_ToGlobal_Default(t *testing.T) {
	s := newTestSpace(t, versioned.NewKV(ekv.MakeMemstore()))

	require.Equal(t, MessageID(555), s.ToGlobal(555, 0))
	require.Equal(t, MessageID(0), s.ToGlobal(0, 900))
	require.Equal(t, MessageID(-3), s.ToGlobal(-3, 900))

	local, channel, err := s.FromGlobal(555)
	require.NoError(t, err)
	require.Equal(t, int64(555), local)
	require.Equal(t, ChannelID(0), channel)
}

// Messages of different channels never share an ID.
func TestSpace_ToGlobal_Distinct(t *testing.T) {
	s := newTestSpace(t, versioned.NewKV(ekv.MakeMemstore()))
	a := s.ToGlobal(10, 900)
	b := s.ToGlobal(10, 901)
	require.NotEqual(t, a, b)
	require.Equal(t, a, s.ToGlobal(10, 900))
}

// A restart with the slot table persisted resolves the same IDs.
func TestNewSpace_Restore(t *testing.T) {
	kv := versioned.NewKV(ekv.MakeMemstore())
	s := newTestSpace(t, kv)
	id := s.ToGlobal(10, 900)
	other := s.ToGlobal(3, 901)

	restored := newTestSpace(t, kv)
	local, channel, err := restored.FromGlobal(id)
	require.NoError(t, err)
	require.Equal(t, int64(10), local)
	require.Equal(t, ChannelID(900), channel)

	// New allocations continue after the restored slots.
	next := restored.ToGlobal(1, 902)
	require.Greater(t, int64(next)/Modulus, int64(other)/Modulus)
}

// A restart without the slot table cannot resolve the slot and reports
// ErrUnknownSlot rather than guessing a channel.
func TestSpace_FromGlobal_UnknownSlot(t *testing.T) {
	s := newTestSpace(t, versioned.NewKV(ekv.MakeMemstore()))
	id := s.ToGlobal(10, 900)

	fresh := newTestSpace(t, versioned.NewKV(ekv.MakeMemstore()))
	local, channel, err := fresh.FromGlobal(id)
	require.True(t, errors.Is(err, ErrUnknownSlot), "%+v", err)
	require.Equal(t, int64(10), local)
	require.Equal(t, ChannelID(0), channel)
}

func TestSpace_SplitByChannel(t *testing.T) {
	s := newTestSpace(t, versioned.NewKV(ekv.MakeMemstore()))
	in := []MessageID{
		s.ToGlobal(1, 900), 5, s.ToGlobal(2, 900), s.ToGlobal(7, 12), 6,
		MessageID(99 * Modulus), // unknown slot
	}

	split := s.SplitByChannel(in)
	require.Equal(t, map[ChannelID][]int64{
		0:   {5, 6},
		900: {1, 2},
		12:  {7},
	}, split)
}

// Temporary IDs are negative, decreasing and never reused.
func TestSpace_NewTempID(t *testing.T) {
	s := newTestSpace(t, versioned.NewKV(ekv.MakeMemstore()))
	seen := make(map[MessageID]bool)
	prev := MessageID(0)
	for i := 0; i < 100; i++ {
		id := s.NewTempID()
		require.True(t, id.IsTemp())
		require.Less(t, id, prev)
		require.False(t, seen[id])
		seen[id] = true
		prev = id
	}
}

func TestPeerID(t *testing.T) {
	require.True(t, UserPeer(42).IsUser())
	require.True(t, ChatPeer(7).IsChat())
	require.Equal(t, int64(7), ChatPeer(7).ChatID())

	p := ChannelPeer(900)
	require.True(t, p.IsChannel())
	require.False(t, p.IsChat())
	require.Equal(t, ChannelID(900), p.ChannelID())
	require.Equal(t, "channel:900", p.String())
	require.Equal(t, ChannelID(0), ChatPeer(7).ChannelID())
}
