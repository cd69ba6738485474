////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"
)

// Getting a key that was never set returns an error which Exists reports as
// a missing element.
func TestKV_Get_Err(t *testing.T) {
	vkv := NewKV(ekv.MakeMemstore())
	result, err := vkv.Get("test", 0)
	if err == nil {
		t.Error("Getting a key that didn't exist should have returned an error")
	}
	if result != nil {
		t.Error("Getting a key that didn't exist shouldn't have returned data")
	}
	if vkv.Exists(err) {
		t.Errorf("Exists should be false for a missing key: %+v", err)
	}
}

// Tests that Set followed by Get returns the same object.
func TestKV_Set_Get(t *testing.T) {
	vkv := NewKV(ekv.MakeMemstore())
	original := Object{
		Version:   1,
		Timestamp: time.Now(),
		Data:      []byte("slot table"),
	}
	require.NoError(t, vkv.Set("test", &original))

	result, err := vkv.Get("test", 1)
	require.NoError(t, err)
	if !bytes.Equal(result.Data, original.Data) {
		t.Errorf("Unexpected data.\nexpected: %q\nreceived: %q",
			original.Data, result.Data)
	}

	_, err = vkv.Get("test", 0)
	require.Error(t, err, "a different version must not be found")
}

// Tests that Delete removes the stored object.
func TestKV_Delete(t *testing.T) {
	vkv := NewKV(ekv.MakeMemstore())
	require.NoError(t, vkv.Set("test", &Object{Version: 0, Data: []byte("x")}))
	require.NoError(t, vkv.Delete("test", 0))

	_, err := vkv.Get("test", 0)
	require.Error(t, err)
}

// Tests that prefixes nest and isolate keys.
func TestKV_Prefix(t *testing.T) {
	vkv := NewKV(ekv.MakeMemstore())
	a := vkv.Prefix("dialogs")
	b := a.Prefix(MakePeerPrefix(-42))

	require.Equal(t, "dialogs/", a.GetPrefix())
	require.Equal(t, "dialogs/Peer:-42/", b.GetPrefix())
	require.Equal(t, "dialogs/Peer:-42/order_3", b.GetFullKey("order", 3))

	require.NoError(t, b.Set("order", &Object{Version: 0, Data: []byte("1")}))
	_, err := a.Get("order", 0)
	require.Error(t, err, "a parent prefix must not see the child key")
}

// Tests the JSON helpers round trip and report missing keys without error.
func TestKV_StoreJSON_LoadJSON(t *testing.T) {
	vkv := NewKV(ekv.MakeMemstore())

	var out map[string]int64
	found, err := vkv.LoadJSON("slots", 0, &out)
	require.NoError(t, err)
	require.False(t, found)

	in := map[string]int64{"1": 900, "2": 901}
	require.NoError(t, vkv.StoreJSON("slots", 0, in))

	found, err = vkv.LoadJSON("slots", 0, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)
}

// Tests that an empty record is reported instead of decoded.
func TestKV_LoadJSON_EmptyRecord(t *testing.T) {
	vkv := NewKV(ekv.MakeMemstore())
	require.NoError(t, vkv.Set("slots", &Object{Version: 0}))

	var out map[string]int64
	found, err := vkv.LoadJSON("slots", 0, &out)
	require.Error(t, err)
	require.False(t, found)
}
