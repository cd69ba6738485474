////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package versioned wraps an ekv.KeyValue with prefixed keys and versioned
// records. Every piece of engine state that survives a restart (the channel
// slot table, pinned dialog orders, migrations and the max seen message ID)
// is written through it.
package versioned

import (
	"fmt"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
)

const PrefixSeparator = "/"

// MakePeerPrefix creates a string prefix to denote state owned by a single
// conversation.
func MakePeerPrefix(peer int64) string {
	return fmt.Sprintf("Peer:%d", peer)
}

type root struct {
	data ekv.KeyValue
}

// KV stores versioned data under a key prefix.
type KV struct {
	r      *root
	prefix string
}

// NewKV creates a versioned key/value store backed by something implementing
// ekv.KeyValue.
func NewKV(data ekv.KeyValue) *KV {
	return &KV{r: &root{data: data}}
}

// Get gets the object stored under the key at the given version.
func (v *KV) Get(key string, version uint64) (*Object, error) {
	key = v.makeKey(key, version)
	jww.TRACE.Printf("[KV] get %p with key %v", v.r.data, key)
	result := Object{}
	if err := v.r.data.Get(key, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Set upserts the object. The key is prefixed with the KV's prefix and
// suffixed with the object's version.
func (v *KV) Set(key string, object *Object) error {
	key = v.makeKey(key, object.Version)
	jww.TRACE.Printf("[KV] set %p with key %v", v.r.data, key)
	return v.r.data.Set(key, object)
}

// Delete removes a given key from the data store.
func (v *KV) Delete(key string, version uint64) error {
	key = v.makeKey(key, version)
	jww.TRACE.Printf("[KV] delete %p with key %v", v.r.data, key)
	return v.r.data.Delete(key)
}

// GetPrefix returns the prefix of the KV.
func (v *KV) GetPrefix() string {
	return v.prefix
}

// Prefix returns a new KV with the new prefix appended.
func (v *KV) Prefix(prefix string) *KV {
	return &KV{
		r:      v.r,
		prefix: v.prefix + prefix + PrefixSeparator,
	}
}

// GetFullKey returns the key with all prefixes appended.
func (v *KV) GetFullKey(key string, version uint64) string {
	return v.makeKey(key, version)
}

func (v *KV) makeKey(key string, version uint64) string {
	return fmt.Sprintf("%s%s_%d", v.prefix, key, version)
}

// Exists returns false if the error indicates the element doesn't exist.
func (v *KV) Exists(err error) bool {
	return ekv.Exists(err)
}

// StoreJSON marshals value to JSON and stores it as a versioned object.
func (v *KV) StoreJSON(key string, version uint64, value interface{}) error {
	obj, err := newJSONObject(version, value)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", key)
	}
	return v.Set(key, obj)
}

// LoadJSON loads the versioned object stored under key into value. The
// returned bool is false when nothing is stored, in which case value is left
// untouched and the error is nil.
func (v *KV) LoadJSON(key string, version uint64, value interface{}) (bool, error) {
	obj, err := v.Get(key, version)
	if err != nil {
		if !v.Exists(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to load %s", key)
	}

	if err = obj.decodeJSON(value); err != nil {
		return false, errors.Wrapf(err, "failed to unmarshal %s", key)
	}
	return true, nil
}
