////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/xx_network/primitives/netTime"
)

// Object is the envelope a record is written in.
type Object struct {
	// Version selects the layout of Data and is part of the key.
	Version uint64

	// Timestamp is when the record was written.
	Timestamp time.Time

	// Data is the JSON encoded record.
	Data []byte
}

// newJSONObject encodes value into an Object stamped with the current time.
func newJSONObject(version uint64, value interface{}) (*Object, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &Object{Version: version, Timestamp: netTime.Now(), Data: data},
		nil
}

// decodeJSON decodes the record into value.
func (v *Object) decodeJSON(value interface{}) error {
	if len(v.Data) == 0 {
		return errors.Errorf("record version %d written %s is empty",
			v.Version, v.Timestamp.Format(time.RFC3339))
	}
	return json.Unmarshal(v.Data, value)
}

// Unmarshal implements ekv.Unmarshaler.
func (v *Object) Unmarshal(data []byte) error {
	return json.Unmarshal(data, v)
}

// Marshal implements ekv.Marshaler. Panics if the envelope cannot be encoded.
func (v *Object) Marshal() []byte {
	d, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("Could not marshal record version %d: %+v",
			v.Version, err))
	}
	return d
}
