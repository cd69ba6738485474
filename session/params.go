////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package session

import (
	"encoding/json"

	"gitlab.com/elixxir/chatsync/history"
	"gitlab.com/elixxir/chatsync/sending"
	"gitlab.com/elixxir/chatsync/updates"
)

// Params configures a Session and the components it owns.
type Params struct {
	// DialogsPageSize is the number of dialogs requested per page when the
	// cached list runs short.
	DialogsPageSize int

	// EventQueueSize is the number of notifications buffered before new ones
	// are dropped.
	EventQueueSize int

	History history.Params
	Send    sending.Params
	Updates updates.Params
}

// GetDefaultParams returns the default session parameters.
func GetDefaultParams() Params {
	return Params{
		DialogsPageSize: 100,
		EventQueueSize:  1000,
		History:         history.GetDefaultParams(),
		Send:            sending.GetDefaultParams(),
		Updates:         updates.GetDefaultParams(),
	}
}

func (p Params) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// GetParameters returns the default session parameters, or override with
// given parameters, if set.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		err := json.Unmarshal([]byte(params), &p)
		if err != nil {
			return Params{}, err
		}
	}
	return p, nil
}
