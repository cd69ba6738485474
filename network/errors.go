////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package network

import (
	"github.com/pkg/errors"
)

// Errors returned by a Client for server refusals the engine treats as
// no-ops.
var (
	ErrMessageNotModified = errors.New("message not modified")
	ErrMessageEmpty       = errors.New("message empty")
)

// IsBenign returns true for errors that mean the request had nothing to do.
func IsBenign(err error) bool {
	return errors.Is(err, ErrMessageNotModified) ||
		errors.Is(err, ErrMessageEmpty)
}
