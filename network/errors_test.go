////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package network

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestIsBenign(t *testing.T) {
	require.True(t, IsBenign(ErrMessageNotModified))
	require.True(t, IsBenign(errors.WithMessage(ErrMessageEmpty, "edit 5")))
	require.False(t, IsBenign(errors.New("FLOOD_WAIT")))
	require.False(t, IsBenign(nil))
}
