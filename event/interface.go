////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package event

// Callback receives every notification reported after it was registered.
type Callback func(n Notification)

// Reporter is the side of the event system the stores write to.
type Reporter interface {
	Report(n Notification)
}
