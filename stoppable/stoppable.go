////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable tracks the background goroutines of a session, such as
// the event reporter, so they can be shut down together.
package stoppable

import (
	"strconv"
	"time"
)

// Stoppable is a goroutine that can be told to stop.
type Stoppable interface {
	Name() string
	GetStatus() Status
	IsRunning() bool
	IsStopping() bool
	IsStopped() bool
	Close() error
}

// Status is the lifecycle stage of a Stoppable.
type Status uint32

const (
	Running Status = iota
	Stopping
	Stopped
)

// String prints a human-readable form of the Status for logging and debugging.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "INVALID STATUS " + strconv.FormatUint(uint64(s), 10)
	}
}

// WaitForStopped polls the Stoppable until it reaches the Stopped status or
// the timeout elapses. Returns false on timeout.
func WaitForStopped(s Stoppable, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !s.IsStopped() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
