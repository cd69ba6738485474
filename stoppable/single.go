////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

const toStoppingErr = "cannot stop %q: status is %s instead of %s"

// Single stops one goroutine through a quit channel. The goroutine selects on
// Quit and calls ToStopped once it has returned its resources.
type Single struct {
	name   string
	quit   chan struct{}
	status uint32
	once   sync.Once
}

// NewSingle returns a new running Single.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}),
		status: uint32(Running),
	}
}

// Name returns the name of the Single.
func (s *Single) Name() string {
	return s.name
}

// GetStatus returns the current status.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32(&s.status))
}

// IsRunning returns true if the Single has not been closed.
func (s *Single) IsRunning() bool {
	return s.GetStatus() == Running
}

// IsStopping returns true if Close was called but the goroutine has not yet
// acknowledged it.
func (s *Single) IsStopping() bool {
	return s.GetStatus() == Stopping
}

// IsStopped returns true once the goroutine called ToStopped.
func (s *Single) IsStopped() bool {
	return s.GetStatus() == Stopped
}

// ToStopped is called by the goroutine when it exits. Panics if Close was
// never called.
func (s *Single) ToStopped() {
	if !atomic.CompareAndSwapUint32(
		&s.status, uint32(Stopping), uint32(Stopped)) {
		jww.FATAL.Panicf("Failed to set %q to %s when status is %s",
			s.name, Stopped, s.GetStatus())
	}
	jww.DEBUG.Printf("Stoppable %q is %s", s.name, Stopped)
}

// Quit returns the channel closed by Close.
func (s *Single) Quit() <-chan struct{} {
	return s.quit
}

// Close signals the goroutine to stop. Only the first call has an effect;
// later calls return an error.
func (s *Single) Close() error {
	err := errors.Errorf(toStoppingErr, s.name, s.GetStatus(), Running)
	s.once.Do(func() {
		if !atomic.CompareAndSwapUint32(
			&s.status, uint32(Running), uint32(Stopping)) {
			return
		}
		err = nil
		close(s.quit)
	})

	if err != nil {
		jww.WARN.Print(err.Error())
	}
	return err
}
