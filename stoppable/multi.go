////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Multi groups several stoppables under one name.
type Multi struct {
	name       string
	stoppables []Stoppable
	mux        sync.RWMutex
	once       sync.Once
}

// NewMulti returns an empty Multi.
func NewMulti(name string) *Multi {
	return &Multi{name: name}
}

// Add adds a stoppable to the group.
func (m *Multi) Add(s Stoppable) {
	m.mux.Lock()
	m.stoppables = append(m.stoppables, s)
	m.mux.Unlock()
}

// Name returns the name of the group and its members.
func (m *Multi) Name() string {
	m.mux.RLock()
	defer m.mux.RUnlock()
	names := make([]string, len(m.stoppables))
	for i, s := range m.stoppables {
		names[i] = s.Name()
	}
	return m.name + ": {" + strings.Join(names, ", ") + "}"
}

// GetStatus returns the least advanced status of any member. An empty group
// is always Stopped.
func (m *Multi) GetStatus() Status {
	m.mux.RLock()
	defer m.mux.RUnlock()
	status := Stopped
	for _, s := range m.stoppables {
		if st := s.GetStatus(); st < status {
			status = st
		}
	}
	return status
}

// IsRunning returns true if any member is running.
func (m *Multi) IsRunning() bool { return m.GetStatus() == Running }

// IsStopping returns true if no member is running and some are stopping.
func (m *Multi) IsStopping() bool { return m.GetStatus() == Stopping }

// IsStopped returns true if every member has stopped.
func (m *Multi) IsStopped() bool { return m.GetStatus() == Stopped }

// Close closes every member. Errors from members are collected and returned
// together.
func (m *Multi) Close() error {
	var errs []string
	m.once.Do(func() {
		m.mux.RLock()
		defer m.mux.RUnlock()
		for _, s := range m.stoppables {
			if err := s.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	})

	if len(errs) > 0 {
		err := errors.Errorf("failed to close %d stoppables in %q: %s",
			len(errs), m.name, strings.Join(errs, "; "))
		jww.ERROR.Print(err.Error())
		return err
	}
	return nil
}
