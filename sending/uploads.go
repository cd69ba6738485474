////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package sending

import (
	"sync"

	"github.com/golang-collections/collections/queue"
	"gitlab.com/elixxir/chatsync/ids"
)

// uploads runs file sends one at a time per peer. Each peer with queued work
// has one worker goroutine that exits when its queue drains.
type uploads struct {
	queues map[ids.PeerID]*queue.Queue
	mux    sync.Mutex
}

func newUploads() *uploads {
	return &uploads{queues: make(map[ids.PeerID]*queue.Queue)}
}

// enqueue adds a job behind the peer's earlier uploads.
func (u *uploads) enqueue(peer ids.PeerID, job func()) {
	u.mux.Lock()
	q, running := u.queues[peer]
	if !running {
		q = queue.New()
		u.queues[peer] = q
	}
	q.Enqueue(job)
	u.mux.Unlock()

	if !running {
		go u.work(peer, q)
	}
}

func (u *uploads) work(peer ids.PeerID, q *queue.Queue) {
	for {
		u.mux.Lock()
		if q.Len() == 0 {
			delete(u.queues, peer)
			u.mux.Unlock()
			return
		}
		job := q.Dequeue().(func())
		u.mux.Unlock()
		job()
	}
}

// queued returns the number of uploads waiting for the peer, the running one
// excluded.
func (u *uploads) queued(peer ids.PeerID) int {
	u.mux.Lock()
	defer u.mux.Unlock()
	q, exists := u.queues[peer]
	if !exists {
		return 0
	}
	return q.Len()
}
