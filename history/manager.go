////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package history keeps the per-conversation timelines and fetches missing
// pages from the server.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/messages"
	"gitlab.com/elixxir/chatsync/metrics"
	"gitlab.com/elixxir/chatsync/raw"
	"gitlab.com/elixxir/chatsync/storage/versioned"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads one page of history. offsetID and addOffset follow the
// server convention: the page holds limit messages starting addOffset
// positions above the first message older than offsetID.
type Fetcher interface {
	GetHistory(ctx context.Context, peer ids.PeerID, offsetID int64,
		addOffset, limit int) (raw.HistoryPage, error)
}

// Observer is told about every page of messages the Manager saves.
type Observer func(peer ids.PeerID, saved []messages.Message)

// Params configures history fetching.
type Params struct {
	// PageSize is the minimum number of messages requested per backfill
	// page.
	PageSize int
	// RequestRate is the maximum number of history requests per second
	// across all conversations. Zero disables limiting.
	RequestRate int
}

// GetDefaultParams returns the default history parameters.
func GetDefaultParams() Params {
	return Params{
		PageSize:    50,
		RequestRate: 10,
	}
}

// Result is a window of a conversation's timeline, newest first.
type Result struct {
	IDs []ids.MessageID
	// Count is the server's message count, or -1 if unknown.
	Count int
	// ScrolledAll is set when the window reaches the start of the
	// conversation.
	ScrolledAll bool
	// Fetched is the number of requests sent to answer the call.
	Fetched int
}

// Manager owns the Storage of every conversation.
type Manager struct {
	fetcher Fetcher
	store   *messages.Store
	params  Params
	limiter ratelimit.Limiter
	group   singleflight.Group

	observers []Observer

	storages   map[ids.PeerID]*Storage
	migrations *migrations
	mux        sync.RWMutex
}

// NewManager returns a Manager that fetches through f and saves into store.
// Migration links are restored from kv.
func NewManager(f Fetcher, store *messages.Store, kv *versioned.KV,
	params Params) (*Manager, error) {
	limiter := ratelimit.NewUnlimited()
	if params.RequestRate > 0 {
		limiter = ratelimit.New(params.RequestRate, ratelimit.WithoutSlack)
	}
	if params.PageSize <= 0 {
		params.PageSize = GetDefaultParams().PageSize
	}

	mig, err := loadMigrations(kv)
	if err != nil {
		return nil, err
	}

	return &Manager{
		fetcher:    f,
		store:      store,
		params:     params,
		limiter:    limiter,
		storages:   make(map[ids.PeerID]*Storage),
		migrations: mig,
	}, nil
}

// AddObserver registers a function called with every fetched page. Must be
// called before the Manager is used.
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Get returns the Storage of a conversation, creating it if needed.
func (m *Manager) Get(peer ids.PeerID) *Storage {
	m.mux.RLock()
	s, exists := m.storages[peer]
	m.mux.RUnlock()
	if exists {
		return s
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	if s, exists = m.storages[peer]; !exists {
		s = newStorage(peer)
		m.storages[peer] = s
	}
	return s
}

// Lookup returns the Storage of a conversation if one exists.
func (m *Manager) Lookup(peer ids.PeerID) (*Storage, bool) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	s, exists := m.storages[peer]
	return s, exists
}

// Drop forgets the timeline of a conversation.
func (m *Manager) Drop(peer ids.PeerID) {
	m.mux.Lock()
	delete(m.storages, peer)
	m.mux.Unlock()
}

// GetHistory returns up to limit messages older than maxID and up to
// backLimit messages at or above it. A maxID of zero starts at the newest
// message. Cached windows are answered without a request; a missing window
// next to the cache is backfilled page by page, and a window with no cached
// anchor is fetched with a single request around maxID.
//
// A conversation that was migrated continues into its predecessor once its
// own start is reached.
func (m *Manager) GetHistory(ctx context.Context, peer ids.PeerID,
	maxID ids.MessageID, limit, backLimit int) (Result, error) {
	if limit < 0 || backLimit < 0 {
		return Result{}, errors.Errorf("invalid limits %d/%d", limit, backLimit)
	}
	if to, ok := m.migrations.to(peer); ok {
		peer = to
	}

	res, err := m.getHistory(ctx, peer, maxID, limit, backLimit)
	if err != nil {
		return res, err
	}

	// Chain the predecessor's tail onto the successor's head.
	from, migrated := m.migrations.from(peer)
	if !migrated || !res.ScrolledAll || len(res.IDs) >= limit+backLimit {
		return res, nil
	}
	fromMax := maxID
	if fromMax >= ids.MessageID(ids.Modulus) || len(res.IDs) > 0 {
		fromMax = 0
	}
	older, err := m.getHistory(ctx, from, fromMax,
		limit+backLimit-len(res.IDs), 0)
	if err != nil {
		return res, errors.WithMessagef(err,
			"failed to load history of %s migrated to %s", from, peer)
	}

	res.IDs = append(res.IDs, older.IDs...)
	res.ScrolledAll = older.ScrolledAll
	res.Fetched += older.Fetched
	if res.Count >= 0 && older.Count >= 0 {
		res.Count += older.Count
	}
	return res, nil
}

func (m *Manager) getHistory(ctx context.Context, peer ids.PeerID,
	maxID ids.MessageID, limit, backLimit int) (Result, error) {
	s := m.Get(peer)
	res := Result{}

	for {
		s.mux.RLock()
		window, ok := s.window(maxID, limit, backLimit)
		if ok {
			res.IDs = window
			res.Count = s.count
			res.ScrolledAll = s.reachesStart(window)
			s.mux.RUnlock()
			return res, nil
		}
		p := m.plan(s, maxID, limit, backLimit)
		s.mux.RUnlock()

		if err := ctx.Err(); err != nil {
			return res, err
		}

		shared, err := m.fetch(ctx, s, p)
		if err != nil {
			return res, err
		}
		if !shared {
			res.Fetched++
		}

		if p.kind == fetchAround {
			// The window is the page itself. It may not join the cache.
			return m.aroundResult(s, maxID, limit, backLimit, p,
				res.Fetched), nil
		}
	}
}

type fetchKind uint8

const (
	fetchBottom fetchKind = iota
	fetchBackfill
	fetchAround
)

func (k fetchKind) String() string {
	switch k {
	case fetchBottom:
		return "bottom"
	case fetchBackfill:
		return "backfill"
	default:
		return "around"
	}
}

// plan is one history request.
type plan struct {
	kind      fetchKind
	offsetID  ids.MessageID
	addOffset int
	limit     int

	// result of an around fetch, set by fetch
	page []ids.MessageID
}

func (p *plan) key(peer ids.PeerID) string {
	return fmt.Sprintf("%d:%s:%d:%d:%d", peer, p.kind, p.offsetID,
		p.addOffset, p.limit)
}

// plan decides which request fills the window. The read lock must be held.
func (m *Manager) plan(s *Storage, maxID ids.MessageID, limit,
	backLimit int) *plan {
	pageSize := max(limit+backLimit, m.params.PageSize)
	bottom := &plan{kind: fetchBottom, limit: pageSize}
	around := &plan{kind: fetchAround, offsetID: maxID,
		addOffset: -backLimit, limit: limit + backLimit}

	if len(s.history) == 0 {
		if maxID == 0 {
			return bottom
		}
		return around
	}

	if maxID == 0 {
		if !s.atBottom {
			return bottom
		}
	} else if maxID > s.history[0] && !s.atBottom {
		return around
	} else if off, _ := s.search(maxID - 1); off < backLimit && !s.atBottom {
		return around
	}

	return &plan{kind: fetchBackfill, offsetID: s.history[len(s.history)-1],
		limit: pageSize}
}

// fetch runs a plan and merges the page into the Storage. Concurrent callers
// running the same plan for the same conversation share one request. The
// returned bool is true if this caller joined a request already in flight.
func (m *Manager) fetch(ctx context.Context, s *Storage, p *plan) (bool, error) {
	v, err, shared := m.group.Do(p.key(s.peer), func() (interface{}, error) {
		s.fetch.Lock()
		defer s.fetch.Unlock()

		m.limiter.Take()
		metrics.HistoryRequests.WithLabelValues(p.kind.String()).Inc()
		jww.DEBUG.Printf("[HISTORY] Requesting %s page for %s: offset %d "+
			"add %d limit %d", p.kind, s.peer, p.offsetID, p.addOffset, p.limit)
		page, err := m.fetcher.GetHistory(ctx, s.peer, ids.ServerID(p.offsetID),
			p.addOffset, p.limit)
		if err != nil {
			return nil, errors.WithMessagef(err,
				"failed to get %s history for %s", p.kind, s.peer)
		}

		saved := m.store.Save(page.Messages, messages.SaveOptions{})
		m.ObserveMigrations(saved)
		for _, o := range m.observers {
			o(s.peer, saved)
		}
		pageIDs := make([]ids.MessageID, 0, len(saved))
		for _, msg := range saved {
			if msg.Peer != s.peer {
				jww.WARN.Printf("[HISTORY] Dropping message %d of %s from "+
					"history page of %s", msg.ID, msg.Peer, s.peer)
				continue
			}
			pageIDs = append(pageIDs, msg.ID)
		}

		m.merge(s, p, pageIDs, len(page.Messages), page.Count)
		return pageIDs, nil
	})
	if err != nil {
		return shared, err
	}
	p.page = v.([]ids.MessageID)
	return shared, nil
}

// merge folds a fetched page into the Storage.
func (m *Manager) merge(s *Storage, p *plan, page []ids.MessageID,
	received, count int) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if count >= 0 {
		s.count = count
	}

	switch p.kind {
	case fetchBottom:
		m.joinOrReplace(s, p, page)
		s.atBottom = true
		if received < p.limit {
			s.scrolledAll = true
		}
	case fetchBackfill:
		added := s.insert(page)
		if received < p.limit {
			s.scrolledAll = true
		} else if len(added) == 0 {
			jww.WARN.Printf("[HISTORY] Backfill of %s from %d returned "+
				"nothing new, stopping", s.peer, p.offsetID)
			s.scrolledAll = true
		}
	case fetchAround:
		m.joinOrReplace(s, p, page)
		newer := 0
		for _, id := range page {
			if id >= p.offsetID {
				newer++
			}
		}
		if p.addOffset < 0 && newer < -p.addOffset {
			s.atBottom = true
		}
		if len(page)-newer < p.limit+p.addOffset {
			s.scrolledAll = true
		}
	}

	if s.scrolledAll && s.atBottom && s.count == unknownCount {
		s.count = len(s.history)
	}
	jww.TRACE.Printf("[HISTORY] %s now caches %d messages (bottom %t, "+
		"all %t)", s.peer, len(s.history), s.atBottom, s.scrolledAll)
}

// joinOrReplace adds a page that was not requested next to the cache. A page
// that overlaps the cache extends it; a disjoint page replaces it, since the
// cache holds a single contiguous run. The lock must be held.
func (m *Manager) joinOrReplace(s *Storage, p *plan, page []ids.MessageID) {
	if len(page) == 0 {
		return
	}
	newest, oldest := page[0], page[0]
	for _, id := range page {
		newest, oldest = max(newest, id), min(oldest, id)
	}

	overlaps := len(s.history) > 0 && newest >= s.history[len(s.history)-1] &&
		oldest <= s.history[0]
	if !overlaps && len(s.history) > 0 {
		jww.DEBUG.Printf("[HISTORY] %s page at %d is disjoint from the "+
			"cache of %s, replacing it", p.kind, p.offsetID, s.peer)
		s.history = s.history[:0]
		s.atBottom = false
		s.scrolledAll = false
	}
	s.insert(page)
}

// aroundResult cuts the requested window out of an around fetch. If the
// cache still cannot answer, the page is returned as is. fetched is the
// number of requests this caller sent, not counting joined ones.
func (m *Manager) aroundResult(s *Storage, maxID ids.MessageID, limit,
	backLimit int, p *plan, fetched int) Result {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if window, ok := s.window(maxID, limit, backLimit); ok {
		return Result{IDs: window, Count: s.count,
			ScrolledAll: s.reachesStart(window), Fetched: fetched}
	}
	return Result{IDs: p.page, Count: s.count, Fetched: fetched}
}
