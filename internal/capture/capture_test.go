package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// fakeScheduler is a virtual clock. Advance moves time forward and fires due
// timers and tickers in chronological order; callbacks run with the lock
// released so they may schedule further work.
type fakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.UnixMilli(1700000000000)}
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeTicker struct {
	s       *fakeScheduler
	every   time.Duration
	next    time.Time
	fn      func()
	stopped bool
}

func (t *fakeTicker) Stop() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.stopped = true
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now.Add(d), fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Every(d time.Duration, f func()) Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTicker{s: s, every: d, next: s.now.Add(d), fn: f}
	s.tickers = append(s.tickers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		limit := target.Add(time.Nanosecond)
		var tmr *fakeTimer
		var tkr *fakeTicker
		at := limit
		for _, t := range s.timers {
			if !t.stopped && !t.fired && t.at.Before(at) {
				at, tmr, tkr = t.at, t, nil
			}
		}
		for _, t := range s.tickers {
			if !t.stopped && t.next.Before(at) {
				at, tmr, tkr = t.next, nil, t
			}
		}
		if tmr == nil && tkr == nil {
			break
		}
		s.now = at
		var fn func()
		if tmr != nil {
			tmr.fired = true
			fn = tmr.fn
		} else {
			tkr.next = tkr.next.Add(tkr.every)
			fn = tkr.fn
		}
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// fakeNode is an in-memory image node.
type fakeNode struct {
	mu       sync.Mutex
	src      string
	loaded   bool
	snapData []byte
	snapMIME string
	snapErr  error
	state    NodeState
}

func (n *fakeNode) Src() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.src
}

func (n *fakeNode) SetSrc(src string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.src = src
}

func (n *fakeNode) Loaded() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loaded
}

func (n *fakeNode) setLoaded(data []byte, mimeType string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loaded = true
	n.snapData = data
	n.snapMIME = mimeType
}

func (n *fakeNode) Snapshot() ([]byte, string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.snapErr != nil {
		return nil, "", n.snapErr
	}
	if !n.loaded {
		return nil, "", errors.New("pixels not loaded")
	}
	return n.snapData, n.snapMIME, nil
}

func (n *fakeNode) State() *NodeState {
	return &n.state
}

// fakeSurface renders its field value as a pipe-joined list of node sources.
type fakeSurface struct {
	mu         sync.Mutex
	fieldID    string
	nodes      []*fakeNode
	fieldValue string
	persists   int
}

func newFakeSurface(fieldID string) *fakeSurface {
	return &fakeSurface{fieldID: fieldID}
}

func (s *fakeSurface) FieldID() string {
	return s.fieldID
}

func (s *fakeSurface) Nodes() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Node, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n
	}
	return out
}

func (s *fakeSurface) addNode(src string) *fakeNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &fakeNode{src: src}
	s.nodes = append(s.nodes, n)
	return n
}

func (s *fakeSurface) InsertImage(src string) Node {
	return s.addNode(src)
}

func (s *fakeSurface) FieldValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fieldValue
}

func (s *fakeSurface) SetFieldValue(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldValue = v
}

func (s *fakeSurface) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
	srcs := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		srcs[i] = n.Src()
	}
	s.fieldValue = strings.Join(srcs, "|")
}

func (s *fakeSurface) persistCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persists
}

// fakeHost records gateway calls.
type fakeHost struct {
	mu        sync.Mutex
	uploads   []string
	proxied   []string
	uploadURL string
	proxyURL  string
	uploadErr error
	proxyErr  error
}

func (h *fakeHost) Upload(_ context.Context, data []byte, contentType string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uploads = append(h.uploads, contentType)
	_ = data
	if h.uploadErr != nil {
		return "", h.uploadErr
	}
	return h.uploadURL, nil
}

func (h *fakeHost) ProxyFetch(_ context.Context, remoteURL string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proxied = append(h.proxied, remoteURL)
	if h.proxyErr != nil {
		return "", h.proxyErr
	}
	return h.proxyURL, nil
}

func (h *fakeHost) uploadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.uploads)
}

func (h *fakeHost) proxiedURLs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.proxied...)
}
