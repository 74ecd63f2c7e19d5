package capture

import (
	"encoding/json"
	"sync"
	"time"

	"richform/internal/infra"
)

// GateState tracks where a submission attempt is in its lifecycle.
type GateState int

const (
	GateIdle GateState = iota
	GateScanning
	GateBlocked
	GateReleasing
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateScanning:
		return "scanning"
	case GateBlocked:
		return "blocked"
	case GateReleasing:
		return "releasing"
	default:
		return "unknown"
	}
}

// PayloadFieldName is the hidden field the capture log is attached under at
// release time.
const PayloadFieldName = "richtext_pasted_images"

const (
	DefaultBlockRetryDelay  = 500 * time.Millisecond
	DefaultMaxBlockAttempts = 30
)

// Submitter is the downstream submission mechanism the gate guards.
type Submitter interface {
	AttachPayload(name, value string)
	Submit()
}

// GateConfig assembles a Gate. Session is optional; when set, the capture
// log snapshot is saved there just before submission.
type GateConfig struct {
	Engine    *Engine
	Submitter Submitter
	Scheduler Scheduler
	Session   SessionStore
	Log       infra.Logger

	RetryDelay  time.Duration
	MaxAttempts int
}

// Gate holds form submission until every detected image has settled. A
// submission blocked past the retry budget is released anyway with a warning;
// losing image fidelity is preferable to losing the submission.
type Gate struct {
	engine    *Engine
	submitter Submitter
	sched     Scheduler
	session   SessionStore
	log       infra.Logger

	retryDelay  time.Duration
	maxAttempts int

	mu       sync.Mutex
	state    GateState
	attempts int
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultBlockRetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxBlockAttempts
	}
	return &Gate{
		engine:      cfg.Engine,
		submitter:   cfg.Submitter,
		sched:       cfg.Scheduler,
		session:     cfg.Session,
		log:         cfg.Log,
		retryDelay:  cfg.RetryDelay,
		maxAttempts: cfg.MaxAttempts,
	}
}

// State reports the gate's current lifecycle state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Attempts reports how many blocked-state rechecks have run so far.
func (g *Gate) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

// RequestSubmit starts a submission attempt. A clean scan releases
// immediately; otherwise the gate blocks, force-triggers outstanding image
// work, and rechecks on a fixed cadence. Returns false when an attempt is
// already underway.
func (g *Gate) RequestSubmit() bool {
	g.mu.Lock()
	if g.state != GateIdle {
		g.mu.Unlock()
		return false
	}
	g.state = GateScanning
	g.attempts = 0
	g.mu.Unlock()

	scan := g.engine.ScanPending()
	if scan.Clean() {
		g.release(scan, false)
		return true
	}

	g.mu.Lock()
	g.state = GateBlocked
	g.mu.Unlock()

	g.log.Info().
		Int("blobs", scan.Blobs).
		Int("external", scan.External).
		Int("converting", scan.Converting).
		Int("in_flight", scan.InFlight).
		Msg("submission blocked pending image work")
	g.engine.ForcePending()
	g.sched.AfterFunc(g.retryDelay, g.recheck)
	return true
}

func (g *Gate) recheck() {
	g.mu.Lock()
	if g.state != GateBlocked {
		g.mu.Unlock()
		return
	}
	g.attempts++
	attempts := g.attempts
	g.mu.Unlock()

	scan := g.engine.ScanPending()
	if scan.Clean() {
		g.release(scan, false)
		return
	}
	if attempts >= g.maxAttempts {
		g.log.Warn().
			Int("blobs", scan.Blobs).
			Int("external", scan.External).
			Int("uploads", scan.Uploading).
			Int("in_flight", scan.InFlight).
			Msg("releasing submission with unresolved image work")
		g.release(scan, true)
		return
	}
	g.sched.AfterFunc(g.retryDelay, g.recheck)
}

// release flushes surfaces, attaches the capture payload, and hands the
// submission to the downstream submitter.
func (g *Gate) release(scan PendingScan, timedOut bool) {
	g.mu.Lock()
	g.state = GateReleasing
	g.mu.Unlock()

	g.engine.PersistAll()

	captures := g.engine.Captures()
	if captures.HasImages() {
		if b, err := json.Marshal(captures); err == nil {
			g.submitter.AttachPayload(PayloadFieldName, string(b))
		} else {
			g.log.Warn().Err(err).Msg("could not encode capture payload")
		}
	}
	if g.session != nil {
		if err := g.engine.SaveSession(g.session); err != nil {
			g.log.Warn().Err(err).Msg("could not save session snapshot")
		}
	}

	g.log.Info().Bool("timed_out", timedOut).Msg("submission released")
	g.submitter.Submit()

	g.mu.Lock()
	g.state = GateIdle
	g.attempts = 0
	g.mu.Unlock()
}
