package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"richform/internal/imagedata"
	"richform/internal/infra"
)

// Engine defaults. The pixel wait bounds how long a blob conversion waits for
// decoded pixels before forcing the network path; the sweep is the backstop
// against missed insertion events.
const (
	DefaultPixelWaitTimeout  = 2 * time.Second
	DefaultPixelPollInterval = 100 * time.Millisecond
	DefaultSweepInterval     = time.Second
	DefaultPersistRetryDelay = 200 * time.Millisecond
	DefaultOpTimeout         = 30 * time.Second
)

// Config assembles an Engine. Host nil disables hosting: images then converge
// to their encoded form only. Blobs nil disables the network conversion path
// for blob sources, leaving pixel snapshots as the only option.
type Config struct {
	Host         Host
	HostedPrefix string
	Blobs        BlobResolver
	Bus          *Bus
	Scheduler    Scheduler
	Log          infra.Logger

	PixelWaitTimeout  time.Duration
	PixelPollInterval time.Duration
	SweepInterval     time.Duration
	PersistRetryDelay time.Duration
	OpTimeout         time.Duration
}

// Engine detects every image that enters a tracked editing surface and
// converges it to a hosted URL (preferred) or a stable encoded form
// (fallback). One Engine lives per page session.
type Engine struct {
	host         Host
	hostedPrefix string
	blobs        BlobResolver
	bus          *Bus
	sched        Scheduler
	log          infra.Logger

	pixelWait    time.Duration
	pixelPoll    time.Duration
	sweepEvery   time.Duration
	persistRetry time.Duration
	opTimeout    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	surfaces []Surface
	tracked  map[Surface]struct{}

	captures *imagedata.FieldImageLog
	pending  *PendingCounter

	sweeper     Ticker
	insertionFn func(InsertionEvent)
}

// NewEngine builds an Engine and subscribes it to the insertion event stream.
// Call Start to begin the periodic sweep and Close at session teardown.
func NewEngine(cfg Config) *Engine {
	if cfg.Bus == nil {
		cfg.Bus = NewBus()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler()
	}
	if cfg.PixelWaitTimeout <= 0 {
		cfg.PixelWaitTimeout = DefaultPixelWaitTimeout
	}
	if cfg.PixelPollInterval <= 0 {
		cfg.PixelPollInterval = DefaultPixelPollInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.PersistRetryDelay <= 0 {
		cfg.PersistRetryDelay = DefaultPersistRetryDelay
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		host:         cfg.Host,
		hostedPrefix: cfg.HostedPrefix,
		blobs:        cfg.Blobs,
		bus:          cfg.Bus,
		sched:        cfg.Scheduler,
		log:          cfg.Log,
		pixelWait:    cfg.PixelWaitTimeout,
		pixelPoll:    cfg.PixelPollInterval,
		sweepEvery:   cfg.SweepInterval,
		persistRetry: cfg.PersistRetryDelay,
		opTimeout:    cfg.OpTimeout,
		ctx:          ctx,
		cancel:       cancel,
		tracked:      make(map[Surface]struct{}),
		captures:     imagedata.NewFieldImageLog(),
	}
	e.pending = NewPendingCounter(func() {
		e.log.Warn().Msg("pending counter settlement without matching start")
	})
	e.insertionFn = func(ev InsertionEvent) {
		if ev.Surface == nil || ev.Node == nil {
			return
		}
		e.HandleInsertion(ev.Surface, ev.Node)
	}
	_ = e.bus.SubscribeInsertion(e.insertionFn)
	return e
}

// Start begins the periodic straggler sweep.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sweeper == nil {
		e.sweeper = e.sched.Every(e.sweepEvery, e.Sweep)
	}
}

// Close tears the Engine down: pending operations are cancelled, the sweep
// stops, and the insertion subscription is dropped.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	sweeper := e.sweeper
	e.sweeper = nil
	e.mu.Unlock()
	if sweeper != nil {
		sweeper.Stop()
	}
	_ = e.bus.UnsubscribeInsertion(e.insertionFn)
}

// Bus exposes the insertion event stream surfaces publish into.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Captures exposes the per-field capture log.
func (e *Engine) Captures() *imagedata.FieldImageLog {
	return e.captures
}

// PendingUploads reports the number of in-flight uploads and proxy fetches.
func (e *Engine) PendingUploads() int {
	return e.pending.Value()
}

// Track registers a surface and scans any images already on it.
func (e *Engine) Track(s Surface) {
	e.mu.Lock()
	if _, ok := e.tracked[s]; ok {
		e.mu.Unlock()
		return
	}
	e.tracked[s] = struct{}{}
	e.surfaces = append(e.surfaces, s)
	e.mu.Unlock()

	e.captures.Register(s.FieldID())
	for _, n := range s.Nodes() {
		e.HandleInsertion(s, n)
	}
}

// Surfaces returns the tracked surfaces in registration order.
func (e *Engine) Surfaces() []Surface {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Surface, len(e.surfaces))
	copy(out, e.surfaces)
	return out
}

// HandleInsertion processes one inserted image node. Handling is idempotent:
// the node's one-shot capture marker guarantees a node is never reprocessed
// by repeated insertion events.
func (e *Engine) HandleInsertion(s Surface, n Node) {
	st := n.State()
	if !st.MarkCaptured() {
		return
	}

	src := strings.TrimSpace(n.Src())
	e.log.Debug().Str("field", s.FieldID()).Str("src", truncateSrc(src)).Msg("image inserted")

	switch classifySource(src, e.hostedPrefix) {
	case sourceHosted:
		st.MarkUploaded()
	case sourceData:
		e.captureEncoded(s, src)
		e.hostEncoded(s, n, src)
	case sourceBlob:
		e.convertBlob(s, n)
	case sourceRemote:
		e.proxyRemote(s, n, src)
	default:
		e.snapshotInPlace(s, n)
	}
}

// captureEncoded appends a decodable encoded image to the field log.
// Undecodable input is logged and skipped; capture never fails the pipeline.
func (e *Engine) captureEncoded(s Surface, dataURL string) {
	img, err := imagedata.Capture(dataURL, e.sched.Now())
	if err != nil {
		e.log.Debug().Err(err).Str("field", s.FieldID()).Msg("could not capture image data")
		return
	}
	e.captures.Append(s.FieldID(), img)
	e.log.Debug().
		Str("field", s.FieldID()).
		Int("count", e.captures.Count(s.FieldID())).
		Str("type", img.Type).
		Msg("image captured")
}

// hostEncoded offloads an encoded image to the gateway and rewrites the node
// to the hosted URL. On failure the encoded form stays as the field value: a
// degraded but valid state. Persistence runs on every settlement path.
func (e *Engine) hostEncoded(s Surface, n Node, dataURL string) {
	if e.host == nil {
		e.persistRedundant(s)
		return
	}
	st := n.State()
	gen, ok := st.BeginUploading()
	if !ok {
		return
	}

	e.pending.Add()
	go func() {
		dec, decErr := imagedata.Decode(dataURL)
		var url string
		err := decErr
		if err == nil {
			ctx, cancel := context.WithTimeout(e.ctx, e.opTimeout)
			defer cancel()
			url, err = e.host.Upload(ctx, dec.Data, dec.MIME)
		}
		e.pending.Done()

		if err != nil {
			st.FinishUploading(gen, false)
			e.log.Warn().Err(err).Str("field", s.FieldID()).Msg("upload failed, keeping encoded form")
			e.persistRedundant(s)
			return
		}
		if !st.FinishUploading(gen, true) {
			e.log.Debug().Str("field", s.FieldID()).Msg("stale upload result discarded")
			return
		}
		n.SetSrc(url)
		e.log.Debug().Str("field", s.FieldID()).Str("url", truncateSrc(url)).Msg("image hosted")
		e.persistRedundant(s)
	}()
}

// convertBlob converges an ephemeral blob reference to an encoded form:
// pixel snapshot when decoded pixels are available, bounded wait otherwise,
// then the network resolver as the forced fallback.
func (e *Engine) convertBlob(s Surface, n Node) {
	st := n.State()
	gen, ok := st.BeginConverting()
	if !ok {
		return
	}
	src := strings.TrimSpace(n.Src())

	if n.Loaded() {
		if data, mimeType, err := n.Snapshot(); err == nil {
			e.finishConversion(s, n, gen, data, mimeType)
			return
		}
		e.resolveBlob(s, n, gen, src)
		return
	}

	deadline := e.sched.Now().Add(e.pixelWait)
	e.waitForPixels(s, n, gen, deadline, func() {
		e.resolveBlob(s, n, gen, src)
	})
}

// waitForPixels polls for decoded pixels until deadline, then invokes the
// fallback. A node whose conversion was superseded is left alone.
func (e *Engine) waitForPixels(s Surface, n Node, gen uint64, deadline time.Time, fallback func()) {
	e.sched.AfterFunc(e.pixelPoll, func() {
		st := n.State()
		if !st.Converting() {
			return
		}
		if n.Loaded() {
			if data, mimeType, err := n.Snapshot(); err == nil {
				e.finishConversion(s, n, gen, data, mimeType)
				return
			}
			fallback()
			return
		}
		if !e.sched.Now().Before(deadline) {
			fallback()
			return
		}
		e.waitForPixels(s, n, gen, deadline, fallback)
	})
}

// resolveBlob performs the network read of a blob reference.
func (e *Engine) resolveBlob(s Surface, n Node, gen uint64, src string) {
	if e.blobs == nil {
		n.State().EndConverting()
		e.log.Warn().Str("src", truncateSrc(src)).Msg("no blob resolver configured, leaving reference")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.opTimeout)
		defer cancel()
		data, mimeType, err := e.blobs.Resolve(ctx, src)
		if err != nil {
			n.State().EndConverting()
			e.log.Warn().Err(err).Str("src", truncateSrc(src)).Msg("blob conversion failed")
			return
		}
		e.finishConversion(s, n, gen, data, mimeType)
	}()
}

// finishConversion applies a conversion result. Results from a superseded
// attempt are discarded by the generation fence.
func (e *Engine) finishConversion(s Surface, n Node, gen uint64, data []byte, mimeType string) {
	dataURL := imagedata.Encode(data, mimeType)
	if !n.State().CompleteConversion(gen) {
		e.log.Debug().Str("field", s.FieldID()).Msg("stale conversion result discarded")
		return
	}
	n.SetSrc(dataURL)
	e.captureEncoded(s, dataURL)
	e.hostEncoded(s, n, dataURL)
}

// proxyRemote delegates an external reference to the gateway's server-side
// fetch. The browser-side pipeline never fetches remote images directly.
func (e *Engine) proxyRemote(s Surface, n Node, src string) {
	if e.host == nil {
		e.log.Debug().Str("src", truncateSrc(src)).Msg("hosting disabled, leaving external URL")
		return
	}
	st := n.State()
	gen, ok := st.BeginUploading()
	if !ok {
		return
	}

	e.pending.Add()
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.opTimeout)
		defer cancel()
		url, err := e.host.ProxyFetch(ctx, src)
		e.pending.Done()

		if err != nil {
			st.FinishUploading(gen, false)
			e.log.Warn().Err(err).Str("src", truncateSrc(src)).Msg("proxy failed, keeping original URL")
			e.persistRedundant(s)
			return
		}
		if !st.FinishUploading(gen, true) {
			e.log.Debug().Str("src", truncateSrc(src)).Msg("stale proxy result discarded")
			return
		}
		n.SetSrc(url)
		e.log.Debug().Str("url", truncateSrc(url)).Msg("external image proxied")
		e.persistRedundant(s)
	}()
}

// snapshotInPlace handles sources with no recognizable scheme: wait for the
// pixels, snapshot them, and give up quietly if the snapshot is impossible.
func (e *Engine) snapshotInPlace(s Surface, n Node) {
	st := n.State()
	gen, ok := st.BeginConverting()
	if !ok {
		return
	}

	abandon := func() {
		st.EndConverting()
		e.log.Debug().Str("field", s.FieldID()).Msg("inline conversion unavailable")
	}

	if n.Loaded() {
		if data, mimeType, err := n.Snapshot(); err == nil {
			e.finishConversion(s, n, gen, data, mimeType)
		} else {
			abandon()
		}
		return
	}
	deadline := e.sched.Now().Add(e.pixelWait)
	e.waitForPixels(s, n, gen, deadline, abandon)
}

// Sweep is the backstop against missed insertion events: it retries every
// image still referencing a blob source and re-syncs each surface's rendered
// content into its field value.
func (e *Engine) Sweep() {
	for _, s := range e.Surfaces() {
		stragglers := 0
		for _, n := range s.Nodes() {
			st := n.State()
			if st.Converting() || st.Uploading() || st.Uploaded() {
				continue
			}
			if classifySource(n.Src(), e.hostedPrefix) == sourceBlob {
				stragglers++
				st.MarkCaptured()
				e.convertBlob(s, n)
			}
		}
		if stragglers > 0 {
			e.log.Debug().Int("count", stragglers).Str("field", s.FieldID()).Msg("sweep found unconverted blobs")
		}
		s.Persist()
	}
}

// PendingScan is the Submission Gate's classification of outstanding work.
type PendingScan struct {
	Blobs      int
	External   int
	Converting int
	Uploading  int
	InFlight   int
}

// Clean reports whether submission is safe.
func (ps PendingScan) Clean() bool {
	return ps.Blobs == 0 && ps.External == 0 && ps.Converting == 0 && ps.Uploading == 0 && ps.InFlight == 0
}

// ScanPending classifies every node across every tracked surface.
func (e *Engine) ScanPending() PendingScan {
	var ps PendingScan
	for _, s := range e.Surfaces() {
		for _, n := range s.Nodes() {
			st := n.State()
			if st.Converting() {
				ps.Converting++
			}
			if st.Uploading() {
				ps.Uploading++
			}
			switch classifySource(n.Src(), e.hostedPrefix) {
			case sourceBlob:
				ps.Blobs++
			case sourceRemote:
				if e.host != nil && !st.Uploaded() && !st.Uploading() {
					ps.External++
				}
			}
		}
	}
	ps.InFlight = e.pending.Value()
	return ps
}

// ForcePending force-triggers conversion or hosting for every non-clean node.
func (e *Engine) ForcePending() {
	for _, s := range e.Surfaces() {
		for _, n := range s.Nodes() {
			st := n.State()
			if st.Converting() || st.Uploading() || st.Uploaded() {
				continue
			}
			src := strings.TrimSpace(n.Src())
			switch classifySource(src, e.hostedPrefix) {
			case sourceBlob:
				st.MarkCaptured()
				e.convertBlob(s, n)
			case sourceRemote:
				st.MarkCaptured()
				e.proxyRemote(s, n, src)
			}
		}
	}
}

// PersistAll converts remaining blob references and flushes every tracked
// surface into its field value. Called before page navigation and on release.
func (e *Engine) PersistAll() {
	e.ForcePending()
	for _, s := range e.Surfaces() {
		s.Persist()
	}
}

// persistRedundant propagates the surface content into the field value now
// and once more after a short delay, counteracting asynchronous caching
// inside the editing widget.
func (e *Engine) persistRedundant(s Surface) {
	s.Persist()
	e.sched.AfterFunc(e.persistRetry, s.Persist)
}

func truncateSrc(src string) string {
	if len(src) > 60 {
		return src[:60]
	}
	return src
}
