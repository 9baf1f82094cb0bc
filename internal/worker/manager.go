// Package worker hosts isochrone sessions: it turns inbound commands into
// sessions, runs at most one of them at a time, and streams their results.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"transit-isochrones/internal/gtfs"
	"transit-isochrones/internal/isochrone"
	"transit-isochrones/internal/messaging"
	"transit-isochrones/internal/spatial"
)

var ErrNotReady = errors.New("location data not loaded yet")

// Sink delivers outbound events to the host.
type Sink interface {
	Send(ev messaging.Event) error
}

type Metrics interface {
	SessionStarted()
	SessionEnded(state string, elapsed time.Duration, settled, considered int)
	Emitted(vertices int)
	StepObserve(d time.Duration)
	CommandRejected(reason string)
}

// Dataset is the shared read-only data sessions run against.
type Dataset struct {
	Routes   []gtfs.Route
	Index    *spatial.Index
	Schedule isochrone.Schedule
}

type Options struct {
	Params isochrone.Params
	// ThresholdStep spaces derived thresholds when a command only has a budget.
	ThresholdStep float64
	// Location picks today's service date for commands without one.
	Location *time.Location
	Metrics  Metrics
	Logger   *slog.Logger
}

type job struct {
	req  isochrone.Request
	data *Dataset
	gen  uint64
	ctx  context.Context
}

type running struct {
	session *isochrone.Session
	gen     uint64
	ctx     context.Context
	stop    context.CancelFunc
	span    trace.Span
}

type Manager struct {
	sink    Sink
	params  isochrone.Params
	step    float64
	loc     *time.Location
	now     func() time.Time
	metrics Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	wake    chan struct{}

	// mu guards the fields below and serializes every Send, so nothing from
	// a superseded session can follow its successor's acknowledgement.
	mu      sync.Mutex
	data    *Dataset
	gen     uint64 // bumped whenever the active session changes
	active  string
	cancel  context.CancelFunc
	pending *job
}

func NewManager(sink Sink, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ThresholdStep <= 0 {
		opts.ThresholdStep = 5
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Manager{
		sink:    sink,
		params:  opts.Params,
		step:    opts.ThresholdStep,
		loc:     opts.Location,
		now:     time.Now,
		metrics: opts.Metrics,
		logger:  opts.Logger.With(slog.String("component", "worker")),
		tracer:  otel.Tracer("transit-isochrones/worker"),
		wake:    make(chan struct{}, 1),
	}
}

// SetData installs the dataset used by sessions started from now on and
// announces readiness. Running sessions keep the dataset they started with.
func (m *Manager) SetData(d *Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = d
	m.sendLocked(messaging.NewReady(d.Index.Len(), len(d.Routes)))
}

// Submit handles one inbound payload. It never blocks on a running session.
// Every payload is acknowledged; one that does not decode is acknowledged
// without an action and otherwise ignored.
func (m *Manager) Submit(payload []byte) {
	cmd, err := messaging.DecodeCommand(payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Warn("ignoring command", "error", err)
		if m.metrics != nil {
			reason := "invalid"
			if errors.Is(err, messaging.ErrUnknownAction) {
				reason = "unknown_action"
			}
			m.metrics.CommandRejected(reason)
		}
		m.sendLocked(messaging.NewOK(""))
		return
	}
	m.sendLocked(messaging.NewOK(cmd.Action()))

	switch c := cmd.(type) {
	case messaging.ComputeIsochrones:
		m.computeLocked(c)
	case messaging.Cancel:
		if c.SessionID == m.active {
			m.logger.Info("session cancelled by host", "session", c.SessionID)
			m.supersedeLocked("")
		}
	case messaging.ListRoutes:
		var routes []gtfs.Route
		if m.data != nil {
			routes = m.data.Routes
		}
		m.sendLocked(messaging.NewRoutes(routes))
	case messaging.Ping:
	}
}

func (m *Manager) computeLocked(c messaging.ComputeIsochrones) {
	req := c.Request()
	if req.Selector.Date == "" {
		req.Selector.Date = m.now().In(m.loc).Format(time.DateOnly)
	}
	if err := req.Normalize(m.step); err != nil {
		m.sendLocked(messaging.NewError(req.SessionID, err))
		return
	}
	if m.data == nil {
		m.sendLocked(messaging.NewError(req.SessionID, ErrNotReady))
		return
	}
	ctx := m.supersedeLocked(req.SessionID)
	m.pending = &job{req: req, data: m.data, gen: m.gen, ctx: ctx}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// supersedeLocked cancels the active session and makes id the active one.
func (m *Manager) supersedeLocked(id string) context.Context {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.pending = nil
	m.gen++
	m.active = id
	if id == "" {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	return ctx
}

// ReportError forwards a data-loading fault to the host, tagged with the
// active session.
func (m *Manager) ReportError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendLocked(messaging.NewError(m.active, err))
}

func (m *Manager) sendLocked(ev messaging.Event) {
	if err := m.sink.Send(ev); err != nil {
		m.logger.Error("send failed", "type", ev.Kind(), "error", err)
	}
}

// sendIfCurrent sends ev only while gen is still the active generation.
func (m *Manager) sendIfCurrent(gen uint64, ev messaging.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.sendLocked(ev)
	return true
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) takePending() *job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.pending
	m.pending = nil
	return j
}

// Run drives sessions one Step at a time until ctx is done, checking for a
// newer command between steps.
func (m *Manager) Run(ctx context.Context) {
	var cur *running
	for {
		if cur == nil {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
			}
		} else {
			select {
			case <-ctx.Done():
				m.end(cur, isochrone.Cancelled)
				return
			case <-m.wake:
			default:
			}
		}

		if j := m.takePending(); j != nil {
			if cur != nil {
				m.end(cur, isochrone.Cancelled)
			}
			cur = m.start(ctx, j)
		}
		if cur == nil {
			continue
		}

		start := time.Now()
		st := cur.session.Step(cur.ctx)
		if m.metrics != nil {
			m.metrics.StepObserve(time.Since(start))
		}
		if st == isochrone.Done || st == isochrone.Cancelled {
			m.end(cur, st)
			cur = nil
		}
	}
}

func (m *Manager) start(parent context.Context, j *job) *running {
	id, gen := j.req.SessionID, j.gen
	// The job context is cancelled on supersede; parent on shutdown.
	ctx, cancel := context.WithCancel(j.ctx)
	release := context.AfterFunc(parent, cancel)
	stop := func() {
		release()
		cancel()
	}

	ctx, span := m.tracer.Start(ctx, "isochrone.session", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Float64("origin.lat", j.req.Origin.Lat),
		attribute.Float64("origin.lng", j.req.Origin.Lng),
		attribute.Float64("budget.minutes", j.req.MaxBudget),
		attribute.Int("routes.enabled", len(j.req.EnabledRoutes)),
	))

	deps := isochrone.Deps{
		Index:     j.data.Index,
		Schedule:  j.data.Schedule,
		IsCurrent: func() bool { return m.isCurrent(gen) },
		Emit: func(e isochrone.Emission) {
			if m.sendIfCurrent(gen, messaging.ReachableLocations(e)) && m.metrics != nil {
				m.metrics.Emitted(vertexCount(e))
			}
		},
		Logger: m.logger,
	}
	s, err := isochrone.NewSession(j.req, deps, m.params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		stop()
		m.sendIfCurrent(gen, messaging.NewError(id, err))
		return nil
	}
	if m.metrics != nil {
		m.metrics.SessionStarted()
	}
	m.logger.Info("session started",
		"session", id,
		"thresholds", len(j.req.Thresholds),
		"budget", j.req.MaxBudget,
		"routes", len(j.req.EnabledRoutes))
	return &running{session: s, gen: gen, ctx: ctx, stop: stop, span: span}
}

func (m *Manager) end(r *running, st isochrone.State) {
	id := r.session.ID()
	stats := r.session.Stats()
	r.stop()
	if st == isochrone.Done {
		m.sendIfCurrent(r.gen, messaging.NewStats(id, stats))
	}
	if m.metrics != nil {
		m.metrics.SessionEnded(st.String(), stats.Elapsed, stats.Settled, stats.Considered)
	}
	r.span.SetAttributes(
		attribute.String("session.state", st.String()),
		attribute.Int("session.settled", stats.Settled),
		attribute.Int("session.considered", stats.Considered),
	)
	r.span.End()
	m.logger.Info("session ended",
		"session", id,
		"state", st.String(),
		"settled", stats.Settled,
		"elapsed", stats.Elapsed)
}

func vertexCount(e isochrone.Emission) int {
	n := 0
	for _, p := range e.NewArea {
		for _, r := range p {
			n += len(r)
		}
	}
	return n
}
