package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/WebPilotHQ/webpilot/internal/backend"
	"github.com/WebPilotHQ/webpilot/internal/broadcast"
	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/monitoring"
	"github.com/WebPilotHQ/webpilot/internal/persist"
	"github.com/WebPilotHQ/webpilot/internal/session"
)

// BackendClient is the slice of the workflow service the orchestrator
// consumes. *backend.Client satisfies it.
type BackendClient interface {
	CreateSession(ctx context.Context, goal, startingURL string) (*backend.SessionInfo, error)
	NextStep(ctx context.Context, sessionID string, page backend.PageContext) (*backend.StepResult, error)
	Feedback(ctx context.Context, sessionID, correction string, page *backend.PageContext) (*backend.StepResult, error)
	Complete(ctx context.Context, sessionID, reason string) error
}

// TabInspector resolves a tab's current URL, used to supply starting_url
// on session creation.
type TabInspector interface {
	TabURL(tabID int64) (string, bool)
}

// Subscriber observes every post-effect state change in-process.
type Subscriber func(state session.State, trigger session.EventType)

// Config controls orchestrator behavior.
type Config struct {
	// InactivityTTL is the window after which a session with no accepted
	// transitions is ended with reason "timeout".
	InactivityTTL time.Duration

	// QueueSize bounds the pending-dispatch queue.
	QueueSize int

	// BroadcastTimeout bounds each per-tab delivery.
	BroadcastTimeout time.Duration
}

// Deps are the injected collaborators.
type Deps struct {
	Store     persist.Store
	Transport broadcast.Transport
	Backend   BackendClient
	Tabs      TabInspector
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Pseudo-triggers for pipeline turns that are not machine events.
const (
	triggerTabAdded   session.EventType = "TAB_ADDED"
	triggerTabRemoved session.EventType = "TAB_REMOVED"
	triggerRestored   session.EventType = "SESSION_RESTORED"
)

// turn is one queued unit of work: compute the next state, then run the
// effect pipeline, then release the caller.
type turn struct {
	apply   func(prev session.State, now time.Time) (session.State, bool)
	trigger session.EventType
	// event holds the originating machine event for dispatch turns, for
	// logging and metrics. Nil for tab/restore turns.
	event *session.Event
	// keepExpiry arms the timer from the state's existing ExpiresAt
	// instead of refreshing it. Used when restoring a persisted session.
	keepExpiry bool

	done chan turnResult
}

type turnResult struct {
	state   session.State
	applied bool
}

// Orchestrator serializes all mutations of the single active session and
// runs the persist/broadcast/notify pipeline after each one.
type Orchestrator struct {
	cfg      Config
	log      *logging.Logger
	metrics  *monitoring.Metrics
	sessions *persist.Sessions
	caster   *broadcast.Broadcaster
	backend  BackendClient
	tabs     TabInspector
	now      func() time.Time

	reqs chan turn
	stop chan struct{}
	done chan struct{}

	stateMu sync.RWMutex
	state   session.State

	subMu   sync.Mutex
	subs    map[int]Subscriber
	nextSub int

	timerMu  sync.Mutex
	timer    *time.Timer
	timerGen uint64

	initOnce  sync.Once
	closeOnce sync.Once
}

// New constructs an orchestrator and starts its dispatch worker.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.InactivityTTL <= 0 {
		cfg.InactivityTTL = 30 * time.Minute
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 5 * time.Second
	}

	o := &Orchestrator{
		cfg:      cfg,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		sessions: persist.NewSessions(deps.Store),
		caster:   broadcast.New(deps.Transport, deps.Logger, cfg.BroadcastTimeout),
		backend:  deps.Backend,
		tabs:     deps.Tabs,
		now:      deps.Clock,
		reqs:     make(chan turn, cfg.QueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    session.NewIdle(),
		subs:     make(map[int]Subscriber),
	}

	go o.run()
	return o
}

// Close stops the dispatch worker. Pending callers receive ErrClosed.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.stop)
		<-o.done
		o.cancelTimer()
	})
}

// GetState returns a copy of the current session state.
func (o *Orchestrator) GetState() session.State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state.Clone()
}

// GetStateForTab returns the current state for a participating tab, or
// the idle state for a tab that is not part of the session.
func (o *Orchestrator) GetStateForTab(tabID int64) session.State {
	s := o.GetState()
	if s.IsIdle() || s.Tabs.Contains(tabID) {
		return s
	}
	return session.NewIdle()
}

// Subscribe registers a local observer and returns its unsubscribe
// function. A panicking subscriber is isolated and logged.
func (o *Orchestrator) Subscribe(fn Subscriber) func() {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	idx := o.nextSub
	o.nextSub++
	o.subs[idx] = fn

	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subs, idx)
	}
}

// Dispatch applies one event through the serialized queue and returns
// the resulting state. An event with no legal transition is a logged
// no-op, never an error; the error return covers only queue-level
// failures (closed orchestrator, caller context cancelled).
func (o *Orchestrator) Dispatch(ctx context.Context, e session.Event) (session.State, error) {
	s, _, err := o.dispatch(ctx, e)
	return s, err
}

func (o *Orchestrator) dispatch(ctx context.Context, e session.Event) (session.State, bool, error) {
	ev := e
	return o.enqueue(ctx, turn{
		apply: func(prev session.State, now time.Time) (session.State, bool) {
			return session.Reduce(prev, ev, now)
		},
		trigger: ev.Type,
		event:   &ev,
	})
}

// enqueue appends a turn to the queue and waits for the worker to finish
// it, effects included.
func (o *Orchestrator) enqueue(ctx context.Context, t turn) (session.State, bool, error) {
	t.done = make(chan turnResult, 1)

	select {
	case o.reqs <- t:
	case <-o.stop:
		return o.GetState(), false, ErrClosed
	case <-ctx.Done():
		return o.GetState(), false, ctx.Err()
	}

	select {
	case res := <-t.done:
		return res.state, res.applied, nil
	case <-o.done:
		return o.GetState(), false, ErrClosed
	}
}

// run is the single consumer: turns execute strictly in arrival order,
// and a failing turn never poisons the queue.
func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		select {
		case <-o.stop:
			return
		case t := <-o.reqs:
			o.execute(t)
		}
	}
}

// execute applies one turn and its full effect pipeline.
func (o *Orchestrator) execute(t turn) {
	start := o.now()
	prev := o.state

	next, applied := t.apply(prev, start)
	if !applied {
		if t.event != nil {
			o.log.Debug("event discarded, no legal transition",
				zap.String("event", string(t.event.Type)),
				zap.String("machine_state", string(prev.MachineState)),
			)
			o.metrics.RecordDispatch(string(t.event.Type), "rejected", o.now().Sub(start))
		}
		t.done <- turnResult{state: prev.Clone(), applied: false}
		return
	}

	// Effect 1: session-expiry timer. Every accepted turn on a live
	// session counts as activity.
	if !next.IsIdle() {
		if t.keepExpiry && next.Timing.ExpiresAt != nil {
			o.armTimer(next.Timing.ExpiresAt.Sub(start))
		} else {
			expires := start.Add(o.cfg.InactivityTTL)
			next.Timing.ExpiresAt = &expires
			o.armTimer(o.cfg.InactivityTTL)
		}
	} else {
		o.cancelTimer()
	}

	o.stateMu.Lock()
	o.state = next
	o.stateMu.Unlock()

	o.observeLifecycle(prev, next, t, start)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Effect 2: persist. Failures are logged and swallowed; the
	// in-memory state stays authoritative.
	if err := o.sessions.Save(ctx, next); err != nil {
		o.log.Error("failed to persist session state", zap.Error(err))
		o.metrics.PersistErrors.Inc()
	}

	// Effect 3: broadcast. When the session just went idle the new tab
	// list is already empty, so the pre-transition list is used: those
	// tabs still need the notification to tear down their UI.
	targets := next.Tabs.ActiveTabIDs
	if next.IsIdle() {
		targets = prev.Tabs.ActiveTabIDs
	}
	if failed := o.caster.Broadcast(ctx, targets, broadcast.Message{State: next, Trigger: t.trigger}); failed > 0 {
		o.metrics.BroadcastErrors.Add(float64(failed))
	}

	// Effect 4: local subscribers.
	o.notify(next, t.trigger)

	if t.event != nil {
		o.metrics.RecordDispatch(string(t.event.Type), "applied", o.now().Sub(start))
	}
	t.done <- turnResult{state: next.Clone(), applied: true}
}

// observeLifecycle logs and counts session start/end edges.
func (o *Orchestrator) observeLifecycle(prev, next session.State, t turn, now time.Time) {
	switch {
	case prev.IsIdle() && !next.IsIdle():
		o.metrics.SessionsActive.Set(1)
		if t.event != nil && t.event.Type == session.EventStart {
			o.metrics.SessionsStarted.Inc()
			o.log.Info("session started",
				zap.String("session_id", next.SessionID),
				zap.String("goal", next.Goal),
				zap.Int64("primary_tab", next.Tabs.PrimaryTabID),
			)
		}
	case !prev.IsIdle() && next.IsIdle():
		o.metrics.SessionsActive.Set(0)
		reason := "exit"
		if t.event != nil {
			switch {
			case t.event.Type == session.EventTabClosed:
				reason = "primary_tab_closed"
			case t.event.Reason != "":
				reason = t.event.Reason
			}
		}
		o.metrics.SessionsEnded.WithLabelValues(reason).Inc()
		if !prev.Timing.StartedAt.IsZero() {
			o.metrics.SessionDuration.Observe(now.Sub(prev.Timing.StartedAt).Seconds())
		}
		// The post-transition state is scrubbed; the id comes from the
		// pre-transition state for terminal logging.
		o.log.Info("session ended",
			zap.String("session_id", prev.SessionID),
			zap.String("reason", reason),
			zap.Int("steps_completed", prev.StepCount),
		)
	}
}

func (o *Orchestrator) notify(s session.State, trigger session.EventType) {
	o.subMu.Lock()
	subs := make([]Subscriber, 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.subMu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.log.Error("subscriber panicked", zap.Any("panic", r))
				}
			}()
			fn(s.Clone(), trigger)
		}()
	}
}

// armTimer (re)arms the expiry timer, cancelling any previous one.
func (o *Orchestrator) armTimer(d time.Duration) {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
	}
	o.timerGen++
	gen := o.timerGen
	o.timer = time.AfterFunc(d, func() {
		o.expire(gen)
	})
}

func (o *Orchestrator) cancelTimer() {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.timerGen++
}

// expire fires the inactivity timeout. A stale generation means the
// timer was rearmed or cancelled after this one was scheduled.
func (o *Orchestrator) expire(gen uint64) {
	o.timerMu.Lock()
	current := gen == o.timerGen
	o.timerMu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	o.log.Info("session inactivity window elapsed")
	if _, err := o.EndSession(ctx, "timeout"); err != nil {
		o.log.Warn("timeout session end failed", zap.Error(err))
	}
}
