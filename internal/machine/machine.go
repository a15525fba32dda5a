// Package machine implements the controller that drives fetching the people
// list: when to fetch, when to debounce filter edits, how failures pile up
// and how superseded fetches are cancelled.
//
// Events are applied one at a time. Send runs the event, and anything it
// triggered synchronously, to completion before returning. Fetch outcomes
// and debounce timeouts come back as ordinary events through the same
// queue.
package machine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pders01/roster/internal/debuglog"
	"github.com/pders01/roster/internal/metrics"
	"github.com/pders01/roster/internal/people"
)

type action func(m *Machine, ev Event)

type guard func(m *Machine, ev Event) bool

type transition struct {
	target  State
	guard   guard
	actions []action
}

type key struct {
	state State
	event EventType
}

// transitions is the whole behaviour of the machine. Pairs not listed are
// ignored.
var transitions = map[key]transition{
	{StateIdle, EventStart}: {target: StateFetch},

	{StateFetch, EventSetQuery}:       {target: StateDebounceFetch, actions: []action{setQuery}},
	{StateFetch, EventSetEmployment}:  {target: StateDebounceFetch, actions: []action{setEmployment}},
	{StateFetch, EventFetchSucceeded}: {target: StateSuccess, guard: isLiveFetch, actions: []action{setSuccessData}},
	{StateFetch, EventFetchFailed}:    {target: StateFailure, guard: isLiveFetch, actions: []action{setErrorData}},

	{StateDebounceFetch, EventSetQuery}:        {target: StateDebounceFetch, actions: []action{setQuery}},
	{StateDebounceFetch, EventSetEmployment}:   {target: StateDebounceFetch, actions: []action{setEmployment}},
	{StateDebounceFetch, eventDebounceElapsed}: {target: StateFetch, guard: isLiveTimer, actions: []action{swapNextFilter}},

	{StateSuccess, EventSetQuery}:      {target: StateDebounceFetch, actions: []action{setQuery}},
	{StateSuccess, EventSetEmployment}: {target: StateDebounceFetch, actions: []action{setEmployment}},

	{StateFailure, EventRetry}:         {target: StateFetch},
	{StateFailure, EventSetQuery}:      {target: StateDebounceFetch, actions: []action{setQuery}},
	{StateFailure, EventSetEmployment}: {target: StateDebounceFetch, actions: []action{setEmployment}},
}

type queued struct {
	ev   Event
	done chan struct{}
}

// Machine is one independent people controller.
type Machine struct {
	service   Service
	debounce  *Debouncer
	metrics   *metrics.Machine
	log       *debuglog.FieldLogger
	observers []func(Snapshot)

	mu          sync.Mutex
	queue       []queued
	dispatching bool

	// state and ctx are owned by the dispatcher. Readers see published, a
	// copy taken after each completed step.
	state     State
	ctx       Context
	pubMu     sync.RWMutex
	published Snapshot

	// Owned by the dispatcher.
	fetchSeq    uint64
	liveFetch   uint64
	cancelFetch func()
	liveTimer   uint64
	closed      bool
}

type options struct {
	clock     clock.Clock
	debounce  time.Duration
	metrics   *metrics.Machine
	name      string
	observers []func(Snapshot)
}

type Option func(*options)

// WithDebounce sets how long filter edits settle before a fetch.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithClock replaces the wall clock used by the debounce timer.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(m *metrics.Machine) Option {
	return func(o *options) { o.metrics = m }
}

// WithName tags log lines from this instance.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithObserver registers fn to be called with a snapshot after every
// transition. fn runs on the dispatching goroutine and must not block or
// call Send.
func WithObserver(fn func(Snapshot)) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// New returns a machine in the idle state. Nothing is fetched until Start.
func New(service Service, opts ...Option) *Machine {
	o := options{debounce: DefaultDebounce, name: "people"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewMachine(nil)
	}

	m := &Machine{
		service:   service,
		debounce:  NewDebouncer(o.clock, o.debounce),
		metrics:   o.metrics,
		log:       debuglog.WithFields(debuglog.Fields{"machine": o.name}),
		observers: o.observers,
		state:     StateIdle,
		ctx:       InitialContext(),
	}
	m.publish()
	return m
}

// Send applies ev and returns once it has been processed. If another
// goroutine is dispatching, Send waits for that goroutine to reach ev.
func (m *Machine) Send(ev Event) {
	m.dispatch(ev, true)
}

// Close cancels any in-flight fetch and pending debounce. Later events are
// ignored.
func (m *Machine) Close() {
	m.dispatch(closeEvent{}, true)
}

// Snapshot returns a copy of the current state and context.
func (m *Machine) Snapshot() Snapshot {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()
	return Snapshot{State: m.published.State, Context: m.published.Context.clone()}
}

func (m *Machine) State() State {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()
	return m.published.State
}

func (m *Machine) publish() {
	snap := Snapshot{State: m.state, Context: m.ctx.clone()}
	m.pubMu.Lock()
	m.published = snap
	m.pubMu.Unlock()
}

// post queues an event from a callback. It never waits, so it is safe to
// call from inside a running dispatch.
func (m *Machine) post(ev Event) {
	m.dispatch(ev, false)
}

func (m *Machine) dispatch(ev Event, wait bool) {
	item := queued{ev: ev}
	if wait {
		item.done = make(chan struct{})
	}

	m.mu.Lock()
	m.queue = append(m.queue, item)
	if m.dispatching {
		m.mu.Unlock()
		if item.done != nil {
			<-item.done
		}
		return
	}
	m.dispatching = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.step(next.ev)
		if next.done != nil {
			close(next.done)
		}

		m.mu.Lock()
	}
	m.dispatching = false
	m.mu.Unlock()
}

func (m *Machine) step(ev Event) {
	if m.closed {
		return
	}
	if _, ok := ev.(closeEvent); ok {
		m.shutdown()
		m.publish()
		return
	}

	from := m.state
	t, ok := transitions[key{from, ev.Type()}]
	if !ok {
		m.log.Debugf("ignored %s in %s", ev.Type(), from)
		return
	}
	if t.guard != nil && !t.guard(m, ev) {
		m.log.Debugf("dropped stale %s in %s", ev.Type(), from)
		return
	}

	m.exit(from, t.target)
	for _, act := range t.actions {
		act(m, ev)
	}
	m.state = t.target
	m.enter(t.target)
	m.publish()

	m.metrics.Transitions.WithLabelValues(string(from), string(t.target)).Inc()
	m.log.Debugf("%s --%s--> %s", from, ev.Type(), t.target)

	if len(m.observers) > 0 {
		snap := m.Snapshot()
		for _, fn := range m.observers {
			fn(snap)
		}
	}
}

func (m *Machine) enter(s State) {
	switch s {
	case StateFetch:
		m.enterFetch()
	case StateDebounceFetch:
		m.enterDebounce()
	}
}

func (m *Machine) exit(s, to State) {
	switch s {
	case StateFetch:
		m.exitFetch(to)
	case StateDebounceFetch:
		m.exitDebounce()
	}
}

func (m *Machine) enterFetch() {
	m.ctx.Fetching = true

	m.fetchSeq++
	id := m.fetchSeq
	m.liveFetch = id
	filter := m.ctx.ActiveFilter
	log := m.log.With(debuglog.Fields{"fetch": id})

	var cancelled atomic.Bool
	cancel := m.service.Start(filter, func(found []people.Person, err error) {
		if cancelled.Load() {
			log.Debugf("dropped outcome after cancel")
			return
		}
		if err != nil {
			log.Warnf("failed: %v", err)
			m.post(FetchFailed{Err: people.AsFetchError(err), fetch: id})
			return
		}
		m.post(FetchSucceeded{People: found, fetch: id})
	})
	m.cancelFetch = func() {
		cancelled.Store(true)
		if cancel != nil {
			cancel()
		}
	}

	m.metrics.FetchStarted.Inc()
	log.Infof("started with %s", filter)
}

func (m *Machine) exitFetch(to State) {
	if m.cancelFetch != nil {
		m.cancelFetch()
		m.cancelFetch = nil
	}
	if to != StateSuccess && to != StateFailure {
		m.metrics.FetchCancelled.Inc()
		m.log.With(debuglog.Fields{"fetch": m.liveFetch}).Infof("cancelled")
	}
	m.liveFetch = 0
	m.ctx.Fetching = false
}

func (m *Machine) enterDebounce() {
	m.liveTimer = m.debounce.Restart(func(gen uint64) {
		m.post(debounceElapsed{timer: gen})
	})
}

func (m *Machine) exitDebounce() {
	m.debounce.Stop()
	m.liveTimer = 0
}

func (m *Machine) shutdown() {
	from := m.state
	switch m.state {
	case StateFetch:
		m.exitFetch(StateIdle)
	case StateDebounceFetch:
		m.exitDebounce()
		m.ctx.PendingFilter = nil
	}
	m.state = StateIdle
	m.closed = true
	m.log.Debugf("closed in %s", from)
}

func isLiveFetch(m *Machine, ev Event) bool {
	switch e := ev.(type) {
	case FetchSucceeded:
		return e.fetch != 0 && e.fetch == m.liveFetch
	case FetchFailed:
		return e.fetch != 0 && e.fetch == m.liveFetch
	}
	return false
}

func isLiveTimer(m *Machine, ev Event) bool {
	e, ok := ev.(debounceElapsed)
	return ok && e.timer != 0 && e.timer == m.liveTimer
}

// pending returns the filter edits are merged into, seeded from the
// active filter when nothing is pending yet.
func pending(c *Context) people.Filter {
	if c.PendingFilter != nil {
		return *c.PendingFilter
	}
	return c.ActiveFilter
}

func setQuery(m *Machine, ev Event) {
	next := pending(&m.ctx).WithQuery(ev.(SetQuery).Query)
	m.ctx.PendingFilter = &next
}

func setEmployment(m *Machine, ev Event) {
	next := pending(&m.ctx).WithEmployment(ev.(SetEmployment).Employment)
	m.ctx.PendingFilter = &next
}

func swapNextFilter(m *Machine, _ Event) {
	if m.ctx.PendingFilter == nil {
		panic("machine: debounce elapsed without a pending filter")
	}
	m.ctx.ActiveFilter = *m.ctx.PendingFilter
	m.ctx.PendingFilter = nil
}

func setSuccessData(m *Machine, ev Event) {
	e := ev.(FetchSucceeded)
	m.ctx.People = append([]people.Person{}, e.People...)
	m.ctx.Errors = []people.FetchError{}
	m.ctx.Fetching = false
}

func setErrorData(m *Machine, ev Event) {
	e := ev.(FetchFailed)
	m.ctx.Errors = append(m.ctx.Errors, e.Err)
	m.ctx.People = []people.Person{}
	m.ctx.Fetching = false
	m.metrics.FetchFailed.Inc()
	m.log.Warnf("fetch failed (%d in a row): %s", len(m.ctx.Errors), e.Err.Message)
}
