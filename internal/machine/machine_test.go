package machine

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/roster/internal/debuglog"
	"github.com/pders01/roster/internal/metrics"
	"github.com/pders01/roster/internal/people"
)

var (
	annHenry = people.Person{
		ID:         1,
		Name:       "Ann Henry",
		JobTitle:   "Product manager",
		Country:    "Germany",
		Salary:     120000,
		Currency:   "EUR",
		Employment: people.Employee,
	}
	vittoriaJanson = people.Person{
		ID:         2,
		Name:       "Vittoria Janson",
		JobTitle:   "Pianist",
		Country:    "Italy",
		Salary:     70000,
		Currency:   "EUR",
		Employment: people.Contractor,
	}

	failure = people.FetchError{Message: "Failure"}

	defaultPeople = []people.Person{annHenry, vittoriaJanson}
)

const testDebounce = 500 * time.Millisecond

// fakeCall is one invocation of fakeService. Its deliver ignores the
// cancellation flag so tests can prove the machine drops stale outcomes
// on its own.
type fakeCall struct {
	filter    people.Filter
	deliver   Deliver
	cancelled atomic.Bool
}

func (c *fakeCall) resolve(found []people.Person) { c.deliver(found, nil) }
func (c *fakeCall) reject(err error)              { c.deliver(nil, err) }

type fakeService struct {
	mu    sync.Mutex
	calls []*fakeCall
}

func (f *fakeService) Start(filter people.Filter, deliver Deliver) CancelFunc {
	c := &fakeCall{filter: filter, deliver: deliver}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return func() { c.cancelled.Store(true) }
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeService) call(i int) *fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeService) last() *fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type harness struct {
	m     *Machine
	svc   *fakeService
	clock *clock.Mock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	svc := &fakeService{}
	clk := clock.NewMock()
	opts = append([]Option{WithClock(clk), WithDebounce(testDebounce)}, opts...)
	m := New(svc, opts...)
	t.Cleanup(m.Close)
	return &harness{m: m, svc: svc, clock: clk}
}

// elapse advances the mock clock past the debounce delay and waits for the
// resulting fetch to start.
func (h *harness) elapse(t *testing.T) {
	t.Helper()
	before := h.svc.count()
	h.clock.Add(testDebounce)
	require.Eventually(t, func() bool { return h.svc.count() == before+1 }, time.Second, time.Millisecond,
		"debounce did not start a fetch")
}

func assertInvariants(t *testing.T, s Snapshot) {
	t.Helper()
	assert.Equal(t, s.State == StateFetch, s.Context.Fetching, "fetching iff in fetch (state %s)", s.State)
	assert.Equal(t, s.State == StateDebounceFetch, s.Context.PendingFilter != nil, "pending iff debouncing (state %s)", s.State)
	assert.False(t, len(s.Context.People) > 0 && len(s.Context.Errors) > 0, "people and errors both set")
}

func TestInitialState(t *testing.T) {
	h := newHarness(t)

	snap := h.m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, InitialContext(), snap.Context)
	assert.Equal(t, people.DefaultFilter(), snap.Context.ActiveFilter)
	assert.Empty(t, snap.Context.People)
	assert.Empty(t, snap.Context.Errors)
	assert.Nil(t, snap.Context.PendingFilter)
	assert.Equal(t, 0, h.svc.count())
	assertInvariants(t, snap)
}

func TestStartTriggersExactlyOneFetch(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})

	snap := h.m.Snapshot()
	assert.Equal(t, StateFetch, snap.State)
	assert.True(t, snap.Context.Fetching)
	require.Equal(t, 1, h.svc.count())
	assert.Equal(t, people.DefaultFilter(), h.svc.last().filter)
	assertInvariants(t, snap)
}

func TestFetchSuccessStoresData(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().resolve(defaultPeople)

	snap := h.m.Snapshot()
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, defaultPeople, snap.Context.People)
	assert.Empty(t, snap.Context.Errors)
	assert.False(t, snap.Context.Fetching)
	assert.Equal(t, people.StatusWorking, snap.Status())
	assertInvariants(t, snap)
}

func TestFetchFailureStoresError(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().reject(failure)

	snap := h.m.Snapshot()
	assert.Equal(t, StateFailure, snap.State)
	assert.Equal(t, []people.FetchError{failure}, snap.Context.Errors)
	assert.Empty(t, snap.Context.People)
	assert.False(t, snap.Context.Fetching)
	assert.Equal(t, people.StatusDegraded, snap.Status())
	assertInvariants(t, snap)
}

func TestPlainErrorsAreNormalized(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().reject(errors.New("connection refused"))

	assert.Equal(t, []people.FetchError{{Message: "connection refused"}}, h.m.Snapshot().Context.Errors)
}

func TestConsecutiveFailuresAccumulate(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().reject(failure)
	h.m.Send(Retry{})
	assert.Equal(t, []people.FetchError{failure}, h.m.Snapshot().Context.Errors, "retry must not clear errors")
	h.svc.last().reject(failure)

	snap := h.m.Snapshot()
	assert.Equal(t, StateFailure, snap.State)
	assert.Equal(t, []people.FetchError{failure, failure}, snap.Context.Errors)
	assert.False(t, snap.Context.Fetching)
	assert.Equal(t, 2, h.svc.count())

	h.m.Send(Retry{})
	h.svc.last().reject(people.FetchError{Message: "third"})
	snap = h.m.Snapshot()
	assert.Len(t, snap.Context.Errors, 3)
	assert.Equal(t, "third", snap.Context.Errors[2].Message)
	assert.Equal(t, people.StatusUnavailable, snap.Status())
}

func TestSuccessClearsAccumulatedErrors(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().reject(failure)
	h.m.Send(Retry{})
	h.svc.last().reject(failure)
	h.m.Send(Retry{})
	h.svc.last().resolve([]people.Person{annHenry})

	snap := h.m.Snapshot()
	assert.Equal(t, StateSuccess, snap.State)
	assert.Empty(t, snap.Context.Errors)
	assert.Equal(t, []people.Person{annHenry}, snap.Context.People)
	assertInvariants(t, snap)
}

func TestFilterEditDebouncesFetch(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().resolve(defaultPeople)
	h.m.Send(SetQuery{Query: "Ann Henry"})

	snap := h.m.Snapshot()
	assert.Equal(t, StateDebounceFetch, snap.State)
	require.NotNil(t, snap.Context.PendingFilter)
	assert.Equal(t, "Ann Henry", snap.Context.PendingFilter.Query)
	assert.Equal(t, "", snap.Context.ActiveFilter.Query)
	assert.Equal(t, 1, h.svc.count())
	assertInvariants(t, snap)

	h.clock.Add(testDebounce - time.Millisecond)
	assert.Equal(t, 1, h.svc.count(), "fetched before the debounce elapsed")

	h.clock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return h.svc.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "Ann Henry", h.svc.last().filter.Query)

	h.svc.last().resolve([]people.Person{annHenry})
	snap = h.m.Snapshot()
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, []people.Person{annHenry}, snap.Context.People)
	assert.Equal(t, "Ann Henry", snap.Context.ActiveFilter.Query)
	assert.Nil(t, snap.Context.PendingFilter)
	assertInvariants(t, snap)
}

func TestRetryReusesCommittedFilter(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().resolve(defaultPeople)
	h.m.Send(SetQuery{Query: "Ann Henry"})
	h.elapse(t)
	h.svc.last().reject(failure)
	h.m.Send(Retry{})

	require.Equal(t, 3, h.svc.count())
	assert.Equal(t, "Ann Henry", h.svc.last().filter.Query)
	assert.Equal(t, StateFetch, h.m.State())
}

func TestDebounceRestartCollapsesEdits(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().resolve(defaultPeople)

	h.m.Send(SetQuery{Query: "Ann"})
	h.clock.Add(300 * time.Millisecond)
	h.m.Send(SetQuery{Query: "Ann Henry"})
	h.clock.Add(300 * time.Millisecond)
	assert.Equal(t, 1, h.svc.count(), "the first edit's timer must not fire")

	h.clock.Add(200 * time.Millisecond)
	require.Eventually(t, func() bool { return h.svc.count() == 2 }, time.Second, time.Millisecond)

	h.clock.Add(5 * testDebounce)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, h.svc.count(), "exactly one fetch after collapsed edits")
	assert.Equal(t, "Ann Henry", h.svc.last().filter.Query)
}

func TestEditsMergeIntoPendingFilter(t *testing.T) {
	h := newHarness(t)
	contractors := people.NewEmploymentSet(people.Contractor)

	h.m.Send(Start{})
	h.svc.last().resolve(defaultPeople)
	h.m.Send(SetQuery{Query: "Vitt"})
	h.m.Send(SetEmployment{Employment: contractors})

	pending := h.m.Snapshot().Context.PendingFilter
	require.NotNil(t, pending)
	assert.Equal(t, people.Filter{Query: "Vitt", Employment: contractors}, *pending)

	h.elapse(t)
	assert.Equal(t, people.Filter{Query: "Vitt", Employment: contractors}, h.svc.last().filter)

	// A later edit seeds from the committed filter, not the default.
	h.svc.last().resolve([]people.Person{vittoriaJanson})
	h.m.Send(SetQuery{Query: "Jan"})
	pending = h.m.Snapshot().Context.PendingFilter
	require.NotNil(t, pending)
	assert.Equal(t, people.Filter{Query: "Jan", Employment: contractors}, *pending)
}

func TestEditDuringFetchCancelsStaleFetch(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	stale := h.svc.last()
	h.m.Send(SetQuery{Query: "Ann Henry"})

	assert.True(t, stale.cancelled.Load(), "leaving fetch must cancel the in-flight request")
	assert.Equal(t, StateDebounceFetch, h.m.State())
	assert.False(t, h.m.Snapshot().Context.Fetching)

	stale.resolve(defaultPeople)
	snap := h.m.Snapshot()
	assert.Equal(t, StateDebounceFetch, snap.State)
	assert.Empty(t, snap.Context.People)
	assert.Empty(t, snap.Context.Errors)

	h.elapse(t)
	fresh := h.svc.last()
	assert.Equal(t, "Ann Henry", fresh.filter.Query)

	// The stale outcome still must not land in the new fetch.
	stale.resolve(defaultPeople)
	stale.reject(failure)
	snap = h.m.Snapshot()
	assert.Equal(t, StateFetch, snap.State)
	assert.Empty(t, snap.Context.People)
	assert.Empty(t, snap.Context.Errors)

	fresh.resolve([]people.Person{annHenry})
	snap = h.m.Snapshot()
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, []people.Person{annHenry}, snap.Context.People)
	assertInvariants(t, snap)
}

func TestFailureThenEditDebounces(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().reject(failure)
	h.m.Send(SetEmployment{Employment: people.NewEmploymentSet(people.Employee)})
	assert.Equal(t, StateDebounceFetch, h.m.State())
	assert.Equal(t, []people.FetchError{failure}, h.m.Snapshot().Context.Errors, "errors survive until a success")

	h.elapse(t)
	h.svc.last().reject(failure)
	assert.Len(t, h.m.Snapshot().Context.Errors, 2)
}

func TestUnmatchedEventsAreIgnored(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		event Event
	}{
		{"retry while idle", func(h *harness) {}, Retry{}},
		{"query while idle", func(h *harness) {}, SetQuery{Query: "x"}},
		{"stray success while idle", func(h *harness) {}, FetchSucceeded{People: defaultPeople}},
		{"stray failure while idle", func(h *harness) {}, FetchFailed{Err: failure}},
		{"retry while fetching", func(h *harness) { h.m.Send(Start{}) }, Retry{}},
		{"start while fetching", func(h *harness) { h.m.Send(Start{}) }, Start{}},
		{"forged success while fetching", func(h *harness) { h.m.Send(Start{}) }, FetchSucceeded{People: defaultPeople}},
		{"start after success", func(h *harness) {
			h.m.Send(Start{})
			h.svc.last().resolve(defaultPeople)
		}, Start{}},
		{"retry after success", func(h *harness) {
			h.m.Send(Start{})
			h.svc.last().resolve(defaultPeople)
		}, Retry{}},
		{"start after failure", func(h *harness) {
			h.m.Send(Start{})
			h.svc.last().reject(failure)
		}, Start{}},
		{"retry while debouncing", func(h *harness) {
			h.m.Send(Start{})
			h.svc.last().resolve(defaultPeople)
			h.m.Send(SetQuery{Query: "a"})
		}, Retry{}},
		{"forged debounce timeout after success", func(h *harness) {
			h.m.Send(Start{})
			h.svc.last().resolve(defaultPeople)
		}, debounceElapsed{timer: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			before := h.m.Snapshot()
			calls := h.svc.count()

			assert.NotPanics(t, func() { h.m.Send(tt.event) })

			assert.Equal(t, before, h.m.Snapshot())
			assert.Equal(t, calls, h.svc.count())
		})
	}
}

func TestSwapNextFilterPanicsWithoutPendingFilter(t *testing.T) {
	m := New(&fakeService{})
	assert.PanicsWithValue(t, "machine: debounce elapsed without a pending filter", func() {
		swapNextFilter(m, debounceElapsed{})
	})
}

// syncService resolves inside Start, before returning the cancel func.
type syncService struct {
	found []people.Person
	err   error
}

func (s syncService) Start(_ people.Filter, deliver Deliver) CancelFunc {
	deliver(s.found, s.err)
	return func() {}
}

func TestSynchronousServiceIsQueuedNotReentrant(t *testing.T) {
	m := New(syncService{found: defaultPeople})
	defer m.Close()

	m.Send(Start{})

	snap := m.Snapshot()
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, defaultPeople, snap.Context.People)
	assertInvariants(t, snap)
}

func TestObserverSeesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	h := newHarness(t, WithObserver(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	}))

	h.m.Send(Start{})
	h.m.Send(Retry{}) // ignored, no notification
	h.svc.last().reject(failure)
	h.m.Send(Retry{})
	h.svc.last().resolve(defaultPeople)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateFetch, StateFailure, StateFetch, StateSuccess}, seen)
}

func TestCloseCancelsInFlightWork(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	call := h.svc.last()
	h.m.Close()

	assert.True(t, call.cancelled.Load())
	assert.Equal(t, StateIdle, h.m.State())
	assertInvariants(t, h.m.Snapshot())

	call.resolve(defaultPeople)
	h.m.Send(SetQuery{Query: "x"})
	assert.Equal(t, StateIdle, h.m.State())
	assert.Empty(t, h.m.Snapshot().Context.People)
}

func TestCloseStopsPendingDebounce(t *testing.T) {
	h := newHarness(t)

	h.m.Send(Start{})
	h.svc.last().resolve(defaultPeople)
	h.m.Send(SetQuery{Query: "x"})
	h.m.Close()

	assert.False(t, h.m.debounce.Pending())
	assert.Equal(t, StateIdle, h.m.State())
	assertInvariants(t, h.m.Snapshot())
	h.clock.Add(testDebounce)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, h.svc.count())
}

func TestInstancesAreIndependent(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)

	a.m.Send(Start{})
	a.svc.last().reject(failure)

	assert.Equal(t, StateFailure, a.m.State())
	assert.Equal(t, StateIdle, b.m.State())
	assert.Equal(t, 0, b.svc.count())
}

func TestSnapshotIsACopy(t *testing.T) {
	h := newHarness(t)
	h.m.Send(Start{})
	h.svc.last().resolve([]people.Person{annHenry})

	snap := h.m.Snapshot()
	snap.Context.People[0].Name = "Mutated"

	assert.Equal(t, "Ann Henry", h.m.Snapshot().Context.People[0].Name)
}

func TestMetricsCountFetchLifecycle(t *testing.T) {
	mm := metrics.NewMachine(nil)
	h := newHarness(t, WithMetrics(mm))

	h.m.Send(Start{})
	h.m.Send(SetQuery{Query: "Ann"})
	h.elapse(t)
	h.svc.last().reject(failure)

	assert.Equal(t, 2.0, testutil.ToFloat64(mm.FetchStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.FetchCancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.FetchFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.Transitions.WithLabelValues("fetch", "debounceFetch")))
}

func TestConcurrentSendersAreSerialized(t *testing.T) {
	h := newHarness(t)
	h.m.Send(Start{})
	h.svc.last().resolve(defaultPeople)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				h.m.Send(SetQuery{Query: "Ann"})
			} else {
				h.m.Send(SetEmployment{Employment: people.AllEmployments})
			}
			assertInvariants(t, h.m.Snapshot())
		}(i)
	}
	wg.Wait()

	snap := h.m.Snapshot()
	assert.Equal(t, StateDebounceFetch, snap.State)
	assert.Equal(t, 1, h.svc.count())
	h.elapse(t)
	assert.Equal(t, people.Filter{Query: "Ann", Employment: people.AllEmployments}, h.svc.last().filter)
}

func TestFetchLifecycleIsLogged(t *testing.T) {
	var buf bytes.Buffer
	debuglog.SetOutput(&buf, debuglog.LevelDebug)
	t.Cleanup(func() { debuglog.Setup(debuglog.LevelOff) })

	h := newHarness(t, WithName("directory"))
	h.m.Send(Start{})
	stale := h.svc.last()
	h.m.Send(SetQuery{Query: "a"})
	stale.resolve(defaultPeople)
	h.m.Send(Retry{})

	out := buf.String()
	assert.Contains(t, out, "[INFO] started with query=\"\" employment=employee,contractor [fetch=1 machine=directory]")
	assert.Contains(t, out, "[INFO] cancelled [fetch=1 machine=directory]")
	assert.Contains(t, out, "[DEBUG] dropped outcome after cancel [fetch=1 machine=directory]")
	assert.Contains(t, out, "idle --START--> fetch")
	assert.Contains(t, out, "ignored RETRY in debounceFetch")
}
