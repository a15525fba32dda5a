package machine

import "github.com/pders01/roster/internal/people"

type State string

const (
	StateIdle          State = "idle"
	StateFetch         State = "fetch"
	StateDebounceFetch State = "debounceFetch"
	StateSuccess       State = "success"
	StateFailure       State = "failure"
)

type EventType string

const (
	EventStart          EventType = "START"
	EventSetQuery       EventType = "SET_QUERY"
	EventSetEmployment  EventType = "SET_EMPLOYMENT"
	EventFetchSucceeded EventType = "SUCCESS"
	EventFetchFailed    EventType = "FAILURE"
	EventRetry          EventType = "RETRY"

	eventDebounceElapsed EventType = "DEBOUNCE_ELAPSED"
	eventClose           EventType = "CLOSE"
)

// Event is anything the machine can be sent. Only the types in this
// package have transitions; anything else is ignored.
type Event interface {
	Type() EventType
}

// Start kicks off the first fetch.
type Start struct{}

// SetQuery edits the name query of the next fetch.
type SetQuery struct {
	Query string
}

// SetEmployment replaces the employment set of the next fetch.
type SetEmployment struct {
	Employment people.EmploymentSet
}

// FetchSucceeded and FetchFailed are produced by the machine's own fetch
// invocations. Values built elsewhere carry no fetch token and are ignored.
type FetchSucceeded struct {
	People []people.Person
	fetch  uint64
}

type FetchFailed struct {
	Err   people.FetchError
	fetch uint64
}

// Retry re-fetches with the last committed filter after a failure.
type Retry struct{}

type debounceElapsed struct {
	timer uint64
}

type closeEvent struct{}

func (Start) Type() EventType           { return EventStart }
func (SetQuery) Type() EventType        { return EventSetQuery }
func (SetEmployment) Type() EventType   { return EventSetEmployment }
func (FetchSucceeded) Type() EventType  { return EventFetchSucceeded }
func (FetchFailed) Type() EventType     { return EventFetchFailed }
func (Retry) Type() EventType           { return EventRetry }
func (debounceElapsed) Type() EventType { return eventDebounceElapsed }
func (closeEvent) Type() EventType      { return eventClose }

// Context is everything the machine knows besides its state.
type Context struct {
	// ActiveFilter is the filter of the in-flight or most recent fetch.
	ActiveFilter people.Filter
	// PendingFilter holds uncommitted edits while debouncing.
	PendingFilter *people.Filter
	Fetching      bool
	// People is the result of the last successful fetch.
	People []people.Person
	// Errors has one entry per failure since the last success.
	Errors []people.FetchError
}

func InitialContext() Context {
	return Context{
		ActiveFilter: people.DefaultFilter(),
		People:       []people.Person{},
		Errors:       []people.FetchError{},
	}
}

func (c Context) clone() Context {
	out := c
	if c.PendingFilter != nil {
		f := *c.PendingFilter
		out.PendingFilter = &f
	}
	out.People = append([]people.Person{}, c.People...)
	out.Errors = append([]people.FetchError{}, c.Errors...)
	return out
}

// Snapshot is a read-only copy of the machine at one point in time.
type Snapshot struct {
	State   State
	Context Context
}

// Status projects the accumulated errors onto a service health label.
func (s Snapshot) Status() people.Status {
	return people.ServiceStatus(s.Context.Errors)
}
