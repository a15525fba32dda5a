package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/people"
	"github.com/pders01/roster/internal/search"
)

var (
	annHenry       = people.Person{ID: 1, Name: "Ann Henry", JobTitle: "Product manager", Country: "Germany", Salary: 120000, Currency: "EUR", Employment: people.Employee}
	vittoriaJanson = people.Person{ID: 2, Name: "Vittoria Janson", JobTitle: "Pianist", Country: "Italy", Salary: 70000, Currency: "EUR", Employment: people.Contractor}
)

type staticSource []people.Person

func (s staticSource) GetAllPeople() ([]people.Person, error) { return s, nil }
func (s staticSource) GetPerson(int) (people.Person, error)   { return people.Person{}, nil }

func newSearcher() search.Searcher {
	return search.NewEngine(staticSource{annHenry, vittoriaJanson})
}

func TestFilterQueryRoundTrip(t *testing.T) {
	filters := []people.Filter{
		people.DefaultFilter(),
		{Query: "Ann Henry", Employment: people.NewEmploymentSet(people.Contractor)},
		{Query: "a&b=c", Employment: people.NoEmployments},
	}
	for _, f := range filters {
		got, err := DecodeFilter(EncodeFilter(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	got, err := DecodeFilter(nil)
	require.NoError(t, err)
	assert.Equal(t, people.DefaultFilter(), got, "missing employment selects everyone")

	_, err = DecodeFilter(map[string][]string{"employment": {"intern"}})
	assert.Error(t, err)
}

func TestLocalFetchWaitsForLatency(t *testing.T) {
	clk := clock.NewMock()
	local := NewLocal(newSearcher(), WithClock(clk), WithLatency(DefaultLatency))

	type result struct {
		found []people.Person
		err   error
	}
	done := make(chan result, 1)
	go func() {
		found, err := local.Fetch(context.Background(), people.DefaultFilter().WithQuery("ann"))
		done <- result{found, err}
	}()

	select {
	case <-done:
		t.Fatal("fetch returned before the latency elapsed")
	case <-time.After(10 * time.Millisecond):
	}

	var got result
	require.Eventually(t, func() bool {
		clk.Add(DefaultLatency)
		select {
		case got = <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, got.err)
	assert.Equal(t, []people.Person{annHenry}, got.found)
}

func TestLocalFetchHonoursCancel(t *testing.T) {
	local := NewLocal(newSearcher(), WithLatency(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := local.Fetch(ctx, people.DefaultFilter())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalDrivesMachine(t *testing.T) {
	local := NewLocal(newSearcher(), WithLatency(0), WithLimit(1))
	m := machine.New(local)
	defer m.Close()

	m.Send(machine.Start{})
	require.Eventually(t, func() bool { return m.State() == machine.StateSuccess }, time.Second, time.Millisecond)
	assert.Equal(t, []people.Person{annHenry}, m.Snapshot().Context.People)
}

func TestClientFetch(t *testing.T) {
	var gotQuery, gotEmployment, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PeoplePath, r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		gotEmployment = r.URL.Query().Get("employment")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(PeopleResponse{People: []people.Person{vittoriaJanson}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "", 0)
	filter := people.Filter{Query: "Vitt", Employment: people.NewEmploymentSet(people.Contractor)}
	found, err := client.Fetch(context.Background(), filter)

	require.NoError(t, err)
	assert.Equal(t, []people.Person{vittoriaJanson}, found)
	assert.Equal(t, "Vitt", gotQuery)
	assert.Equal(t, "contractor", gotEmployment)
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestClientFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "Failure"})
			},
			want: "Failure",
		},
		{
			name: "bare status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: "HTTP error: 500",
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "rate limit exceeded"})
			},
			want: "rate limit exceeded (retry after 1s)",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
			want: "decoding response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, "test-agent", time.Second).Fetch(context.Background(), people.DefaultFilter())
			require.Error(t, err)
			var fe people.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Contains(t, fe.Message, tt.want)
		})
	}
}

func TestClientFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", time.Second).Fetch(context.Background(), people.DefaultFilter())
	var fe people.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "fetching people")
}

func TestClientCancelSuppressesDelivery(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	delivered := make(chan struct{}, 1)
	cancel := NewClient(srv.URL, "", 5*time.Second).Start(people.DefaultFilter(), func([]people.Person, error) {
		delivered <- struct{}{}
	})
	cancel()

	select {
	case <-delivered:
		t.Fatal("cancelled request delivered")
	case <-time.After(50 * time.Millisecond):
	}
}
