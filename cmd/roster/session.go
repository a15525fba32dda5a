package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pders01/roster/internal/config"
	"github.com/pders01/roster/internal/debuglog"
	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/metrics"
	"github.com/pders01/roster/internal/people"
	"github.com/pders01/roster/internal/seed"
	"github.com/pders01/roster/internal/search"
	"github.com/pders01/roster/internal/service"
	"github.com/pders01/roster/internal/storage"
	"github.com/pders01/roster/internal/validation"
)

// session holds what a command opened and must close.
type session struct {
	cfg      *config.Config
	store    *storage.Store
	searcher search.Searcher
	closers  []func() error
}

// openSession opens the database and search engine when withStore is set.
// An empty database is seeded with the built-in directory first.
func openSession(cfg *config.Config, withStore bool) (*session, error) {
	rt := &session{cfg: cfg}
	if !withStore {
		return rt, nil
	}

	v := validation.NewFilePathValidator()
	dbPath, err := v.ValidateFile(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	if _, err := v.ValidateDirectory(filepath.Dir(dbPath), true); err != nil {
		return nil, fmt.Errorf("invalid database directory: %w", err)
	}

	store, err := storage.NewStore(dbPath, storage.WithTimeout(cfg.Database.Timeout))
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	list, err := seed.Default()
	if err != nil {
		rt.Close()
		return nil, err
	}
	if _, err := seed.EnsureSeeded(store, list, seed.BuiltinSource); err != nil {
		rt.Close()
		return nil, err
	}

	if err := rt.openSearcher(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *session) openSearcher() error {
	switch rt.cfg.Search.Engine {
	case config.SearchEngineBleve:
		engine, err := search.NewBleveEngine(rt.store, rt.cfg.Database.SearchIndex)
		if err != nil {
			return fmt.Errorf("opening search index: %w", err)
		}
		rt.searcher = engine
		rt.closers = append(rt.closers, engine.Close)
		if n, err := engine.DocCount(); err == nil {
			debuglog.Infof("search index ready with %d people", n)
		}
	default:
		rt.searcher = search.NewEngine(rt.store)
	}
	return nil
}

// peopleUpdated tells the search engine about people written to the store.
func (rt *session) peopleUpdated(list []people.Person) {
	if l, ok := rt.searcher.(search.UpdateListener); ok {
		l.OnPeopleUpdated(list)
	}
}

// service builds the people service the controller fetches from.
func (rt *session) service() (machine.Service, error) {
	if rt.cfg.Service.Mode == config.ServiceModeHTTP {
		base, err := validation.NewServiceURLValidator().ValidateAndNormalize(rt.cfg.Service.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid service.base_url: %w", err)
		}
		return service.NewClient(base, rt.cfg.Service.UserAgent, rt.cfg.Service.HTTPTimeout), nil
	}
	if rt.searcher == nil {
		return nil, errors.New("local service needs an open database")
	}
	return service.NewLocal(rt.searcher,
		service.WithLatency(rt.cfg.Service.Latency),
		service.WithLimit(rt.cfg.Search.Limit),
	), nil
}

func (rt *session) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func newMachine(cfg *config.Config, svc machine.Service, reg prometheus.Registerer, observers ...func(machine.Snapshot)) *machine.Machine {
	opts := []machine.Option{
		machine.WithDebounce(cfg.Machine.Debounce),
		machine.WithMetrics(metrics.NewMachine(reg)),
	}
	for _, fn := range observers {
		opts = append(opts, machine.WithObserver(fn))
	}
	return machine.New(svc, opts...)
}
