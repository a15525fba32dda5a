package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pders01/roster/internal/people"
)

var (
	peopleBucket = []byte("people")
	metaBucket   = []byte("metadata")
)

var ErrNotFound = errors.New("person not found")

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// DefaultTimeout bounds how long NewStore waits for the database file lock.
const DefaultTimeout = 1 * time.Second

type Option func(*bolt.Options)

// WithTimeout changes how long NewStore waits for another process to
// release the database.
func WithTimeout(d time.Duration) Option {
	return func(o *bolt.Options) { o.Timeout = d }
}

func NewStore(dbPath string, opts ...Option) (*Store, error) {
	boltOpts := &bolt.Options{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(boltOpts)
	}
	db, err := bolt.Open(dbPath, 0o600, boltOpts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{peopleBucket, metaBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SavePeople inserts or replaces people by id in a single transaction.
func (s *Store) SavePeople(list []people.Person) error {
	now := s.now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(peopleBucket)
		for _, p := range list {
			if p.ID <= 0 {
				return fmt.Errorf("person %q: id must be positive", p.Name)
			}
			data, err := json.Marshal(record{Person: p, UpdatedAt: now})
			if err != nil {
				return err
			}
			if err := b.Put(idKey(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetPerson(id int) (people.Person, error) {
	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(peopleBucket).Get(idKey(id))
		if data == nil {
			return fmt.Errorf("person %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec.Person, err
}

// GetAllPeople returns every stored person ordered by id.
func (s *Store) GetAllPeople() ([]people.Person, error) {
	var list []people.Person
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(peopleBucket).ForEach(func(_ []byte, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			list = append(list, rec.Person)
			return nil
		})
	})
	return list, err
}

func (s *Store) DeletePerson(id int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(peopleBucket)
		if b.Get(idKey(id)) == nil {
			return fmt.Errorf("person %d: %w", id, ErrNotFound)
		}
		return b.Delete(idKey(id))
	})
}

func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(peopleBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// MarkSeeded records when and from where the store was last seeded.
func (s *Store) MarkSeeded(source string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		stamp, err := s.now().UTC().MarshalText()
		if err != nil {
			return err
		}
		if err := b.Put(seededAtKey, stamp); err != nil {
			return err
		}
		return b.Put(seedSourceKey, []byte(source))
	})
}

// SeedInfo returns the values written by MarkSeeded. ok is false if the
// store was never seeded.
func (s *Store) SeedInfo() (at time.Time, source string, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		stamp := b.Get(seededAtKey)
		if stamp == nil {
			return nil
		}
		if err := at.UnmarshalText(stamp); err != nil {
			return err
		}
		source = string(b.Get(seedSourceKey))
		ok = true
		return nil
	})
	return at, source, ok, err
}
