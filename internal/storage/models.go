package storage

import (
	"encoding/binary"
	"time"

	"github.com/pders01/roster/internal/people"
)

// record is the stored form of a person.
type record struct {
	people.Person
	UpdatedAt time.Time `json:"updated_at"`
}

// Big-endian ids keep the bucket ordered by id.
func idKey(id int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

var (
	seededAtKey   = []byte("seeded_at")
	seedSourceKey = []byte("seed_source")
)
