// Package seed loads and exports people directories in TOML.
package seed

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	burntsushi "github.com/BurntSushi/toml"
	"github.com/pelletier/go-toml/v2"

	"github.com/pders01/roster/internal/debuglog"
	"github.com/pders01/roster/internal/people"
)

//go:embed people.toml
var peopleTOML []byte

// BuiltinSource is recorded as the seed source for the embedded directory.
const BuiltinSource = "builtin"

// Directory is the on-disk layout of a seed file.
type Directory struct {
	People []people.Person `toml:"people"`
}

// Default returns the embedded directory.
func Default() ([]people.Person, error) {
	list, err := Parse(peopleTOML)
	if err != nil {
		return nil, fmt.Errorf("parsing people.toml: %w", err)
	}
	return list, nil
}

// Load reads a seed file from path.
func Load(path string) ([]people.Person, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	list, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return list, nil
}

// Parse decodes and validates a TOML directory.
func Parse(data []byte) ([]people.Person, error) {
	var dir Directory
	if err := toml.Unmarshal(data, &dir); err != nil {
		return nil, err
	}
	if err := Validate(dir.People); err != nil {
		return nil, err
	}
	return dir.People, nil
}

// Validate checks ids are positive and unique, names are set and the
// employment kind is known.
func Validate(list []people.Person) error {
	seen := make(map[int]bool, len(list))
	for i, p := range list {
		if p.ID <= 0 {
			return fmt.Errorf("entry %d: id must be positive", i+1)
		}
		if seen[p.ID] {
			return fmt.Errorf("entry %d: duplicate id %d", i+1, p.ID)
		}
		seen[p.ID] = true
		if p.Name == "" {
			return fmt.Errorf("entry %d: name is required", i+1)
		}
		if _, err := people.ParseEmployment(string(p.Employment)); err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
	}
	return nil
}

// Export writes list to w in the same format Load reads.
func Export(w io.Writer, list []people.Person) error {
	if list == nil {
		list = []people.Person{}
	}
	enc := burntsushi.NewEncoder(w)
	enc.Indent = ""
	return enc.Encode(Directory{People: list})
}

// Store is the part of the people store seeding needs.
type Store interface {
	Count() (int, error)
	SavePeople(list []people.Person) error
	MarkSeeded(source string) error
}

// EnsureSeeded saves list into store only when the store is empty. It
// reports whether anything was written.
func EnsureSeeded(store Store, list []people.Person, source string) (bool, error) {
	n, err := store.Count()
	if err != nil {
		return false, fmt.Errorf("counting people: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := Into(store, list, source); err != nil {
		return false, err
	}
	return true, nil
}

// Into saves list into store and records source, replacing people that
// share an id.
func Into(store Store, list []people.Person, source string) error {
	if err := store.SavePeople(list); err != nil {
		return fmt.Errorf("saving people: %w", err)
	}
	if err := store.MarkSeeded(source); err != nil {
		return fmt.Errorf("recording seed: %w", err)
	}
	debuglog.Infof("seeded %d people from %s", len(list), source)
	return nil
}
