package people

import (
	"errors"
	"fmt"
	"strings"
)

type Employment string

const (
	Employee   Employment = "employee"
	Contractor Employment = "contractor"
)

// ParseEmployment parses a single employment name, case-insensitively.
func ParseEmployment(s string) (Employment, error) {
	switch Employment(strings.ToLower(strings.TrimSpace(s))) {
	case Employee:
		return Employee, nil
	case Contractor:
		return Contractor, nil
	default:
		return "", fmt.Errorf("unknown employment %q", s)
	}
}

// EmploymentSet is an immutable set of employment kinds.
type EmploymentSet uint8

const (
	employeeBit EmploymentSet = 1 << iota
	contractorBit
)

const (
	NoEmployments  EmploymentSet = 0
	AllEmployments               = employeeBit | contractorBit
)

func bitFor(e Employment) EmploymentSet {
	switch e {
	case Employee:
		return employeeBit
	case Contractor:
		return contractorBit
	default:
		return 0
	}
}

// NewEmploymentSet builds a set from the given kinds. Unknown kinds are dropped.
func NewEmploymentSet(kinds ...Employment) EmploymentSet {
	var s EmploymentSet
	for _, k := range kinds {
		s |= bitFor(k)
	}
	return s
}

// ParseEmploymentSet parses a comma separated list such as "employee,contractor".
// An empty string yields the empty set.
func ParseEmploymentSet(s string) (EmploymentSet, error) {
	var set EmploymentSet
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		e, err := ParseEmployment(part)
		if err != nil {
			return NoEmployments, err
		}
		set |= bitFor(e)
	}
	return set, nil
}

func (s EmploymentSet) Contains(e Employment) bool {
	b := bitFor(e)
	return b != 0 && s&b == b
}

// With returns a copy of s with e added or removed.
func (s EmploymentSet) With(e Employment, present bool) EmploymentSet {
	if present {
		return s | bitFor(e)
	}
	return s &^ bitFor(e)
}

// Kinds lists the members in a stable order.
func (s EmploymentSet) Kinds() []Employment {
	kinds := make([]Employment, 0, 2)
	for _, e := range []Employment{Employee, Contractor} {
		if s.Contains(e) {
			kinds = append(kinds, e)
		}
	}
	return kinds
}

func (s EmploymentSet) String() string {
	kinds := s.Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// Person is a single directory entry returned by the people service.
type Person struct {
	ID         int        `json:"id" toml:"id"`
	Name       string     `json:"name" toml:"name"`
	JobTitle   string     `json:"job_title" toml:"job_title"`
	Country    string     `json:"country" toml:"country"`
	Salary     int        `json:"salary" toml:"salary"`
	Currency   string     `json:"currency" toml:"currency"`
	Employment Employment `json:"employment" toml:"employment"`
}

// Filter selects people by name and employment. It is a value; edits
// produce a new Filter.
type Filter struct {
	Query      string
	Employment EmploymentSet
}

func DefaultFilter() Filter {
	return Filter{Query: "", Employment: AllEmployments}
}

func (f Filter) WithQuery(q string) Filter {
	f.Query = q
	return f
}

func (f Filter) WithEmployment(set EmploymentSet) Filter {
	f.Employment = set
	return f
}

// Matches reports whether p passes the filter: the employment must be in
// the set and the name must contain the query, ignoring case.
func (f Filter) Matches(p Person) bool {
	if !f.Employment.Contains(p.Employment) {
		return false
	}
	return strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Query))
}

func (f Filter) String() string {
	return fmt.Sprintf("query=%q employment=%s", f.Query, f.Employment)
}

// FetchError is the normalized form of any failed fetch.
type FetchError struct {
	Message string `json:"message"`
}

func (e FetchError) Error() string {
	return e.Message
}

// AsFetchError normalizes err into a FetchError.
func AsFetchError(err error) FetchError {
	if err == nil {
		return FetchError{}
	}
	var fe FetchError
	if errors.As(err, &fe) {
		return fe
	}
	var fep *FetchError
	if errors.As(err, &fep) && fep != nil {
		return *fep
	}
	return FetchError{Message: err.Error()}
}
