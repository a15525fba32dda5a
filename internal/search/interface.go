package search

import "github.com/pders01/roster/internal/people"

// Searcher answers people queries for the service layer.
type Searcher interface {
	// Search returns the people matching filter ordered by id. A limit of
	// zero or less means no limit.
	Search(filter people.Filter, limit int) ([]people.Person, error)
}

// Source is the read side of the people store.
type Source interface {
	GetAllPeople() ([]people.Person, error)
	GetPerson(id int) (people.Person, error)
}

// UpdateListener can be implemented by search engines that maintain
// an external index and want to be notified about data changes.
type UpdateListener interface {
	OnPeopleUpdated(list []people.Person)
}

// DeleteListener can be implemented to get notified when a person is deleted.
type DeleteListener interface {
	OnPersonDeleted(id int)
}

// DebugStatser provides lightweight stats for visibility/debugging.
// Implemented by engines that can report index doc counts, etc.
type DebugStatser interface {
	DocCount() (int, error)
}
