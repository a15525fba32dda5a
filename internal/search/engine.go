package search

import (
	"sort"

	"github.com/pders01/roster/internal/people"
)

// Engine scans the whole store on every search. It is the default and is
// fine for directories of a few thousand people.
type Engine struct {
	source Source
}

func NewEngine(source Source) *Engine {
	return &Engine{source: source}
}

func (e *Engine) Search(filter people.Filter, limit int) ([]people.Person, error) {
	all, err := e.source.GetAllPeople()
	if err != nil {
		return nil, err
	}
	return filterPeople(all, filter, limit), nil
}

// filterPeople keeps the people matching filter, ordered by id.
func filterPeople(list []people.Person, filter people.Filter, limit int) []people.Person {
	out := make([]people.Person, 0, len(list))
	for _, p := range list {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
