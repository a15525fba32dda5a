package search

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/roster/internal/debuglog"
	"github.com/pders01/roster/internal/people"
)

// BleveEngine keeps a Bleve index of the people store.
type BleveEngine struct {
	source Source
	idx    bleve.Index

	closeOnce sync.Once
	closeErr  error
}

// NewBleveEngine creates or opens a Bleve index at indexPath and indexes current data.
func NewBleveEngine(source Source, indexPath string) (*BleveEngine, error) {
	var idx bleve.Index
	var err error

	if mkErr := os.MkdirAll(filepath.Dir(indexPath), 0o755); mkErr != nil {
		debuglog.Warnf("creating index directory: %v", mkErr)
	}

	idx, err = bleve.Open(indexPath)
	if err != nil {
		idx, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, err
		}
	}

	be := &BleveEngine{source: source, idx: idx}
	if err := be.reindexAll(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return be, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	name := bleve.NewTextFieldMapping()
	name.Analyzer = standard.Name
	name.Store = true
	name.IncludeTermVectors = true

	// The whole lowercased name as one term, for substring wildcards.
	nameExact := bleve.NewTextFieldMapping()
	nameExact.Analyzer = keyword.Name
	nameExact.Store = false

	job := bleve.NewTextFieldMapping()
	job.Analyzer = standard.Name
	job.Store = true

	country := bleve.NewTextFieldMapping()
	country.Analyzer = standard.Name
	country.Store = true

	employment := bleve.NewTextFieldMapping()
	employment.Analyzer = keyword.Name
	employment.Store = true

	dm.AddFieldMappingsAt("name", name)
	dm.AddFieldMappingsAt("name_exact", nameExact)
	dm.AddFieldMappingsAt("job_title", job)
	dm.AddFieldMappingsAt("country", country)
	dm.AddFieldMappingsAt("employment", employment)

	im.DefaultMapping = dm
	return im
}

func docFor(p people.Person) map[string]any {
	return map[string]any{
		"name":       p.Name,
		"name_exact": strings.ToLower(p.Name),
		"job_title":  p.JobTitle,
		"country":    p.Country,
		"employment": string(p.Employment),
	}
}

func docID(id int) string { return strconv.Itoa(id) }

func (b *BleveEngine) reindexAll() error {
	all, err := b.source.GetAllPeople()
	if err != nil {
		return err
	}

	batch := b.idx.NewBatch()
	for _, p := range all {
		if err := batch.Index(docID(p.ID), docFor(p)); err != nil {
			return err
		}
	}
	return b.idx.Batch(batch)
}

// buildQuery narrows candidates in the index. Results are checked against
// filter.Matches afterwards, so the query may over-match but never under-match.
func buildQuery(filter people.Filter) bleveQuery.Query {
	var kinds []bleveQuery.Query
	for _, k := range filter.Employment.Kinds() {
		tq := bleve.NewTermQuery(string(k))
		tq.SetField("employment")
		kinds = append(kinds, tq)
	}
	if len(kinds) == 0 {
		return nil
	}
	clauses := []bleveQuery.Query{bleve.NewDisjunctionQuery(kinds...)}

	if q := strings.ToLower(filter.Query); q != "" {
		wq := bleve.NewWildcardQuery("*" + q + "*")
		wq.SetField("name_exact")
		clauses = append(clauses, wq)
	}
	return bleve.NewConjunctionQuery(clauses...)
}

func (b *BleveEngine) Search(filter people.Filter, limit int) ([]people.Person, error) {
	q := buildQuery(filter)
	if q == nil {
		return []people.Person{}, nil
	}

	total, err := b.DocCount()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []people.Person{}, nil
	}

	res, err := b.idx.Search(bleve.NewSearchRequestOptions(q, total, 0, false))
	if err != nil {
		return nil, err
	}

	out := make([]people.Person, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.Atoi(h.ID)
		if err != nil {
			continue
		}
		p, err := b.source.GetPerson(id)
		if err != nil {
			// Index is ahead of the store; skip.
			debuglog.Debugf("search hit %s missing from store: %v", h.ID, err)
			continue
		}
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OnPeopleUpdated indexes the provided people.
func (b *BleveEngine) OnPeopleUpdated(list []people.Person) {
	batch := b.idx.NewBatch()
	for _, p := range list {
		if err := batch.Index(docID(p.ID), docFor(p)); err != nil {
			debuglog.Errorf("indexing person %d: %v", p.ID, err)
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		debuglog.Errorf("indexing %d people: %v", len(list), err)
	}
}

func (b *BleveEngine) OnPersonDeleted(id int) {
	if err := b.idx.Delete(docID(id)); err != nil {
		debuglog.Errorf("removing person %d from index: %v", id, err)
	}
}

// DocCount reports total documents in the index.
func (b *BleveEngine) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	return int(n), err
}

// Close closes the index. Later calls return the first result.
func (b *BleveEngine) Close() error {
	b.closeOnce.Do(func() { b.closeErr = b.idx.Close() })
	return b.closeErr
}
