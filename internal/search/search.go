// Package search is the derived in-memory search index. It holds the
// flattened view of every indexed record and answers simple and
// structured queries without touching the metadata store. The indexing
// engine and the ingestion reconciler feed it; it never reads the store
// itself.
package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skao/dataproduct-api/pkg/types"
)

const defaultCacheSize = 128

// accessGroupKey is the flattened field gating record visibility.
// Records without it are public.
const accessGroupKey = "context.access_group"

// coreFields are always filterable, even on an empty index.
var coreFields = map[string]struct{}{
	"uid":              {},
	"execution_block":  {},
	"date_created":     {},
	"dataproduct_file": {},
	"metadata_file":    {},
	"data_store":       {},
}

// Engine indexes flattened records by uid and keeps a refcount of every
// observed key, which doubles as the filter-field allow-list. A small
// LRU caches filter responses; any mutation bumps the generation and
// strands old entries.
type Engine struct {
	mu      sync.RWMutex
	records map[uuid.UUID]types.FlattenedRecord
	fields  map[string]int

	generation int64
	cache      *lru.Cache[string, cachedResult]
}

type cachedResult struct {
	records []types.FlattenedRecord
	total   int
}

// New returns an empty search engine.
func New() *Engine {
	cache, _ := lru.New[string, cachedResult](defaultCacheSize)
	return &Engine{
		records: make(map[uuid.UUID]types.FlattenedRecord),
		fields:  make(map[string]int),
		cache:   cache,
	}
}

// Upsert replaces the indexed view of a record.
func (e *Engine) Upsert(rec *types.DataProductMetadata) {
	flat := rec.FlattenedFields
	if flat == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.records[rec.UID]; ok {
		e.dropFields(old)
	}
	e.records[rec.UID] = flat
	for k := range flat {
		e.fields[k]++
	}
	e.generation++
}

// Remove drops records swept by a re-index cycle.
func (e *Engine) Remove(uids []uuid.UUID) {
	if len(uids) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, uid := range uids {
		if old, ok := e.records[uid]; ok {
			e.dropFields(old)
			delete(e.records, uid)
		}
	}
	e.generation++
}

// dropFields decrements refcounts for a departing record. Caller holds
// the write lock.
func (e *Engine) dropFields(flat types.FlattenedRecord) {
	for k := range flat {
		if e.fields[k] <= 1 {
			delete(e.fields, k)
		} else {
			e.fields[k]--
		}
	}
}

// Count reports the number of indexed records.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records)
}

// SimpleSearch matches a date window on date_created plus exact
// key:value pairs. Malformed pairs are ignored, matching the lenient
// behavior of the dashboard's search box.
func (e *Engine) SimpleSearch(q types.SimpleSearchQuery, accessGroups []string) []types.FlattenedRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []types.FlattenedRecord
	for _, rec := range e.records {
		if !accessible(rec, accessGroups) {
			continue
		}
		if !inDateWindow(rec, q.StartDate, q.EndDate) {
			continue
		}
		if !matchesPairs(rec, q.KeyValuePairs) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out, types.Sort{Field: "date_created", Direction: types.SortDesc})
	return out
}

// Filter applies a structured filter model with sorting and pagination.
// total is the matched count before pagination.
func (e *Engine) Filter(model types.FilterModel, sortBy types.Sort, page types.Page, accessGroups []string) (records []types.FlattenedRecord, total int, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, item := range model.Items {
		if err := e.checkField(item.Field); err != nil {
			return nil, 0, err
		}
	}
	if sortBy.Field == "" {
		sortBy = types.Sort{Field: "date_created", Direction: types.SortDesc}
	} else if err := e.checkField(sortBy.Field); err != nil {
		return nil, 0, err
	}

	key := e.cacheKey(model, sortBy, page, accessGroups)
	if cached, ok := e.cache.Get(key); ok {
		return cached.records, cached.total, nil
	}

	matched := e.matchAll(model, accessGroups)
	total = len(matched)
	sortRecords(matched, sortBy)
	matched = paginate(matched, page)

	e.cache.Add(key, cachedResult{records: matched, total: total})
	return matched, total, nil
}

// matchAll evaluates the AND item list. Caller holds at least the read
// lock.
func (e *Engine) matchAll(model types.FilterModel, accessGroups []string) []types.FlattenedRecord {
	out := make([]types.FlattenedRecord, 0)
	for _, rec := range e.records {
		if !accessible(rec, accessGroups) {
			continue
		}
		ok := true
		for _, item := range model.Items {
			if !matchItem(rec, item) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

// checkField enforces the allow-list. Filter values are compared in
// memory, never interpolated into SQL, so this is a correctness check
// rather than an injection defense, but it also means hostile field
// names are rejected before they reach logs or cache keys.
func (e *Engine) checkField(field string) error {
	if _, ok := coreFields[field]; ok {
		return nil
	}
	if _, ok := e.fields[field]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", types.ErrInvalidFilterField, field)
}

// Fields lists the current allow-list, sorted, for API discovery.
func (e *Engine) Fields() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.fields)+len(coreFields))
	seen := make(map[string]struct{}, len(e.fields)+len(coreFields))
	for k := range coreFields {
		out = append(out, k)
		seen[k] = struct{}{}
	}
	for k := range e.fields {
		if _, dup := seen[k]; !dup {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) cacheKey(model types.FilterModel, sortBy types.Sort, page types.Page, accessGroups []string) string {
	payload, _ := json.Marshal(struct {
		Gen    int64
		Model  types.FilterModel
		Sort   types.Sort
		Page   types.Page
		Groups []string
	}{e.generation, model, sortBy, page, accessGroups})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func accessible(rec types.FlattenedRecord, accessGroups []string) bool {
	v, ok := rec[accessGroupKey]
	if !ok {
		return true
	}
	group := stringify(v)
	for _, g := range accessGroups {
		if g == group {
			return true
		}
	}
	return false
}

func inDateWindow(rec types.FlattenedRecord, start, end string) bool {
	date := stringify(rec["date_created"])
	if start != "" && date < start {
		return false
	}
	if end != "" && date > end {
		return false
	}
	return true
}

func matchesPairs(rec types.FlattenedRecord, pairs []string) bool {
	for _, pair := range pairs {
		key, want, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		v, present := rec[strings.TrimSpace(key)]
		if !present || stringify(v) != strings.TrimSpace(want) {
			return false
		}
	}
	return true
}

func matchItem(rec types.FlattenedRecord, item types.FilterItem) bool {
	raw, ok := rec[item.Field]
	if !ok {
		return false
	}
	have := stringify(raw)

	switch item.Operator {
	case types.OpEquals:
		return have == item.Value
	case types.OpContains:
		return strings.Contains(strings.ToLower(have), strings.ToLower(item.Value))
	case types.OpStartsWith:
		return strings.HasPrefix(have, item.Value)
	case types.OpEndsWith:
		return strings.HasSuffix(have, item.Value)
	case types.OpGreaterThan:
		return compareValues(raw, item.Value) > 0
	case types.OpLessThan:
		return compareValues(raw, item.Value) < 0
	default:
		return false
	}
}

// compareValues orders a record value against a filter value: numeric
// when both parse, then date, then plain string order.
func compareValues(raw any, filter string) int {
	have := stringify(raw)

	hf, herr := toFloat(raw)
	ff, ferr := strconv.ParseFloat(filter, 64)
	if herr == nil && ferr == nil {
		switch {
		case hf < ff:
			return -1
		case hf > ff:
			return 1
		default:
			return 0
		}
	}

	if ht, err1 := time.Parse("2006-01-02", have); err1 == nil {
		if ft, err2 := time.Parse("2006-01-02", filter); err2 == nil {
			switch {
			case ht.Before(ft):
				return -1
			case ht.After(ft):
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(have, filter)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return strconv.ParseFloat(fmt.Sprint(v), 64)
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func sortRecords(recs []types.FlattenedRecord, by types.Sort) {
	sort.SliceStable(recs, func(i, j int) bool {
		c := compareRecordValues(recs[i][by.Field], recs[j][by.Field])
		if c == 0 {
			// uid tiebreak keeps pagination deterministic
			return stringify(recs[i]["uid"]) < stringify(recs[j]["uid"])
		}
		if by.Direction == types.SortDesc {
			return c > 0
		}
		return c < 0
	})
}

func compareRecordValues(a, b any) int {
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func paginate(recs []types.FlattenedRecord, page types.Page) []types.FlattenedRecord {
	if page.Size <= 0 {
		return recs
	}
	if page.Number < 0 {
		// The grid never sends negative pages, but the endpoint is open.
		page.Number = 0
	}
	start := page.Number * page.Size
	if start >= len(recs) {
		return []types.FlattenedRecord{}
	}
	end := start + page.Size
	if end > len(recs) {
		end = len(recs)
	}
	return recs[start:end]
}
