package mongoneo

import (
	"bytes"
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryDatabase is an in-process Database used for tests and local
// development. Documents round-trip through the bson codec on every write, so
// values observed by readers have the same shapes the driver would produce.
type MemoryDatabase struct {
	name string
	mu   sync.Mutex
	cols map[string]*MemoryCollection
}

func NewMemoryDatabase(name string) *MemoryDatabase {
	return &MemoryDatabase{
		name: name,
		cols: make(map[string]*MemoryCollection),
	}
}

func (db *MemoryDatabase) Name() string {
	return db.name
}

func (db *MemoryDatabase) Collection(name string) Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	col, ok := db.cols[name]
	if !ok {
		col = &MemoryCollection{name: name}
		db.cols[name] = col
	}
	return col
}

type memDoc struct {
	id  interface{}
	doc bson.M
}

type MemoryCollection struct {
	name    string
	mu      sync.RWMutex
	docs    []memDoc
	indexes []IndexSpec
}

func (c *MemoryCollection) Name() string {
	return c.name
}

func (c *MemoryCollection) Upsert(ctx context.Context, id interface{}, doc bson.M) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, err := normalizeDoc(doc)
	if err != nil {
		return err
	}
	key := normalizeValue(id)
	// the upsert key is the document identity, like a replace keyed by _id
	normalized["_id"] = key

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.docs {
		if valuesEqual(c.docs[i].id, key) {
			c.docs[i].doc = normalized
			return nil
		}
	}
	c.docs = append(c.docs, memDoc{id: key, doc: normalized})
	return nil
}

func (c *MemoryCollection) Find(ctx context.Context, filter bson.M, opts *FindOptions) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	matched := make([]bson.M, 0)
	for _, d := range c.docs {
		if matchFilter(d.doc, filter) {
			matched = append(matched, d.doc)
		}
	}
	c.mu.RUnlock()

	if opts != nil && len(opts.Sort) > 0 {
		sortDocs(matched, opts.Sort)
	}
	if opts != nil && opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts != nil && opts.Limit > 0 && opts.Limit < int64(len(matched)) {
		matched = matched[:opts.Limit]
	}

	raws := make([]bson.Raw, 0, len(matched))
	for _, d := range matched {
		if opts != nil && len(opts.Projection) > 0 {
			d = applyProjection(d, opts.Projection)
		}
		raw, err := bson.Marshal(d)
		if err != nil {
			return nil, errors.Wrap(err, "memory: encode document")
		}
		raws = append(raws, raw)
	}
	return &memCursor{raws: raws, pos: -1}, nil
}

func (c *MemoryCollection) FindOne(ctx context.Context, filter bson.M, opts *FindOptions) (bson.Raw, error) {
	limited := FindOptions{Limit: 1}
	if opts != nil {
		limited = *opts
		limited.Limit = 1
	}
	cur, err := c.Find(ctx, filter, &limited)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, ErrDocumentNotFound
	}
	return cur.Current(), nil
}

func (c *MemoryCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, d := range c.docs {
		if matchFilter(d.doc, filter) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	return c.update(ctx, filter, update, true)
}

func (c *MemoryCollection) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	return c.update(ctx, filter, update, false)
}

func (c *MemoryCollection) update(ctx context.Context, filter bson.M, update bson.M, single bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched int64
	for i := range c.docs {
		if !matchFilter(c.docs[i].doc, filter) {
			continue
		}
		matched++
		applied, err := applyUpdate(c.docs[i].doc, update)
		if err != nil {
			return matched, err
		}
		normalized, err := normalizeDoc(applied)
		if err != nil {
			return matched, err
		}
		c.docs[i].doc = normalized
		if single {
			break
		}
	}
	return matched, nil
}

func (c *MemoryCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	return c.delete(ctx, filter, true)
}

func (c *MemoryCollection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	return c.delete(ctx, filter, false)
}

func (c *MemoryCollection) delete(ctx context.Context, filter bson.M, single bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var deleted int64
	kept := c.docs[:0]
	for _, d := range c.docs {
		if matchFilter(d.doc, filter) && (!single || deleted == 0) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return deleted, nil
}

func (c *MemoryCollection) EnsureIndexes(ctx context.Context, specs []IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes = append(c.indexes, specs...)
	return nil
}

// Indexes returns the specs recorded by EnsureIndexes, for inspection in
// tests.
func (c *MemoryCollection) Indexes() []IndexSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]IndexSpec, len(c.indexes))
	copy(out, c.indexes)
	return out
}

func (c *MemoryCollection) Drop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = nil
	c.indexes = nil
	return nil
}

type memCursor struct {
	raws []bson.Raw
	pos  int
	err  error
}

func (cur *memCursor) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		cur.err = err
		return false
	}
	if cur.pos+1 >= len(cur.raws) {
		return false
	}
	cur.pos++
	return true
}

func (cur *memCursor) Current() bson.Raw {
	return cur.raws[cur.pos]
}

func (cur *memCursor) Close(ctx context.Context) error {
	cur.raws = nil
	return nil
}

func (cur *memCursor) Err() error {
	return cur.err
}

// normalizeDoc round-trips a document through the bson codec so stored values
// carry the exact types a driver read would produce (int32/int64, bson.A,
// primitive.DateTime, ...).
func normalizeDoc(doc bson.M) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "memory: encode document")
	}
	out := bson.M{}
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "memory: decode document")
	}
	return out, nil
}

func normalizeValue(v interface{}) interface{} {
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return v
	}
	m := bson.M{}
	if err := bson.Unmarshal(raw, &m); err != nil {
		return v
	}
	return m["v"]
}

func matchFilter(doc bson.M, filter bson.M) bool {
	for k, cond := range filter {
		switch k {
		case "$and":
			for _, sub := range toFilterList(cond) {
				if !matchFilter(doc, sub) {
					return false
				}
			}
		case "$or":
			anyMatch := false
			for _, sub := range toFilterList(cond) {
				if matchFilter(doc, sub) {
					anyMatch = true
					break
				}
			}
			if !anyMatch {
				return false
			}
		default:
			if !matchField(doc, k, cond) {
				return false
			}
		}
	}
	return true
}

func toFilterList(v interface{}) []bson.M {
	var out []bson.M
	appendFilter := func(el interface{}) {
		switch f := el.(type) {
		case bson.M:
			out = append(out, f)
		case map[string]interface{}:
			out = append(out, bson.M(f))
		}
	}
	switch list := v.(type) {
	case []bson.M:
		for _, el := range list {
			out = append(out, el)
		}
	case bson.A:
		for _, el := range list {
			appendFilter(el)
		}
	case []interface{}:
		for _, el := range list {
			appendFilter(el)
		}
	}
	return out
}

func matchField(doc bson.M, path string, cond interface{}) bool {
	actual, found := lookupPath(doc, path)

	if ops, ok := operatorDoc(cond); ok {
		for op, arg := range ops {
			if !evalOperator(op, actual, found, arg) {
				return false
			}
		}
		return true
	}
	return found && valuesEqual(actual, cond)
}

// operatorDoc reports whether cond is a document made solely of $-operators.
func operatorDoc(cond interface{}) (bson.M, bool) {
	var m bson.M
	switch c := cond.(type) {
	case bson.M:
		m = c
	case map[string]interface{}:
		m = bson.M(c)
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func evalOperator(op string, actual interface{}, found bool, arg interface{}) bool {
	switch op {
	case "$eq":
		return found && valuesEqual(actual, arg)
	case "$ne":
		// matches documents where the field is absent, like the server does
		return !found || !valuesEqual(actual, arg)
	case "$gt", "$gte", "$lt", "$lte":
		if !found {
			return false
		}
		cmp, ok := compareBSONValues(actual, arg)
		if !ok {
			return false
		}
		switch op {
		case "$gt":
			return cmp > 0
		case "$gte":
			return cmp >= 0
		case "$lt":
			return cmp < 0
		default:
			return cmp <= 0
		}
	case "$in":
		return found && inList(actual, arg)
	case "$nin":
		return !found || !inList(actual, arg)
	case "$exists":
		want, _ := normalizeValue(arg).(bool)
		return found == want
	default:
		return false
	}
}

func inList(actual interface{}, arg interface{}) bool {
	rv := reflect.ValueOf(arg)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(actual, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func valuesEqual(actual, expected interface{}) bool {
	if cmp, ok := compareBSONValues(actual, expected); ok {
		return cmp == 0
	}
	// equality against an array matches any element, like the server does
	if arr, ok := actual.(bson.A); ok {
		for _, el := range arr {
			if cmp, ok := compareBSONValues(el, expected); ok && cmp == 0 {
				return true
			}
		}
	}
	return reflect.DeepEqual(normalizeValue(actual), normalizeValue(expected))
}

// compareBSONValues orders two scalar values, coercing across the numeric,
// time and identifier representations the codec produces. ok is false when
// the values are not comparable scalars.
func compareBSONValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		switch {
		case ta.Before(tb):
			return -1, true
		case ta.After(tb):
			return 1, true
		default:
			return 0, true
		}
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ba == bb:
			return 0, true
		case bb:
			return -1, true
		default:
			return 1, true
		}
	}
	if oa, ok := a.(primitive.ObjectID); ok {
		ob, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(oa[:], ob[:]), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	default:
		return time.Time{}, false
	}
}

func lookupPath(doc bson.M, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		var m bson.M
		switch c := cur.(type) {
		case bson.M:
			m = c
		case map[string]interface{}:
			m = bson.M(c)
		default:
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func sortDocs(docs []bson.M, by bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range by {
			av, aok := lookupPath(docs[i], s.Key)
			bv, bok := lookupPath(docs[j], s.Key)
			var cmp int
			switch {
			case !aok && !bok:
				cmp = 0
			case !aok:
				cmp = -1
			case !bok:
				cmp = 1
			default:
				var ok bool
				cmp, ok = compareBSONValues(av, bv)
				if !ok {
					cmp = 0
				}
			}
			if dir, ok := toFloat(s.Value); ok && dir < 0 {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

// applyProjection implements top-level field projection. Presence of any
// included field switches to include mode, mirroring server behavior.
func applyProjection(doc bson.M, proj bson.M) bson.M {
	include := false
	for k, v := range proj {
		if k == "_id" {
			continue
		}
		if projIncluded(v) {
			include = true
			break
		}
	}

	out := bson.M{}
	if include {
		for k, v := range proj {
			if !projIncluded(v) {
				continue
			}
			if val, ok := doc[k]; ok {
				out[k] = val
			}
		}
		if idProj, ok := proj["_id"]; !ok || projIncluded(idProj) {
			if id, ok := doc["_id"]; ok {
				out["_id"] = id
			}
		}
		return out
	}
	for k, v := range doc {
		if pv, ok := proj[k]; ok && !projIncluded(pv) {
			continue
		}
		out[k] = v
	}
	return out
}

func projIncluded(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return false
}

// applyUpdate evaluates $set and $unset against a deep copy of doc. Stored
// documents are never written in place; readers holding references to them
// always see a consistent snapshot.
func applyUpdate(doc bson.M, update bson.M) (bson.M, error) {
	out, err := normalizeDoc(doc)
	if err != nil {
		return nil, err
	}
	if set, ok := updateSection(update, "$set"); ok {
		for k, v := range set {
			setPath(out, k, v)
		}
	}
	if unset, ok := updateSection(update, "$unset"); ok {
		for k := range unset {
			unsetPath(out, k)
		}
	}
	return out, nil
}

func updateSection(update bson.M, op string) (bson.M, bool) {
	v, ok := update[op]
	if !ok {
		return nil, false
	}
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]interface{}:
		return bson.M(m), true
	case Updates:
		return bson.M(m), true
	default:
		return nil, false
	}
}

func setPath(doc bson.M, path string, v interface{}) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = v
			return
		}
		next, ok := cur[part].(bson.M)
		if !ok {
			if m, isMap := cur[part].(map[string]interface{}); isMap {
				next = bson.M(m)
			} else {
				next = bson.M{}
			}
			cur[part] = next
		}
		cur = next
	}
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts {
		if i == len(parts)-1 {
			delete(cur, part)
			return
		}
		next, ok := cur[part].(bson.M)
		if !ok {
			return
		}
		cur = next
	}
}
