package mongoneo

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Expression is a node in a query filter tree.
type Expression interface {
	toFilter() bson.M
}

type fieldExpr struct {
	field string
	op    string
	value interface{}
}

func (e fieldExpr) toFilter() bson.M {
	if e.op == "$eq" {
		return bson.M{e.field: e.value}
	}
	return bson.M{e.field: bson.M{e.op: e.value}}
}

func Eq(field string, v interface{}) Expression { return fieldExpr{field, "$eq", v} }

func Ne(field string, v interface{}) Expression { return fieldExpr{field, "$ne", v} }

func Gt(field string, v interface{}) Expression { return fieldExpr{field, "$gt", v} }

func Gte(field string, v interface{}) Expression { return fieldExpr{field, "$gte", v} }

func Lt(field string, v interface{}) Expression { return fieldExpr{field, "$lt", v} }

func Lte(field string, v interface{}) Expression { return fieldExpr{field, "$lte", v} }

func In(field string, vs ...interface{}) Expression { return fieldExpr{field, "$in", vs} }

func Nin(field string, vs ...interface{}) Expression { return fieldExpr{field, "$nin", vs} }

func Exists(field string, exists bool) Expression { return fieldExpr{field, "$exists", exists} }

// Raw wraps a hand-written filter document into an Expression.
func Raw(filter bson.M) Expression { return rawExpr{filter: filter} }

type rawExpr struct {
	filter bson.M
}

func (e rawExpr) toFilter() bson.M { return e.filter }

type logicalExpr struct {
	op       string
	children []Expression
}

func (e logicalExpr) toFilter() bson.M {
	subs := make([]bson.M, 0, len(e.children))
	for _, c := range e.children {
		subs = append(subs, c.toFilter())
	}
	return bson.M{e.op: subs}
}

// And groups expressions under $and. Nested Ands collapse into a single
// level, so composed fragments never build towers of one-child groups.
func And(exprs ...Expression) Expression { return newLogical("$and", exprs) }

// Or groups expressions under $or, collapsing nested Ors the same way.
func Or(exprs ...Expression) Expression { return newLogical("$or", exprs) }

func newLogical(op string, exprs []Expression) Expression {
	flat := make([]Expression, 0, len(exprs))
	for _, e := range exprs {
		if l, ok := e.(logicalExpr); ok && l.op == op {
			flat = append(flat, l.children...)
			continue
		}
		flat = append(flat, e)
	}
	switch len(flat) {
	case 0:
		return rawExpr{filter: bson.M{}}
	case 1:
		return flat[0]
	default:
		return logicalExpr{op: op, children: flat}
	}
}

// combineFilters merges expression filters into one document, spilling into
// $and when two expressions constrain the same key.
func combineFilters(exprs []Expression) bson.M {
	merged := bson.M{}
	var overflow []bson.M
	for _, e := range exprs {
		f := e.toFilter()
		conflict := false
		for k := range f {
			if _, ok := merged[k]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			overflow = append(overflow, f)
			continue
		}
		for k, v := range f {
			merged[k] = v
		}
	}
	if len(overflow) == 0 {
		return merged
	}
	all := make([]bson.M, 0, len(overflow)+1)
	if len(merged) > 0 {
		all = append(all, merged)
	}
	all = append(all, overflow...)
	return bson.M{"$and": all}
}

// Query is a fluent query against one model type. The discriminator scope of
// the queried type is always part of the executed filter, so matches cannot
// leak across sibling types sharing the collection.
type Query struct {
	model  Model
	def    *definition
	err    error
	exprs  []Expression
	sort   bson.D
	skip   int64
	limit  int64
	fields *fieldList
}

// NewQuery starts a query scoped to m's registered type.
func NewQuery(m Model) *Query {
	def, err := registry.lookup(m)
	return &Query{
		model:  m,
		def:    def,
		err:    err,
		fields: newFieldList(clsField),
	}
}

// Where constrains the query; multiple calls and multiple expressions all
// AND together.
func (q *Query) Where(exprs ...Expression) *Query {
	q.exprs = append(q.exprs, exprs...)
	return q
}

// Filter merges a raw filter document into the query.
func (q *Query) Filter(filter bson.M) *Query {
	if len(filter) > 0 {
		q.exprs = append(q.exprs, Raw(filter))
	}
	return q
}

// Sort orders results by the named fields; a "-" prefix sorts descending.
func (q *Query) Sort(fields ...string) *Query {
	for _, f := range fields {
		dir := 1
		switch {
		case strings.HasPrefix(f, "-"):
			dir = -1
			f = strings.TrimPrefix(f, "-")
		case strings.HasPrefix(f, "+"):
			f = strings.TrimPrefix(f, "+")
		}
		q.sort = append(q.sort, bson.E{Key: f, Value: dir})
	}
	return q
}

func (q *Query) Skip(n int64) *Query {
	q.skip = n
	return q
}

func (q *Query) Limit(n int64) *Query {
	q.limit = n
	return q
}

// Only restricts loaded fields to the named ones. Repeated calls union.
func (q *Query) Only(fields ...string) *Query {
	q.fields.merge(fieldSelection{fields: fields, value: fieldInclude, onlyCalled: true})
	return q
}

// Exclude drops the named fields from loaded documents.
func (q *Query) Exclude(fields ...string) *Query {
	q.fields.merge(fieldSelection{fields: fields, value: fieldExclude})
	return q
}

// Fields merges a mixed projection spec, field name to 1 (include) or 0
// (exclude). Excludes apply before includes.
func (q *Query) Fields(spec bson.M) *Query {
	var include, exclude []string
	for f, v := range spec {
		if projIncluded(v) {
			include = append(include, f)
		} else {
			exclude = append(exclude, f)
		}
	}
	if len(exclude) > 0 {
		q.fields.merge(fieldSelection{fields: exclude, value: fieldExclude})
	}
	if len(include) > 0 {
		q.fields.merge(fieldSelection{fields: include, value: fieldInclude})
	}
	return q
}

// AllFields clears any projection accumulated so far.
func (q *Query) AllFields() *Query {
	q.fields.reset()
	return q
}

func (q *Query) filter() bson.M {
	f := combineFilters(q.exprs)
	for k, v := range q.def.scopeFilter() {
		f[k] = v
	}
	return f
}

func (q *Query) findOptions() *FindOptions {
	return &FindOptions{
		Sort:       q.sort,
		Skip:       q.skip,
		Limit:      q.limit,
		Projection: q.fields.asProjection(),
	}
}

func (q *Query) collection() (Collection, error) {
	if q.err != nil {
		return nil, q.err
	}
	return collectionFor(q.def)
}

// All runs the query and decodes every match to its concrete type.
func (q *Query) All(ctx context.Context) ([]Model, error) {
	col, err := q.collection()
	if err != nil {
		return nil, err
	}
	cur, err := col.Find(ctx, q.filter(), q.findOptions())
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Model
	for cur.Next(ctx) {
		m, err := decodeRaw(cur.Current(), q.def)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// One returns the first match or ErrDocumentNotFound.
func (q *Query) One(ctx context.Context) (Model, error) {
	col, err := q.collection()
	if err != nil {
		return nil, err
	}
	raw, err := col.FindOne(ctx, q.filter(), q.findOptions())
	if err != nil {
		return nil, err
	}
	return decodeRaw(raw, q.def)
}

func (q *Query) Count(ctx context.Context) (int64, error) {
	col, err := q.collection()
	if err != nil {
		return 0, err
	}
	return col.Count(ctx, q.filter())
}

// Delete removes every match within the query's scope and reports how many.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	col, err := q.collection()
	if err != nil {
		return 0, err
	}
	return col.DeleteMany(ctx, q.filter())
}

// Update applies updates through $set to every match and reports how many
// documents matched.
func (q *Query) Update(ctx context.Context, updates Updates) (int64, error) {
	col, err := q.collection()
	if err != nil {
		return 0, err
	}
	updates.touchUpdatedAt(q.model)
	return col.UpdateMany(ctx, q.filter(), bson.M{"$set": bson.M(updates)})
}

// Iter runs the query and streams results through a QueryIter.
func (q *Query) Iter(ctx context.Context) (*QueryIter, error) {
	col, err := q.collection()
	if err != nil {
		return nil, err
	}
	cur, err := col.Find(ctx, q.filter(), q.findOptions())
	if err != nil {
		return nil, err
	}
	return &QueryIter{cur: cur, def: q.def}, nil
}
