package mongoneo

import "go.mongodb.org/mongo-driver/bson"

const (
	fieldExclude = 0
	fieldInclude = 1
)

// fieldSelection is one Only/Exclude/Fields call, before merging.
type fieldSelection struct {
	fields     []string
	value      int
	onlyCalled bool
}

// fieldList accumulates projections across chained calls. The merge rules
// keep repeated Only/Exclude/Fields calls composable in any order: includes
// union with earlier Only calls, excludes subtract from includes, and an
// exclude list followed by an include list keeps only the not-yet-excluded
// fields. Fields named in alwaysInclude can never be projected away.
type fieldList struct {
	fields        map[string]struct{}
	value         int
	alwaysInclude []string
	onlyCalled    bool
}

func newFieldList(alwaysInclude ...string) *fieldList {
	return &fieldList{
		fields:        map[string]struct{}{},
		value:         fieldInclude,
		alwaysInclude: alwaysInclude,
	}
}

func (q *fieldList) merge(sel fieldSelection) {
	next := make(map[string]struct{}, len(sel.fields))
	for _, f := range sel.fields {
		next[f] = struct{}{}
	}

	switch {
	case len(q.fields) == 0:
		q.fields = next
		q.value = sel.value
	case q.value == fieldInclude && sel.value == fieldInclude:
		if q.onlyCalled {
			for f := range next {
				q.fields[f] = struct{}{}
			}
		} else {
			q.fields = next
		}
	case q.value == fieldExclude && sel.value == fieldExclude:
		for f := range next {
			q.fields[f] = struct{}{}
		}
	case q.value == fieldInclude && sel.value == fieldExclude:
		for f := range next {
			delete(q.fields, f)
		}
	default:
		// exclude so far, include now: keep the requested fields that were
		// not already excluded
		for f := range q.fields {
			delete(next, f)
		}
		q.fields = next
		q.value = fieldInclude
	}

	if len(q.alwaysInclude) > 0 {
		if q.value == fieldInclude {
			if len(q.fields) > 0 {
				for _, f := range q.alwaysInclude {
					q.fields[f] = struct{}{}
				}
			}
		} else {
			for _, f := range q.alwaysInclude {
				delete(q.fields, f)
			}
		}
	}
	if sel.onlyCalled {
		q.onlyCalled = true
	}
}

// asProjection renders the accumulated selection. An empty selection means
// no projection at all.
func (q *fieldList) asProjection() bson.M {
	if len(q.fields) == 0 {
		return nil
	}
	out := bson.M{}
	for f := range q.fields {
		out[f] = q.value
	}
	return out
}

func (q *fieldList) reset() {
	q.fields = map[string]struct{}{}
	q.value = fieldInclude
	q.onlyCalled = false
}
