package mongoneo

import (
	"context"
	"time"

	"github.com/oleiade/reflections"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func getIDField(m Model) (interface{}, error) {
	id, err := reflections.GetField(m, "ID")
	if err != nil {
		return nil, errors.Wrapf(ErrMissingIDField, "%T", m)
	}
	return id, nil
}

// ensureID generates an ObjectID for models saved without one. Non-ObjectID
// id fields pass through untouched; those are caller-managed.
func ensureID(m Model) (interface{}, error) {
	id, err := getIDField(m)
	if err != nil {
		return nil, err
	}
	oid, ok := id.(primitive.ObjectID)
	if !ok {
		return id, nil
	}
	if oid.IsZero() {
		oid = primitive.NewObjectID()
		if err := reflections.SetField(m, "ID", oid); err != nil {
			return nil, err
		}
	}
	return oid, nil
}

// touchTimestamps stamps UpdatedAt and, on first save, CreatedAt. The struct
// is stamped before marshaling so the instance matches the stored document.
func touchTimestamps(m Model) {
	now := storedNow()
	if v, err := reflections.GetField(m, "CreatedAt"); err == nil {
		if t, ok := v.(time.Time); ok && t.IsZero() {
			_ = reflections.SetField(m, "CreatedAt", now)
		}
	}
	if v, err := reflections.GetField(m, "UpdatedAt"); err == nil {
		if _, ok := v.(time.Time); ok {
			_ = reflections.SetField(m, "UpdatedAt", now)
		}
	}
}

// scoped constrains filter to def's discriminator scope.
func scoped(def *definition, filter bson.M) bson.M {
	out := make(bson.M, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	for k, v := range def.scopeFilter() {
		out[k] = v
	}
	return out
}

// decodeRaw materializes a stored document as its concrete registered type.
// The stored discriminator picks the type, never the queried one; a document
// saved as a subtype comes back as that subtype from an ancestor query. The
// queried definition only serves untagged legacy documents, and only when
// its type has no registered subtypes to confuse them with.
func decodeRaw(raw bson.Raw, queried *definition) (Model, error) {
	def := queried
	if v, err := raw.LookupErr(clsField); err == nil {
		cls, ok := v.StringValueOK()
		if !ok {
			return nil, &SchemaMismatchError{Collection: queried.collection, Discriminator: "(non-string)"}
		}
		d, ok := registry.lookupCls(cls)
		if !ok {
			return nil, &SchemaMismatchError{Collection: queried.collection, Discriminator: cls}
		}
		def = d
	} else if len(queried.descendants) > 0 {
		return nil, &SchemaMismatchError{Collection: queried.collection, Discriminator: ""}
	}

	m := def.newInstance()
	if err := bson.Unmarshal(raw, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Save validates m, runs its hooks and writes it as a full replace, creating
// the document on first save. The discriminator of m's registered type is
// stamped into the stored document and never onto the struct.
func Save(ctx context.Context, m Model) error {
	def, err := registry.lookup(m)
	if err != nil {
		return err
	}
	col, err := collectionFor(def)
	if err != nil {
		return err
	}

	if v, ok := m.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &ValidationError{Model: def.name, Err: err}
		}
	}
	if h, ok := m.(BeforeSaveHook); ok {
		if err := h.BeforeSave(ctx); err != nil {
			return err
		}
	}

	id, err := ensureID(m)
	if err != nil {
		return err
	}
	touchTimestamps(m)

	doc, err := ModelToBson(m)
	if err != nil {
		return err
	}
	doc[clsField] = def.cls

	if err := col.Upsert(ctx, id, doc); err != nil {
		return err
	}

	if h, ok := m.(AfterSaveHook); ok {
		return h.AfterSave(ctx)
	}
	return nil
}

// FindByID loads the document stored under id within m's type scope. The
// returned instance may be a subtype of m.
func FindByID(ctx context.Context, m Model, id interface{}) (Model, error) {
	def, err := registry.lookup(m)
	if err != nil {
		return nil, err
	}
	col, err := collectionFor(def)
	if err != nil {
		return nil, err
	}
	raw, err := col.FindOne(ctx, scoped(def, bson.M{"_id": id}), nil)
	if err != nil {
		return nil, err
	}
	return decodeRaw(raw, def)
}

// FindOne returns the first document matching filter within m's type scope.
func FindOne(ctx context.Context, m Model, filter bson.M) (Model, error) {
	def, err := registry.lookup(m)
	if err != nil {
		return nil, err
	}
	col, err := collectionFor(def)
	if err != nil {
		return nil, err
	}
	raw, err := col.FindOne(ctx, scoped(def, filter), nil)
	if err != nil {
		return nil, err
	}
	return decodeRaw(raw, def)
}

// Find returns every document matching filter within m's type scope, each
// decoded to its concrete type. A single undecodable document fails the
// whole read.
func Find(ctx context.Context, m Model, filter bson.M) ([]Model, error) {
	def, err := registry.lookup(m)
	if err != nil {
		return nil, err
	}
	col, err := collectionFor(def)
	if err != nil {
		return nil, err
	}
	cur, err := col.Find(ctx, scoped(def, filter), nil)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Model
	for cur.Next(ctx) {
		dm, err := decodeRaw(cur.Current(), def)
		if err != nil {
			return nil, err
		}
		out = append(out, dm)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindIter is Find as a streaming iterator.
func FindIter(ctx context.Context, m Model, filter bson.M) (*QueryIter, error) {
	def, err := registry.lookup(m)
	if err != nil {
		return nil, err
	}
	col, err := collectionFor(def)
	if err != nil {
		return nil, err
	}
	cur, err := col.Find(ctx, scoped(def, filter), nil)
	if err != nil {
		return nil, err
	}
	return &QueryIter{cur: cur, def: def}, nil
}

// Count counts documents matching filter within m's type scope.
func Count(ctx context.Context, m Model, filter bson.M) (int64, error) {
	def, err := registry.lookup(m)
	if err != nil {
		return 0, err
	}
	col, err := collectionFor(def)
	if err != nil {
		return 0, err
	}
	return col.Count(ctx, scoped(def, filter))
}

// DeleteOne removes m's stored document. The filter is scoped to m's type,
// so an instance cannot remove another type's document that shares its id.
func DeleteOne(ctx context.Context, m Model) error {
	def, err := registry.lookup(m)
	if err != nil {
		return err
	}
	col, err := collectionFor(def)
	if err != nil {
		return err
	}
	if h, ok := m.(BeforeDeleteHook); ok {
		if err := h.BeforeDelete(ctx); err != nil {
			return err
		}
	}
	id, err := getIDField(m)
	if err != nil {
		return err
	}
	deleted, err := col.DeleteOne(ctx, scoped(def, bson.M{"_id": id}))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return errors.Wrapf(ErrDocumentNotFound, "%s %v", def.name, id)
	}
	if h, ok := m.(AfterDeleteHook); ok {
		return h.AfterDelete(ctx)
	}
	return nil
}

// DeleteMany removes every document matching filter within m's type scope
// and reports how many went away.
func DeleteMany(ctx context.Context, m Model, filter bson.M) (int64, error) {
	def, err := registry.lookup(m)
	if err != nil {
		return 0, err
	}
	col, err := collectionFor(def)
	if err != nil {
		return 0, err
	}
	return col.DeleteMany(ctx, scoped(def, filter))
}

// UpdateOne applies updates to m's stored document through $set, then
// mirrors them onto the struct so the instance matches what was written.
func UpdateOne(ctx context.Context, m Model, updates Updates) error {
	def, err := registry.lookup(m)
	if err != nil {
		return err
	}
	col, err := collectionFor(def)
	if err != nil {
		return err
	}
	id, err := getIDField(m)
	if err != nil {
		return err
	}

	updates.touchUpdatedAt(m)

	matched, err := col.UpdateOne(ctx, scoped(def, bson.M{"_id": id}), bson.M{"$set": bson.M(updates)})
	if err != nil {
		return err
	}
	if matched == 0 {
		return errors.Wrapf(ErrDocumentNotFound, "%s %v", def.name, id)
	}

	currBson, err := ModelToBson(m)
	if err != nil {
		return err
	}
	ExtendBson(currBson, bson.M(updates))
	return BsonToModel(currBson, m)
}

// UpdateMany applies updates through $set to every document matching filter
// within m's type scope and reports how many matched.
func UpdateMany(ctx context.Context, m Model, filter bson.M, updates Updates) (int64, error) {
	def, err := registry.lookup(m)
	if err != nil {
		return 0, err
	}
	col, err := collectionFor(def)
	if err != nil {
		return 0, err
	}
	updates.touchUpdatedAt(m)
	return col.UpdateMany(ctx, scoped(def, filter), bson.M{"$set": bson.M(updates)})
}

// Reload refreshes m in place from its stored document.
func Reload(ctx context.Context, m Model) error {
	def, err := registry.lookup(m)
	if err != nil {
		return err
	}
	col, err := collectionFor(def)
	if err != nil {
		return err
	}
	id, err := getIDField(m)
	if err != nil {
		return err
	}
	raw, err := col.FindOne(ctx, scoped(def, bson.M{"_id": id}), nil)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, m)
}

// DropCollection drops the physical collection behind m's hierarchy.
func DropCollection(ctx context.Context, m Model) error {
	def, err := registry.lookup(m)
	if err != nil {
		return err
	}
	col, err := collectionFor(def)
	if err != nil {
		return err
	}
	return col.Drop(ctx)
}
