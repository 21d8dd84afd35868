package mongoneo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Database is the storage collaborator behind a named connection. Two
// implementations ship with the package: the driver-backed one used in
// production and an in-process one for tests.
type Database interface {
	Name() string
	Collection(name string) Collection
}

// Collection exposes the operations the mapper needs from a physical
// collection. Filters and documents are plain bson documents; the mapper
// treats field values as an opaque pass-through.
type Collection interface {
	Name() string

	// Upsert performs a full replace of the document stored under id,
	// inserting it when absent.
	Upsert(ctx context.Context, id interface{}, doc bson.M) error

	FindOne(ctx context.Context, filter bson.M, opts *FindOptions) (bson.Raw, error)
	Find(ctx context.Context, filter bson.M, opts *FindOptions) (Cursor, error)
	Count(ctx context.Context, filter bson.M) (int64, error)

	// UpdateOne and UpdateMany apply an update document ($set/$unset) and
	// report the number of matched documents.
	UpdateOne(ctx context.Context, filter bson.M, update bson.M) (int64, error)
	UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error)

	DeleteOne(ctx context.Context, filter bson.M) (int64, error)
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)

	EnsureIndexes(ctx context.Context, specs []IndexSpec) error
	Drop(ctx context.Context) error
}

// Cursor is a minimal read cursor over raw documents.
type Cursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Close(ctx context.Context) error
	Err() error
}

// FindOptions carries the query modifiers the mapper supports.
type FindOptions struct {
	Sort       bson.D
	Skip       int64
	Limit      int64
	Projection bson.M
}
