package mongoneo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoDatabase adapts a driver database to the Database interface.
type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Name() string {
	return d.db.Name()
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{col: d.db.Collection(name)}
}

type mongoCollection struct {
	col *mongo.Collection
}

func (c *mongoCollection) Name() string {
	return c.col.Name()
}

func (c *mongoCollection) Upsert(ctx context.Context, id interface{}, doc bson.M) error {
	opts := options.Replace().SetUpsert(true)
	_, err := c.col.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts)
	return err
}

func (c *mongoCollection) FindOne(ctx context.Context, filter bson.M, fo *FindOptions) (bson.Raw, error) {
	opts := options.FindOne()
	if fo != nil {
		if len(fo.Sort) > 0 {
			opts.SetSort(fo.Sort)
		}
		if fo.Skip > 0 {
			opts.SetSkip(fo.Skip)
		}
		if len(fo.Projection) > 0 {
			opts.SetProjection(fo.Projection)
		}
	}
	raw, err := c.col.FindOne(ctx, filter, opts).Raw()
	if err == mongo.ErrNoDocuments {
		return nil, ErrDocumentNotFound
	}
	return raw, err
}

func (c *mongoCollection) Find(ctx context.Context, filter bson.M, fo *FindOptions) (Cursor, error) {
	opts := options.Find()
	if fo != nil {
		if len(fo.Sort) > 0 {
			opts.SetSort(fo.Sort)
		}
		if fo.Skip > 0 {
			opts.SetSkip(fo.Skip)
		}
		if fo.Limit > 0 {
			opts.SetLimit(fo.Limit)
		}
		if len(fo.Projection) > 0 {
			opts.SetProjection(fo.Projection)
		}
	}
	cur, err := c.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cur: cur}, nil
}

func (c *mongoCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	return c.col.CountDocuments(ctx, filter)
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	res, err := c.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	res, err := c.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.col.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) EnsureIndexes(ctx context.Context, specs []IndexSpec) error {
	if len(specs) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, 0, len(specs))
	for _, spec := range specs {
		models = append(models, spec.model())
	}
	_, err := c.col.Indexes().CreateMany(ctx, models)
	return err
}

func (c *mongoCollection) Drop(ctx context.Context) error {
	return c.col.Drop(ctx)
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c *mongoCursor) Current() bson.Raw {
	return c.cur.Current
}

func (c *mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func (c *mongoCursor) Err() error {
	return c.cur.Err()
}
