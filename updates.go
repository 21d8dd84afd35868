package mongoneo

import (
	"time"

	"github.com/oleiade/reflections"
	"go.mongodb.org/mongo-driver/bson"
)

// Updates is a flat field-to-value document applied through $set.
type Updates bson.M

func (u Updates) touchUpdatedAt(m Model) {
	if has, _ := reflections.HasField(m, "UpdatedAt"); has {
		u["updated_at"] = storedNow()
	}
}

func ExtendBson(dst bson.M, src bson.M) {
	for k, v := range src {
		dst[k] = v
	}
}

func ModelToBson(m Model) (bson.M, error) {
	b, err := bson.Marshal(m)
	if err != nil {
		return nil, err
	}

	r := bson.M{}
	return r, bson.Unmarshal(b, &r)
}

func ModelToUpdates(m Model) (Updates, error) {
	bm, err := ModelToBson(m)
	if err != nil {
		return nil, err
	}
	return Updates(bm), nil
}

func BsonToModel(b bson.M, m Model) error {
	d, err := bson.Marshal(b)
	if err != nil {
		return err
	}
	return bson.Unmarshal(d, m)
}

// storedNow returns the current time at the precision bson keeps, so values
// written to the database compare equal to the ones left on the struct.
func storedNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
