package mongoneo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is the embeddable base for mapped types. Embed it inline so its
// fields land at the top level of the stored document:
//
//	type BlogPost struct {
//	    mongoneo.Document `bson:",inline"`
//	    Title string      `bson:"title"`
//	}
type Document struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	CreatedAt time.Time          `bson:"created_at,omitempty"`
	UpdatedAt time.Time          `bson:"updated_at,omitempty"`
}

func (d *Document) GetID() primitive.ObjectID {
	return d.ID
}

func (d *Document) SetID(id primitive.ObjectID) {
	d.ID = id
}

// IsNew reports whether the document has been assigned a storage identifier
// yet. Identifiers are generated on first save.
func (d *Document) IsNew() bool {
	return d.ID.IsZero()
}
