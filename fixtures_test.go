package mongoneo

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// The blog hierarchy used across the test suite: BlogPost is extensible,
// TextPost and LinkPost store alongside it in blog_posts.

type BlogPost struct {
	Document `bson:",inline"`
	Title    string   `bson:"title,omitempty"`
	Author   string   `bson:"author,omitempty"`
	Tags     []string `bson:"tags,omitempty"`
	Views    int      `bson:"views,omitempty"`
}

func (*BlogPost) Collection() string { return "blog_posts" }

func (*BlogPost) AllowInheritance() bool { return true }

type TextPost struct {
	BlogPost `bson:",inline"`
	Body     string `bson:"body,omitempty"`
}

type LinkPost struct {
	BlogPost `bson:",inline"`
	URL      string `bson:"url,omitempty"`
}

// WanderingPost declares its own collection; hierarchy roots win that fight.
type WanderingPost struct {
	BlogPost `bson:",inline"`
}

func (*WanderingPost) Collection() string { return "elsewhere" }

// Note is a standalone model that does not allow inheritance.
type Note struct {
	Document `bson:",inline"`
	Text     string `bson:"text,omitempty"`
}

func (*Note) Collection() string { return "notes" }

// Metric routes to a non-default connection alias.
type Metric struct {
	Document `bson:",inline"`
	Name     string  `bson:"name,omitempty"`
	Value    float64 `bson:"value,omitempty"`
}

func (*Metric) Collection() string { return "metrics" }

func (*Metric) Connection() string { return "analytics" }

// AuditedDoc records every lifecycle hook invocation.
type AuditedDoc struct {
	Document `bson:",inline"`
	Name     string `bson:"name,omitempty"`

	journal        []string
	failValidation bool
}

func (*AuditedDoc) Collection() string { return "audited" }

func (d *AuditedDoc) Validate() error {
	if d.failValidation {
		return errors.New("name required")
	}
	return nil
}

func (d *AuditedDoc) BeforeSave(ctx context.Context) error {
	d.journal = append(d.journal, "before-save")
	return nil
}

func (d *AuditedDoc) AfterSave(ctx context.Context) error {
	d.journal = append(d.journal, "after-save")
	return nil
}

func (d *AuditedDoc) BeforeDelete(ctx context.Context) error {
	d.journal = append(d.journal, "before-delete")
	return nil
}

func (d *AuditedDoc) AfterDelete(ctx context.Context) error {
	d.journal = append(d.journal, "after-delete")
	return nil
}

// valueModel implements Model on the value type, for registration failure
// tests only.
type valueModel struct{}

func (valueModel) Collection() string { return "values" }

// nowhereModel declares no collection at all.
type nowhereModel struct {
	Document `bson:",inline"`
}

func (*nowhereModel) Collection() string { return "" }

func resetRegistry() {
	registry = newModelRegistry()
}

func resetConnections() {
	connMu.Lock()
	connections = map[string]*Client{}
	connMu.Unlock()
}

// setupMemory wires a fresh registry and an in-memory default connection with
// the blog hierarchy registered.
func setupMemory(tb testing.TB) *MemoryDatabase {
	tb.Helper()
	resetRegistry()
	resetConnections()
	db, err := ConnectMemory(DefaultConnection)
	require.NoError(tb, err)
	registerBlogModels(tb)
	return db
}

func registerBlogModels(tb testing.TB) {
	tb.Helper()
	require.NoError(tb, Register(&BlogPost{}))
	require.NoError(tb, Register(&TextPost{}, ChildOf(&BlogPost{})))
	require.NoError(tb, Register(&LinkPost{}, ChildOf(&BlogPost{})))
}

// seedPosts saves one document of each shape, in a stable order.
func seedPosts(tb testing.TB, ctx context.Context) (*BlogPost, *TextPost, *LinkPost) {
	tb.Helper()
	base := &BlogPost{Title: "plain", Author: "ann", Tags: []string{"go", "odm"}, Views: 3}
	text := &TextPost{BlogPost: BlogPost{Title: "words", Author: "ben", Views: 10}, Body: "lorem ipsum"}
	link := &LinkPost{BlogPost: BlogPost{Title: "elsewhere", Author: "ann", Views: 7}, URL: "https://example.com"}
	require.NoError(tb, Save(ctx, base))
	require.NoError(tb, Save(ctx, text))
	require.NoError(tb, Save(ctx, link))
	return base, text, link
}
