package mongoneo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func Test_SaveAssignsIdentity(t *testing.T) {
	db := setupMemory(t)
	ctx := context.Background()

	post := &BlogPost{Title: "first"}
	require.True(t, post.IsNew())

	require.NoError(t, Save(ctx, post))

	assert.False(t, post.IsNew())
	assert.False(t, post.CreatedAt.IsZero())
	assert.Equal(t, post.CreatedAt, post.UpdatedAt)

	col := db.Collection("blog_posts").(*MemoryCollection)
	raw, err := col.FindOne(ctx, bson.M{"_id": post.ID}, nil)
	require.NoError(t, err)
	cls, err := raw.LookupErr("_cls")
	require.NoError(t, err)
	assert.Equal(t, "BlogPost", cls.StringValue())
}

func Test_SaveStampsSubtypeDiscriminator(t *testing.T) {
	db := setupMemory(t)
	ctx := context.Background()

	post := &TextPost{BlogPost: BlogPost{Title: "sub"}, Body: "text"}
	require.NoError(t, Save(ctx, post))

	col := db.Collection("blog_posts").(*MemoryCollection)
	raw, err := col.FindOne(ctx, bson.M{"_id": post.ID}, nil)
	require.NoError(t, err)
	cls, err := raw.LookupErr("_cls")
	require.NoError(t, err)
	assert.Equal(t, "BlogPost.TextPost", cls.StringValue())
}

func Test_SaveTwiceKeepsOneDocument(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()

	post := &TextPost{BlogPost: BlogPost{Title: "once"}, Body: "body"}
	require.NoError(t, Save(ctx, post))
	id := post.ID
	created := post.CreatedAt

	require.NoError(t, Save(ctx, post))

	n, err := Count(ctx, &BlogPost{}, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, id, post.ID)
	assert.Equal(t, created, post.CreatedAt)
	assert.False(t, post.UpdatedAt.Before(created))
}

func Test_SaveReplacesPriorFields(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()

	post := &BlogPost{Title: "draft", Tags: []string{"tmp"}}
	require.NoError(t, Save(ctx, post))

	post.Tags = nil
	post.Title = "final"
	require.NoError(t, Save(ctx, post))

	got, err := FindByID(ctx, &BlogPost{}, post.ID)
	require.NoError(t, err)
	reloaded := got.(*BlogPost)
	assert.Equal(t, "final", reloaded.Title)
	assert.Nil(t, reloaded.Tags)
}

func Test_CountsAcrossHierarchy(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	seedPosts(t, ctx)

	for _, tc := range []struct {
		model Model
		want  int64
	}{
		{&BlogPost{}, 3},
		{&TextPost{}, 1},
		{&LinkPost{}, 1},
	} {
		n, err := Count(ctx, tc.model, bson.M{})
		require.NoError(t, err)
		assert.Equal(t, tc.want, n, "%T", tc.model)
	}
}

func Test_FindDecodesConcreteTypes(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	base, text, link := seedPosts(t, ctx)

	models, err := Find(ctx, &BlogPost{}, bson.M{})
	require.NoError(t, err)
	require.Len(t, models, 3)

	gotBase, ok := models[0].(*BlogPost)
	require.True(t, ok)
	assert.Equal(t, base.ID, gotBase.ID)
	assert.Equal(t, base.Title, gotBase.Title)
	assert.Equal(t, base.Tags, gotBase.Tags)

	gotText, ok := models[1].(*TextPost)
	require.True(t, ok)
	assert.Equal(t, text.Body, gotText.Body)

	gotLink, ok := models[2].(*LinkPost)
	require.True(t, ok)
	assert.Equal(t, link.URL, gotLink.URL)
}

func Test_LeafQueryMatchesExactType(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	_, text, _ := seedPosts(t, ctx)

	models, err := Find(ctx, &TextPost{}, bson.M{})
	require.NoError(t, err)
	require.Len(t, models, 1)

	got, ok := models[0].(*TextPost)
	require.True(t, ok)
	assert.Equal(t, text.ID, got.ID)
}

func Test_FindByID(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	_, text, _ := seedPosts(t, ctx)

	t.Run("ancestor scope yields the stored subtype", func(t *testing.T) {
		got, err := FindByID(ctx, &BlogPost{}, text.ID)
		require.NoError(t, err)
		tp, ok := got.(*TextPost)
		require.True(t, ok)
		assert.Equal(t, text.ID, tp.ID)
		assert.Equal(t, "lorem ipsum", tp.Body)
		assert.Equal(t, text.CreatedAt, tp.CreatedAt)
	})

	t.Run("sibling scope cannot reach it", func(t *testing.T) {
		_, err := FindByID(ctx, &LinkPost{}, text.ID)
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}

func Test_FindOne(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	seedPosts(t, ctx)

	got, err := FindOne(ctx, &BlogPost{}, bson.M{"author": "ben"})
	require.NoError(t, err)
	_, ok := got.(*TextPost)
	assert.True(t, ok)

	_, err = FindOne(ctx, &BlogPost{}, bson.M{"author": "nobody"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func Test_DeleteOneLeavesSiblingsAlone(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	_, text, _ := seedPosts(t, ctx)

	require.NoError(t, DeleteOne(ctx, text))

	for _, tc := range []struct {
		model Model
		want  int64
	}{
		{&BlogPost{}, 2},
		{&TextPost{}, 0},
		{&LinkPost{}, 1},
	} {
		n, err := Count(ctx, tc.model, bson.M{})
		require.NoError(t, err)
		assert.Equal(t, tc.want, n, "%T", tc.model)
	}

	assert.ErrorIs(t, DeleteOne(ctx, text), ErrDocumentNotFound)
}

func Test_DeleteManyScoped(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	seedPosts(t, ctx)

	n, err := DeleteMany(ctx, &TextPost{}, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = DeleteMany(ctx, &BlogPost{}, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func Test_UpdateOneSyncsInstance(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	_, text, _ := seedPosts(t, ctx)
	before := text.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, UpdateOne(ctx, text, Updates{"title": "revised"}))

	assert.Equal(t, "revised", text.Title)
	assert.True(t, text.UpdatedAt.After(before))

	got, err := FindByID(ctx, &TextPost{}, text.ID)
	require.NoError(t, err)
	tp := got.(*TextPost)
	assert.Equal(t, "revised", tp.Title)
	assert.Equal(t, "lorem ipsum", tp.Body)
	assert.Equal(t, text.UpdatedAt, tp.UpdatedAt)
}

func Test_UpdateOneUnsavedInstance(t *testing.T) {
	setupMemory(t)
	err := UpdateOne(context.Background(), &TextPost{}, Updates{"title": "x"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func Test_UpdateManyWithinScope(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	_, text, _ := seedPosts(t, ctx)

	matched, err := UpdateMany(ctx, &BlogPost{}, bson.M{"author": "ann"}, Updates{"views": 100})
	require.NoError(t, err)
	assert.Equal(t, int64(2), matched)

	got, err := FindByID(ctx, &TextPost{}, text.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.(*TextPost).Views)
}

func Test_Reload(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	_, text, _ := seedPosts(t, ctx)

	matched, err := UpdateMany(ctx, &TextPost{}, bson.M{"_id": text.ID}, Updates{"title": "fresh"})
	require.NoError(t, err)
	require.Equal(t, int64(1), matched)

	stale := &TextPost{}
	stale.ID = text.ID
	require.NoError(t, Reload(ctx, stale))
	assert.Equal(t, "fresh", stale.Title)
	assert.Equal(t, "lorem ipsum", stale.Body)
}

func Test_SaveHooksAndValidation(t *testing.T) {
	setupMemory(t)
	require.NoError(t, Register(&AuditedDoc{}))
	ctx := context.Background()

	t.Run("hooks fire in order", func(t *testing.T) {
		doc := &AuditedDoc{Name: "a"}
		require.NoError(t, Save(ctx, doc))
		require.NoError(t, DeleteOne(ctx, doc))
		assert.Equal(t, []string{"before-save", "after-save", "before-delete", "after-delete"}, doc.journal)
	})

	t.Run("validation failure aborts the save", func(t *testing.T) {
		doc := &AuditedDoc{failValidation: true}
		err := Save(ctx, doc)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "AuditedDoc", vErr.Model)
		assert.Empty(t, doc.journal)

		n, err := Count(ctx, &AuditedDoc{}, bson.M{})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func Test_OrphanedSubtypeSurfacesMismatch(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	seedPosts(t, ctx)

	require.NoError(t, Deregister(&TextPost{}))

	_, err := Find(ctx, &BlogPost{}, bson.M{})
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "BlogPost.TextPost", mismatch.Discriminator)
	assert.Equal(t, "blog_posts", mismatch.Collection)

	_, err = FindOne(ctx, &BlogPost{}, bson.M{"author": "ben"})
	assert.ErrorAs(t, err, &mismatch)
}

func Test_OpsRequireRegistration(t *testing.T) {
	resetRegistry()
	resetConnections()
	_, err := ConnectMemory(DefaultConnection)
	require.NoError(t, err)

	err = Save(context.Background(), &Note{})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func Test_DropCollection(t *testing.T) {
	setupMemory(t)
	ctx := context.Background()
	seedPosts(t, ctx)

	require.NoError(t, DropCollection(ctx, &BlogPost{}))

	n, err := Count(ctx, &BlogPost{}, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func BenchmarkSave(b *testing.B) {
	setupMemory(b)
	ctx := context.Background()
	post := &BlogPost{Title: "bench"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		post.Views = i + 1
		if err := Save(ctx, post); err != nil {
			b.Fatal(err)
		}
	}
}
