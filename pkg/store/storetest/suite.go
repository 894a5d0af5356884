// Package storetest holds a behavioural suite shared by every database dialect of the page store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/quillqay/pkg/model"
	"github.com/astromechza/quillqay/pkg/store"
)

// Run exercises the page store contract. makeStore must return an empty, migrated store.
func Run(t *testing.T, makeStore func(t *testing.T) *store.SQLStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := makeStore(t)
		p, err := s.CreatePage(ctx, "Notes")
		require.NoError(t, err)
		assert.Equal(t, "Notes", p.Title)
		assert.Nil(t, p.ParentID)
		assert.NotEqual(t, uuid.Nil, p.ID)

		got, err := s.GetPage(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p, got)

		blocks, err := s.GetBlocksForPage(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, blocks)
	})

	t.Run("missing page is not found", func(t *testing.T) {
		s := makeStore(t)
		_, err := s.GetPage(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NotErrorIs(t, err, store.ErrStorage)
	})

	t.Run("list pages", func(t *testing.T) {
		s := makeStore(t)
		pages, err := s.GetAllPages(ctx)
		require.NoError(t, err)
		assert.Empty(t, pages)

		b, err := s.CreatePage(ctx, "b")
		require.NoError(t, err)
		a, err := s.CreatePage(ctx, "a")
		require.NoError(t, err)
		child, err := s.CreateChildPage(ctx, "c", a.ID)
		require.NoError(t, err)

		pages, err = s.GetAllPages(ctx)
		require.NoError(t, err)
		assert.Equal(t, []model.Page{*a, *b, *child}, pages)
		require.NotNil(t, pages[2].ParentID)
		assert.Equal(t, a.ID, *pages[2].ParentID)
	})

	t.Run("child of missing parent fails", func(t *testing.T) {
		s := makeStore(t)
		_, err := s.CreateChildPage(ctx, "orphan", uuid.New())
		assert.ErrorIs(t, err, store.ErrStorage)
	})

	t.Run("save replaces content", func(t *testing.T) {
		s := makeStore(t)
		p, err := s.CreatePage(ctx, "Notes")
		require.NoError(t, err)

		first := []model.Block{
			{ID: "1", Data: model.Text("one")},
			{ID: "2", Data: model.Code{Lang: "go", Code: "x := 1"}},
			{ID: "3", Data: model.Text("three")},
		}
		require.NoError(t, s.SavePageContent(ctx, p.ID, "Notes v1", first))
		got, err := s.GetBlocksForPage(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, first, got)

		second := []model.Block{
			{ID: "h", Data: model.Header{Level: 1, Text: "Hi"}},
			{ID: "t", Data: model.Todo{Task: "x", Completed: false}},
		}
		require.NoError(t, s.SavePageContent(ctx, p.ID, "Notes v2", second))
		got, err = s.GetBlocksForPage(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, second, got)

		page, err := s.GetPage(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Notes v2", page.Title)

		require.NoError(t, s.SavePageContent(ctx, p.ID, "Empty", nil))
		got, err = s.GetBlocksForPage(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("save keeps order and fills ids", func(t *testing.T) {
		s := makeStore(t)
		p, err := s.CreatePage(ctx, "ordered")
		require.NoError(t, err)
		var in []model.Block
		for i := 0; i < 20; i++ {
			in = append(in, model.Block{ID: fmt.Sprintf("b%02d", 19-i), Data: model.Text(fmt.Sprint(i))})
		}
		in = append(in, model.Block{Data: model.Text("no id")})
		require.NoError(t, s.SavePageContent(ctx, p.ID, "ordered", in))

		got, err := s.GetBlocksForPage(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, got, len(in))
		for i := 0; i < 20; i++ {
			assert.Equal(t, in[i], got[i])
		}
		assert.NotEmpty(t, got[20].ID)
		assert.Equal(t, model.Text("no id"), got[20].Data)
	})

	t.Run("failed save leaves prior state", func(t *testing.T) {
		s := makeStore(t)
		p, err := s.CreatePage(ctx, "Original")
		require.NoError(t, err)
		prior := []model.Block{{ID: "keep", Data: model.Text("kept")}}
		require.NoError(t, s.SavePageContent(ctx, p.ID, "Original", prior))

		// the duplicate id fails the second insert after the title update and the delete already ran
		err = s.SavePageContent(ctx, p.ID, "Clobbered", []model.Block{
			{ID: "dup", Data: model.Text("a")},
			{ID: "dup", Data: model.Text("b")},
		})
		require.ErrorIs(t, err, store.ErrStorage)

		page, err := s.GetPage(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Original", page.Title)
		got, err := s.GetBlocksForPage(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, prior, got)
	})

	t.Run("save to missing page", func(t *testing.T) {
		s := makeStore(t)
		missing := uuid.New()
		err := s.SavePageContent(ctx, missing, "ghost", []model.Block{{ID: "x", Data: model.Text("x")}})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.SavePageContent(ctx, missing, "ghost", nil), store.ErrNotFound)

		_, err = s.GetPage(ctx, missing)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("concurrent saves last writer wins", func(t *testing.T) {
		s := makeStore(t)
		p, err := s.CreatePage(ctx, "race")
		require.NoError(t, err)

		wg := new(sync.WaitGroup)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				blocks := []model.Block{
					{ID: "a", Data: model.Text(fmt.Sprintf("writer %d", i))},
					{ID: "b", Data: model.Todo{Task: fmt.Sprintf("writer %d", i)}},
				}
				assert.NoError(t, s.SavePageContent(ctx, p.ID, fmt.Sprintf("writer %d", i), blocks))
			}(i)
		}
		wg.Wait()

		page, err := s.GetPage(ctx, p.ID)
		require.NoError(t, err)
		got, err := s.GetBlocksForPage(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		// whichever writer committed last owns the whole page, never a mix
		assert.Equal(t, model.Text(page.Title), got[0].Data)
		assert.Equal(t, model.Todo{Task: page.Title}, got[1].Data)
	})
}
