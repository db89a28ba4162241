package session

import (
	"testing"

	"github.com/elliotchance/orderedmap"
	"github.com/stretchr/testify/require"

	"github.com/cryptagon/meetmesh/pkg/types"
)

func storeWith(blocks ...types.Block) *orderedmap.OrderedMap {
	store := orderedmap.NewOrderedMap()
	for _, b := range blocks {
		store.Set(b.ID, b)
	}
	return store
}

func blockIDs(store *orderedmap.OrderedMap) []string {
	ids := make([]string, 0, store.Len())
	for el := store.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(types.Block).ID)
	}
	return ids
}

func TestResolverDeleteRemovesExactlyOne(t *testing.T) {
	store := storeWith(
		types.Block{ID: "a", Content: "alpha"},
		types.Block{ID: "b", Content: "beta"},
		types.Block{ID: "c", Content: "gamma"},
	)

	Resolver{}.Apply(store, types.NotesUpdate{
		Operation: types.BlockDelete,
		BlockID:   "b",
	})

	require.Equal(t, []string{"a", "c"}, blockIDs(store))
}

func TestResolverUpdateUpsertsUnseenBlock(t *testing.T) {
	store := storeWith(types.Block{ID: "a", Content: "alpha"})

	Resolver{}.Apply(store, types.NotesUpdate{
		Operation: types.BlockUpdate,
		Blocks:    []types.Block{{ID: "new", Content: "inserted by update"}},
	})

	v, ok := store.Get("new")
	require.True(t, ok)
	require.Equal(t, "inserted by update", v.(types.Block).Content)
}

func TestResolverOverwritesWholesale(t *testing.T) {
	// last write wins regardless of recency; no field merge
	store := storeWith(types.Block{ID: "a", Content: "local edit"})

	Resolver{}.Apply(store, types.NotesUpdate{
		Operation: types.BlockUpdate,
		Blocks:    []types.Block{{ID: "a", Content: "remote edit", Operation: types.BlockUpdate}},
	})

	v, ok := store.Get("a")
	require.True(t, ok)
	require.Equal(t, "remote edit", v.(types.Block).Content)
	require.Empty(t, v.(types.Block).Operation, "transit tag must be stripped")
}

func TestResolverPreservesInsertionOrderOnUpdate(t *testing.T) {
	store := storeWith(
		types.Block{ID: "a", Content: "1"},
		types.Block{ID: "b", Content: "2"},
		types.Block{ID: "c", Content: "3"},
	)

	Resolver{}.Apply(store, types.NotesUpdate{
		Operation: types.BlockUpdate,
		Blocks:    []types.Block{{ID: "b", Content: "2'"}},
	})

	require.Equal(t, []string{"a", "b", "c"}, blockIDs(store))
}

func TestResolverReplaceSwapsEverything(t *testing.T) {
	store := storeWith(
		types.Block{ID: "a", Content: "old"},
		types.Block{ID: "b", Content: "old"},
	)

	Resolver{}.Replace(store, []types.Block{
		{ID: "x", Content: "synced"},
		{ID: "y", Content: "synced"},
		{ID: "z", Content: "synced"},
	})

	require.Equal(t, []string{"x", "y", "z"}, blockIDs(store))
}
