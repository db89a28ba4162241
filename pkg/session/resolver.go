package session

import (
	"github.com/elliotchance/orderedmap"

	"github.com/cryptagon/meetmesh/pkg/types"
)

// Resolver applies inbound shared-document updates to the local block set.
//
// Policy: last-write-wins at block granularity, with no timestamp
// comparison. A delete removes the local block with a matching id; any
// other operation replaces the local block wholesale, regardless of which
// side wrote more recently. Out-of-order delivery can therefore regress a
// block to a stale version; callers wanting stronger guarantees need a
// logical-clock check before overwrite.
type Resolver struct{}

// Apply merges one notes-update into store. Store keys are block ids;
// values are types.Block. Insertion order of surviving blocks is preserved.
func (Resolver) Apply(store *orderedmap.OrderedMap, update types.NotesUpdate) {
	if update.Operation == types.BlockDelete {
		for _, b := range update.Blocks {
			store.Delete(b.ID)
		}
		if update.BlockID != "" {
			store.Delete(update.BlockID)
		}
		return
	}

	for _, b := range update.Blocks {
		b.Operation = "" // transit tag, not document state
		store.Set(b.ID, b)
	}
}

// Replace swaps the entire store contents for blocks, keeping their order.
// Used when applying a sync-response snapshot.
func (Resolver) Replace(store *orderedmap.OrderedMap, blocks []types.Block) {
	for _, key := range store.Keys() {
		store.Delete(key)
	}
	for _, b := range blocks {
		b.Operation = ""
		store.Set(b.ID, b)
	}
}
