package backup

import (
	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/logging"
)

// ResolveChain returns the ancestors of leaf, oldest first, leaf excluded.
// Resolution follows the parent of each backup and stops at a backup with no
// parent, at a parent missing from the catalog, or at a parent already
// visited.
func ResolveChain(cat *catalog.Directory, leaf *catalog.Descriptor, log logging.Logger) []*catalog.Descriptor {
	var chain []*catalog.Descriptor
	seen := map[string]bool{leaf.ID: true}

	current := leaf
	for {
		parentID, ok := current.Parent()
		if !ok {
			break
		}
		if seen[parentID] {
			log.Warn("backup dependency cycle, stopping chain resolution",
				"backup_id", leaf.ID, "at", current.ID, "parent", parentID)
			break
		}
		parent, ok := cat.Get(parentID)
		if !ok {
			log.Warn("backup dependency missing from catalog",
				"backup_id", leaf.ID, "at", current.ID, "parent", parentID)
			break
		}
		seen[parentID] = true
		chain = append(chain, parent)
		current = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
