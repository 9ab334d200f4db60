package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/trellis/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Move re-parents an item and rewrites the path prefix of its entire
// subtree inside one transaction. The moved rows are locked for the
// duration so concurrent moves on overlapping subtrees serialize instead
// of corrupting the tree. Moving an item to its current parent is a
// successful no-op.
func Move(ctx context.Context, db *gorm.DB, itemID, newParentID string) error {
	if itemID == newParentID {
		return fmt.Errorf("%w: %s", ErrCircularMove, itemID)
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := lockItem(tx, itemID)
		if err != nil {
			return err
		}
		parent, err := lockItem(tx, newParentID)
		if err != nil {
			return err
		}

		// No-op move: already under the requested parent.
		if item.ParentID != nil && *item.ParentID == newParentID {
			return nil
		}

		// The new parent must not live inside the moved subtree.
		for _, ancestorID := range parent.PathIDs() {
			if ancestorID == itemID {
				return fmt.Errorf("%w: %s is a descendant of %s", ErrCircularMove, newParentID, itemID)
			}
		}

		var descendants []models.WorkItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("path LIKE ?", item.Path+"/%").
			Order("depth ASC").
			Find(&descendants).Error; err != nil {
			return fmt.Errorf("hierarchy: scan subtree of %s: %w", itemID, err)
		}

		// Depth check covers the deepest descendant, preserving relative
		// offsets: newDepth(d) = parent.Depth + 1 + (d.Depth - item.Depth).
		newDepth := parent.Depth + 1
		maxOffset := 0
		for _, d := range descendants {
			if off := d.Depth - item.Depth; off > maxOffset {
				maxOffset = off
			}
		}
		if newDepth+maxOffset > MaxDepth {
			return fmt.Errorf("%w: move would place a descendant at depth %d", ErrDepthLimit, newDepth+maxOffset)
		}

		oldPath := item.Path
		newPath := models.JoinPath(append(parent.PathIDs(), item.ID))
		depthDelta := newDepth - item.Depth

		if err := tx.Model(&models.WorkItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
			"parent_id": parent.ID,
			"root_id":   parent.RootID,
			"depth":     newDepth,
			"path":      newPath,
		}).Error; err != nil {
			return fmt.Errorf("hierarchy: move %s: %w", itemID, err)
		}

		for _, d := range descendants {
			rewritten := newPath + strings.TrimPrefix(d.Path, oldPath)
			if err := tx.Model(&models.WorkItem{}).Where("id = ?", d.ID).Updates(map[string]interface{}{
				"root_id": parent.RootID,
				"depth":   d.Depth + depthDelta,
				"path":    rewritten,
			}).Error; err != nil {
				return fmt.Errorf("hierarchy: rewrite descendant %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

// lockItem fetches a live item under a row lock for the enclosing
// transaction.
func lockItem(tx *gorm.DB, id string) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("hierarchy: lock %s: %w", id, err)
	}
	return &item, nil
}
