// Package hierarchy owns the work item tree invariants: path, depth, and
// root columns. All inserts and moves go through here so that for every
// item depth == len(path)-1, path[0] == root_id, and path ends in the
// item's own id.
package hierarchy

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zulandar/trellis/internal/models"
	"gorm.io/gorm"
)

// MaxDepth is the hard ceiling on item depth (root = 0).
const MaxDepth = 10

// Sentinel errors surfaced by hierarchy operations.
var (
	ErrNotFound     = errors.New("hierarchy: work item not found")
	ErrDepthLimit   = errors.New("hierarchy: depth limit exceeded")
	ErrCircularMove = errors.New("hierarchy: cannot move an item under itself or its descendant")
	ErrHasChildren  = errors.New("hierarchy: item has live children")
)

// GenerateID creates a unique work item ID in wi-xxxxx format (5-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("hierarchy: generate ID: %w", err)
	}
	return "wi-" + hex.EncodeToString(b)[:5], nil
}

// CreateRoot inserts item as a new tree root: depth 0, path and root
// pointing at itself. The caller fills in type, org, status, and attrs;
// hierarchy columns are overwritten here.
func CreateRoot(db *gorm.DB, item *models.WorkItem) error {
	id, err := generateUniqueID(db)
	if err != nil {
		return err
	}
	item.ID = id
	item.ParentID = nil
	item.RootID = id
	item.Depth = 0
	item.Path = id
	linkFields(item)

	if err := db.Create(item).Error; err != nil {
		return fmt.Errorf("hierarchy: create root: %w", err)
	}
	return nil
}

// CreateChild inserts item under parentID, extending the parent's path.
// Fails with ErrNotFound if the parent is missing or soft-deleted, and
// with ErrDepthLimit if the child would sit deeper than MaxDepth.
func CreateChild(db *gorm.DB, parentID string, item *models.WorkItem) error {
	parent, err := Get(db, parentID)
	if err != nil {
		return err
	}
	if parent.Depth+1 > MaxDepth {
		return fmt.Errorf("%w: parent %s is at depth %d", ErrDepthLimit, parentID, parent.Depth)
	}

	id, err := generateUniqueID(db)
	if err != nil {
		return err
	}
	item.ID = id
	item.ParentID = &parent.ID
	item.RootID = parent.RootID
	item.Depth = parent.Depth + 1
	item.Path = models.JoinPath(append(parent.PathIDs(), id))
	linkFields(item)

	if err := db.Create(item).Error; err != nil {
		return fmt.Errorf("hierarchy: create child of %s: %w", parentID, err)
	}
	return nil
}

// Get retrieves a live work item by ID with its custom field values.
func Get(db *gorm.DB, id string) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := db.Preload("Fields").Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("hierarchy: get %s: %w", id, err)
	}
	return &item, nil
}

// GetChildren returns the live direct children of an item, ordered by
// priority then creation time.
func GetChildren(db *gorm.DB, id string) ([]models.WorkItem, error) {
	if err := mustExist(db, id); err != nil {
		return nil, err
	}
	var children []models.WorkItem
	if err := db.Where("parent_id = ?", id).Order("priority ASC, created_at ASC").Find(&children).Error; err != nil {
		return nil, fmt.Errorf("hierarchy: get children of %s: %w", id, err)
	}
	return children, nil
}

// GetAncestors returns the item's ancestor chain from root to direct
// parent, resolved through the materialized path without recursion.
func GetAncestors(db *gorm.DB, id string) ([]models.WorkItem, error) {
	item, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	ids := item.PathIDs()
	if len(ids) <= 1 {
		return nil, nil
	}
	ids = ids[:len(ids)-1]

	var ancestors []models.WorkItem
	if err := db.Where("id IN ?", ids).Order("depth ASC").Find(&ancestors).Error; err != nil {
		return nil, fmt.Errorf("hierarchy: get ancestors of %s: %w", id, err)
	}
	return ancestors, nil
}

// GetDescendants returns every live item in the subtree under id (the
// item itself excluded), found by a path-prefix scan.
func GetDescendants(db *gorm.DB, id string) ([]models.WorkItem, error) {
	item, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	var descendants []models.WorkItem
	if err := db.Where("path LIKE ?", item.Path+"/%").Order("depth ASC, created_at ASC").Find(&descendants).Error; err != nil {
		return nil, fmt.Errorf("hierarchy: get descendants of %s: %w", id, err)
	}
	return descendants, nil
}

// SoftDelete marks an item deleted. Items with live children are
// rejected: the caller must re-parent or delete them first.
func SoftDelete(db *gorm.DB, id string) error {
	if err := mustExist(db, id); err != nil {
		return err
	}
	var count int64
	if err := db.Model(&models.WorkItem{}).Where("parent_id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("hierarchy: count children of %s: %w", id, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s has %d", ErrHasChildren, id, count)
	}
	if err := db.Where("id = ?", id).Delete(&models.WorkItem{}).Error; err != nil {
		return fmt.Errorf("hierarchy: delete %s: %w", id, err)
	}
	return nil
}

func mustExist(db *gorm.DB, id string) error {
	var count int64
	if err := db.Model(&models.WorkItem{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("hierarchy: check %s: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// linkFields stamps the item's ID onto its field values before insert.
func linkFields(item *models.WorkItem) {
	for i := range item.Fields {
		item.Fields[i].WorkItemID = item.ID
	}
}

// generateUniqueID generates an ID and retries once on collision.
func generateUniqueID(db *gorm.DB) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id, err := GenerateID()
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Unscoped().Model(&models.WorkItem{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("hierarchy: check ID uniqueness: %w", err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("hierarchy: failed to generate unique ID after retries")
}
