// Package watch maintains per-item notification subscriptions. A user has
// at most one watcher row per item; auto-adds upsert into it and never
// downgrade an explicit manual watch.
package watch

import (
	"fmt"

	"github.com/zulandar/trellis/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoAdd subscribes a user as a side effect of another action (creating,
// being assigned, commenting). If a row already exists for the pair it is
// left untouched, whatever its watch type.
func AutoAdd(db *gorm.DB, itemID, userID, watchType string) error {
	w := models.Watcher{
		WorkItemID:       itemID,
		UserID:           userID,
		WatchType:        watchType,
		NotifyStatus:     true,
		NotifyAssignment: true,
		NotifyComment:    true,
		NotifyDue:        true,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "work_item_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&w)
	if result.Error != nil {
		return fmt.Errorf("watch: auto-add %s on %s: %w", userID, itemID, result.Error)
	}
	return nil
}

// Add subscribes a user explicitly. An existing auto watch is upgraded to
// manual; an existing manual watch is a no-op.
func Add(db *gorm.DB, itemID, userID string) error {
	w := models.Watcher{
		WorkItemID:       itemID,
		UserID:           userID,
		WatchType:        models.WatchManual,
		NotifyStatus:     true,
		NotifyAssignment: true,
		NotifyComment:    true,
		NotifyDue:        true,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "work_item_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"watch_type": models.WatchManual}),
	}).Create(&w)
	if result.Error != nil {
		return fmt.Errorf("watch: add %s on %s: %w", userID, itemID, result.Error)
	}
	return nil
}

// Remove unsubscribes a user from an item. Removing a non-watcher is a
// no-op.
func Remove(db *gorm.DB, itemID, userID string) error {
	if err := db.Where("work_item_id = ? AND user_id = ?", itemID, userID).
		Delete(&models.Watcher{}).Error; err != nil {
		return fmt.Errorf("watch: remove %s on %s: %w", userID, itemID, err)
	}
	return nil
}

// List returns all watchers of an item.
func List(db *gorm.DB, itemID string) ([]models.Watcher, error) {
	var watchers []models.Watcher
	if err := db.Where("work_item_id = ?", itemID).Order("created_at ASC").Find(&watchers).Error; err != nil {
		return nil, fmt.Errorf("watch: list for %s: %w", itemID, err)
	}
	return watchers, nil
}

// ListForNotification returns the watchers whose flag for the given
// category is set.
func ListForNotification(db *gorm.DB, itemID, category string) ([]models.Watcher, error) {
	column, err := categoryColumn(category)
	if err != nil {
		return nil, err
	}
	var watchers []models.Watcher
	if err := db.Where("work_item_id = ? AND "+column+" = ?", itemID, true).
		Find(&watchers).Error; err != nil {
		return nil, fmt.Errorf("watch: list %s watchers for %s: %w", category, itemID, err)
	}
	return watchers, nil
}

// SetCategories updates a watcher's per-category opt-in flags.
func SetCategories(db *gorm.DB, itemID, userID string, status, assignment, comment, due bool) error {
	result := db.Model(&models.Watcher{}).
		Where("work_item_id = ? AND user_id = ?", itemID, userID).
		Updates(map[string]interface{}{
			"notify_status":     status,
			"notify_assignment": assignment,
			"notify_comment":    comment,
			"notify_due":        due,
		})
	if result.Error != nil {
		return fmt.Errorf("watch: set categories for %s on %s: %w", userID, itemID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("watch: %s is not watching %s", userID, itemID)
	}
	return nil
}

func categoryColumn(category string) (string, error) {
	switch category {
	case models.NotifyStatus:
		return "notify_status", nil
	case models.NotifyAssignment:
		return "notify_assignment", nil
	case models.NotifyComment:
		return "notify_comment", nil
	case models.NotifyDue:
		return "notify_due", nil
	default:
		return "", fmt.Errorf("watch: unknown notification category %q", category)
	}
}
