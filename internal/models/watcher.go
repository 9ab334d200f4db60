package models

import "time"

// Watch types. Manual watches are explicit opt-ins and are never
// downgraded by an auto-add.
const (
	WatchManual        = "manual"
	WatchAutoCreator   = "auto_creator"
	WatchAutoAssignee  = "auto_assignee"
	WatchAutoCommenter = "auto_commenter"
)

// Notification categories, each gated by its own flag on the watcher row.
const (
	NotifyStatus     = "status"
	NotifyAssignment = "assignment"
	NotifyComment    = "comment"
	NotifyDue        = "due"
)

// Watcher subscribes a user to one work item's notifications. At most one
// row exists per (work item, user); auto-adds upsert into it.
type Watcher struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	WorkItemID       string `gorm:"size:32;not null;uniqueIndex:uq_item_user,priority:1"`
	UserID           string `gorm:"size:64;not null;uniqueIndex:uq_item_user,priority:2"`
	WatchType        string `gorm:"size:16;not null;default:manual"`
	NotifyStatus     bool   `gorm:"default:true"`
	NotifyAssignment bool   `gorm:"default:true"`
	NotifyComment    bool   `gorm:"default:true"`
	NotifyDue        bool   `gorm:"default:true"`
	CreatedAt        time.Time
}

// User is the directory row backing template tokens and notification
// recipient resolution.
type User struct {
	ID    string `gorm:"primaryKey;size:64"`
	Name  string `gorm:"size:128"`
	Email string `gorm:"size:128"`
}
