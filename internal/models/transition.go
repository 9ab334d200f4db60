package models

import (
	"time"

	"gorm.io/gorm"
)

// StatusTransition declares what happens when an item of TypeID moves
// between two statuses. Absent rows are permissive: a transition with no
// declared row is allowed. A row with IsAllowed=false blocks the move
// outright regardless of its validation config.
type StatusTransition struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	TypeID           uint   `gorm:"not null;uniqueIndex:uq_transition,priority:1"`
	FromStatusID     uint   `gorm:"not null;uniqueIndex:uq_transition,priority:2"`
	ToStatusID       uint   `gorm:"not null;uniqueIndex:uq_transition,priority:3"`
	IsAllowed        bool   `gorm:"default:true"`
	ValidationConfig string `gorm:"type:json"`
	ActionConfig     string `gorm:"type:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"index"`
}

// ActionResult is the audit record for one post-transition action
// (notification, field update, reassignment) executed on a work item.
type ActionResult struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	WorkItemID   string `gorm:"size:32;not null;index"`
	TransitionID uint   `gorm:"index"`
	ActionType   string `gorm:"size:16;not null"`       // notify, field_update, reassign
	Outcome      string `gorm:"size:16;not null;index"` // success, skipped, failed
	Detail       string `gorm:"type:text"`
	CreatedAt    time.Time
}
