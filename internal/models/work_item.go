package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// WorkItem is the core tracked item in Trellis. Hierarchy columns
// (ParentID, RootID, Depth, Path) are maintained exclusively by the
// hierarchy package; Path is a materialized, self-inclusive ancestor
// id list joined with "/".
type WorkItem struct {
	ID             string `gorm:"primaryKey;size:32"`
	TypeID         uint   `gorm:"not null;index"`
	OrganizationID string `gorm:"size:64;index"`
	StatusID       uint   `gorm:"index"`
	Subject        string `gorm:"size:256;not null"`
	Priority       int    `gorm:"default:2"`
	Assignee       string `gorm:"size:64;index"`
	Creator        string `gorm:"size:64"`
	DueDate        *time.Time
	ParentID       *string `gorm:"size:32;index"`
	RootID         string  `gorm:"size:32;index"`
	Depth          int     `gorm:"default:0"`
	Path           string  `gorm:"size:512;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`

	Type     *WorkItemType   `gorm:"foreignKey:TypeID"`
	Parent   *WorkItem       `gorm:"foreignKey:ParentID"`
	Children []WorkItem      `gorm:"foreignKey:ParentID"`
	Fields   []WorkItemField `gorm:"foreignKey:WorkItemID"`
}

// PathIDs returns the item's ancestor chain (self-inclusive) as a slice.
func (w *WorkItem) PathIDs() []string {
	if w.Path == "" {
		return nil
	}
	return strings.Split(w.Path, "/")
}

// JoinPath builds a Path column value from an ordered id list.
func JoinPath(ids []string) string {
	return strings.Join(ids, "/")
}

// WorkItemField holds one custom field value for a work item. Values are
// stored as strings tagged with the declared field type from the owning
// type's field definition, so readers never have to guess.
type WorkItemField struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	WorkItemID string `gorm:"size:32;not null;uniqueIndex:uq_item_field,priority:1"`
	FieldID    uint   `gorm:"not null;uniqueIndex:uq_item_field,priority:2"`
	Name       string `gorm:"size:64;not null;index"`
	FieldType  string `gorm:"size:16;not null"`
	Value      string `gorm:"type:text"`
}
