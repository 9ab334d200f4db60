package models

import (
	"time"

	"gorm.io/gorm"
)

// Field types accepted by FieldDefinition.FieldType.
const (
	FieldText    = "text"
	FieldNumber  = "number"
	FieldDate    = "date"
	FieldEnum    = "enum"
	FieldBoolean = "boolean"
	FieldUserRef = "user"
)

// WorkItemType defines a kind of work item an organization can track.
// A nil OrganizationID means the type is global. Referenced types are
// immutable except for adding new field definitions.
type WorkItemType struct {
	ID             uint    `gorm:"primaryKey;autoIncrement"`
	Name           string  `gorm:"size:64;not null;index"`
	OrganizationID *string `gorm:"size:64;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`

	Fields   []FieldDefinition `gorm:"foreignKey:TypeID"`
	Statuses []Status          `gorm:"foreignKey:TypeID"`
}

// FieldDefinition declares one custom field on a work item type.
type FieldDefinition struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	TypeID       uint   `gorm:"not null;uniqueIndex:uq_type_field,priority:1"`
	Name         string `gorm:"size:64;not null;uniqueIndex:uq_type_field,priority:2"`
	FieldType    string `gorm:"size:16;not null;default:text"`
	Options      string `gorm:"type:json"` // enum choices, JSON array
	Required     bool   `gorm:"default:false"`
	DisplayOrder int    `gorm:"default:0"`
}

// Status is one state in a work item type's status set. IsInitial states
// may be assigned without transition validation; IsFinal states mark the
// item complete.
type Status struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	TypeID       uint   `gorm:"not null;uniqueIndex:uq_type_status,priority:1"`
	Name         string `gorm:"size:64;not null;uniqueIndex:uq_type_status,priority:2"`
	IsInitial    bool   `gorm:"default:false"`
	IsFinal      bool   `gorm:"default:false"`
	DisplayOrder int    `gorm:"default:0"`
}
