package models

import (
	"time"

	"gorm.io/gorm"
)

// TypeRelationship declares that items of ParentTypeID may have children
// of ChildTypeID, with optional count constraints and automatic child
// creation. Configuration data, not transactional data: read-heavy,
// cached by the registry and engines.
type TypeRelationship struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	ParentTypeID     uint   `gorm:"not null;uniqueIndex:uq_type_pair,priority:1"`
	ChildTypeID      uint   `gorm:"not null;uniqueIndex:uq_type_pair,priority:2"`
	Name             string `gorm:"size:64"`
	IsRequired       bool   `gorm:"default:false"`
	MinCount         int    `gorm:"default:0"`
	MaxCount         *int
	AutoCreate       bool   `gorm:"default:false"`
	AutoCreateConfig string `gorm:"type:json"`
	DisplayOrder     int    `gorm:"default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"index"`

	ParentType *WorkItemType `gorm:"foreignKey:ParentTypeID"`
	ChildType  *WorkItemType `gorm:"foreignKey:ChildTypeID"`
}
