package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CanonicalEntity is a row of the read-only catalog replica the matcher
// indexes: journals, experiments (with collaboration subgroups), and
// institutions. NameVariants/Subgroups/CategoryTags are JSON string arrays.
type CanonicalEntity struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EntityKind    string         `gorm:"column:entity_kind;not null;index" json:"entity_kind"`
	CanonicalName string         `gorm:"column:canonical_name;not null" json:"canonical_name"`
	RefURL        string         `gorm:"column:ref_url;not null" json:"ref_url"`
	LegacyName    string         `gorm:"column:legacy_name" json:"legacy_name,omitempty"`
	NameVariants  datatypes.JSON `gorm:"column:name_variants;type:jsonb" json:"name_variants"`
	Subgroups     datatypes.JSON `gorm:"column:subgroups;type:jsonb" json:"subgroups,omitempty"`
	CategoryTags  datatypes.JSON `gorm:"column:category_tags;type:jsonb" json:"category_tags,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CanonicalEntity) TableName() string { return "canonical_entity" }
