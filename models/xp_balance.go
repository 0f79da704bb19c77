package models

import (
	"time"
)

// Tier is the named bracket derived from lifetime XP.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// XPBalance is the one-per-student ledger head. It is created zeroed and only ever
// changed by the ledger service alongside an XPTransaction row.
type XPBalance struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"`

	CurrentXP  int64 `gorm:"not null;default:0" json:"current_xp"`
	LifetimeXP int64 `gorm:"not null;default:0" json:"lifetime_xp"`
	XPSpent    int64 `gorm:"column:xp_spent;not null;default:0" json:"xp_spent"`

	CurrentStreak           int        `gorm:"not null;default:0" json:"current_streak"`
	LastSubmissionWeekStart *time.Time `gorm:"type:date" json:"last_submission_week_start,omitempty"`

	CurrentTier Tier `gorm:"type:varchar(16);not null;default:'bronze'" json:"current_tier"`

	Timestamps
}

func (XPBalance) TableName() string {
	return "xp_balances"
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
