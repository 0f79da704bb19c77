package models

import "time"

type XPTransactionType string

const (
	XPTransactionEarn  XPTransactionType = "earn"
	XPTransactionSpend XPTransactionType = "spend"
)

// Well-known source tags. Sources are free-form slugs; only blueprint affects streaks.
const (
	SourceBlueprint  = "blueprint"
	SourceAssignment = "assignment"
	SourceEvent      = "event"
	SourceRedemption = "reward_redemption"
	SourceAdminGrant = "admin_grant"
)

// XPTransaction is an immutable ledger row. XPBalance is the balance snapshot right
// after XPAmount was applied.
type XPTransaction struct {
	ID          uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string            `gorm:"index:idx_xp_tx_user_ts,priority:1;not null" json:"user_id"`
	Type        XPTransactionType `gorm:"type:varchar(8);not null" json:"type"`
	Source      string            `gorm:"type:varchar(64);not null;index" json:"source"`
	SourceID    string            `gorm:"type:varchar(128)" json:"source_id"`
	XPAmount    int64             `gorm:"not null" json:"xp_amount"`
	XPBalance   int64             `gorm:"not null" json:"xp_balance"`
	Description string            `gorm:"type:text" json:"description"`
	Timestamp   time.Time         `gorm:"index:idx_xp_tx_user_ts,priority:2;not null" json:"timestamp"`
}

func (XPTransaction) TableName() string {
	return "xp_transactions"
}
