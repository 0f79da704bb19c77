package services

import (
	"context"
	"errors"

	"imi-student-dashboard/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuditReport is the result of replaying one student's transaction log against
// the stored balance.
type AuditReport struct {
	UserID           string `json:"user_id"`
	TransactionCount int    `json:"transaction_count"`

	StoredCurrentXP    int64 `json:"stored_current_xp"`
	ReplayedCurrentXP  int64 `json:"replayed_current_xp"`
	StoredLifetimeXP   int64 `json:"stored_lifetime_xp"`
	ReplayedLifetimeXP int64 `json:"replayed_lifetime_xp"`
	StoredXPSpent      int64 `json:"stored_xp_spent"`
	ReplayedXPSpent    int64 `json:"replayed_xp_spent"`
	TierMatches        bool  `json:"tier_matches"`

	// FirstBadSnapshotID is the first row whose xp_balance differs from the running sum.
	FirstBadSnapshotID *uint `json:"first_bad_snapshot_id,omitempty"`
	Consistent         bool  `json:"consistent"`
}

// Replay folds transactions (already in ledger order) into an AuditReport against bal.
func Replay(bal *models.XPBalance, txs []models.XPTransaction) *AuditReport {
	r := &AuditReport{
		UserID:           bal.UserID,
		TransactionCount: len(txs),
		StoredCurrentXP:  bal.CurrentXP,
		StoredLifetimeXP: bal.LifetimeXP,
		StoredXPSpent:    bal.XPSpent,
	}
	for i := range txs {
		t := &txs[i]
		r.ReplayedCurrentXP += t.XPAmount
		if t.XPAmount > 0 {
			r.ReplayedLifetimeXP += t.XPAmount
		}
		if t.XPAmount < 0 {
			r.ReplayedXPSpent += -t.XPAmount
		}
		if r.FirstBadSnapshotID == nil && t.XPBalance != r.ReplayedCurrentXP {
			id := t.ID
			r.FirstBadSnapshotID = &id
		}
	}
	r.TierMatches = bal.CurrentTier == ClassifyTier(bal.LifetimeXP)
	r.Consistent = r.FirstBadSnapshotID == nil &&
		r.TierMatches &&
		r.StoredCurrentXP == r.ReplayedCurrentXP &&
		r.StoredLifetimeXP == r.ReplayedLifetimeXP &&
		r.StoredXPSpent == r.ReplayedXPSpent
	return r
}

// auditBalanceQuery share-locks the balance row so no ledger write can commit
// between reading it and reading the log.
func auditBalanceQuery(tx *gorm.DB, userID string) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "SHARE"}).Where("user_id = ?", userID)
}

// Audit replays userID's log in (timestamp, id) order. Read-only.
func (s *LedgerService) Audit(ctx context.Context, userID string) (*AuditReport, error) {
	var (
		bal models.XPBalance
		txs []models.XPTransaction
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := auditBalanceQuery(tx, userID).First(&bal).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return tx.Where("user_id = ?", userID).
			Order("timestamp ASC").Order("id ASC").
			Find(&txs).Error
	})
	if err != nil {
		return nil, persistenceErr("audit xp ledger", err)
	}
	return Replay(&bal, txs), nil
}

// AuditAll audits every balance and returns the inconsistent reports.
func (s *LedgerService) AuditAll(ctx context.Context) ([]*AuditReport, error) {
	var userIDs []string
	if err := s.DB.WithContext(ctx).Model(&models.XPBalance{}).Order("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		return nil, persistenceErr("list xp balances", err)
	}

	var bad []*AuditReport
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return bad, err
		}
		report, err := s.Audit(ctx, id)
		if err != nil {
			s.log.Error("ledger audit failed", zap.String("user_id", id), zap.Error(err))
			continue
		}
		if !report.Consistent {
			s.log.Warn("ledger audit mismatch",
				zap.String("user_id", id),
				zap.Int64("stored_current_xp", report.StoredCurrentXP),
				zap.Int64("replayed_current_xp", report.ReplayedCurrentXP),
				zap.Int64("stored_lifetime_xp", report.StoredLifetimeXP),
				zap.Int64("replayed_lifetime_xp", report.ReplayedLifetimeXP),
			)
			bad = append(bad, report)
		}
	}
	s.log.Info("ledger audit finished", zap.Int("balances", len(userIDs)), zap.Int("inconsistent", len(bad)))
	return bad, nil
}
