package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"imi-student-dashboard/models"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApplyXPInput is one ledger movement. Positive XPAmount earns, negative spends.
type ApplyXPInput struct {
	UserID         string
	XPAmount       int64
	Source         string
	SourceID       string
	Description    string
	SubmissionDate time.Time // zero means now
}

// XPSummary is what callers see after a ledger update.
type XPSummary struct {
	CurrentXP     int64       `json:"currentXP"`
	LifetimeXP    int64       `json:"lifetimeXP"`
	XPSpent       int64       `json:"xpSpent"`
	CurrentStreak int         `json:"currentStreak"`
	CurrentTier   models.Tier `json:"currentTier"`
}

func summaryOf(b *models.XPBalance) XPSummary {
	return XPSummary{
		CurrentXP:     b.CurrentXP,
		LifetimeXP:    b.LifetimeXP,
		XPSpent:       b.XPSpent,
		CurrentStreak: b.CurrentStreak,
		CurrentTier:   b.CurrentTier,
	}
}

// LedgerService owns the xp_balances / xp_transactions pair.
type LedgerService struct {
	DB    *gorm.DB
	log   *zap.Logger
	locks *userLocks
	now   func() time.Time
}

func NewLedgerService(db *gorm.DB, log *zap.Logger) *LedgerService {
	return &LedgerService{
		DB:    db,
		log:   log.Named("ledger"),
		locks: newUserLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeSource turns a free-form source tag into the stored slug ("Blueprint " -> "blueprint").
func NormalizeSource(source string) string {
	return slug.Make(source)
}

// EnsureBalance creates a zeroed bronze balance for userID if none exists (idempotent).
// created reports whether this call inserted the row.
func (s *LedgerService) EnsureBalance(ctx context.Context, userID string) (*models.XPBalance, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	bal := models.XPBalance{UserID: userID, CurrentTier: models.TierBronze}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&bal)
	if res.Error != nil {
		return nil, false, persistenceErr("provision xp balance", res.Error)
	}
	if res.RowsAffected == 1 {
		s.log.Info("xp balance provisioned", zap.String("user_id", userID))
		return &bal, true, nil
	}

	var existing models.XPBalance
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; err != nil {
		return nil, false, persistenceErr("load xp balance", err)
	}
	return &existing, false, nil
}

// ProvisionBalance is EnsureBalance that refuses to touch an existing row.
func (s *LedgerService) ProvisionBalance(ctx context.Context, userID string) (*models.XPBalance, error) {
	bal, created, err := s.EnsureBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrBalanceExists
	}
	return bal, nil
}

// ApplyXPTransaction applies one earn/spend to a student's balance and appends the
// matching log row, all inside one database transaction. The balance row is locked
// for the duration and concurrent calls for the same user are serialized.
//
// Returns ErrUserNotFound if no balance exists, *PersistenceError on storage failure.
// In both cases nothing was written.
func (s *LedgerService) ApplyXPTransaction(ctx context.Context, in ApplyXPInput) (*XPSummary, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	source := NormalizeSource(in.Source)
	if source == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidInput)
	}
	submission := in.SubmissionDate
	if submission.IsZero() {
		submission = s.now()
	}

	unlock := s.locks.lock(in.UserID)
	defer unlock()

	var (
		summary XPSummary
		streak  StreakAction
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bal models.XPBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", in.UserID).
			First(&bal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return persistenceErr("load xp balance", err)
		}

		if in.XPAmount > 0 && source == models.SourceBlueprint {
			decision := ComputeStreak(bal.LastSubmissionWeekStart, submission)
			bal.CurrentStreak = decision.Apply(bal.CurrentStreak)
			weekStart := decision.CurrentWeekStart
			bal.LastSubmissionWeekStart = &weekStart
			streak = decision.Action
		}

		if in.XPAmount > 0 {
			bal.LifetimeXP += in.XPAmount
		}
		if in.XPAmount < 0 {
			bal.XPSpent += -in.XPAmount
		}
		bal.CurrentXP += in.XPAmount
		bal.CurrentTier = ClassifyTier(bal.LifetimeXP)

		if err := tx.Save(&bal).Error; err != nil {
			return persistenceErr("save xp balance", err)
		}

		txType := models.XPTransactionSpend
		if in.XPAmount > 0 {
			txType = models.XPTransactionEarn
		}
		row := models.XPTransaction{
			UserID:      in.UserID,
			Type:        txType,
			Source:      source,
			SourceID:    in.SourceID,
			XPAmount:    in.XPAmount,
			XPBalance:   bal.CurrentXP,
			Description: in.Description,
			Timestamp:   s.now().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return persistenceErr("append xp transaction", err)
		}

		summary = summaryOf(&bal)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.log.Warn("xp transaction for unknown balance", zap.String("user_id", in.UserID), zap.String("source", source))
		} else {
			s.log.Error("xp transaction failed", zap.String("user_id", in.UserID), zap.Int64("xp_amount", in.XPAmount), zap.Error(err))
		}
		return nil, persistenceErr("apply xp transaction", err)
	}

	fields := []zap.Field{
		zap.String("user_id", in.UserID),
		zap.Int64("xp_amount", in.XPAmount),
		zap.String("source", source),
		zap.Int64("current_xp", summary.CurrentXP),
		zap.String("tier", string(summary.CurrentTier)),
	}
	if streak != "" {
		fields = append(fields, zap.String("streak_action", string(streak)), zap.Int("streak", summary.CurrentStreak))
	}
	s.log.Info("xp transaction applied", fields...)

	return &summary, nil
}

// BalanceView is the dashboard read model of a balance.
type BalanceView struct {
	XPSummary
	TierName                string      `json:"tierName"`
	NextTier                models.Tier `json:"nextTier,omitempty"`
	XPToNextTier            int64       `json:"xpToNextTier"`
	LastSubmissionWeekStart *time.Time  `json:"lastSubmissionWeekStart,omitempty"`
}

func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*BalanceView, error) {
	var bal models.XPBalance
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceErr("load xp balance", err)
	}

	view := &BalanceView{
		XPSummary:               summaryOf(&bal),
		TierName:                TierDisplayName(bal.CurrentTier),
		LastSubmissionWeekStart: bal.LastSubmissionWeekStart,
	}
	if next, need, ok := NextTier(bal.LifetimeXP); ok {
		view.NextTier = next
		view.XPToNextTier = need
	}
	return view, nil
}

const maxPageSize = 100

// clampLimit returns def for non-positive n and caps n at max.
func clampLimit(n, def, max int) int {
	switch {
	case n < 1:
		return def
	case n > max:
		return max
	}
	return n
}

// TransactionPage is one page of a student's ledger, newest first.
type TransactionPage struct {
	Transactions []models.XPTransaction `json:"transactions"`
	Page         int                    `json:"page"`
	Size         int                    `json:"size"`
	TotalItems   int64                  `json:"total_items"`
	TotalPages   int                    `json:"total_pages"`
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, page, size int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	size = clampLimit(size, 20, maxPageSize)
	offset := (page - 1) * size

	db := s.DB.WithContext(ctx)

	var exists int64
	if err := db.Model(&models.XPBalance{}).Where("user_id = ?", userID).Count(&exists).Error; err != nil {
		return nil, persistenceErr("load xp balance", err)
	}
	if exists == 0 {
		return nil, ErrUserNotFound
	}

	var total int64
	if err := db.Model(&models.XPTransaction{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, persistenceErr("count xp transactions", err)
	}

	txs := make([]models.XPTransaction, 0, size)
	if err := db.Where("user_id = ?", userID).
		Order("timestamp DESC").Order("id DESC").
		Limit(size).Offset(offset).
		Find(&txs).Error; err != nil {
		return nil, persistenceErr("list xp transactions", err)
	}

	return &TransactionPage{
		Transactions: txs,
		Page:         page,
		Size:         size,
		TotalItems:   total,
		TotalPages:   int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// TransactionsAfter returns up to limit rows with id > afterID in ledger order.
func (s *LedgerService) TransactionsAfter(ctx context.Context, userID string, afterID uint, limit int) ([]models.XPTransaction, error) {
	if limit < 1 {
		limit = 50
	}
	var txs []models.XPTransaction
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND id > ?", userID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, persistenceErr("list xp transactions", err)
	}
	return txs, nil
}

// LatestTransactionID is the cursor a live feed starts from (0 if the log is empty).
func (s *LedgerService) LatestTransactionID(ctx context.Context, userID string) (uint, error) {
	var latest models.XPTransaction
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, persistenceErr("load latest xp transaction", err)
	}
	return latest.ID, nil
}

type LeaderboardEntry struct {
	Rank       int         `json:"rank"`
	UserID     string      `json:"user_id"`
	LifetimeXP int64       `json:"lifetime_xp"`
	Streak     int         `json:"current_streak"`
	Tier       models.Tier `json:"tier"`
	TierName   string      `json:"tier_name"`
}

// Leaderboard ranks students by lifetime XP (ties broken by user id).
func (s *LedgerService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	limit = clampLimit(limit, 10, maxPageSize)
	var balances []models.XPBalance
	if err := s.DB.WithContext(ctx).
		Order("lifetime_xp DESC").Order("user_id ASC").
		Limit(limit).
		Find(&balances).Error; err != nil {
		return nil, persistenceErr("load leaderboard", err)
	}

	entries := make([]LeaderboardEntry, len(balances))
	for i, b := range balances {
		entries[i] = LeaderboardEntry{
			Rank:       i + 1,
			UserID:     b.UserID,
			LifetimeXP: b.LifetimeXP,
			Streak:     b.CurrentStreak,
			Tier:       b.CurrentTier,
			TierName:   TierDisplayName(b.CurrentTier),
		}
	}
	return entries, nil
}

// userLocks is a per-user mutex set. Entries are dropped once nobody holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
