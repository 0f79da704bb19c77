package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"imi-student-dashboard/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ObjectStore stores an object and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

var statementHeader = []string{"id", "timestamp", "type", "source", "source_id", "xp_amount", "xp_balance", "description"}

// StatementService exports a student's full XP ledger as CSV.
type StatementService struct {
	ledger *LedgerService
	store  ObjectStore
	log    *zap.Logger
}

// NewStatementService wires exports; store may be nil when no bucket is configured.
func NewStatementService(ledger *LedgerService, store ObjectStore, log *zap.Logger) *StatementService {
	return &StatementService{ledger: ledger, store: store, log: log.Named("statement")}
}

// RenderStatementCSV writes transactions (ledger order) as CSV.
func RenderStatementCSV(txs []models.XPTransaction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(statementHeader); err != nil {
		return nil, err
	}
	for _, t := range txs {
		rec := []string{
			strconv.FormatUint(uint64(t.ID), 10),
			t.Timestamp.UTC().Format(time.RFC3339),
			string(t.Type),
			t.Source,
			t.SourceID,
			strconv.FormatInt(t.XPAmount, 10),
			strconv.FormatInt(t.XPBalance, 10),
			t.Description,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export renders userID's statement and uploads it, returning the object URL.
func (s *StatementService) Export(ctx context.Context, userID string) (string, error) {
	if s.store == nil {
		return "", ErrStorageDisabled
	}

	if _, err := s.ledger.GetBalance(ctx, userID); err != nil {
		return "", err
	}

	var txs []models.XPTransaction
	if err := s.ledger.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC").Order("id ASC").
		Find(&txs).Error; err != nil {
		return "", persistenceErr("load xp transactions", err)
	}

	body, err := RenderStatementCSV(txs)
	if err != nil {
		return "", fmt.Errorf("render statement: %w", err)
	}

	key := fmt.Sprintf("statements/%s/%s.csv", url.PathEscape(userID), uuid.NewString())
	location, err := s.store.Put(ctx, key, "text/csv", body)
	if err != nil {
		s.log.Error("statement upload failed", zap.String("user_id", userID), zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("upload statement: %w", err)
	}

	s.log.Info("statement exported", zap.String("user_id", userID), zap.Int("transactions", len(txs)), zap.String("key", key))
	return location, nil
}
