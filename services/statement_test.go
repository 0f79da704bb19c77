package services

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"imi-student-dashboard/models"
	"imi-student-dashboard/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (m *memStore) Put(_ context.Context, key, contentType string, body []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.key, m.contentType, m.body = key, contentType, body
	return "https://cdn.test/" + key, nil
}

func TestRenderStatementCSV(t *testing.T) {
	ts := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	out, err := RenderStatementCSV([]models.XPTransaction{
		{ID: 7, Timestamp: ts, Type: models.XPTransactionEarn, Source: "blueprint", SourceID: "bp-1", XPAmount: 100, XPBalance: 100, Description: "week 1, part a"},
	})
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, statementHeader, records[0])
	assert.Equal(t, []string{"7", "2024-01-08T10:00:00Z", "earn", "blueprint", "bp-1", "100", "100", "week 1, part a"}, records[1])
}

func TestStatementExport(t *testing.T) {
	ledger, db := newTestLedger(t)
	testutil.Balance(t, db, "u 1")
	apply(t, ledger, ApplyXPInput{UserID: "u 1", XPAmount: 50, Source: "event"})
	apply(t, ledger, ApplyXPInput{UserID: "u 1", XPAmount: -20, Source: "reward_redemption"})

	store := &memStore{}
	svc := NewStatementService(ledger, store, testutil.Logger(t))

	location, err := svc.Export(context.Background(), "u 1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(store.key, "statements/u%201/"), store.key)
	assert.True(t, strings.HasSuffix(store.key, ".csv"))
	assert.Equal(t, "text/csv", store.contentType)
	assert.Equal(t, "https://cdn.test/"+store.key, location)

	records, err := csv.NewReader(strings.NewReader(string(store.body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "50", records[1][5])
	assert.Equal(t, "30", records[2][6])
}

func TestStatementExportErrors(t *testing.T) {
	ledger, db := newTestLedger(t)
	testutil.Balance(t, db, "u1")

	_, err := NewStatementService(ledger, nil, testutil.Logger(t)).Export(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStorageDisabled)

	_, err = NewStatementService(ledger, &memStore{}, testutil.Logger(t)).Export(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	boom := errors.New("bucket gone")
	_, err = NewStatementService(ledger, &memStore{err: boom}, testutil.Logger(t)).Export(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}
