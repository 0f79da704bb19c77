// workers/student_sync_worker.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imi-student-dashboard/models"
	"imi-student-dashboard/services"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContactLister is the CRM read the worker polls.
type ContactLister interface {
	ListContactsModifiedSince(ctx context.Context, since time.Time) ([]services.Contact, error)
}

// BalanceProvisioner creates zeroed XP balances for new students.
type BalanceProvisioner interface {
	EnsureBalance(ctx context.Context, userID string) (*models.XPBalance, bool, error)
}

// StudentSyncWorker mirrors CRM contacts into the students table and makes sure
// every student has an XP balance before their first submission.
type StudentSyncWorker struct {
	db       *gorm.DB
	crm      ContactLister
	ledger   BalanceProvisioner
	interval time.Duration
	log      *zap.Logger
}

func NewStudentSyncWorker(db *gorm.DB, crm ContactLister, ledger BalanceProvisioner, interval time.Duration, log *zap.Logger) *StudentSyncWorker {
	return &StudentSyncWorker{
		db:       db,
		crm:      crm,
		ledger:   ledger,
		interval: interval,
		log:      log.Named("student_sync"),
	}
}

func (w *StudentSyncWorker) Start(ctx context.Context) {
	w.log.Info("starting student sync worker (dataverse -> students)", zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *StudentSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		w.log.Warn("initial student sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Error("student sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.log.Info("student sync worker stopped")
			return
		}
	}
}

// lastSyncTime is the newest CRM modification already mirrored locally, or the
// epoch when nothing is mirrored yet.
func (w *StudentSyncWorker) lastSyncTime(ctx context.Context) (time.Time, error) {
	var latest models.Student
	err := w.db.WithContext(ctx).Order("crm_modified_at DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && latest.CRMModifiedAt.IsZero()) {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return latest.CRMModifiedAt, nil
}

// SyncResult counts what one batch did.
type SyncResult struct {
	Received    int
	Upserted    int
	Provisioned int
	Errors      int
}

// SyncOnce pulls every contact changed since the last mirrored one, then makes
// sure every mirrored student has an XP balance.
//
// Contacts arrive oldest first and the cursor is derived from what was stored,
// so the batch stops at the first failed upsert; the next run starts from there.
func (w *StudentSyncWorker) SyncOnce(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	since, err := w.lastSyncTime(ctx)
	if err != nil {
		w.log.Error("failed to read student sync cursor", zap.Error(err))
		return res, fmt.Errorf("read sync cursor: %w", err)
	}

	contacts, err := w.crm.ListContactsModifiedSince(ctx, since)
	if err != nil {
		return res, err
	}
	res.Received = len(contacts)

	for _, c := range contacts {
		if c.ContactID == "" {
			res.Errors++
			continue
		}

		student := models.Student{
			ExternalID:    c.ContactID,
			FullName:      c.FullName,
			Email:         c.Email,
			Cohort:        c.Cohort,
			CRMModifiedAt: c.ModifiedOn.UTC(),
		}
		if err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"full_name", "email", "cohort", "crm_modified_at", "updated_at"}),
		}).Create(&student).Error; err != nil {
			res.Errors++
			w.log.Warn("failed to upsert student, stopping batch", zap.String("external_id", c.ContactID), zap.Error(err))
			w.provisionMissing(ctx, &res)
			return res, fmt.Errorf("upsert student %s: %w", c.ContactID, err)
		}
		res.Upserted++
	}

	w.provisionMissing(ctx, &res)

	if res.Received > 0 || res.Provisioned > 0 {
		w.log.Info("students synced",
			zap.Int("received", res.Received),
			zap.Int("upserted", res.Upserted),
			zap.Int("provisioned", res.Provisioned),
			zap.Int("errors", res.Errors),
		)
	} else {
		w.log.Debug("no student changes", zap.Time("since", since))
	}
	return res, nil
}

// provisionMissing creates balances for mirrored students that have none, which
// also retries provisioning that failed on an earlier run.
func (w *StudentSyncWorker) provisionMissing(ctx context.Context, res *SyncResult) {
	var ids []string
	err := w.db.WithContext(ctx).Model(&models.Student{}).
		Where("NOT EXISTS (SELECT 1 FROM xp_balances b WHERE b.user_id = students.external_id)").
		Order("external_id").
		Pluck("external_id", &ids).Error
	if err != nil {
		res.Errors++
		w.log.Warn("failed to list students without xp balance", zap.Error(err))
		return
	}

	for _, id := range ids {
		_, created, err := w.ledger.EnsureBalance(ctx, id)
		if err != nil {
			res.Errors++
			w.log.Warn("failed to provision xp balance", zap.String("external_id", id), zap.Error(err))
			continue
		}
		if created {
			res.Provisioned++
		}
	}
}
