package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	_ "time/tzdata"

	"imi-student-dashboard/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ContactUpdater is the CRM write path the settings service needs.
type ContactUpdater interface {
	UpdateContact(ctx context.Context, contactID string, columns map[string]any) error
}

var validThemes = map[string]bool{"light": true, "dark": true, "system": true}

// SettingsPatch is the closed set of student-editable settings. Nil fields are left alone.
type SettingsPatch struct {
	EmailNotifications *bool   `json:"emailNotifications"`
	PushNotifications  *bool   `json:"pushNotifications"`
	WeeklyGoalHours    *int    `json:"weeklyGoalHours"`
	Theme              *string `json:"theme"`
	TimeZone           *string `json:"timeZone"`
}

// DecodeSettingsPatch parses a JSON patch, rejecting unknown keys and trailing data.
func DecodeSettingsPatch(body []byte) (SettingsPatch, error) {
	var p SettingsPatch
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return SettingsPatch{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return SettingsPatch{}, fmt.Errorf("%w: unexpected data after JSON object", ErrInvalidSettings)
	}
	return p, p.Validate()
}

func (p SettingsPatch) Empty() bool {
	return p.EmailNotifications == nil && p.PushNotifications == nil &&
		p.WeeklyGoalHours == nil && p.Theme == nil && p.TimeZone == nil
}

func (p SettingsPatch) Validate() error {
	if p.Empty() {
		return fmt.Errorf("%w: no settings given", ErrInvalidSettings)
	}
	if p.WeeklyGoalHours != nil && (*p.WeeklyGoalHours < 0 || *p.WeeklyGoalHours > 80) {
		return fmt.Errorf("%w: weeklyGoalHours must be between 0 and 80", ErrInvalidSettings)
	}
	if p.Theme != nil && !validThemes[*p.Theme] {
		return fmt.Errorf("%w: theme must be light, dark or system", ErrInvalidSettings)
	}
	if p.TimeZone != nil {
		if *p.TimeZone == "" {
			return fmt.Errorf("%w: timeZone is empty", ErrInvalidSettings)
		}
		if _, err := time.LoadLocation(*p.TimeZone); err != nil {
			return fmt.Errorf("%w: unknown timeZone %q", ErrInvalidSettings, *p.TimeZone)
		}
	}
	return nil
}

// crmColumns maps each set field onto its Dataverse contact column.
func (p SettingsPatch) crmColumns() map[string]any {
	cols := map[string]any{}
	if p.EmailNotifications != nil {
		cols["imi_emailnotifications"] = *p.EmailNotifications
	}
	if p.PushNotifications != nil {
		cols["imi_pushnotifications"] = *p.PushNotifications
	}
	if p.WeeklyGoalHours != nil {
		cols["imi_weeklygoalhours"] = *p.WeeklyGoalHours
	}
	if p.Theme != nil {
		cols["imi_dashboardtheme"] = *p.Theme
	}
	if p.TimeZone != nil {
		cols["imi_timezone"] = *p.TimeZone
	}
	return cols
}

func (p SettingsPatch) localColumns() map[string]any {
	cols := map[string]any{}
	if p.EmailNotifications != nil {
		cols["email_notifications"] = *p.EmailNotifications
	}
	if p.PushNotifications != nil {
		cols["push_notifications"] = *p.PushNotifications
	}
	if p.WeeklyGoalHours != nil {
		cols["weekly_goal_hours"] = *p.WeeklyGoalHours
	}
	if p.Theme != nil {
		cols["theme"] = *p.Theme
	}
	if p.TimeZone != nil {
		cols["time_zone"] = *p.TimeZone
	}
	return cols
}

type SettingsService struct {
	DB  *gorm.DB
	crm ContactUpdater
	log *zap.Logger
}

// NewSettingsService wires the settings write path. crm may be nil, in which case
// settings are only stored locally.
func NewSettingsService(db *gorm.DB, crm ContactUpdater, log *zap.Logger) *SettingsService {
	return &SettingsService{DB: db, crm: crm, log: log.Named("settings")}
}

// Update pushes the patch to the CRM (if configured) and then mirrors it locally.
func (s *SettingsService) Update(ctx context.Context, userID string, patch SettingsPatch) (*models.Student, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	if s.crm != nil {
		if err := s.crm.UpdateContact(ctx, userID, patch.crmColumns()); err != nil {
			s.log.Error("crm settings update failed", zap.String("user_id", userID), zap.Error(err))
			return nil, fmt.Errorf("update crm contact: %w", err)
		}
	}

	var student models.Student
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(models.Student{ExternalID: userID}).FirstOrCreate(&student).Error; err != nil {
			return err
		}
		if err := tx.Model(&student).Updates(patch.localColumns()).Error; err != nil {
			return err
		}
		return tx.First(&student, student.ID).Error
	})
	if err != nil {
		if s.crm != nil {
			s.log.Error("crm contact updated but local settings write failed",
				zap.String("user_id", userID), zap.Any("columns", patch.crmColumns()), zap.Error(err))
		}
		return nil, persistenceErr("save student settings", err)
	}

	s.log.Info("student settings updated", zap.String("user_id", userID), zap.Int("fields", len(patch.localColumns())))
	return &student, nil
}

// Profile returns the locally mirrored student.
func (s *SettingsService) Profile(ctx context.Context, userID string) (*models.Student, error) {
	var student models.Student
	err := s.DB.WithContext(ctx).Where("external_id = ?", userID).First(&student).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, persistenceErr("load student", err)
	}
	return &student, nil
}
