package models

import (
	"time"
)

// Student is a local snapshot of a CRM contact plus the dashboard settings the
// student controls. Populated by the student sync worker; settings are written
// through the settings service.
type Student struct {
	ID         uint    `gorm:"primaryKey" json:"-"`
	ExternalID string  `gorm:"uniqueIndex;not null" json:"external_id"` // Dataverse contactid, also the XP user id
	FullName   string  `json:"full_name"`
	Email      string  `gorm:"index" json:"email,omitempty"`
	Cohort     *string `json:"cohort,omitempty"`

	EmailNotifications bool   `gorm:"not null;default:true" json:"email_notifications"`
	PushNotifications  bool   `gorm:"not null;default:false" json:"push_notifications"`
	WeeklyGoalHours    int    `gorm:"not null;default:0" json:"weekly_goal_hours"`
	Theme              string `gorm:"type:varchar(16);not null;default:'system'" json:"theme"`
	TimeZone           string `gorm:"type:varchar(64);not null;default:'UTC'" json:"time_zone"`

	CRMModifiedAt time.Time `json:"crm_modified_at"`
	Timestamps
}
