package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User describes a platform account. A user may belong to many teams but has at
// most one active team, which scopes every team-bound request they make.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `gorm:"not null" json:"name"`
	Password string `json:"-"`
	Avatar   string `json:"avatar"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// ActiveTeamID must always point at a team the user is a member of; the
	// switch workflow verifies membership before writing it.
	ActiveTeamID *string `gorm:"type:uuid" json:"active_team_id"`
	ActiveTeam   *Team   `gorm:"foreignKey:ActiveTeamID" json:"active_team,omitempty"`

	// Provider records how the account was created (local, google).
	Provider   string `gorm:"default:local" json:"provider"`
	ExternalID string `gorm:"index" json:"-"`

	Teams    []Team    `gorm:"many2many:user_teams;" json:"teams,omitempty"`
	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"-"`

	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
