package models

import "time"

// Invitation asks the holder of an email address to join a team. The raw token
// is only ever sent in the invite link; the database keeps its hash.
type Invitation struct {
	BaseModel

	Email      string     `gorm:"not null;index" json:"email"`
	TeamID     string     `gorm:"type:uuid;not null;index" json:"team_id"`
	InvitedBy  string     `gorm:"type:uuid" json:"invited_by"`
	TokenHash  string     `gorm:"not null;uniqueIndex" json:"-"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at"`

	Team *Team `gorm:"foreignKey:TeamID;constraint:OnDelete:CASCADE" json:"team,omitempty"`
}
