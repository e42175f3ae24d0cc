package models

// AppInstallation marks an application module as enabled for a team. The
// existence of the row is the sole signal of "installed".
type AppInstallation struct {
	BaseModel

	TeamID      string `gorm:"type:uuid;not null;uniqueIndex:idx_team_app" json:"team_id"`
	AppID       string `gorm:"not null;uniqueIndex:idx_team_app;index" json:"app_id"`
	InstalledBy string `gorm:"type:uuid" json:"installed_by"`

	Team *Team `gorm:"foreignKey:TeamID;constraint:OnDelete:CASCADE" json:"team,omitempty"`
}
