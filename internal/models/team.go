package models

import "gorm.io/datatypes"

// Team is the tenant grouping. App installations and most resources hang off a
// team rather than an individual user.
type Team struct {
	BaseModel

	Name     string         `gorm:"not null" json:"name"`
	OwnerID  string         `gorm:"type:uuid;not null;index" json:"owner_id"`
	Owner    *User          `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Settings datatypes.JSON `json:"settings"`

	Users         []User            `gorm:"many2many:user_teams;" json:"users,omitempty"`
	Installations []AppInstallation `gorm:"foreignKey:TeamID" json:"installations,omitempty"`
}
