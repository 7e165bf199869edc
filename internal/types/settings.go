package types

import "time"

// UserSettings holds per-user display preferences.
type UserSettings struct {
	UserID      string    `gorm:"column:user_id;primaryKey;type:varchar(64)" json:"user_id"`
	CostRate    float64   `gorm:"column:cost_rate_php_per_kwh;not null" json:"cost_rate_php_per_kwh"`
	Timezone    string    `gorm:"column:timezone;not null;default:UTC" json:"timezone"`
	DisplayName string    `gorm:"column:display_name" json:"display_name"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName implements the GORM Tabler interface for UserSettings
func (UserSettings) TableName() string {
	return "user_settings"
}

// Location resolves the configured display timezone, falling back to UTC.
func (s *UserSettings) Location() *time.Location {
	if s == nil || s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// APIToken maps a bearer token to the user that owns it.
type APIToken struct {
	Token     string    `gorm:"column:token;primaryKey;type:varchar(64)" json:"token"`
	UserID    string    `gorm:"column:user_id;index;not null" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName implements the GORM Tabler interface for APIToken
func (APIToken) TableName() string {
	return "api_tokens"
}
