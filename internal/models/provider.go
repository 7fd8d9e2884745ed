package models

// Provider describes a service provider as declared in configuration.
// WorkingHours is a free-form daily availability string ("09:00-17:00" or
// "9:00 AM - 5:00 PM"); an empty or unparseable value means always available.
type Provider struct {
	ID           int64  `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	WorkingHours string `yaml:"working_hours" json:"working_hours"`
	IsActive     bool   `yaml:"is_active" json:"is_active"`
	ChatID       int64  `yaml:"chat_id" json:"chat_id,omitempty"`
}
