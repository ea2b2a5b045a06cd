package models

import "time"

// Purchase grants one model to one anonymous user. The composite primary key
// makes (user_id, model_id) unique at the storage layer; rows are never
// updated or deleted once written.
type Purchase struct {
	UserID            string    `gorm:"primaryKey;type:varchar(64);not null" json:"user_id"`
	ModelID           string    `gorm:"primaryKey;type:varchar(128);not null" json:"model_id"`
	PurchasedAt       time.Time `gorm:"autoCreateTime;index" json:"purchased_at"`
	ProviderReference string    `gorm:"column:provider_reference;type:varchar(255);default:''" json:"provider_reference,omitempty"`
}

func (Purchase) TableName() string {
	return "purchases"
}
