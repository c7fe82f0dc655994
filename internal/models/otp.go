package models

import "time"

// OTPCode keeps the bcrypt hash of an emailed one-time code.
type OTPCode struct {
	BaseModel
	UserID     uint       `gorm:"not null;index" json:"userId"`
	User       *User      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Email      string     `gorm:"not null;index" json:"email"`
	HashedCode string     `gorm:"not null" json:"-"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expiresAt"`
	UsedAt     *time.Time `json:"usedAt"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
}

// TableName keeps the table named otp_codes.
func (OTPCode) TableName() string {
	return "otp_codes"
}

// Expired reports whether the code can no longer be redeemed at now.
func (o *OTPCode) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}
