package model

import (
	"time"
)

// User is the account record. Credit balance lives here and is the single
// source of truth; cached copies elsewhere are advisory.
type User struct {
	UserID             string     `json:"user_id" gorm:"primaryKey;size:64;column:user_id"`
	Email              string     `json:"email" gorm:"size:256;uniqueIndex"`
	Username           string     `json:"username" gorm:"size:128"`
	Avatar             string     `json:"avatar" gorm:"size:512"`
	PasswordHash       string     `json:"-" gorm:"size:128"`
	HasPassword        bool       `json:"has_password"`
	IsActive           bool       `json:"is_active" gorm:"default:true"`
	CurrentCredits     int        `json:"current_credits" gorm:"default:0"`
	TotalCreditsUsed   int        `json:"total_credits_used" gorm:"default:0"`
	CurrentPlanID      string     `json:"current_plan_id" gorm:"size:32"`
	PlanRenewAt        *time.Time `json:"plan_renew_at,omitempty"`
	SignupBonusGranted bool       `json:"signup_bonus_granted" gorm:"default:false"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}

// UserInfo is the API view of an account.
type UserInfo struct {
	UserID         string     `json:"user_id"`
	Email          string     `json:"email"`
	Username       string     `json:"username"`
	Avatar         string     `json:"avatar,omitempty"`
	HasPassword    bool       `json:"has_password"`
	CurrentCredits int        `json:"current_credits"`
	CurrentPlanID  string     `json:"current_plan_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

// ToInfo converts the account row into its API view.
func (u *User) ToInfo() *UserInfo {
	return &UserInfo{
		UserID:         u.UserID,
		Email:          u.Email,
		Username:       u.Username,
		Avatar:         u.Avatar,
		HasPassword:    u.HasPassword,
		CurrentCredits: u.CurrentCredits,
		CurrentPlanID:  u.CurrentPlanID,
		CreatedAt:      u.CreatedAt,
		LastLoginAt:    u.LastLoginAt,
	}
}

// BillingInfo is the API view of an account's credit state.
type BillingInfo struct {
	UserID           string     `json:"user_id"`
	CurrentCredits   int        `json:"current_credits"`
	TotalCreditsUsed int        `json:"total_credits_used"`
	CurrentPlanID    string     `json:"current_plan_id,omitempty"`
	PlanRenewAt      *time.Time `json:"plan_renew_at,omitempty"`
}
