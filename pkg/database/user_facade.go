package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/formy-ai/formy/pkg/model"
	"gorm.io/gorm"
)

// ErrUserNotFound is returned when a conditional balance update matches no row.
var ErrUserNotFound = errors.New("user not found")

// UserFacadeInterface defines the database operations for accounts and the
// credit ledger. All balance mutations are single conditional statements so
// concurrent writers cannot drive the balance negative or double-apply.
type UserFacadeInterface interface {
	// Create inserts a new account
	Create(ctx context.Context, user *model.User) error

	// GetByID retrieves an account by user id, nil when missing
	GetByID(ctx context.Context, userID string) (*model.User, error)

	// GetByEmail retrieves an account by email, nil when missing
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// UpdateLastLogin stamps the last login time
	UpdateLastLogin(ctx context.Context, userID string) error

	// SetPassword stores a password hash and marks the account as having one
	SetPassword(ctx context.Context, userID string, hash string) error

	// CheckAndDebit atomically deducts amount when the balance covers it.
	// Returns false without changing anything when it does not.
	CheckAndDebit(ctx context.Context, userID string, amount int) (bool, error)

	// AddCredits adds amount to the balance
	AddCredits(ctx context.Context, userID string, amount int) error

	// RefundTask returns a task's credits exactly once, keyed on the task's
	// refunded marker. Returns false when the task was already refunded.
	RefundTask(ctx context.Context, userID string, taskID string, amount int) (bool, error)

	// RenewPlanIfDue resets the balance to the plan allowance when the renew
	// date has passed, advancing it by one period. Returns false when not due.
	RenewPlanIfDue(ctx context.Context, userID string, allowance int, nextRenewAt time.Time) (bool, error)

	// GrantSignupBonus credits the signup bonus exactly once per account
	GrantSignupBonus(ctx context.Context, userID string, amount int) (bool, error)

	// ApplyWhitelistFloor raises the balance to at least floor, exactly once
	// per account, sharing the one-shot marker with the signup bonus
	ApplyWhitelistFloor(ctx context.Context, userID string, floor int) (bool, error)

	// SetPlan assigns a plan and its renew date
	SetPlan(ctx context.Context, userID string, planID string, renewAt time.Time) error

	// WithDB binds the facade to a specific connection, used by tests
	WithDB(db *gorm.DB) UserFacadeInterface
}

// UserFacade implements UserFacadeInterface
type UserFacade struct {
	BaseFacade
}

// NewUserFacade creates a new UserFacade instance
func NewUserFacade() UserFacadeInterface {
	return &UserFacade{}
}

func (f *UserFacade) WithDB(db *gorm.DB) UserFacadeInterface {
	return &UserFacade{BaseFacade: f.withDB(db)}
}

func (f *UserFacade) Create(ctx context.Context, user *model.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return f.getDB().WithContext(ctx).Create(user).Error
}

func (f *UserFacade) GetByID(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := f.getDB().WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (f *UserFacade) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	email = strings.ToLower(strings.TrimSpace(email))
	err := f.getDB().WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (f *UserFacade) UpdateLastLogin(ctx context.Context, userID string) error {
	now := time.Now()
	return f.getDB().WithContext(ctx).Model(&model.User{}).
		Where("user_id = ?", userID).
		Update("last_login_at", now).Error
}

func (f *UserFacade) SetPassword(ctx context.Context, userID string, hash string) error {
	result := f.getDB().WithContext(ctx).Model(&model.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"password_hash": hash,
			"has_password":  true,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CheckAndDebit relies on the balance guard in the WHERE clause: the check
// and the deduction are one statement, so two concurrent debits can never
// both pass against a balance that covers only one.
func (f *UserFacade) CheckAndDebit(ctx context.Context, userID string, amount int) (bool, error) {
	if amount < 0 {
		return false, errors.New("debit amount must be non-negative")
	}
	result := f.getDB().WithContext(ctx).Model(&model.User{}).
		Where("user_id = ? AND current_credits >= ?", userID, amount).
		Updates(map[string]interface{}{
			"current_credits":    gorm.Expr("current_credits - ?", amount),
			"total_credits_used": gorm.Expr("total_credits_used + ?", amount),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (f *UserFacade) AddCredits(ctx context.Context, userID string, amount int) error {
	if amount < 0 {
		return errors.New("credit amount must be non-negative")
	}
	result := f.getDB().WithContext(ctx).Model(&model.User{}).
		Where("user_id = ?", userID).
		Update("current_credits", gorm.Expr("current_credits + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RefundTask flips the task's refunded marker and credits the balance in one
// transaction. The marker update is the compare-and-set: losing the race
// means someone else already refunded, so the credit is skipped.
func (f *UserFacade) RefundTask(ctx context.Context, userID string, taskID string, amount int) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	refunded := false
	err := f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mark := tx.Model(&model.Task{}).
			Where("task_id = ? AND refunded = ?", taskID, false).
			Update("refunded", true)
		if mark.Error != nil {
			return mark.Error
		}
		if mark.RowsAffected == 0 {
			return nil
		}
		credit := tx.Model(&model.User{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"current_credits":    gorm.Expr("current_credits + ?", amount),
				"total_credits_used": gorm.Expr("GREATEST(total_credits_used - ?, 0)", amount),
			})
		if credit.Error != nil {
			return credit.Error
		}
		refunded = true
		return nil
	})
	return refunded, err
}

func (f *UserFacade) RenewPlanIfDue(ctx context.Context, userID string, allowance int, nextRenewAt time.Time) (bool, error) {
	now := time.Now()
	result := f.getDB().WithContext(ctx).Model(&model.User{}).
		Where("user_id = ? AND plan_renew_at IS NOT NULL AND plan_renew_at <= ?", userID, now).
		Updates(map[string]interface{}{
			"current_credits": allowance,
			"plan_renew_at":   nextRenewAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (f *UserFacade) GrantSignupBonus(ctx context.Context, userID string, amount int) (bool, error) {
	result := f.getDB().WithContext(ctx).Model(&model.User{}).
		Where("user_id = ? AND signup_bonus_granted = ?", userID, false).
		Updates(map[string]interface{}{
			"current_credits":      gorm.Expr("current_credits + ?", amount),
			"signup_bonus_granted": true,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (f *UserFacade) ApplyWhitelistFloor(ctx context.Context, userID string, floor int) (bool, error) {
	result := f.getDB().WithContext(ctx).Model(&model.User{}).
		Where("user_id = ? AND signup_bonus_granted = ?", userID, false).
		Updates(map[string]interface{}{
			"current_credits":      gorm.Expr("GREATEST(current_credits, ?)", floor),
			"signup_bonus_granted": true,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (f *UserFacade) SetPlan(ctx context.Context, userID string, planID string, renewAt time.Time) error {
	result := f.getDB().WithContext(ctx).Model(&model.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"current_plan_id": planID,
			"plan_renew_at":   renewAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
