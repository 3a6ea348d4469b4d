package billing

import (
	"context"
	"time"

	"github.com/formy-ai/formy/pkg/database"
	"github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/formy-ai/formy/pkg/model"
)

// BillingInfo is the API view of an account's credit state.
type BillingInfo struct {
	UserID                 string     `json:"user_id"`
	Email                  string     `json:"email"`
	CurrentPlanID          string     `json:"current_plan_id,omitempty"`
	CurrentPlanName        string     `json:"current_plan_name,omitempty"`
	CurrentCredits         int        `json:"current_credits"`
	MonthlyCredits         int        `json:"monthly_credits"`
	TotalCreditsUsed       int        `json:"total_credits_used"`
	PlanRenewAt            *time.Time `json:"plan_renew_at,omitempty"`
	CreditsUsagePercentage float64    `json:"credits_usage_percentage"`
}

// Service owns all credit balance movements. The balance lives only in the
// users table; every mutation goes through a conditional facade statement.
type Service struct {
	facade database.FacadeInterface
}

// NewService creates a billing service on the given facade.
func NewService(facade database.FacadeInterface) *Service {
	return &Service{facade: facade}
}

// GetBillingInfo assembles the credit view for an account, renewing the
// plan first when the renewal date has passed.
func (s *Service) GetBillingInfo(ctx context.Context, userID string) (*BillingInfo, error) {
	user, err := s.facade.GetUser().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewError().WithKind(errors.KindTaskDataNotFound).
			WithMessagef("user %s not found", userID)
	}

	if renewed, err := s.RenewIfDue(ctx, user); err != nil {
		log.WithError(err).Warnf("plan renewal check failed for user %s", userID)
	} else if renewed {
		user, err = s.facade.GetUser().GetByID(ctx, userID)
		if err != nil || user == nil {
			return nil, err
		}
	}

	info := &BillingInfo{
		UserID:           user.UserID,
		Email:            user.Email,
		CurrentPlanID:    user.CurrentPlanID,
		CurrentCredits:   user.CurrentCredits,
		TotalCreditsUsed: user.TotalCreditsUsed,
		PlanRenewAt:      user.PlanRenewAt,
	}
	if plan, ok := GetPlan(user.CurrentPlanID); ok {
		info.CurrentPlanName = plan.Name
		info.MonthlyCredits = plan.MonthlyCredits
		if plan.MonthlyCredits > 0 {
			used := plan.MonthlyCredits - user.CurrentCredits
			if used < 0 {
				used = 0
			}
			info.CreditsUsagePercentage = float64(int(float64(used)/float64(plan.MonthlyCredits)*10000)) / 100
		}
	}
	return info, nil
}

// CheckAndDebit deducts the cost atomically. On an insufficient balance it
// returns a CREDIT_NOT_ENOUGH error carrying required, current and deficit.
func (s *Service) CheckAndDebit(ctx context.Context, userID string, amount int) error {
	ok, err := s.facade.GetUser().CheckAndDebit(ctx, userID, amount)
	if err != nil {
		return errors.Wrap(err, errors.KindBalanceWriteFailed, "credit debit failed")
	}
	if ok {
		log.Infof("debited %d credits from user %s", amount, userID)
		return nil
	}

	current := 0
	if user, gerr := s.facade.GetUser().GetByID(ctx, userID); gerr == nil && user != nil {
		current = user.CurrentCredits
	}
	return errors.NewError().WithKind(errors.KindCreditNotEnough).
		WithMessagef("insufficient credits: required %d, current %d", amount, current).
		WithDetail("required", amount).
		WithDetail("current", current).
		WithDetail("deficit", amount-current)
}

// AddCredits tops up an account.
func (s *Service) AddCredits(ctx context.Context, userID string, amount int) error {
	if err := s.facade.GetUser().AddCredits(ctx, userID, amount); err != nil {
		return errors.Wrap(err, errors.KindBalanceWriteFailed, "credit add failed")
	}
	return nil
}

// RefundTask returns a failed task's credits exactly once. The magnitude
// comes from the task row, never from the caller, so a retried refund can
// neither double-pay nor pay a stale amount.
func (s *Service) RefundTask(ctx context.Context, task *model.Task) (bool, error) {
	if task.CreditsUsed <= 0 {
		return false, nil
	}
	refunded, err := s.facade.GetUser().RefundTask(ctx, task.UserID, task.TaskID, task.CreditsUsed)
	if err != nil {
		return false, errors.Wrap(err, errors.KindBalanceWriteFailed, "credit refund failed")
	}
	if refunded {
		log.Infof("refunded %d credits to user %s for task %s", task.CreditsUsed, task.UserID, task.TaskID)
	}
	return refunded, nil
}

// RenewIfDue resets the balance to the plan allowance once the renewal date
// has passed. The condition lives in the UPDATE, so concurrent calls renew
// at most once per period.
func (s *Service) RenewIfDue(ctx context.Context, user *model.User) (bool, error) {
	if user.PlanRenewAt == nil || time.Now().Before(*user.PlanRenewAt) {
		return false, nil
	}
	plan, ok := GetPlan(user.CurrentPlanID)
	if !ok {
		return false, nil
	}
	next := user.PlanRenewAt.AddDate(0, 1, 0)
	renewed, err := s.facade.GetUser().RenewPlanIfDue(ctx, user.UserID, plan.MonthlyCredits, next)
	if err != nil {
		return false, err
	}
	if renewed {
		log.Infof("renewed plan %s for user %s, credits reset to %d", user.CurrentPlanID, user.UserID, plan.MonthlyCredits)
	}
	return renewed, nil
}

// ChangePlan switches the account to a new tier, resetting the balance to
// the tier allowance and scheduling the renewal on the first of next month.
func (s *Service) ChangePlan(ctx context.Context, userID string, planID string) (*BillingInfo, error) {
	plan, ok := GetPlan(planID)
	if !ok {
		return nil, errors.NewError().WithKind(errors.KindInvalidRequest).
			WithMessagef("unknown plan %q", planID)
	}

	now := time.Now()
	renewAt := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	if err := s.facade.GetUser().SetPlan(ctx, userID, plan.ID, renewAt); err != nil {
		return nil, errors.Wrap(err, errors.KindBalanceWriteFailed, "plan change failed")
	}

	user, err := s.facade.GetUser().GetByID(ctx, userID)
	if err != nil || user == nil {
		return nil, err
	}
	delta := plan.MonthlyCredits - user.CurrentCredits
	if delta > 0 {
		if err := s.facade.GetUser().AddCredits(ctx, userID, delta); err != nil {
			return nil, err
		}
	}
	log.Infof("user %s changed plan to %s", userID, plan.ID)
	return s.GetBillingInfo(ctx, userID)
}

// GrantLoginCredits applies the one-shot credit grant on login: whitelisted
// emails get topped up to the floor, everyone else gets the signup bonus.
// Both share the same one-shot marker, so an account gets exactly one grant.
func (s *Service) GrantLoginCredits(ctx context.Context, user *model.User, whitelisted bool, floor, bonus int) (bool, error) {
	if whitelisted {
		granted, err := s.facade.GetUser().ApplyWhitelistFloor(ctx, user.UserID, floor)
		if err != nil {
			return false, err
		}
		if granted {
			log.Infof("applied whitelist credit floor %d to user %s", floor, user.UserID)
		}
		return granted, nil
	}
	granted, err := s.facade.GetUser().GrantSignupBonus(ctx, user.UserID, bonus)
	if err != nil {
		return false, err
	}
	if granted {
		log.Infof("granted signup bonus %d to user %s", bonus, user.UserID)
	}
	return granted, nil
}
