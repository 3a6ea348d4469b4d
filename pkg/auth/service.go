package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/formy-ai/formy/pkg/billing"
	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/database"
	"github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/kvstore"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/formy-ai/formy/pkg/model"
	"golang.org/x/crypto/bcrypt"
)

// LoginResult is returned by every login flow.
type LoginResult struct {
	User   *model.UserInfo `json:"user"`
	Tokens *TokenPair      `json:"tokens"`
}

// Service implements account signup and the three login flows: emailed
// code, password, and refresh token rotation.
type Service struct {
	conf    config.AuthConfig
	facade  database.FacadeInterface
	kv      *kvstore.Store
	billing *billing.Service
	sender  CodeSender

	whitelist map[string]struct{}
}

// NewService creates the auth service.
func NewService(conf config.AuthConfig, facade database.FacadeInterface, kv *kvstore.Store, b *billing.Service, sender CodeSender) *Service {
	whitelist := make(map[string]struct{}, len(conf.WhitelistEmails))
	for _, email := range conf.WhitelistEmails {
		whitelist[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}
	return &Service{
		conf:      conf,
		facade:    facade,
		kv:        kv,
		billing:   b,
		sender:    sender,
		whitelist: whitelist,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) isWhitelisted(email string) bool {
	_, ok := s.whitelist[email]
	return ok
}

// CodeTTL is the lifetime of an emailed verification code.
func (s *Service) CodeTTL() time.Duration {
	return kvstore.VerificationCodeTTL
}

// SendCode generates a 6-digit verification code and delivers it.
func (s *Service) SendCode(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return errors.NewError().WithKind(errors.KindInvalidRequest).
			WithMessage("a valid email is required")
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return errors.Wrap(err, errors.KindInternalError, "code generation failed")
	}
	code := fmt.Sprintf("%06d", n.Int64())

	if err := s.kv.SetVerificationCode(ctx, email, code); err != nil {
		return errors.Wrap(err, errors.KindInternalError, "code storage failed")
	}
	if err := s.sender.SendCode(email, code); err != nil {
		return errors.Wrap(err, errors.KindInternalError, "code delivery failed")
	}
	log.Infof("verification code sent to %s", email)
	return nil
}

// getOrCreateUser looks up the account, creating it on first login.
func (s *Service) getOrCreateUser(ctx context.Context, email string) (*model.User, error) {
	user, err := s.facade.GetUser().GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &model.User{
		UserID:   model.NewUserID(),
		Email:    email,
		Username: strings.SplitN(email, "@", 2)[0],
		IsActive: true,
	}
	if err := s.facade.GetUser().Create(ctx, user); err != nil {
		// Concurrent first logins race on the unique email index; the
		// loser re-reads the winner's row.
		existing, gerr := s.facade.GetUser().GetByEmail(ctx, email)
		if gerr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	log.Infof("created account %s for %s", user.UserID, email)
	return user, nil
}

// finishLogin applies the one-shot credit grant, stamps the login, caches
// the account and issues the token pair.
func (s *Service) finishLogin(ctx context.Context, user *model.User) (*LoginResult, error) {
	if _, err := s.billing.GrantLoginCredits(ctx, user, s.isWhitelisted(user.Email),
		s.conf.WhitelistFloor, s.conf.SignupBonus); err != nil {
		log.WithError(err).Warnf("login credit grant failed for user %s", user.UserID)
	}
	if err := s.facade.GetUser().UpdateLastLogin(ctx, user.UserID); err != nil {
		log.WithError(err).Warnf("last login stamp failed for user %s", user.UserID)
	}

	// Re-read so the response carries the granted balance.
	fresh, err := s.facade.GetUser().GetByID(ctx, user.UserID)
	if err == nil && fresh != nil {
		user = fresh
	}
	if err := s.kv.CacheUser(ctx, user); err != nil {
		log.WithError(err).Warnf("user cache write failed for user %s", user.UserID)
	}

	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user.ToInfo(), Tokens: tokens}, nil
}

func (s *Service) issueTokens(ctx context.Context, user *model.User) (*TokenPair, error) {
	access, err := issueAccessToken(s.conf.JWTSecret, user.UserID, user.Email, s.conf.AccessTokenTTL)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "token signing failed")
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "refresh token generation failed")
	}
	if err := s.kv.StoreRefreshToken(ctx, refresh, user.UserID, s.conf.RefreshTokenTTL); err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "refresh token storage failed")
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.conf.AccessTokenTTL.Seconds()),
	}, nil
}

// LoginWithCode burns the emailed code and signs the user in, creating the
// account on first login.
func (s *Service) LoginWithCode(ctx context.Context, email, code string) (*LoginResult, error) {
	email = normalizeEmail(email)
	ok, err := s.kv.ConsumeVerificationCode(ctx, email, code)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "code verification failed")
	}
	if !ok {
		return nil, errors.NewError().WithKind(errors.KindInvalidCredentials).
			WithMessage("verification code is invalid or expired")
	}

	user, err := s.getOrCreateUser(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "account lookup failed")
	}
	if !user.IsActive {
		return nil, errors.NewError().WithKind(errors.KindForbidden).
			WithMessage("account is disabled")
	}
	return s.finishLogin(ctx, user)
}

// Signup creates a password-protected account. The email must be unused.
func (s *Service) Signup(ctx context.Context, email, password, username string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.NewError().WithKind(errors.KindInvalidRequest).
			WithMessage("a valid email is required")
	}
	if len(password) < 6 {
		return nil, errors.NewError().WithKind(errors.KindInvalidRequest).
			WithMessage("password must be at least 6 characters")
	}

	existing, err := s.facade.GetUser().GetByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "account lookup failed")
	}
	if existing != nil {
		return nil, errors.NewError().WithKind(errors.KindInvalidRequest).
			WithMessage("an account with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "password hashing failed")
	}
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}
	user := &model.User{
		UserID:       model.NewUserID(),
		Email:        email,
		Username:     username,
		IsActive:     true,
		PasswordHash: string(hash),
		HasPassword:  true,
	}
	if err := s.facade.GetUser().Create(ctx, user); err != nil {
		// The unique email index rejects a concurrent signup; report it the
		// same way as a plain duplicate.
		if dup, gerr := s.facade.GetUser().GetByEmail(ctx, email); gerr == nil && dup != nil {
			return nil, errors.NewError().WithKind(errors.KindInvalidRequest).
				WithMessage("an account with this email already exists")
		}
		return nil, errors.Wrap(err, errors.KindInternalError, "account creation failed")
	}
	log.Infof("created account %s for %s via signup", user.UserID, email)
	return s.finishLogin(ctx, user)
}

// SetPassword hashes and stores a new password on an existing account.
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	if len(password) < 6 {
		return errors.NewError().WithKind(errors.KindInvalidRequest).
			WithMessage("password must be at least 6 characters")
	}
	user, err := s.facade.GetUser().GetByID(ctx, userID)
	if err != nil {
		return errors.Wrap(err, errors.KindInternalError, "account lookup failed")
	}
	if user == nil {
		return errors.NewError().WithKind(errors.KindUnauthenticated).
			WithMessage("account no longer exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, errors.KindInternalError, "password hashing failed")
	}
	if err := s.facade.GetUser().SetPassword(ctx, userID, string(hash)); err != nil {
		return errors.Wrap(err, errors.KindInternalError, "password storage failed")
	}
	// The cached row still carries the old hash.
	if err := s.kv.InvalidateUser(ctx, userID, user.Email); err != nil {
		log.WithError(err).Warnf("user cache invalidation failed for user %s", userID)
	}
	return nil
}

// LoginWithPassword signs in an existing account with its password.
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	user, err := s.facade.GetUser().GetByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "account lookup failed")
	}
	if user == nil || !user.HasPassword {
		return nil, errors.NewError().WithKind(errors.KindInvalidCredentials).
			WithMessage("invalid email or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, errors.NewError().WithKind(errors.KindInvalidCredentials).
			WithMessage("invalid email or password")
	}
	if !user.IsActive {
		return nil, errors.NewError().WithKind(errors.KindForbidden).
			WithMessage("account is disabled")
	}
	return s.finishLogin(ctx, user)
}

// Refresh rotates a refresh token and issues a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.kv.LookupRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "refresh token lookup failed")
	}
	if userID == "" {
		return nil, errors.NewError().WithKind(errors.KindUnauthenticated).
			WithMessage("refresh token is invalid or expired")
	}

	user, err := s.facade.GetUser().GetByID(ctx, userID)
	if err != nil || user == nil {
		return nil, errors.NewError().WithKind(errors.KindUnauthenticated).
			WithMessage("account no longer exists")
	}
	if err := s.kv.RevokeRefreshToken(ctx, refreshToken); err != nil {
		log.WithError(err).Warnf("refresh token revocation failed for user %s", userID)
	}
	return s.issueTokens(ctx, user)
}

// Me returns the account view, preferring the cache.
func (s *Service) Me(ctx context.Context, userID string) (*model.UserInfo, error) {
	if cached, err := s.kv.GetCachedUserByID(ctx, userID); err == nil && cached != nil {
		return cached.ToInfo(), nil
	}
	user, err := s.facade.GetUser().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewError().WithKind(errors.KindUnauthenticated).
			WithMessage("account no longer exists")
	}
	return user.ToInfo(), nil
}

// VerifyToken validates an access token and returns the user id.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	claims, err := VerifyAccessToken(s.conf.JWTSecret, tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Whitelisted reports whether an email is on the credit whitelist.
func (s *Service) Whitelisted(email string) bool {
	return s.isWhitelisted(normalizeEmail(email))
}
