package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/repository"
	"github.com/spec-kit/account-service/internal/upload"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// MinPasswordLength applies to rotated passwords.
const MinPasswordLength = 6

const (
	msgRegisterRequired     = "Email, name, and password are required"
	msgEmailExists          = "Email already exists"
	msgLoginRequired        = "Email and password are required"
	msgInvalidCredentials   = "Invalid email or password"
	msgUnauthorized         = "Unauthorized"
	msgInvalidToken         = "Invalid or expired token"
	msgUserNotFound         = "User not found"
	msgFileBuffer           = "Failed to generate file buffer"
	msgAvatarUpload         = "Failed to upload avatar"
	msgNoData               = "No data to update"
	msgPasswordsRequired    = "Current password and new password are required"
	msgPasswordTooShort     = "New password must be at least 6 characters long"
	msgPasswordTooLong      = "Password must be at most 72 bytes long"
	msgCurrentIncorrect     = "Current password is incorrect"
	msgPasswordReused       = "New password must be different from current password"
	msgPasswordUpdateFailed = "Failed to update password"
)

// AuthResult is returned by operations that open a session.
type AuthResult struct {
	Account   *domain.Account
	Token     string
	ExpiresAt time.Time
}

// AvatarInput is the raw avatar file attached to a profile update.
type AvatarInput struct {
	Content []byte
}

// UpdateProfileInput carries the optional profile fields; empty means absent.
type UpdateProfileInput struct {
	Name   string
	Avatar *AvatarInput
}

// AuthService coordinates registration, login and self-service profile changes.
type AuthService struct {
	accounts       repository.AccountRepository
	cache          repository.AccountCache
	uploader       upload.AvatarUploader
	events         events.Dispatcher
	logger         *zap.Logger
	tokenMgr       *auth.TokenManager
	hasher         *auth.Hasher
	rotationHasher *auth.Hasher
	decoyHash      string
}

// AuthDependencies encapsulates adapter requirements for the auth service.
type AuthDependencies struct {
	Accounts repository.AccountRepository
	Cache    repository.AccountCache
	Uploader upload.AvatarUploader
	Events   events.Dispatcher
	Logger   *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	s := &AuthService{
		accounts: deps.Accounts,
		cache:    deps.Cache,
		uploader: deps.Uploader,
		events:   deps.Events,
		logger:   deps.Logger,
		tokenMgr: auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		hasher:   auth.NewHasher(cfg.Auth.BcryptCost),
	}
	s.rotationHasher = auth.NewRotationHasher(s.hasher, cfg.Auth.BcryptChangeCost)

	if s.cache == nil {
		s.cache = repository.NoopAccountCache{}
	}
	if s.uploader == nil {
		s.uploader = upload.Disabled{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.events == nil {
		s.events = events.NewInMemoryDispatcher(s.logger)
	}

	// Login runs a verification against this digest when the email is unknown
	// so both failure paths cost one bcrypt comparison.
	if decoy, err := s.hasher.Hash(uuid.NewString()); err == nil {
		s.decoyHash = decoy
	}
	return s
}

// Register creates a new account and opens a session for it.
func (s *AuthService) Register(ctx context.Context, email, name, password string) (*AuthResult, error) {
	if email == "" || name == "" || password == "" {
		return nil, apperrors.NewInvalidInput(msgRegisterRequired)
	}

	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict(msgEmailExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, internal("register: lookup email", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperrors.NewInvalidInput(msgPasswordTooLong)
		}
		return nil, internal("register: hash password", err)
	}

	// The unique constraint is authoritative; losing a race here is reported
	// as an internal failure.
	account, err := s.accounts.Create(ctx, email, name, hash)
	if err != nil {
		return nil, internal("register: create account", err)
	}

	token, exp, err := s.tokenMgr.Issue(account.ID)
	if err != nil {
		return nil, internal("register: issue token", err)
	}

	s.publish(ctx, events.NewEvent(events.EventAccountRegistered, account.ID, nil))
	return &AuthResult{Account: account.Public(), Token: token, ExpiresAt: exp}, nil
}

// Login authenticates by email and password. Unknown emails and wrong
// passwords fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if email == "" || password == "" {
		return nil, apperrors.NewInvalidInput(msgLoginRequired)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.Verify(password, s.decoyHash)
			return nil, apperrors.NewUnauthorized(msgInvalidCredentials)
		}
		return nil, internal("login: lookup email", err)
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		return nil, apperrors.NewUnauthorized(msgInvalidCredentials)
	}

	token, exp, err := s.tokenMgr.Issue(account.ID)
	if err != nil {
		return nil, internal("login: issue token", err)
	}

	s.publish(ctx, events.NewEvent(events.EventAccountLoggedIn, account.ID, nil))
	return &AuthResult{Account: account.Public(), Token: token, ExpiresAt: exp}, nil
}

// Authenticate resolves a bearer token to the caller's stored profile.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.Account, error) {
	claim, err := s.tokenMgr.Verify(token)
	if err != nil {
		return nil, apperrors.NewUnauthorized(msgInvalidToken)
	}

	if cached, err := s.cache.Get(ctx, claim.SubjectID); err == nil {
		return cached, nil
	} else if !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("account cache read failed", zap.Int64("account_id", claim.SubjectID), zap.Error(err))
	}

	account, err := s.accounts.GetByID(ctx, claim.SubjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized(msgUserNotFound)
		}
		return nil, internal("authenticate: lookup account", err)
	}

	// Fill only an empty slot so a read that raced a mutation never
	// overwrites the fresher profile the mutation stored.
	public := account.Public()
	if err := s.cache.Add(ctx, public); err != nil {
		s.logger.Warn("account cache write failed", zap.Int64("account_id", account.ID), zap.Error(err))
	}
	return public, nil
}

// UpdateProfile changes the caller's display name and/or avatar. Fields that
// are not supplied keep their stored values.
func (s *AuthService) UpdateProfile(ctx context.Context, caller *domain.Account, input UpdateProfileInput) (*domain.Account, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized(msgUnauthorized)
	}

	var avatarURL string
	if input.Avatar != nil {
		file, err := upload.NewFile(input.Avatar.Content)
		if err != nil {
			if errors.Is(err, upload.ErrUnsupportedType) {
				return nil, apperrors.NewInternalMessage(msgAvatarUpload, err)
			}
			return nil, apperrors.NewInternalMessage(msgFileBuffer, err)
		}
		avatarURL, err = s.uploader.Upload(ctx, file)
		if err != nil {
			return nil, apperrors.NewInternalMessage(msgAvatarUpload, err)
		}
		if avatarURL == "" {
			return nil, apperrors.NewInternalMessage(msgAvatarUpload, errors.New("uploader returned no url"))
		}
	}

	var update repository.ProfileUpdate
	if input.Name != "" {
		update.Name = &input.Name
	}
	if avatarURL != "" {
		update.AvatarURL = &avatarURL
	}
	if update.Empty() {
		return nil, apperrors.NewInvalidInput(msgNoData)
	}

	account, err := s.accounts.UpdateProfile(ctx, caller.ID, update)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound(msgUserNotFound)
		}
		return nil, internal("update profile", err)
	}

	s.refresh(ctx, account)
	s.publish(ctx, events.NewEvent(events.EventProfileUpdated, account.ID, events.ProfileUpdatedPayload{
		NameChanged:   update.Name != nil,
		AvatarChanged: update.AvatarURL != nil,
	}))
	return account.Public(), nil
}

// ChangePassword rotates the caller's password after checking the current
// one. Reusing the current password is rejected.
func (s *AuthService) ChangePassword(ctx context.Context, caller *domain.Account, currentPassword, newPassword string) error {
	if caller == nil {
		return apperrors.NewUnauthorized(msgUnauthorized)
	}
	if currentPassword == "" || newPassword == "" {
		return apperrors.NewInvalidInput(msgPasswordsRequired)
	}
	if utf8.RuneCountInString(newPassword) < MinPasswordLength {
		return apperrors.NewInvalidInput(msgPasswordTooShort)
	}

	// Always re-read: the caller's copy may be cached and carries no hash.
	account, err := s.accounts.GetByID(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound(msgUserNotFound)
		}
		return internal("change password: lookup account", err)
	}

	if !s.hasher.Verify(currentPassword, account.PasswordHash) {
		return apperrors.NewInvalidInput(msgCurrentIncorrect)
	}
	if s.hasher.Verify(newPassword, account.PasswordHash) {
		return apperrors.NewInvalidInput(msgPasswordReused)
	}

	hash, err := s.rotationHasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperrors.NewInvalidInput(msgPasswordTooLong)
		}
		return internal("change password: hash password", err)
	}

	updated, err := s.accounts.UpdatePassword(ctx, account.ID, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewInternalMessage(msgPasswordUpdateFailed, err)
		}
		return internal("change password: update", err)
	}

	s.refresh(ctx, updated)
	s.publish(ctx, events.NewEvent(events.EventPasswordChanged, account.ID, nil))
	return nil
}

// TokenManager exposes the underlying token manager.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// refresh overwrites the cached profile with the freshly written one and
// falls back to dropping the entry.
func (s *AuthService) refresh(ctx context.Context, account *domain.Account) {
	err := s.cache.Set(ctx, account.Public())
	if err == nil {
		return
	}
	s.logger.Warn("account cache write failed", zap.Int64("account_id", account.ID), zap.Error(err))
	if err := s.cache.Invalidate(ctx, account.ID); err != nil {
		s.logger.Warn("account cache invalidation failed", zap.Int64("account_id", account.ID), zap.Error(err))
	}
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	_ = s.events.Publish(ctx, event)
}

func internal(op string, err error) error {
	return apperrors.NewInternalError(fmt.Errorf("%s: %w", op, err))
}
