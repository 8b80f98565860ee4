package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/repository"
	"github.com/spec-kit/account-service/internal/upload"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// --- helpers ---

type recordingRepo struct {
	*repository.MemoryAccountRepository
	mu    sync.Mutex
	calls []string
	fail  error
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{MemoryAccountRepository: repository.NewMemoryAccountRepository()}
}

func (r *recordingRepo) record(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	return r.fail
}

func (r *recordingRepo) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingRepo) Create(ctx context.Context, email, name, hash string) (*domain.Account, error) {
	if err := r.record("Create"); err != nil {
		return nil, err
	}
	return r.MemoryAccountRepository.Create(ctx, email, name, hash)
}

func (r *recordingRepo) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	if err := r.record("GetByID"); err != nil {
		return nil, err
	}
	return r.MemoryAccountRepository.GetByID(ctx, id)
}

func (r *recordingRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if err := r.record("GetByEmail"); err != nil {
		return nil, err
	}
	return r.MemoryAccountRepository.GetByEmail(ctx, email)
}

func (r *recordingRepo) UpdateProfile(ctx context.Context, id int64, u repository.ProfileUpdate) (*domain.Account, error) {
	if err := r.record("UpdateProfile"); err != nil {
		return nil, err
	}
	return r.MemoryAccountRepository.UpdateProfile(ctx, id, u)
}

func (r *recordingRepo) UpdatePassword(ctx context.Context, id int64, hash string) (*domain.Account, error) {
	if err := r.record("UpdatePassword"); err != nil {
		return nil, err
	}
	return r.MemoryAccountRepository.UpdatePassword(ctx, id, hash)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, file *upload.File) (string, error) {
	args := m.Called(file.Ext, file.MimeType)
	return args.String(0), args.Error(1)
}

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
)

type memCache struct {
	mu          sync.Mutex
	entries     map[int64]*domain.Account
	invalidated []int64
}

func newMemCache() *memCache { return &memCache{entries: map[int64]*domain.Account{}} }

func (c *memCache) Get(_ context.Context, id int64) (*domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.entries[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, repository.ErrCacheMiss
}

func (c *memCache) Set(_ context.Context, a *domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *a
	c.entries[a.ID] = &cp
	return nil
}

func (c *memCache) Add(_ context.Context, a *domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[a.ID]; ok {
		return nil
	}
	cp := *a
	c.entries[a.ID] = &cp
	return nil
}

func (c *memCache) cached(id int64) *domain.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id]
}

func (c *memCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func testConfig() config.Config {
	return config.Config{Auth: config.AuthConfig{
		JWTSecret:        "test-secret",
		TokenTTL:         config.SessionTTL,
		BcryptCost:       bcrypt.MinCost,
		BcryptChangeCost: bcrypt.MinCost + 1,
	}}
}

func newTestService(t *testing.T, repo repository.AccountRepository, deps AuthDependencies) *AuthService {
	t.Helper()
	deps.Accounts = repo
	return NewAuthService(testConfig(), deps)
}

func requireKind(t *testing.T, err error, kind apperrors.Kind, message string) {
	t.Helper()
	require.Error(t, err)
	de := apperrors.ToDomainError(err)
	assert.Equal(t, kind, de.Kind)
	if message != "" {
		assert.Equal(t, message, de.Message)
	}
}

func registerAnn(t *testing.T, s *AuthService) *AuthResult {
	t.Helper()
	res, err := s.Register(context.Background(), "a@x.com", "Ann", "secret1")
	require.NoError(t, err)
	return res
}

// --- register / login ---

func TestRegister_ThenLoginResolvesSameSubject(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestService(t, repo, AuthDependencies{})

	reg := registerAnn(t, s)
	assert.Equal(t, int64(1), reg.Account.ID)
	assert.Empty(t, reg.Account.PasswordHash)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), reg.ExpiresAt, time.Minute)

	login, err := s.Login(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Empty(t, login.Account.PasswordHash)

	claim, err := s.TokenManager().Verify(login.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, claim.SubjectID)
}

func TestRegister_StoresDigestAtBaselineCost(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestService(t, repo, AuthDependencies{})
	registerAnn(t, s)

	stored, err := repo.MemoryAccountRepository.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)
	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name, email, display, password string
	}{
		{"missing email", "", "Ann", "secret1"},
		{"missing name", "a@x.com", "", "secret1"},
		{"missing password", "a@x.com", "Ann", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRecordingRepo()
			s := newTestService(t, repo, AuthDependencies{})
			_, err := s.Register(context.Background(), tt.email, tt.display, tt.password)
			requireKind(t, err, apperrors.KindInvalidInput, "Email, name, and password are required")
			assert.Empty(t, repo.Calls())
		})
	}
}

func TestRegister_DuplicateEmailConflict(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestService(t, repo, AuthDependencies{})
	registerAnn(t, s)

	_, err := s.Register(context.Background(), "a@x.com", "Other", "another1")
	requireKind(t, err, apperrors.KindConflict, "Email already exists")
}

type racingRepo struct {
	*recordingRepo
}

func (r racingRepo) GetByEmail(context.Context, string) (*domain.Account, error) {
	return nil, repository.ErrNotFound
}

func TestRegister_LostInsertRaceIsInternal(t *testing.T) {
	repo := racingRepo{newRecordingRepo()}
	s := newTestService(t, repo, AuthDependencies{})
	registerAnn(t, s)

	_, err := s.Register(context.Background(), "a@x.com", "Ann", "secret1")
	requireKind(t, err, apperrors.KindInternal, apperrors.InternalMessage)
	assert.ErrorIs(t, err, repository.ErrEmailTaken)
}

func TestRegister_PasswordTooLongForBcrypt(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	_, err := s.Register(context.Background(), "a@x.com", "Ann", strings.Repeat("p", 73))
	requireKind(t, err, apperrors.KindInvalidInput, "Password must be at most 72 bytes long")
}

func TestLogin_EnumerationResistance(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	registerAnn(t, s)

	_, unknownErr := s.Login(context.Background(), "nobody@x.com", "secret1")
	_, wrongErr := s.Login(context.Background(), "a@x.com", "wrong")

	requireKind(t, unknownErr, apperrors.KindUnauthorized, "Invalid email or password")
	requireKind(t, wrongErr, apperrors.KindUnauthorized, "Invalid email or password")
	assert.Equal(t, apperrors.ToDomainError(unknownErr).HTTPStatus, apperrors.ToDomainError(wrongErr).HTTPStatus)
}

func TestLogin_MissingFields(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestService(t, repo, AuthDependencies{})

	_, err := s.Login(context.Background(), "", "secret1")
	requireKind(t, err, apperrors.KindInvalidInput, "Email and password are required")
	_, err = s.Login(context.Background(), "a@x.com", "")
	requireKind(t, err, apperrors.KindInvalidInput, "Email and password are required")
	assert.Empty(t, repo.Calls())
}

func TestLogin_StoreFailureIsContained(t *testing.T) {
	repo := newRecordingRepo()
	repo.fail = errors.New("dial tcp 10.0.0.5:5432: connection refused")
	s := newTestService(t, repo, AuthDependencies{})

	_, err := s.Login(context.Background(), "a@x.com", "secret1")
	requireKind(t, err, apperrors.KindInternal, apperrors.InternalMessage)
	assert.NotContains(t, apperrors.ToDomainError(err).Message, "10.0.0.5")
}

// --- authenticate ---

func TestAuthenticate_UsesCacheAfterFirstLookup(t *testing.T) {
	repo := newRecordingRepo()
	cache := newMemCache()
	s := newTestService(t, repo, AuthDependencies{Cache: cache})
	reg := registerAnn(t, s)

	first, err := s.Authenticate(context.Background(), reg.Token)
	require.NoError(t, err)
	assert.Equal(t, "Ann", first.Name)
	assert.Empty(t, first.PasswordHash)

	before := len(repo.Calls())
	second, err := s.Authenticate(context.Background(), reg.Token)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.Calls(), before)
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	_, err := s.Authenticate(context.Background(), "garbage")
	requireKind(t, err, apperrors.KindUnauthorized, "")
}

func TestAuthenticate_AccountGone(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	token, _, err := s.TokenManager().Issue(77)
	require.NoError(t, err)

	_, err = s.Authenticate(context.Background(), token)
	requireKind(t, err, apperrors.KindUnauthorized, "User not found")
}

// --- update profile ---

func TestUpdateProfile_RequiresCaller(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	_, err := s.UpdateProfile(context.Background(), nil, UpdateProfileInput{Name: "x"})
	requireKind(t, err, apperrors.KindUnauthorized, "Unauthorized")
}

func TestUpdateProfile_NoDataLeavesStoreUntouched(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestService(t, repo, AuthDependencies{})
	reg := registerAnn(t, s)
	before := len(repo.Calls())

	_, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{})
	requireKind(t, err, apperrors.KindInvalidInput, "No data to update")
	assert.Len(t, repo.Calls(), before)

	stored, err := repo.MemoryAccountRepository.GetByID(context.Background(), reg.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", stored.Name)
}

func TestUpdateProfile_NameOnlyKeepsAvatar(t *testing.T) {
	repo := newRecordingRepo()
	uploader := new(mockUploader)
	uploader.On("Upload", ".png", "image/png").Return("https://cdn/avatars/1.png", nil)
	cache := newMemCache()
	s := newTestService(t, repo, AuthDependencies{Uploader: uploader, Cache: cache})
	reg := registerAnn(t, s)

	withAvatar, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{
		Avatar: &AvatarInput{Content: pngBytes},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann", withAvatar.Name)
	assert.Equal(t, "https://cdn/avatars/1.png", withAvatar.AvatarURL)

	renamed, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{Name: "Ann B"})
	require.NoError(t, err)
	assert.Equal(t, "Ann B", renamed.Name)
	assert.Equal(t, "https://cdn/avatars/1.png", renamed.AvatarURL)
	assert.Empty(t, renamed.PasswordHash)
	assert.Empty(t, cache.invalidated)
	cached := cache.cached(reg.Account.ID)
	require.NotNil(t, cached)
	assert.Equal(t, "Ann B", cached.Name)
	assert.Equal(t, "https://cdn/avatars/1.png", cached.AvatarURL)
	assert.Empty(t, cached.PasswordHash)
	uploader.AssertNumberOfCalls(t, "Upload", 1)
}

func TestUpdateProfile_NameAndAvatarTogether(t *testing.T) {
	uploader := new(mockUploader)
	uploader.On("Upload", ".jpg", "image/jpeg").Return("https://cdn/avatars/2.jpg", nil)
	s := newTestService(t, newRecordingRepo(), AuthDependencies{Uploader: uploader})
	reg := registerAnn(t, s)

	updated, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{
		Name:   "Annie",
		Avatar: &AvatarInput{Content: jpegBytes},
	})
	require.NoError(t, err)
	assert.Equal(t, "Annie", updated.Name)
	assert.Equal(t, "https://cdn/avatars/2.jpg", updated.AvatarURL)
}

func TestUpdateProfile_UploadFailureDoesNotTouchStore(t *testing.T) {
	repo := newRecordingRepo()
	uploader := new(mockUploader)
	uploader.On("Upload", mock.Anything, mock.Anything).Return("", upload.ErrUploadFailed)
	s := newTestService(t, repo, AuthDependencies{Uploader: uploader})
	reg := registerAnn(t, s)
	before := len(repo.Calls())

	_, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{
		Name:   "Ann B",
		Avatar: &AvatarInput{Content: pngBytes},
	})
	requireKind(t, err, apperrors.KindInternal, "Failed to upload avatar")
	assert.Len(t, repo.Calls(), before)
}

func TestUpdateProfile_EmptyURLIsInternal(t *testing.T) {
	uploader := new(mockUploader)
	uploader.On("Upload", mock.Anything, mock.Anything).Return("", nil)
	s := newTestService(t, newRecordingRepo(), AuthDependencies{Uploader: uploader})
	reg := registerAnn(t, s)

	_, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{
		Avatar: &AvatarInput{Content: pngBytes},
	})
	requireKind(t, err, apperrors.KindInternal, "Failed to upload avatar")
}

func TestUpdateProfile_EmptyFileIsInternal(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	reg := registerAnn(t, s)

	_, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{
		Name:   "Ann B",
		Avatar: &AvatarInput{},
	})
	requireKind(t, err, apperrors.KindInternal, "Failed to generate file buffer")
}

func TestUpdateProfile_UploadsDisabled(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	reg := registerAnn(t, s)

	_, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{
		Avatar: &AvatarInput{Content: pngBytes},
	})
	requireKind(t, err, apperrors.KindInternal, "Failed to upload avatar")
	assert.ErrorIs(t, err, upload.ErrNotConfigured)
}

func TestUpdateProfile_NonImageRejectedBeforeUpload(t *testing.T) {
	repo := newRecordingRepo()
	uploader := new(mockUploader)
	s := newTestService(t, repo, AuthDependencies{Uploader: uploader})
	reg := registerAnn(t, s)
	before := len(repo.Calls())

	_, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{
		Name:   "Ann B",
		Avatar: &AvatarInput{Content: []byte("<html><script>alert(1)</script></html>")},
	})
	requireKind(t, err, apperrors.KindInternal, "Failed to upload avatar")
	assert.ErrorIs(t, err, upload.ErrUnsupportedType)
	uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	assert.Len(t, repo.Calls(), before)
}

// readHookRepo runs onRead once, after GetByID has read the row and before
// it returns, to interleave a concurrent mutation.
type readHookRepo struct {
	*recordingRepo
	onRead func()
}

func (r *readHookRepo) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	account, err := r.recordingRepo.GetByID(ctx, id)
	if hook := r.onRead; hook != nil {
		r.onRead = nil
		hook()
	}
	return account, err
}

func TestAuthenticate_StaleReadDoesNotOverwriteFreshProfile(t *testing.T) {
	repo := &readHookRepo{recordingRepo: newRecordingRepo()}
	cache := newMemCache()
	s := newTestService(t, repo, AuthDependencies{Cache: cache})
	reg := registerAnn(t, s)

	repo.onRead = func() {
		_, err := s.UpdateProfile(context.Background(), reg.Account, UpdateProfileInput{Name: "Ann B"})
		require.NoError(t, err)
	}

	stale, err := s.Authenticate(context.Background(), reg.Token)
	require.NoError(t, err)
	assert.Equal(t, "Ann", stale.Name)

	fresh, err := s.Authenticate(context.Background(), reg.Token)
	require.NoError(t, err)
	assert.Equal(t, "Ann B", fresh.Name)
}

func TestChangePassword_RefreshesCachedProfile(t *testing.T) {
	cache := newMemCache()
	s := newTestService(t, newRecordingRepo(), AuthDependencies{Cache: cache})
	reg := registerAnn(t, s)

	_, err := s.Authenticate(context.Background(), reg.Token)
	require.NoError(t, err)
	before := cache.cached(reg.Account.ID)
	require.NotNil(t, before)

	require.NoError(t, s.ChangePassword(context.Background(), reg.Account, "secret1", "secret2"))
	after := cache.cached(reg.Account.ID)
	require.NotNil(t, after)
	assert.Empty(t, after.PasswordHash)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
}

func TestUpdateProfile_AccountVanished(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	ghost := &domain.Account{ID: 404}

	_, err := s.UpdateProfile(context.Background(), ghost, UpdateProfileInput{Name: "x"})
	requireKind(t, err, apperrors.KindNotFound, "User not found")
}

// --- change password ---

func TestChangePassword_RejectsReuse(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	reg := registerAnn(t, s)

	err := s.ChangePassword(context.Background(), reg.Account, "secret1", "secret1")
	requireKind(t, err, apperrors.KindInvalidInput, "New password must be different from current password")
}

func TestChangePassword_ShortPasswordFailsBeforeStorage(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestService(t, repo, AuthDependencies{})
	caller := &domain.Account{ID: 1}

	err := s.ChangePassword(context.Background(), caller, "secret1", "abc")
	requireKind(t, err, apperrors.KindInvalidInput, "New password must be at least 6 characters long")
	assert.Empty(t, repo.Calls())
}

func TestChangePassword_MissingFieldsFailBeforeStorage(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestService(t, repo, AuthDependencies{})
	caller := &domain.Account{ID: 1}

	err := s.ChangePassword(context.Background(), caller, "", "secret2")
	requireKind(t, err, apperrors.KindInvalidInput, "Current password and new password are required")
	err = s.ChangePassword(context.Background(), caller, "secret1", "")
	requireKind(t, err, apperrors.KindInvalidInput, "Current password and new password are required")
	assert.Empty(t, repo.Calls())
}

func TestChangePassword_RequiresCaller(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	err := s.ChangePassword(context.Background(), nil, "secret1", "secret2")
	requireKind(t, err, apperrors.KindUnauthorized, "Unauthorized")
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	reg := registerAnn(t, s)

	err := s.ChangePassword(context.Background(), reg.Account, "nope-nope", "secret2")
	requireKind(t, err, apperrors.KindInvalidInput, "Current password is incorrect")
}

func TestChangePassword_AccountVanished(t *testing.T) {
	s := newTestService(t, newRecordingRepo(), AuthDependencies{})
	err := s.ChangePassword(context.Background(), &domain.Account{ID: 5}, "secret1", "secret2")
	requireKind(t, err, apperrors.KindNotFound, "User not found")
}

func TestChangePassword_RotatesAtElevatedCost(t *testing.T) {
	repo := newRecordingRepo()
	dispatcher := events.NewInMemoryDispatcher(nil)
	var seen []events.EventType
	dispatcher.Subscribe(events.EventPasswordChanged, func(_ context.Context, e events.Event) error {
		seen = append(seen, e.Type)
		return nil
	})
	s := newTestService(t, repo, AuthDependencies{Events: dispatcher})
	reg := registerAnn(t, s)

	require.NoError(t, s.ChangePassword(context.Background(), reg.Account, "secret1", "secret2"))

	stored, err := repo.MemoryAccountRepository.GetByID(context.Background(), reg.Account.ID)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
	assert.Equal(t, []events.EventType{events.EventPasswordChanged}, seen)

	_, err = s.Login(context.Background(), "a@x.com", "secret1")
	requireKind(t, err, apperrors.KindUnauthorized, "Invalid email or password")
	_, err = s.Login(context.Background(), "a@x.com", "secret2")
	assert.NoError(t, err)
}

func TestChangePassword_StoreFailureIsContained(t *testing.T) {
	repo := newRecordingRepo()
	s := newTestService(t, repo, AuthDependencies{})
	reg := registerAnn(t, s)
	repo.fail = errors.New("relation \"users\" does not exist")

	err := s.ChangePassword(context.Background(), reg.Account, "secret1", "secret2")
	requireKind(t, err, apperrors.KindInternal, apperrors.InternalMessage)
}

type noRowsOnPasswordRepo struct {
	*recordingRepo
}

func (r noRowsOnPasswordRepo) UpdatePassword(context.Context, int64, string) (*domain.Account, error) {
	return nil, repository.ErrNotFound
}

func TestChangePassword_NoRowsUpdated(t *testing.T) {
	repo := noRowsOnPasswordRepo{newRecordingRepo()}
	s := newTestService(t, repo, AuthDependencies{})
	reg := registerAnn(t, s)

	err := s.ChangePassword(context.Background(), reg.Account, "secret1", "secret2")
	requireKind(t, err, apperrors.KindInternal, "Failed to update password")
}
