package dto

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/spec-kit/account-service/internal/domain"
)

// maxFieldLength matches the VARCHAR(255) columns of the users table.
const maxFieldLength = 255

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Email    string `json:"email" form:"email"`
	Name     string `json:"name" form:"name"`
	Password string `json:"password" form:"password"`
}

// Validate checks the shape of present fields. Missing fields are reported
// by the service with its own messages.
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Length(3, maxFieldLength), is.Email),
		validation.Field(&r.Name, validation.Length(1, maxFieldLength)),
	)
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// UpdateProfileRequest carries the multipart text fields of a profile update.
type UpdateProfileRequest struct {
	Name string `json:"name" form:"name"`
}

// Validate checks the shape of present fields.
func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(1, maxFieldLength)),
	)
}

// ChangePasswordRequest payload for password rotation.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" form:"currentPassword"`
	NewPassword     string `json:"newPassword" form:"newPassword"`
}

// AccountResponse is the only shape an account leaves the service in. It
// has no password field.
type AccountResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccountResponse maps a domain account onto its public shape.
func NewAccountResponse(a *domain.Account) AccountResponse {
	resp := AccountResponse{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.AvatarURL != "" {
		avatar := a.AvatarURL
		resp.Avatar = &avatar
	}
	return resp
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	User      AccountResponse `json:"user"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// AccountEnvelope is returned by profile reads and updates.
type AccountEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	User    AccountResponse `json:"user"`
}

// StatusResponse is a bare acknowledgment.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
