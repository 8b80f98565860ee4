package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-service/internal/api/dto"
	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/service"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

const (
	msgInvalidBody  = "Invalid request body"
	msgUnauthorized = "Unauthorized"
	avatarFormField = "file"
)

// UsersHandler exposes the account endpoints under /api/auth.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// Register handles POST /api/auth/register.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidInput(msgInvalidBody)
	}
	if err := req.Validate(); err != nil {
		return apperrors.NewInvalidInput(err.Error())
	}

	result, err := h.auth.Register(c.UserContext(), req.Email, req.Name, req.Password)
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(dto.AuthResponse{
		Success:   true,
		Message:   "User registered successfully",
		User:      dto.NewAccountResponse(result.Account),
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

// Login handles POST /api/auth/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidInput(msgInvalidBody)
	}

	result, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(dto.AuthResponse{
		Success:   true,
		Message:   "Logged in successfully",
		User:      dto.NewAccountResponse(result.Account),
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

// Me handles GET /api/auth/user.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	account, ok := auth.AccountFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized(msgUnauthorized)
	}
	return c.JSON(dto.AccountEnvelope{
		Success: true,
		User:    dto.NewAccountResponse(account),
	})
}

// UpdateProfile handles PUT /api/auth/user with a multipart body carrying an
// optional name and an optional avatar file.
func (h *UsersHandler) UpdateProfile(c *fiber.Ctx) error {
	caller, _ := auth.AccountFromContext(c)

	input, err := parseProfileInput(c)
	if err != nil {
		return err
	}

	account, err := h.auth.UpdateProfile(c.UserContext(), caller, input)
	if err != nil {
		return err
	}

	return c.JSON(dto.AccountEnvelope{
		Success: true,
		Message: "Profile updated successfully",
		User:    dto.NewAccountResponse(account),
	})
}

// ChangePassword handles PUT /api/auth/change-password.
func (h *UsersHandler) ChangePassword(c *fiber.Ctx) error {
	caller, _ := auth.AccountFromContext(c)

	var req dto.ChangePasswordRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewInvalidInput(msgInvalidBody)
		}
	}

	if err := h.auth.ChangePassword(c.UserContext(), caller, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}

	return c.JSON(dto.StatusResponse{
		Success: true,
		Message: "Password changed successfully",
	})
}

func parseProfileInput(c *fiber.Ctx) (service.UpdateProfileInput, error) {
	var input service.UpdateProfileInput
	contentType := strings.ToLower(c.Get(fiber.HeaderContentType))

	switch {
	case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return input, apperrors.NewInvalidInput(msgInvalidBody)
		}
		if names := form.Value["name"]; len(names) > 0 {
			input.Name = names[0]
		}
		if files := form.File[avatarFormField]; len(files) > 0 {
			avatar, err := readAvatar(files[0])
			if err != nil {
				return input, err
			}
			input.Avatar = avatar
		}
	case len(c.Body()) > 0:
		var req dto.UpdateProfileRequest
		if err := c.BodyParser(&req); err != nil {
			return input, apperrors.NewInvalidInput(msgInvalidBody)
		}
		input.Name = req.Name
	}

	if err := (dto.UpdateProfileRequest{Name: input.Name}).Validate(); err != nil {
		return input, apperrors.NewInvalidInput(err.Error())
	}
	return input, nil
}

func readAvatar(header *multipart.FileHeader) (*service.AvatarInput, error) {
	f, err := header.Open()
	if err != nil {
		return nil, apperrors.NewInternalMessage("Failed to generate file buffer", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewInternalMessage("Failed to generate file buffer", err)
	}
	return &service.AvatarInput{Content: content}, nil
}
