// AngelaMos | 2026
// dto.go

package auth

import (
	"time"
)

type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type SignUpRequest struct {
	Email    string            `json:"email"              validate:"required,email,max=255"`
	Password string            `json:"password"           validate:"required,min=8,max=128"`
	Metadata map[string]string `json:"metadata,omitempty" validate:"omitempty,max=20,dive,keys,min=1,max=64,endkeys,max=512"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type ConfirmRequest struct {
	Token string `json:"token" validate:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

type PasswordResetConfirmRequest struct {
	Token    string `json:"token"    validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type UpdatePasswordRequest struct {
	Password     string `json:"password"                validate:"required,min=8,max=128"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type UpdateMetadataRequest struct {
	Metadata map[string]string `json:"metadata" validate:"required,max=20,dive,keys,min=1,max=64,endkeys,max=512"`
}

type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type UserResponse struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	Metadata       map[string]string `json:"metadata"`
	EmailConfirmed bool              `json:"email_confirmed"`
	CreatedAt      time.Time         `json:"created_at"`
}

// AuthResponse carries tokens only when a session was opened. A sign-up that
// still awaits email confirmation returns the user alone.
type AuthResponse struct {
	User              UserResponse   `json:"user"`
	Tokens            *TokenResponse `json:"tokens,omitempty"`
	ConfirmationToken string         `json:"confirmation_token,omitempty"`
}

type PasswordResetResponse struct {
	ResetToken string `json:"reset_token,omitempty"`
}

type SessionInfo struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// RevocationRecord is the payload of auth realtime events.
type RevocationRecord struct {
	UserID       string `json:"user_id"`
	TokenVersion int    `json:"token_version,omitempty"`
	Reason       string `json:"reason"`
}

func toUserResponse(u *UserInfo) UserResponse {
	metadata := u.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return UserResponse{
		ID:             u.ID,
		Email:          u.Email,
		Metadata:       metadata,
		EmailConfirmed: u.EmailConfirmed,
		CreatedAt:      u.CreatedAt,
	}
}
