// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/templates/credit-ledger/internal/config"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/middleware"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
)

const actionTokenBytes = 32

type UserProvider interface {
	GetByEmail(ctx context.Context, email string) (*UserInfo, error)
	GetByID(ctx context.Context, id string) (*UserInfo, error)
	Create(
		ctx context.Context,
		email, passwordHash string,
		metadata map[string]string,
		confirmed bool,
	) (*UserInfo, error)
	ConfirmEmail(ctx context.Context, userID string) error
	IncrementTokenVersion(ctx context.Context, userID string) (int, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateMetadata(
		ctx context.Context,
		userID string,
		metadata map[string]string,
	) (*UserInfo, error)
}

// ProvisionFunc runs after a user row is created, e.g. to create the member
// profile and the trial credit account.
type ProvisionFunc func(ctx context.Context, user *UserInfo) error

type Service struct {
	repo         Repository
	jwt          *JWTManager
	userProvider UserProvider
	redis        *redis.Client
	publisher    realtime.Publisher
	cfg          config.AuthConfig
	logger       *slog.Logger
	provisioners []ProvisionFunc
	newToken     func() (string, error)
}

func NewService(
	repo Repository,
	jwt *JWTManager,
	userProvider UserProvider,
	redisClient *redis.Client,
	publisher realtime.Publisher,
	cfg config.AuthConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		jwt:          jwt,
		userProvider: userProvider,
		redis:        redisClient,
		publisher:    publisher,
		cfg:          cfg,
		logger:       logger,
		newToken:     generateActionToken,
	}
}

func generateActionToken() (string, error) {
	return core.GenerateSecureToken(actionTokenBytes)
}

// OnSignUp registers fn to run, in order, for every new user.
func (s *Service) OnSignUp(fn ProvisionFunc) {
	s.provisioners = append(s.provisioners, fn)
}

func (s *Service) SignUp(
	ctx context.Context,
	req SignUpRequest,
	userAgent, ipAddress string,
) (*AuthResponse, error) {
	email := core.NormalizeEmail(req.Email)

	if !s.domainAllowed(email) {
		return nil, fmt.Errorf("sign up: %w", ErrDomainNotAllowed)
	}

	passwordHash, err := core.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	confirmed := !s.cfg.RequireEmailConfirmation
	user, err := s.userProvider.Create(ctx, email, passwordHash, req.Metadata, confirmed)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return nil, fmt.Errorf("sign up: %w", ErrAlreadyRegistered)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	for _, provision := range s.provisioners {
		if err := provision(ctx, user); err != nil {
			s.logger.Error("sign-up provisioning failed",
				"user_id", user.ID,
				"error", err,
			)
		}
	}

	if !confirmed {
		token, err := s.issueActionToken(ctx, actionConfirm, user.ID, s.cfg.ConfirmationTTL)
		if err != nil {
			return nil, err
		}

		s.logActionToken("confirmation token issued", user.ID, token)

		resp := &AuthResponse{User: toUserResponse(user)}
		if s.cfg.ExposeConfirmationToken {
			resp.ConfirmationToken = token
		}
		return resp, nil
	}

	return s.createAuthResponse(ctx, user, userAgent, ipAddress, "", nil)
}

// logActionToken records an issued token. The token itself is logged only
// when responses already expose it.
func (s *Service) logActionToken(msg, userID, token string) {
	attrs := []any{"user_id", userID}
	if s.cfg.ExposeConfirmationToken {
		attrs = append(attrs, "token", token)
	}
	s.logger.Debug(msg, attrs...)
}

func (s *Service) domainAllowed(email string) bool {
	if len(s.cfg.AllowedDomains) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedDomains, core.EmailDomain(email))
}

func (s *Service) Login(
	ctx context.Context,
	req LoginRequest,
	userAgent, ipAddress string,
) (*AuthResponse, error) {
	user, err := s.userProvider.GetByEmail(ctx, core.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			//nolint:errcheck // timing attack prevention - always verify to prevent enumeration
			_, _, _ = core.VerifyPasswordTimingSafe(req.Password, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	valid, newHash, err := core.VerifyPasswordTimingSafe(
		req.Password,
		&user.PasswordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}

	if !valid {
		return nil, ErrInvalidCredentials
	}

	if s.cfg.RequireEmailConfirmation && !user.EmailConfirmed {
		return nil, ErrEmailUnconfirmed
	}

	if newHash != "" {
		//nolint:errcheck // best-effort rehash upgrade
		_ = s.userProvider.UpdatePassword(ctx, user.ID, newHash)
	}

	return s.createAuthResponse(ctx, user, userAgent, ipAddress, "", nil)
}

// ConfirmEmail consumes a confirmation token. Tokens are single use.
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	userID, err := s.consumeActionToken(ctx, actionConfirm, token)
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}

	if err := s.userProvider.ConfirmEmail(ctx, userID); err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}

	return nil
}

// RequestPasswordReset issues a reset token when the email belongs to a
// user. Unknown emails succeed silently. The token is returned only when
// tokens are exposed for development.
func (s *Service) RequestPasswordReset(
	ctx context.Context,
	email string,
) (*PasswordResetResponse, error) {
	user, err := s.userProvider.GetByEmail(ctx, core.NormalizeEmail(email))
	if errors.Is(err, core.ErrNotFound) {
		return &PasswordResetResponse{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	token, err := s.issueActionToken(ctx, actionReset, user.ID, s.cfg.PasswordResetTTL)
	if err != nil {
		return nil, err
	}

	s.logActionToken("password reset token issued", user.ID, token)

	resp := &PasswordResetResponse{}
	if s.cfg.ExposeConfirmationToken {
		resp.ResetToken = token
	}
	return resp, nil
}

// ConfirmPasswordReset sets a new password and signs the user out
// everywhere.
func (s *Service) ConfirmPasswordReset(
	ctx context.Context,
	token, password string,
) error {
	userID, err := s.consumeActionToken(ctx, actionReset, token)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	hash, err := core.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.userProvider.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	return s.revokeEverywhere(ctx, userID, realtime.EventTokenRevoked, "password_reset")
}

// UpdatePassword changes the password of a signed-in user. Sessions outside
// the caller's refresh family are revoked; the caller stays signed in.
func (s *Service) UpdatePassword(
	ctx context.Context,
	userID, password, refreshToken string,
) error {
	hash, err := core.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.userProvider.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	keepFamily := ""
	if refreshToken != "" {
		stored, err := s.repo.FindByHash(ctx, core.HashToken(refreshToken))
		if err == nil && stored.UserID == userID {
			keepFamily = stored.FamilyID
		}
	}

	var revoked int64
	if keepFamily != "" {
		revoked, err = s.repo.RevokeOtherFamilies(ctx, userID, keepFamily)
	} else {
		revoked, err = s.repo.RevokeAllForUser(ctx, userID)
	}
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.logger.Info("password updated",
		"user_id", userID,
		"sessions_revoked", revoked,
	)
	return nil
}

func (s *Service) UpdateMetadata(
	ctx context.Context,
	userID string,
	metadata map[string]string,
) (*UserResponse, error) {
	user, err := s.userProvider.UpdateMetadata(ctx, userID, metadata)
	if err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}

	resp := toUserResponse(user)
	return &resp, nil
}

func (s *Service) Refresh(
	ctx context.Context,
	refreshToken, userAgent, ipAddress string,
) (*AuthResponse, error) {
	tokenHash := core.HashToken(refreshToken)

	storedToken, err := s.repo.FindByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("refresh: %w", core.ErrTokenInvalid)
		}
		return nil, fmt.Errorf("find token: %w", err)
	}

	if storedToken.IsUsed {
		//nolint:errcheck // security revocation continues regardless
		_ = s.repo.RevokeByFamilyID(ctx, storedToken.FamilyID)
		s.logger.Warn("refresh token reuse detected",
			"user_id", storedToken.UserID,
			"family_id", storedToken.FamilyID,
		)
		return nil, ErrTokenReuse
	}

	if !storedToken.IsValid() {
		if storedToken.IsRevoked() {
			return nil, fmt.Errorf("refresh: %w", core.ErrTokenRevoked)
		}
		return nil, fmt.Errorf("refresh: %w", core.ErrTokenExpired)
	}

	user, err := s.userProvider.GetByID(ctx, storedToken.UserID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("refresh: %w", core.ErrTokenInvalid)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return s.createAuthResponse(
		ctx,
		user,
		userAgent,
		ipAddress,
		storedToken.FamilyID,
		&storedToken.ID,
	)
}

// Logout ends the session behind refreshToken and blacklists the access
// token presented with the request.
func (s *Service) Logout(
	ctx context.Context,
	refreshToken string,
	claims *middleware.AccessTokenClaims,
) error {
	if claims != nil && claims.JTI != "" {
		if err := s.RevokeAccessToken(ctx, claims.JTI, claims.ExpiresAt); err != nil {
			s.logger.Warn("blacklist access token", "error", err)
		}
	}

	if refreshToken == "" {
		return nil
	}

	storedToken, err := s.repo.FindByHash(ctx, core.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find token: %w", err)
	}

	if claims == nil || storedToken.UserID != claims.UserID {
		return fmt.Errorf("logout: %w", core.ErrForbidden)
	}

	if err := s.repo.RevokeByFamilyID(ctx, storedToken.FamilyID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	return nil
}

// LogoutAll signs the user out on every device and tells connected clients.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.revokeEverywhere(ctx, userID, realtime.EventSignedOut, "logout_all")
}

// RevokeUser is the admin kill switch for a user's sessions.
func (s *Service) RevokeUser(ctx context.Context, userID string) error {
	if _, err := s.userProvider.GetByID(ctx, userID); err != nil {
		return fmt.Errorf("revoke user: %w", err)
	}
	return s.revokeEverywhere(ctx, userID, realtime.EventTokenRevoked, "admin_revoke")
}

func (s *Service) revokeEverywhere(
	ctx context.Context,
	userID string,
	eventType realtime.EventType,
	reason string,
) error {
	if _, err := s.repo.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke all tokens: %w", err)
	}

	version, err := s.userProvider.IncrementTokenVersion(ctx, userID)
	if err != nil {
		return fmt.Errorf("increment token version: %w", err)
	}

	s.logger.Info("sessions revoked",
		"user_id", userID,
		"reason", reason,
		"token_version", version,
	)

	s.publishAuthEvent(ctx, eventType, RevocationRecord{
		UserID:       userID,
		TokenVersion: version,
		Reason:       reason,
	})
	return nil
}

func (s *Service) publishAuthEvent(
	ctx context.Context,
	eventType realtime.EventType,
	record RevocationRecord,
) {
	if s.publisher == nil {
		return
	}

	evt, err := realtime.NewEvent(realtime.AuthTopic(record.UserID), eventType, record)
	if err != nil {
		s.logger.Warn("build auth event", "user_id", record.UserID, "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish auth event",
			"user_id", record.UserID,
			"type", eventType,
			"error", err,
		)
	}
}

func (s *Service) RevokeAccessToken(
	ctx context.Context,
	jti string,
	expiresAt time.Time,
) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, blacklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}

	return nil
}

func (s *Service) IsAccessTokenBlacklisted(
	ctx context.Context,
	jti string,
) (bool, error) {
	exists, err := s.redis.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}

	return exists > 0, nil
}

// VerifyAccessToken validates the JWT, then rejects blacklisted tokens and
// tokens minted before the user's last revocation. A Redis outage skips the
// blacklist check; the token version check still applies.
func (s *Service) VerifyAccessToken(
	ctx context.Context,
	token string,
) (*middleware.AccessTokenClaims, error) {
	claims, err := s.jwt.VerifyAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}

	blacklisted, err := s.IsAccessTokenBlacklisted(ctx, claims.JTI)
	switch {
	case err != nil:
		s.logger.Warn("token blacklist unavailable", "error", err)
	case blacklisted:
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenRevoked)
	}

	if err := s.ValidateTokenVersion(ctx, claims.UserID, claims.TokenVersion); err != nil {
		return nil, err
	}

	return claims, nil
}

func (s *Service) ValidateTokenVersion(
	ctx context.Context,
	userID string,
	tokenVersion int,
) error {
	user, err := s.userProvider.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("validate token version: %w", core.ErrTokenInvalid)
		}
		return fmt.Errorf("get user: %w", err)
	}

	if tokenVersion < user.TokenVersion {
		return fmt.Errorf("validate token version: %w", core.ErrTokenRevoked)
	}

	return nil
}

func (s *Service) GetActiveSessions(
	ctx context.Context,
	userID string,
) ([]SessionInfo, error) {
	tokens, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(tokens))
	for i := range tokens {
		sessions = append(sessions, tokens[i].Session())
	}

	return sessions, nil
}

func (s *Service) RevokeSession(
	ctx context.Context,
	userID, sessionID string,
) error {
	token, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}

	if token.UserID != userID {
		return fmt.Errorf("revoke session: %w", core.ErrForbidden)
	}

	if err := s.repo.RevokeByFamilyID(ctx, token.FamilyID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	return nil
}

// PurgeExpiredSessions deletes refresh tokens that expired more than a day
// ago.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, time.Now().Add(-24*time.Hour))
}

func (s *Service) GetCurrentUser(
	ctx context.Context,
	userID string,
) (*UserResponse, error) {
	user, err := s.userProvider.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := toUserResponse(user)
	return &resp, nil
}

func (s *Service) issueActionToken(
	ctx context.Context,
	kind actionKind,
	userID string,
	ttl time.Duration,
) (string, error) {
	token, err := s.newToken()
	if err != nil {
		return "", fmt.Errorf("generate %s token: %w", kind, err)
	}

	key := actionKey(kind, core.HashToken(token))
	if err := s.redis.Set(ctx, key, userID, ttl).Err(); err != nil {
		return "", fmt.Errorf("store %s token: %w", kind, err)
	}

	return token, nil
}

func (s *Service) consumeActionToken(
	ctx context.Context,
	kind actionKind,
	token string,
) (string, error) {
	userID, err := s.redis.GetDel(ctx, actionKey(kind, core.HashToken(token))).Result()
	if errors.Is(err, redis.Nil) {
		return "", core.ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("load %s token: %w", kind, err)
	}

	return userID, nil
}

func (s *Service) createAuthResponse(
	ctx context.Context,
	user *UserInfo,
	userAgent, ipAddress, familyID string,
	oldTokenID *string,
) (*AuthResponse, error) {
	access, err := s.jwt.CreateAccessToken(user.ID, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	refreshData, err := s.jwt.CreateRefreshToken(familyID)
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}

	newTokenID := uuid.New().String()

	refreshTokenEntity := &RefreshToken{
		ID:        newTokenID,
		UserID:    user.ID,
		TokenHash: refreshData.Hash,
		FamilyID:  refreshData.FamilyID,
		ExpiresAt: refreshData.ExpiresAt,
		UserAgent: userAgent,
		IPAddress: ipAddress,
	}

	if err := s.repo.Create(ctx, refreshTokenEntity); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	if oldTokenID != nil {
		//nolint:errcheck // best-effort token chain tracking
		_ = s.repo.MarkAsUsed(ctx, *oldTokenID, newTokenID)
	}

	return &AuthResponse{
		User: toUserResponse(user),
		Tokens: &TokenResponse{
			AccessToken:  access.Token,
			RefreshToken: refreshData.Token,
			TokenType:    "Bearer",
			ExpiresIn:    int(time.Until(access.ExpiresAt).Seconds()),
			ExpiresAt:    access.ExpiresAt,
		},
	}, nil
}

var _ middleware.TokenVerifier = (*Service)(nil)
