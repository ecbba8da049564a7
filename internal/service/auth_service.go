package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tai-ledger-api/internal/config"
	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
	apperrors "tai-ledger-api/pkg/errors"
)

const minPasswordLength = 6

// Claims are the access token claims. The subject is the account id.
type Claims struct {
	UserID int64       `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

type RegisterRequest struct {
	Name         string `json:"name" binding:"required,max=100"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	ReferralCode string `json:"referral_code"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	User        *models.Account `json:"user"`
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   int64           `json:"expires_in"`
}

type AuthService interface {
	Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	ValidateToken(tokenString string) (*Claims, error)
	// EnsureAdmin creates the configured admin account unless its email is
	// already registered. It reports whether an account was created.
	EnsureAdmin(ctx context.Context, name, email, password string) (*models.Account, bool, error)
}

type authService struct {
	ledger     *engine.Ledger
	secret     []byte
	issuer     string
	expiry     time.Duration
	bcryptCost int
	now        func() time.Time
	logger     *logrus.Entry
}

func NewAuthService(ledger *engine.Ledger, cfg config.AuthConfig) AuthService {
	return &authService{
		ledger:     ledger,
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		expiry:     cfg.JWTExpiry,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
		logger:     logrus.WithField("component", "auth"),
	}
}

func (s *authService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if len(req.Password) < minPasswordLength {
		return nil, apperrors.NewInvalidOperationError("Password must be at least 6 characters")
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	account, err := s.ledger.CreateAccount(ctx, engine.NewAccount{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		return nil, err
	}

	return s.issue(account)
}

func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	account, err := s.ledger.Store().Accounts().GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.WithField("account_id", account.ID).Info("Rejected login with wrong password")
		return nil, apperrors.ErrInvalidCredentials
	}

	return s.issue(account)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.KindUnauthorized, "Invalid token", err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, apperrors.ErrTokenInvalid
	}
	return claims, nil
}

func (s *authService) EnsureAdmin(ctx context.Context, name, email, password string) (*models.Account, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := s.ledger.Store().Accounts().GetByEmail(ctx, email)
	if err == nil {
		if !existing.IsAdmin() {
			s.logger.WithField("email", email).Warn("Configured admin email belongs to a regular account")
		}
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, false, err
	}

	admin, err := s.ledger.CreateAccount(ctx, engine.NewAccount{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": admin.ID,
		"email":      admin.Email,
	}).Info("Admin account created")
	return admin, true, nil
}

func (s *authService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *authService) issue(account *models.Account) (*AuthResponse, error) {
	now := s.now()
	claims := &Claims{
		UserID: account.ID,
		Role:   account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(account.ID, 10),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &AuthResponse{
		User:        account,
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.expiry.Seconds()),
	}, nil
}
