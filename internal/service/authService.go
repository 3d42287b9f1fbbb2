package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrUnknownRole        = errors.New("unknown role")
)

// Claims carried by gateway-issued tokens. Plan and SubscriptionTier feed plan resolution.
type Claims struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role,omitempty"`
	Plan             string `json:"plan,omitempty"`
	SubscriptionTier string `json:"subscription_tier,omitempty"`
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Email            string
	Password         string
	Name             string
	Role             string
	Plan             string
	SubscriptionTier string
}

type AuthService struct {
	repo      *repository.UserRepository
	jwtSecret []byte // Stored in env (JWT_SECRET)
	jwtExpiry time.Duration
	now       func() time.Time
}

func NewAuthService(repo *repository.UserRepository, secret string, expiryHours int) *AuthService {
	return &AuthService{
		repo:      repo,
		jwtSecret: []byte(secret),
		jwtExpiry: time.Duration(expiryHours) * time.Hour,
		now:       time.Now,
	}
}

// Creates a new user. Role defaults to customer.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	role := strings.ToLower(strings.TrimSpace(in.Role))
	switch role {
	case "":
		role = models.RoleCustomer
	case models.RoleAdmin, models.RoleVendor, models.RoleCustomer:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, in.Role)
	}

	if in.Plan != "" {
		if _, ok := policy.ParsePlan(in.Plan); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, in.Plan)
		}
	}

	existingUser, err := s.repo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existingUser != nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:            in.Email,
		PasswordHash:     string(hashedPassword),
		Name:             in.Name,
		Role:             role,
		Plan:             strings.ToLower(in.Plan),
		SubscriptionTier: in.SubscriptionTier,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticates a user and returns a signed token
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return s.IssueToken(user)
}

func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:           user.ID.String(),
		Email:            user.Email,
		Role:             user.Role,
		Plan:             user.Plan,
		SubscriptionTier: user.SubscriptionTier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken verifies the signature and expiry and returns the caller's identity
func (s *AuthService) ValidateToken(tokenString string) (*policy.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return &policy.Identity{
		UserID:           claims.UserID,
		Role:             claims.Role,
		Plan:             claims.Plan,
		SubscriptionTier: claims.SubscriptionTier,
	}, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.FindByID(ctx, id)
}
