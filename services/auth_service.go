package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"code-duel-backend/models"
	"code-duel-backend/store"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// AuthService issues guest accounts and signs/verifies the bearer tokens
// that identify users on both the REST and websocket surfaces.
type AuthService struct {
	db         store.DocumentStore
	secretKey  string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

func NewAuthService(db store.DocumentStore, secretKey string) *AuthService {
	if secretKey == "" {
		secretKey = "your-secret-key-change-in-production"
		log.Println("⚠️  Using default JWT secret key, set JWT_SECRET_KEY for production")
	}
	return &AuthService{
		db:         db,
		secretKey:  secretKey,
		accessTTL:  7 * 24 * time.Hour,
		refreshTTL: 30 * 24 * time.Hour,
	}
}

// CreateGuestUser persists a fresh guest account.
func (s *AuthService) CreateGuestUser(ctx context.Context) (*models.User, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	user := &models.User{
		ID:        id,
		Username:  "Guest_" + id[:8],
		Rating:    models.DefaultRating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !s.db.Create(ctx, "users", id, user) {
		return nil, fmt.Errorf("failed to create user %s in database", id)
	}
	return user, nil
}

// GetUser loads a user from the store.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	raw := s.db.Get(ctx, "users", userID)
	if raw == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", userID, err)
	}
	return &user, nil
}

// CreateToken signs an access token for the user.
func (s *AuthService) CreateToken(userID string) (string, error) {
	return s.signToken(userID, "access", s.accessTTL)
}

// CreateRefreshToken signs a long-lived refresh token for the user.
func (s *AuthService) CreateRefreshToken(userID string) (string, error) {
	return s.signToken(userID, "refresh", s.refreshTTL)
}

func (s *AuthService) signToken(userID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		UserID: userID,
		Type:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken returns the user id carried by a valid token.
func (s *AuthService) VerifyToken(tokenString string) (string, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.secretKey), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid or expired token: %w", ErrValidation)
	}
	return claims.UserID, nil
}

// GuestHandler serves POST /api/auth/guest.
func (s *AuthService) GuestHandler(c *fiber.Ctx) error {
	user, err := s.CreateGuestUser(c.Context())
	if err != nil {
		log.Printf("❌ Error creating guest user: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create guest user"})
	}

	accessToken, err := s.CreateToken(user.ID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to create token"})
	}
	refreshToken, err := s.CreateRefreshToken(user.ID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to create refresh token"})
	}

	return c.JSON(fiber.Map{
		"user":          user,
		"token":         accessToken,
		"refresh_token": refreshToken,
	})
}

// RefreshHandler serves POST /api/auth/refresh.
func (s *AuthService) RefreshHandler(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.RefreshToken == "" {
		return c.Status(400).JSON(fiber.Map{"error": "refresh token is required"})
	}

	userID, err := s.VerifyToken(req.RefreshToken)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "invalid or expired refresh token"})
	}
	if _, err := s.GetUser(c.Context(), userID); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "user not found"})
	}

	accessToken, err := s.CreateToken(userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to refresh token"})
	}
	return c.JSON(fiber.Map{"token": accessToken})
}
