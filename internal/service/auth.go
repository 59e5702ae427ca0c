package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
)

const guestRole = "guest"

// GuestClaims 是访客令牌携带的声明
type GuestClaims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService 签发与校验访客身份令牌。
type AuthService struct {
	jwtSecret []byte        // 存储密钥的字节形式
	jwtExpiry time.Duration // JWT 过期时间
	now       func() time.Time
}

// NewAuthService 创建 AuthService 实例。
// jwtExpiryHours 定义 token 过期的小时数，非正数时使用 12 小时。
func NewAuthService(jwtSecretKey string, jwtExpiryHours int) (*AuthService, error) {
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 12
	}
	return &AuthService{
		jwtSecret: []byte(jwtSecretKey),
		jwtExpiry: time.Duration(jwtExpiryHours) * time.Hour,
		now:       time.Now,
	}, nil
}

// IssueGuest 为访客生成新的用户 ID 与签名令牌
func (s *AuthService) IssueGuest(ctx context.Context, displayName string) (string, domain.Identity, error) {
	name, err := cleanText("displayName", displayName, maxDisplayNameLength)
	if err != nil {
		return "", domain.Identity{}, err
	}
	identity := domain.Identity{UserID: uuid.NewString(), DisplayName: name}

	token, err := s.generateJWT(identity)
	if err != nil {
		logrus.WithError(err).Error("Failed to sign guest token")
		return "", domain.Identity{}, ErrInternalServer
	}
	logrus.WithField("user_id", identity.UserID).Info("Guest identity issued")
	return token, identity, nil
}

// Verify 校验令牌并返回身份；任何失败都返回 ErrUnauthorized
func (s *AuthService) Verify(tokenStr string) (domain.Identity, error) {
	if tokenStr == "" {
		return domain.Identity{}, ErrUnauthorized
	}
	claims := &GuestClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			logrus.Debug("Rejected expired token")
		} else {
			logrus.WithError(err).Debug("Rejected invalid token")
		}
		return domain.Identity{}, ErrUnauthorized
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return domain.Identity{}, ErrUnauthorized
	}
	return domain.Identity{UserID: userID, DisplayName: claims.DisplayName}, nil
}

// generateJWT 为身份生成 HS256 令牌，sub 与 user_id 相同
func (s *AuthService) generateJWT(identity domain.Identity) (string, error) {
	now := s.now()
	claims := GuestClaims{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Role:        guestRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
