package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"secretary_server/core/domain"
	"secretary_server/pkg/apperr"
	"secretary_server/pkg/logger"
)

// LocalUserID is the fiber Locals key holding the authenticated user id.
const LocalUserID = "user_id"

// RevocationChecker reports whether a token id (jti) was revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) bool
}

// RedisRevocationList keeps revoked token ids until they would have expired anyway.
type RedisRevocationList struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client, prefix: "token:revoked:"}
}

// Revoke blacklists jti for ttl.
func (r *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+jti, "1", ttl).Err()
}

func (r *RedisRevocationList) IsRevoked(ctx context.Context, jti string) bool {
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		// Redis 장애 시 인증은 계속 허용
		logger.WithError(err).Warn("revocation check failed")
		return false
	}
	return n > 0
}

// JWTAuth validates an HS256 bearer token and stores its subject as the
// user id. EventSource clients cannot set headers, so ?token= is accepted too.
func JWTAuth(secret string, revoked RevocationChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		userID, jti, err := ParseToken(secret, tokenString)
		if err != nil {
			logger.WithError(err).Debug("JWT validation failed")
			return apperr.InvalidToken(err.Error())
		}
		if jti != "" && revoked != nil && revoked.IsRevoked(c.Context(), jti) {
			return apperr.InvalidToken("token has been revoked")
		}

		c.Locals(LocalUserID, userID)
		c.SetUserContext(domain.ContextWithUserID(c.UserContext(), userID))
		return c.Next()
	}
}

// ParseToken returns the subject and jti of a valid HS256 token.
func ParseToken(secret, tokenString string) (userID, jti string, err error) {
	if secret == "" {
		return "", "", fmt.Errorf("JWT secret not configured")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)
	if err != nil {
		return "", "", err
	}
	if !token.Valid {
		return "", "", fmt.Errorf("invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", fmt.Errorf("missing subject")
	}
	jti, _ = claims["jti"].(string)
	return sub, jti, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// UserID returns the authenticated user id, or "".
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
