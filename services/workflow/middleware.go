package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

const (
	actorKey     = "actor"
	requestIDKey = "request_id"
)

// ActorClaims are the token claims the workflow reads. Tokens are issued
// elsewhere; the subject is the actor id.
type ActorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func actorFrom(c *gin.Context) Actor {
	if value, ok := c.Get(actorKey); ok {
		if actor, ok := value.(Actor); ok {
			return actor
		}
	}
	return Actor{}
}

// RequestID tags every request with an id, reusing X-Request-ID when sent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("client_ip", c.ClientIP()),
		}
		if actor := actorFrom(c); actor.ID != "" {
			fields = append(fields, zap.String("actor_id", actor.ID), zap.String("actor_kind", string(actor.Kind)))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message, "code": code})
}

// JWTAuth parses the bearer token into the request's Actor.
func JWTAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			abortWith(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		claims := &ActorClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			message := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "token expired"
			}
			abortWith(c, http.StatusUnauthorized, "unauthorized", message)
			return
		}

		kind, ok := ParseActorKind(claims.Role)
		if !ok || claims.Subject == "" {
			abortWith(c, http.StatusForbidden, "forbidden", fmt.Sprintf("role %q has no workflow capability", claims.Role))
			return
		}

		c.Set(actorKey, Actor{ID: claims.Subject, Kind: kind})
		c.Next()
	}
}

// RequireKind rejects callers whose role is not kind.
func RequireKind(kind ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		if actor.Kind != kind {
			abortWith(c, http.StatusForbidden, "forbidden",
				fmt.Sprintf("%s role required, caller is %q", kind, actor.Kind))
			return
		}
		c.Next()
	}
}

// RateLimit throttles per actor, falling back to the client IP. rate uses
// limiter's formatted form, e.g. "5-M".
func RateLimit(rate string) (gin.HandlerFunc, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rate, err)
	}

	instance := limiter.New(memory.NewStore(), parsed)
	return mgin.NewMiddleware(instance,
		mgin.WithKeyGetter(func(c *gin.Context) string {
			if actor := actorFrom(c); actor.ID != "" {
				return "actor:" + actor.ID
			}
			return "ip:" + c.ClientIP()
		}),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			abortWith(c, http.StatusTooManyRequests, "rate_limited", "too many approval attempts, try again later")
		}),
	), nil
}
