package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pedrosanto90/finance-tracker-rest-api/internal/auth"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/domain"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/repository"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/service"
)

const (
	identityKey = "identity"
	expenseKey  = "expense"
)

// Identity is the authenticated caller attached to the request context by
// RequireAuth.
type Identity struct {
	UserID   int64
	Username string
}

// IdentityFrom returns the authenticated identity, if any.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// RequestLogger tags every request with an id and logs method, path,
// status and latency.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
		}).Info("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequireAuth verifies the bearer token and attaches the caller identity.
// Missing, expired and tampered tokens are all rejected with 401; the
// distinction is logged, never sent to the client.
func RequireAuth(codec *auth.TokenCodec, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := codec.Verify(tokenStr)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				logger.WithField("path", c.Request.URL.Path).Debug("expired token")
			} else {
				logger.WithField("path", c.Request.URL.Path).Debug("malformed token")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(identityKey, Identity{UserID: claims.UserID, Username: claims.Username})
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireExpenseOwner loads the expense addressed by the :id parameter and
// only lets the owner through. Bad and unknown ids both read as 404 so
// existence is not leaked; a foreign owner reads as 403. The loaded expense
// is stashed in the context so handlers do not fetch it again.
func RequireExpenseOwner(expenses service.ExpenseService) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			// RequireAuth runs first; this is a wiring error, not a user error.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "expense not found"})
			return
		}

		expense, err := expenses.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "expense not found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		if expense.OwnerID != identity.UserID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "you don't have permission to access this resource"})
			return
		}

		c.Set(expenseKey, expense)
		c.Next()
	}
}

// expenseFrom returns the expense loaded by RequireExpenseOwner.
func expenseFrom(c *gin.Context) *domain.Expense {
	v, ok := c.Get(expenseKey)
	if !ok {
		return nil
	}
	expense, _ := v.(*domain.Expense)
	return expense
}

// RequireSelf restricts /users/:id routes to the authenticated user's own
// record.
func RequireSelf() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		if id != identity.UserID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "you can only access your own account"})
			return
		}

		c.Next()
	}
}
