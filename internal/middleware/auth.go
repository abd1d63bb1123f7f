package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/apperr"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

const (
	SessionContextKey = "session"
)

// SessionResolver turns a session token back into its session
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.Session, error)
}

// SessionAuth requires a valid "Authorization: Bearer <token>" header and
// stores the resolved session in the context. purpose names what the route
// serves in NOT_INITIALIZED messages; empty gives the generic message.
func SessionAuth(resolver SessionResolver, purpose string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, apperr.NotInitializedFor(purpose))
			return
		}

		sess, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			if apperr.CodeOf(err) == apperr.CodeNotInitialized {
				err = apperr.NotInitializedFor(purpose)
			}
			AbortWithError(c, err)
			return
		}

		c.Set(SessionContextKey, sess)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// GetSession retrieves the session stored by SessionAuth
func GetSession(c *gin.Context) (*models.Session, bool) {
	value, exists := c.Get(SessionContextKey)
	if !exists {
		return nil, false
	}

	sess, ok := value.(*models.Session)
	return sess, ok && sess != nil
}

// AbortWithError writes err as the API error body and stops the chain
func AbortWithError(c *gin.Context, err error) {
	status, body := apperr.ToBody(err)
	c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
