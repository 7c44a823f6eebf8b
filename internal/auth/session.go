package auth

import (
	"github.com/gin-gonic/gin"
)

const sessionKey = "session"

// Session is the authenticated caller of a request.
type Session struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// Set stores the session in the gin context. user_id is kept as a separate
// key for request logging.
func Set(c *gin.Context, s Session) {
	c.Set(sessionKey, s)
	c.Set("user_id", s.UserID)
}

func FromContext(c *gin.Context) (Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}
