package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"openadmin/internal/logger"
	"openadmin/internal/security"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
	localeKey       = "locale"
)

// RequestID takes the request id from X-Request-ID or generates one, and
// echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog(lggr logger.Logger) gin.HandlerFunc {
	lggr = lggr.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"requestId", c.GetString(requestIDKey),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			lggr.Errorw("request", fields...)
			return
		}
		lggr.Infow("request", fields...)
	}
}

// Recovery turns panics into a 500 errors envelope.
func Recovery(lggr logger.Logger) gin.HandlerFunc {
	lggr = lggr.Named("http")
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		lggr.Errorw("panic", "path", c.Request.URL.Path, "requestId", c.GetString(requestIDKey), "panic", rec)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"errors": []FieldError{ferr(errorTypeGlobal, CodeInternal, "", CodeInternal)},
		})
	})
}

// resolveUser attaches the admin user named by the user header, or the
// configured default user, to the request context. Unknown logins get no user.
func (ctl *Controller) resolveUser(c *gin.Context) {
	login := ""
	if ctl.opts.UserHeader != "" {
		login = strings.TrimSpace(c.GetHeader(ctl.opts.UserHeader))
	}
	if login == "" {
		login = ctl.opts.DefaultUser
	}
	if login != "" && ctl.Users != nil {
		if u, ok := ctl.Users.ByLogin(login); ok {
			c.Request = c.Request.WithContext(security.WithUser(c.Request.Context(), u))
		} else {
			ctl.lggr.Debugw("unknown admin user", "login", login)
		}
	}
	c.Next()
}

// resolveLocale negotiates the message locale from Accept-Language.
func (ctl *Controller) resolveLocale(c *gin.Context) {
	if ctl.Messages != nil {
		c.Set(localeKey, ctl.Messages.Match(c.GetHeader("Accept-Language")))
	}
	c.Next()
}
