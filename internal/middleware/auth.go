package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Login session keys.
const (
	SessionSubject  = "subject"
	SessionAuthTime = "auth_time"
)

// Context keys set by RequireLogin.
const (
	ContextSubject  = "subject"
	ContextAuthTime = "auth_time"
)

// RequireLogin redirects anonymous browsers to loginPath, carrying the
// original request URI in return_to.
func RequireLogin(loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, authTime, ok := LoginState(sessions.Default(c))
		if !ok {
			c.Redirect(http.StatusFound, loginPath+"?return_to="+url.QueryEscape(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}

		c.Set(ContextSubject, subject)
		c.Set(ContextAuthTime, authTime)
		c.Next()
	}
}

// LoginState reads the authenticated subject and its login time from the session.
func LoginState(session sessions.Session) (string, time.Time, bool) {
	subject, _ := session.Get(SessionSubject).(string)
	if subject == "" {
		return "", time.Time{}, false
	}
	var authTime time.Time
	if ts, ok := session.Get(SessionAuthTime).(int64); ok {
		authTime = time.Unix(ts, 0)
	}
	return subject, authTime, true
}

// StartLogin records subject as logged in at now.
func StartLogin(session sessions.Session, subject string, now time.Time) error {
	session.Set(SessionSubject, subject)
	session.Set(SessionAuthTime, now.Unix())
	return session.Save()
}

// EndLogin drops every value of the login session.
func EndLogin(session sessions.Session) error {
	session.Clear()
	return session.Save()
}

// Subject returns the subject stored by RequireLogin.
func Subject(c *gin.Context) (string, time.Time) {
	return c.GetString(ContextSubject), c.GetTime(ContextAuthTime)
}
