package web

import (
	"context"
	"errors"
	"net/http"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/agenclip/agenclip/app/session"
)

type ctxKey string

const sessionIDKey ctxKey = "session-id"

// sessionMiddleware makes sure every visitor has a session id cookie and puts the id into the request context
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			if _, err := uuid.Parse(cookie.Value); err == nil {
				sessionID = cookie.Value
			}
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   365 * 24 * 60 * 60, // 1 year
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   isSecure(r),
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionIDKey, sessionID)))
	})
}

// requireAdmin rejects requests without a valid admin cookie for the current session
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessions.IsAdmin(sessionID(r), adminToken(r)) {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("HX-Request") == "true" {
			// send htmx back to the lock screen instead of swapping an error into the page
			w.Header().Set("HX-Redirect", "/create")
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// handleUnlock checks the PIN from the lock screen form
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	sid := sessionID(r)
	token, err := s.sessions.UnlockAdmin(sid, r.FormValue("pin"))
	if err != nil {
		if !errors.Is(err, session.ErrAuth) {
			log.Printf("[WARN] unlock failed for session %s: %v", shortID(sid), err)
		}
		log.Printf("[INFO] wrong pin for session %s from %s", shortID(sid), r.RemoteAddr)
		data := s.pageData(r, s.loadSession(r))
		data.ShowPin = true
		data.PinError = "PIN SALAH! Akses Ditolak."
		s.render(w, http.StatusUnauthorized, "lock", "base", data)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     adminCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true, // no MaxAge, the unlock ends with the browser session
		SameSite: http.SameSiteStrictMode,
		Secure:   isSecure(r),
	})
	http.Redirect(w, r, "/create", http.StatusSeeOther)
}

// handleLogout locks the dashboard and goes back to the landing page
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := adminToken(r); token != "" {
		s.sessions.LockAdmin(token)
	}

	// clear the admin cookie by setting MaxAge to -1
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   isSecure(r),
	})

	// tell HTMX to navigate instead of swapping content
	w.Header().Set("HX-Redirect", "/")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// sessionID returns the session id set by sessionMiddleware
func sessionID(r *http.Request) string {
	if v, ok := r.Context().Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

func adminToken(r *http.Request) string {
	cookie, err := r.Cookie(adminCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
