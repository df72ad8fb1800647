package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/config"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
)

// sessionCookie names the cookie carrying the session token.
const sessionCookie = "ids_session"

// Messages returned by the auth routes.
const (
	msgInvalidCredentials = "Invalid credentials. Try again."
	msgSignup             = "Signup Page (Functionality to be added later)"
	msgAuthRequired       = "Authentication required"
)

type session struct {
	user    string
	expires time.Time
}

// Auth checks credentials against the configured users and tracks login
// sessions in memory.
type Auth struct {
	enabled bool
	ttl     time.Duration
	hashes  map[string][]byte
	// dummy is compared against for unknown users so lookups take the
	// same time either way.
	dummy []byte

	mu       sync.Mutex
	sessions map[string]session
	now      func() time.Time
}

// NewAuth hashes any plain-text passwords in cfg and returns the session
// store.
func NewAuth(cfg config.AuthConfig) (*Auth, error) {
	a := &Auth{
		enabled:  cfg.Enabled,
		ttl:      cfg.SessionTTL,
		hashes:   make(map[string][]byte, len(cfg.Users)),
		sessions: make(map[string]session),
		now:      time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = 24 * time.Hour
	}
	for _, u := range cfg.Users {
		if u.PasswordHash != "" {
			if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
				return nil, fmt.Errorf("auth: user %q: invalid password hash: %w", u.Username, err)
			}
			a.hashes[u.Username] = []byte(u.PasswordHash)
			continue
		}
		h, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("auth: user %q: %w", u.Username, err)
		}
		a.hashes[u.Username] = h
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	a.dummy = dummy
	return a, nil
}

// Enabled reports whether routes require a session.
func (a *Auth) Enabled() bool { return a.enabled }

// Verify reports whether password matches the user's stored hash.
func (a *Auth) Verify(user, password string) bool {
	h, ok := a.hashes[user]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummy, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(h, []byte(password)) == nil
}

// Login creates a session for user and returns its token.
func (a *Auth) Login(user string) string {
	token := uuid.NewString()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[token] = session{user: user, expires: a.now().Add(a.ttl)}
	return token
}

// Logout ends the session behind token.
func (a *Auth) Logout(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, token)
}

// User returns the user logged in with token.
func (a *Auth) User(token string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[token]
	if !ok {
		return "", false
	}
	if a.now().After(s.expires) {
		delete(a.sessions, token)
		return "", false
	}
	return s.user, true
}

// require wraps next so it only runs for a logged-in session when auth is
// enabled.
func (a *Auth) require(next http.Handler) http.Handler {
	if !a.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, msgAuthRequired)
			return
		}
		if _, ok := a.User(c.Value); !ok {
			writeError(w, http.StatusUnauthorized, msgAuthRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	user := r.FormValue("username")
	password := r.FormValue("password")
	if user == "" || !s.auth.Verify(user, password) {
		logging.APILogger().Warn("login failed", "user", user, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	token := s.auth.Login(user)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.auth.ttl / time.Second),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "Logged in", "user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s.auth.Logout(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "Logged out"})
}

func (s *Server) handleSignup(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": msgSignup})
}
