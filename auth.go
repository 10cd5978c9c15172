package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"
)

// Role is the authorization level bound to a session and, through it, to a
// websocket connection for that connection's whole lifetime.
type Role string

const (
	RoleNone    Role = ""
	RoleGeneral Role = "general"
	RoleAdmin   Role = "admin"
)

func (r Role) atLeast(min Role) bool {
	switch min {
	case RoleGeneral:
		return r == RoleGeneral || r == RoleAdmin
	case RoleAdmin:
		return r == RoleAdmin
	}
	return false
}

// Development fallbacks, active only while the corresponding hash flag is
// unset. Logged loudly at startup.
const (
	defaultAdminPassword   = "admin"
	defaultGeneralPassword = "password"
)

const sessionCookieName = "session"

// verifyPassword checks a submitted secret against the configured bcrypt
// hashes, admin first. When a hash is configured the secret is only ever
// compared through bcrypt; the plaintext defaults apply solely when no hash
// is set for that role.
func verifyPassword(cfg *Config, password string) (Role, bool) {
	if cfg.adminHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(cfg.adminHash), []byte(password)) == nil {
			return RoleAdmin, true
		}
	} else if password == defaultAdminPassword {
		return RoleAdmin, true
	}

	if cfg.generalHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(cfg.generalHash), []byte(password)) == nil {
			return RoleGeneral, true
		}
	} else if password == defaultGeneralPassword {
		return RoleGeneral, true
	}

	return RoleNone, false
}

type session struct {
	role    Role
	created time.Time
}

// SessionRegistry maps opaque tokens to roles. A token's role is fixed at
// creation. There is no revoke path; entries either expire after ttl or,
// with ttl 0, live until process restart.
type SessionRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]session
}

func newSessionRegistry(ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		ttl:      ttl,
		sessions: make(map[string]session),
	}
}

// create generates an unpredictable token and stores the role under it.
func (s *SessionRegistry) create(role Role) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	s.sessions[token] = session{role: role, created: time.Now()}
	s.mu.Unlock()

	return token
}

// resolve looks up the role for a token. Expired entries are dropped here,
// lazily; nothing sweeps the map in the background.
func (s *SessionRegistry) resolve(token string) (Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[token]
	if !ok {
		return RoleNone, false
	}
	if s.ttl > 0 && time.Since(entry.created) > s.ttl {
		delete(s.sessions, token)
		return RoleNone, false
	}
	return entry.role, true
}

// resolveRequest extracts the session cookie from r, if any, and resolves it.
func resolveRequest(sessions *SessionRegistry, r *http.Request) (Role, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return RoleNone, false
	}
	return sessions.resolve(c.Value)
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Role    Role   `json:"role,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleLogin verifies the submitted secret and, on success, issues the
// session cookie and reports the resolved role.
func handleLogin(cfg *Config, sessions *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, loginResponse{Success: false, Error: "Invalid request"})
			return
		}

		role, ok := verifyPassword(cfg, req.Password)
		if !ok {
			logf(cfg, "AUTH: Failed login from %s", realIP(r))
			writeJSON(w, http.StatusUnauthorized, loginResponse{Success: false, Error: "Invalid password"})
			return
		}

		token := sessions.create(role)

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   86400,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   cfg.scheme() == "https" || r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		})

		logf(cfg, "AUTH: %s login from %s", role, realIP(r))
		writeJSON(w, http.StatusOK, loginResponse{Success: true, Role: role})
	}
}

// requireAuth gates page fetches behind a valid session, redirecting to the
// login page otherwise.
func requireAuth(cfg *Config, sessions *SessionRegistry, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if _, ok := resolveRequest(sessions, r); ok {
			next(w, r, p)
			return
		}
		http.Redirect(w, r, cfg.prefix+"/login", http.StatusFound)
	}
}
