package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CookieName is the login cookie.
const CookieName = "voxrelay_session"

// MinSimpleUsername is the shortest username simple mode accepts.
const MinSimpleUsername = 2

var (
	// ErrInvalidCredentials rejects a login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCookie rejects a missing, tampered or expired login cookie.
	ErrInvalidCookie = errors.New("invalid session cookie")
)

// AuthHandler checks credentials and issues HMAC-signed login cookies.
type AuthHandler struct {
	secret   []byte
	username string
	password string
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthHandler creates an auth handler. With an empty username or password
// it runs in simple mode, accepting any username of MinSimpleUsername runes.
func NewAuthHandler(secret, username, password string, ttl time.Duration) *AuthHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthHandler{
		secret:   []byte(secret),
		username: username,
		password: password,
		ttl:      ttl,
		now:      time.Now,
	}
}

// GenerateSecret returns a random 32-byte hex secret for signing cookies.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SimpleMode reports whether credentials are not configured.
func (a *AuthHandler) SimpleMode() bool {
	return a.username == "" || a.password == ""
}

// Authenticate checks a login and returns a fresh identity for it.
func (a *AuthHandler) Authenticate(username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	if a.SimpleMode() {
		if len([]rune(username)) < MinSimpleUsername {
			return Identity{}, fmt.Errorf("%w: username must be at least %d characters", ErrInvalidCredentials, MinSimpleUsername)
		}
	} else {
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
		if !userOK || !passOK {
			return Identity{}, ErrInvalidCredentials
		}
	}

	return Identity{
		User:      username,
		SessionID: uuid.NewString(),
		IssuedAt:  a.now().Unix(),
	}, nil
}

func (a *AuthHandler) sign(payload string) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Encode serializes and signs id.
func (a *AuthHandler) Encode(id Identity) (string, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + a.sign(payload), nil
}

// Decode verifies value and returns the identity it carries.
func (a *AuthHandler) Decode(value string) (Identity, error) {
	payload, sig, ok := strings.Cut(value, ".")
	if !ok || payload == "" || sig == "" {
		return Identity{}, ErrInvalidCookie
	}
	if !hmac.Equal([]byte(sig), []byte(a.sign(payload))) {
		return Identity{}, ErrInvalidCookie
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Identity{}, ErrInvalidCookie
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, ErrInvalidCookie
	}
	if id.User == "" || id.SessionID == "" {
		return Identity{}, ErrInvalidCookie
	}
	if a.now().Sub(time.Unix(id.IssuedAt, 0)) > a.ttl {
		return Identity{}, fmt.Errorf("%w: expired", ErrInvalidCookie)
	}
	return id, nil
}

// SetCookie writes the login cookie for id.
func (a *AuthHandler) SetCookie(w http.ResponseWriter, r *http.Request, id Identity) error {
	value, err := a.Encode(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie expires the login cookie.
func (a *AuthHandler) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest returns the identity of r's login cookie.
func (a *AuthHandler) FromRequest(r *http.Request) (Identity, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Identity{}, ErrInvalidCookie
	}
	return a.Decode(c.Value)
}
