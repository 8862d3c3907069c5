// ABOUTME: Operator session persisted in a KV namespace
// ABOUTME: Login with role check and token rollback, logout, stored user and roles

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/store"
)

// DefaultRole is the role an operator must hold to use the console.
const DefaultRole = "admin"

// ErrAccessDenied is returned when an account authenticates but lacks the required role.
var ErrAccessDenied = errors.New("access denied: only administrators can sign in")

// Authenticator is the part of the backend used to sign in.
type Authenticator interface {
	Login(ctx context.Context, creds api.Credentials) (*api.TokenResponse, error)
	VerifyAuthCode(ctx context.Context, v api.CodeVerification) (*api.TokenResponse, error)
	Me(ctx context.Context, token string) (*api.Profile, error)
}

// Options configures a Session.
type Options struct {
	// RequiredRole defaults to DefaultRole.
	RequiredRole string
	// TTL bounds how long session keys live in the store. Zero keeps them
	// until logout.
	TTL    time.Duration
	Sealer *Sealer
	Logger *slog.Logger
}

// AuthData records how the operator signed in.
type AuthData struct {
	Email    string    `json:"email"`
	Method   string    `json:"method"`
	SignedIn time.Time `json:"signed_in"`
}

// Session is one operator's persisted authentication state.
type Session struct {
	kv     store.KV
	ns     string
	authn  Authenticator
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewSession binds a session to the keys under namespace.
func NewSession(kv store.KV, namespace string, authn Authenticator, opts Options) *Session {
	if opts.RequiredRole == "" {
		opts.RequiredRole = DefaultRole
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		kv:     kv,
		ns:     namespace,
		authn:  authn,
		opts:   opts,
		logger: logger.With("component", "auth", "session", namespace),
		now:    time.Now,
	}
}

func (s *Session) tokenKey() string    { return s.ns + ":token" }
func (s *Session) userKey() string     { return s.ns + ":user" }
func (s *Session) authDataKey() string { return s.ns + ":authData" }

// Namespace returns the KV namespace of the session.
func (s *Session) Namespace() string { return s.ns }

// IsAuthenticated reports whether a token is stored.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	_, err := s.kv.Get(ctx, s.tokenKey())
	return err == nil
}

// Token returns the stored token, or api.ErrNoToken.
func (s *Session) Token(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, s.tokenKey())
	if errors.Is(err, store.ErrNotFound) {
		return "", api.ErrNoToken
	}
	if err != nil {
		return "", err
	}
	if s.opts.Sealer == nil {
		return string(raw), nil
	}
	plain, err := s.opts.Sealer.Open(string(raw))
	if err != nil {
		// Tokens sealed under another secret are useless; drop them.
		s.logger.Warn("discarding unreadable session token", "error", err)
		_ = s.kv.Delete(ctx, s.tokenKey())
		return "", api.ErrNoToken
	}
	return string(plain), nil
}

func (s *Session) storeToken(ctx context.Context, token string) error {
	value := []byte(token)
	if s.opts.Sealer != nil {
		sealed, err := s.opts.Sealer.Seal(value)
		if err != nil {
			return err
		}
		value = []byte(sealed)
	}
	return s.kv.Set(ctx, s.tokenKey(), value, s.opts.TTL)
}

// StoredUser returns the profile saved at login, or nil when there is none
// or it cannot be decoded.
func (s *Session) StoredUser(ctx context.Context) *api.Profile {
	var p api.Profile
	if err := store.GetJSON(ctx, s.kv, s.userKey(), &p); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read stored user", "error", err)
		}
		return nil
	}
	return &p
}

// StoredAuthData returns how the operator signed in, if known.
func (s *Session) StoredAuthData(ctx context.Context) *AuthData {
	var d AuthData
	if err := store.GetJSON(ctx, s.kv, s.authDataKey(), &d); err != nil {
		return nil
	}
	return &d
}

// HasRole reports whether the stored user holds role, by role or user type.
func (s *Session) HasRole(ctx context.Context, role string) bool {
	u := s.StoredUser(ctx)
	if u == nil {
		return false
	}
	return u.Role == role || u.UserType == role
}

// IsAdmin reports whether the stored user holds the admin role.
func (s *Session) IsAdmin(ctx context.Context) bool {
	return s.HasRole(ctx, DefaultRole)
}

// Login signs in with email and password.
func (s *Session) Login(ctx context.Context, creds api.Credentials) (*api.Profile, error) {
	resp, err := s.authn.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}
	return s.establish(ctx, resp, AuthData{Email: creds.Email, Method: "password"})
}

// VerifyCode signs in with an emailed one-time code.
func (s *Session) VerifyCode(ctx context.Context, v api.CodeVerification) (*api.Profile, error) {
	resp, err := s.authn.VerifyAuthCode(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("verifying code: %w", err)
	}
	return s.establish(ctx, resp, AuthData{Email: v.Email, Method: "code"})
}

// establish stores the token, then keeps it only if its owner holds the
// required role.
func (s *Session) establish(ctx context.Context, resp *api.TokenResponse, data AuthData) (*api.Profile, error) {
	if resp == nil || resp.AccessToken == "" {
		return nil, errors.New("signing in: backend returned no access token")
	}
	if err := s.storeToken(ctx, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}

	profile, err := s.authn.Me(ctx, resp.AccessToken)
	if err != nil || profile == nil || profile.Role != s.opts.RequiredRole {
		s.rollback(ctx)
		if err != nil {
			s.logger.Warn("profile lookup failed after sign in", "error", err)
		} else if profile != nil {
			s.logger.Warn("sign in refused for role", "email", data.Email, "role", profile.Role)
		}
		return nil, ErrAccessDenied
	}

	if err := store.SetJSON(ctx, s.kv, s.userKey(), profile, s.opts.TTL); err != nil {
		s.rollback(ctx)
		return nil, fmt.Errorf("storing user: %w", err)
	}
	data.SignedIn = s.now().UTC()
	if err := store.SetJSON(ctx, s.kv, s.authDataKey(), data, s.opts.TTL); err != nil {
		s.logger.Warn("failed to store auth data", "error", err)
	}
	s.logger.Info("operator signed in", "email", data.Email, "method", data.Method)
	return profile, nil
}

func (s *Session) rollback(ctx context.Context) {
	if err := s.kv.Delete(ctx, s.tokenKey(), s.userKey()); err != nil {
		s.logger.Error("failed to roll back session token", "error", err)
	}
}

// Logout clears every session key.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.tokenKey(), s.userKey(), s.authDataKey()); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	s.logger.Info("operator signed out")
	return nil
}

// Info decodes the stored token for display.
func (s *Session) Info(ctx context.Context) (TokenInfo, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return TokenInfo{}, err
	}
	return Inspect(token)
}
