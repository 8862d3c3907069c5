// ABOUTME: Authentication endpoints: password login, profile and email codes
// ABOUTME: Profile fetches take an explicit token so login can verify before storing

package api

import (
	"context"
	"net/http"
)

// Credentials are an email and password pair.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by login and code verification.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// Profile is the authenticated user's own record.
type Profile struct {
	ID       string `json:"_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	UserType string `json:"user_type,omitempty"`
}

// CodeVerification is the payload for verify-auth-code.
type CodeVerification struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// PasswordReset is the payload for users/reset-password.
type PasswordReset struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type staticToken string

func (t staticToken) Token(context.Context) (string, error) { return string(t), nil }

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/login", nil, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches the profile of the user owning token. An empty token uses the
// client's own token source.
func (c *Client) Me(ctx context.Context, token string) (*Profile, error) {
	cc := c
	if token != "" {
		clone := *c
		clone.tokens = staticToken(token)
		// A rejected candidate token must not log out the stored session.
		clone.OnUnauthorized = nil
		cc = &clone
	}
	var out Profile
	if err := cc.do(ctx, http.MethodGet, "/users/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendAuthCode emails a one-time login code.
func (c *Client) SendAuthCode(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/send-auth-code", nil, map[string]string{"email": email}, nil)
}

// VerifyAuthCode exchanges an emailed code for an access token.
func (c *Client) VerifyAuthCode(ctx context.Context, v CodeVerification) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/verify-auth-code", nil, v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPassword sets a new password using an emailed code.
func (c *Client) ResetPassword(ctx context.Context, r PasswordReset) error {
	return c.do(ctx, http.MethodPost, "/users/reset-password", nil, r, nil)
}
