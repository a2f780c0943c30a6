package buzzsway

import "context"

// ============================================================================
// Auth sub-client
// ============================================================================

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterOptions is the registration payload.
type RegisterOptions struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthClient handles login, registration, and identity lookup.
//
// Login and Register are user-initiated actions: their errors carry the
// backend's message payload and are meant to be surfaced (see UserMessage).
type AuthClient struct{ c *Client }

func (a *AuthClient) Login(ctx context.Context, creds *Credentials) (*AuthData, error) {
	data, err := a.c.doRequest(ctx, "POST", "/auth/login", creds, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthData](data)
}

func (a *AuthClient) Register(ctx context.Context, opts *RegisterOptions) (*AuthData, error) {
	data, err := a.c.doRequest(ctx, "POST", "/auth/register", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthData](data)
}

// Me returns the identity behind the current token. Used on startup when
// no persisted session is available.
func (a *AuthClient) Me(ctx context.Context) (*SessionUser, error) {
	data, err := a.c.doRequest(ctx, "GET", "/user/me", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		User SessionUser `json:"user"`
	}
	if err := unmarshalInto(data, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}
