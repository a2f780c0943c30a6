package buzzsway

import (
	"context"
	"encoding/json"
)

// ============================================================================
// Users sub-client
// ============================================================================

// UsersClient handles user listing, search, profiles, and follows.
type UsersClient struct{ c *Client }

// All returns every registered user. The endpoint returns either a bare
// array or a {"users": [...]} wrapper depending on backend version.
func (u *UsersClient) All(ctx context.Context) ([]User, error) {
	data, err := u.c.doRequest(ctx, "GET", "/users", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeUserList(data)
}

// Search finds users whose names match the query.
func (u *UsersClient) Search(ctx context.Context, query string) ([]User, error) {
	data, err := u.c.doRequest(ctx, "GET", "/users/search", nil,
		map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	return decodeUserList(data)
}

// Get returns a single profile. This is also the reconciling read for
// follow mutations.
func (u *UsersClient) Get(ctx context.Context, userID string) (*User, error) {
	data, err := u.c.doRequest(ctx, "GET", "/users/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Edit updates the authenticated user's profile and returns the
// updated version.
func (u *UsersClient) Edit(ctx context.Context, opts *EditProfileOptions) (*User, error) {
	data, err := u.c.doRequest(ctx, "PUT", "/users/edit", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Follow toggles following the given user; the server flips the edge.
func (u *UsersClient) Follow(ctx context.Context, userID string) error {
	_, err := u.c.doRequest(ctx, "POST", "/users/"+userID+"/follow", nil, nil)
	return err
}

func decodeUserList(data []byte) ([]User, error) {
	var wrapped struct {
		Users []User `json:"users"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Users != nil {
		return wrapped.Users, nil
	}
	var users []User
	if err := unmarshalInto(data, &users); err != nil {
		return nil, err
	}
	return users, nil
}
