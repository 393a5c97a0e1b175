package api

import "context"

// ListPublicUsers returns the browsable user directory.
func (c *Client) ListPublicUsers(ctx context.Context) ([]User, error) {
	var users []User
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&users).
		Get("/users/public")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser fetches a single profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&user).
		Get("/users/" + userID)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUserProducts returns the products a profile has listed.
func (c *Client) ListUserProducts(ctx context.Context, userID string) ([]Product, error) {
	var products []Product
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&products).
		Get("/products/user/" + userID)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return products, nil
}
