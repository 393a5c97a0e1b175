// Package api is the REST client for the marketplace backend.
package api

import (
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tradeline/chatsync/internal/normalize"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d: %s", e.Code, e.Body)
}

// Upload is an image attachment for a multipart send.
type Upload struct {
	FileName string
	Reader   io.Reader
}

// Client wraps the REST endpoints the synchronizer and views depend on.
type Client struct {
	http        *resty.Client
	uploadsBase string
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	UploadsBase string
	AccessToken string
	Timeout     time.Duration
}

// New returns a Client authenticated with the given access token.
func New(opts Options) *Client {
	hc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetAuthToken(opts.AccessToken).
		SetHeader("Accept", "application/json")

	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}

	uploads := opts.UploadsBase
	if uploads == "" {
		uploads = opts.BaseURL
	}

	return &Client{http: hc, uploadsBase: uploads}
}

// UploadsBase is the base URL image references resolve against.
func (c *Client) UploadsBase() string { return c.uploadsBase }

// ImageURL resolves a message or profile image reference to a fetchable URL.
func (c *Client) ImageURL(value string) string {
	return normalize.ImageURL(value, c.uploadsBase)
}

// check converts non-2xx responses into a *StatusError.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}
