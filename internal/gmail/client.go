package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Client wraps the Gmail Users service of a single authenticated sender.
type Client struct {
	svc *gmail.UsersService
}

// NewClient creates a Gmail client authorized by the given token source.
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	return newClient(ctx, opts...)
}

// NewClientWithHTTP creates a Gmail client on top of an already authorized
// HTTP client.
func NewClientWithHTTP(ctx context.Context, hc *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	return newClient(ctx, opts...)
}

func newClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{svc: svc.Users}, nil
}

// SendRaw sends an already composed message. raw must be the EncodeRaw form.
// It returns the provider message id.
func (c *Client) SendRaw(ctx context.Context, raw string) (string, error) {
	sent, err := c.svc.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return sent.Id, nil
}

// IsAuthError reports whether err means the sender's provider authorization
// is no longer usable and the user has to consent again.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return true
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "insufficientPermissions", "authError", "forbidden":
				return true
			}
		}
	}
	return false
}

// ProviderMessage extracts the most useful human-readable text from a send
// failure.
func ProviderMessage(err error) string {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
