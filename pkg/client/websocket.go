package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// WebSocketURL builds the URL of a push socket. EndpointPush is the
// authenticated message socket and carries the stored credentials as query
// parameters; EndpointTempPush is the unauthenticated provisioning socket.
// The socket itself is not opened.
func (c *Client) WebSocketURL(ctx context.Context, endpoint Endpoint) (string, error) {
	if endpoint != EndpointPush && endpoint != EndpointTempPush {
		return "", fmt.Errorf("endpoint %q is not a websocket endpoint", endpoint)
	}
	path, _ := endpoint.Path()

	var base string
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		base = "wss://" + strings.TrimPrefix(c.baseURL, "https://")
	case strings.HasPrefix(c.baseURL, "http://"):
		base = "ws://" + strings.TrimPrefix(c.baseURL, "http://")
	default:
		return "", fmt.Errorf("cannot derive websocket scheme from %q", c.baseURL)
	}

	if endpoint == EndpointTempPush {
		return base + path, nil
	}

	identity, secret, err := c.derivedCredentials(ctx)
	if err != nil {
		return "", err
	}
	return base + path + "?login=" + encodeLogin(identity) + "&password=" + url.QueryEscape(secret), nil
}

// encodeLogin query-escapes identity, writing a leading "+" as "%2B"
// explicitly.
func encodeLogin(identity string) string {
	if rest, ok := strings.CutPrefix(identity, "+"); ok {
		return "%2B" + url.QueryEscape(rest)
	}
	return url.QueryEscape(identity)
}
