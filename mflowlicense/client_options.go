package mflowlicense

import (
	"net/http"
	"time"
)

// ClientOption configures an OnlineClient.
type ClientOption func(*OnlineClient)

// WithHTTPClient sets a custom HTTP client for the OnlineClient.
// The client's Timeout will be overridden by WithClientTimeout (or the default 10s).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *OnlineClient) {
		o.httpClient = c
	}
}

// WithClientTimeout sets the HTTP client timeout. Default is 10 seconds.
// Option ordering does not matter: timeout is always applied after all options.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *OnlineClient) {
		o.timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with requests.
func WithUserAgent(ua string) ClientOption {
	return func(o *OnlineClient) {
		o.userAgent = ua
	}
}

// WithDeviceID sets a default device identifier attached to requests that
// don't carry one, typically CurrentIdentity().ID.
func WithDeviceID(id string) ClientOption {
	return func(o *OnlineClient) {
		o.deviceID = id
	}
}
