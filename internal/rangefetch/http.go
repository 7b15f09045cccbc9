package rangefetch

import (
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

var (
	// DefaultMaxConnsPerHost bounds total connections to the data bucket host.
	DefaultMaxConnsPerHost = 512
	// DefaultMaxIdleConnsPerHost bounds idle (keep-alive) connections.
	DefaultMaxIdleConnsPerHost = 256
	// DefaultKeepAlive is the TCP keep-alive period for bucket connections.
	DefaultKeepAlive = 60 * time.Second
	// DefaultTimeout is the per-request timeout applied to the HTTP client.
	DefaultTimeout = 30 * time.Second
)

// NewTransport returns a connection-pooled transport tuned for many
// concurrent small ranged GETs against one object-store host.
func NewTransport() *http.Transport {
	return &http.Transport{
		IdleConnTimeout:     time.Minute,
		MaxConnsPerHost:     DefaultMaxConnsPerHost,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		Proxy:               http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// NewRangedClient returns an http.Client for issuing Range GETs. Ranged
// reads must bypass gzip (a compressed body cannot honor a byte range), so
// this client wraps a plain transport, unlike the index-document client.
func NewRangedClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: NewTransport(),
	}
}

// NewIndexClient returns an http.Client for non-ranged index GET/PUT
// traffic, gzip-aware via gzhttp.
func NewIndexClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: gzhttp.Transport(NewTransport()),
	}
}
