// Package httpclient builds the pooled HTTP clients used for feed fetches and backend calls.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// TransportConfig sizes the connection pool and its timeouts.
type TransportConfig struct {
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
}

// DefaultTransportConfig mirrors the feed fetch pool: 128 idle connections, 64 per host.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         30 * time.Second,
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 64,
	}
}

// NewTransport returns a pooled *http.Transport. Zero fields fall back to the defaults.
func NewTransport(cfg TransportConfig) *http.Transport {
	def := DefaultTransportConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
