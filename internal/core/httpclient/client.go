// Package httpclient configures the HTTP client used to call the image service.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the client shared by metadata, query, export and
// image fetch calls. timeout bounds a whole request including the body, so
// it must leave room for large exports; zero disables it.
func NewOutbound(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
