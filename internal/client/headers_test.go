package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHeaders(t *testing.T) {
	h := NewHeaders("stickyapp-rust.10.0.2.15.sslip.io", map[string]string{"x-trace": "1"})

	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "stickyapp-rust.10.0.2.15.sslip.io", h.Host())
	assert.Equal(t, "1", h.Get("X-Trace"))
}

func TestNewHeaders_StaticCannotOverrideContentType(t *testing.T) {
	h := NewHeaders("", map[string]string{"Content-Type": "text/plain"})

	assert.Equal(t, "application/json", h.Get(HeaderContentType))
	assert.Empty(t, h.Host())
}

func TestHeaders_StickyRouting(t *testing.T) {
	h := NewHeaders("app.example.com", nil)
	h.Set(HeaderUseDirect, "true")
	h.Set(HeaderOriginalDstHost, "L1:8080")

	assert.Equal(t, "true", h.Get("use-direct"))
	assert.Equal(t, "L1:8080", h.Get("x-envoy-original-dst-host"))
	assert.Equal(t,
		"{Content-Type: application/json, Host: app.example.com, Use-Direct: true, X-Envoy-Original-Dst-Host: L1:8080}",
		h.String())
}

func TestHeaders_PerUserSetsAreIndependent(t *testing.T) {
	a := NewHeaders("app.example.com", nil)
	b := NewHeaders("app.example.com", nil)
	b.Set(HeaderUseDirect, "true")

	assert.Empty(t, a.Get(HeaderUseDirect))
	assert.Equal(t, "true", b.Get(HeaderUseDirect))
	assert.NotContains(t, a.String(), "Use-Direct")
}

func TestHeaders_Apply(t *testing.T) {
	h := NewHeaders("app.example.com", nil)
	h.Set(HeaderOriginalDstHost, "10.1.2.3:8080")

	req := httptest.NewRequest(http.MethodPost, "http://localhost/sessions", nil)
	h.Apply(req)

	assert.Equal(t, "app.example.com", req.Host)
	assert.Empty(t, req.Header.Get("Host"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "10.1.2.3:8080", req.Header.Get("X-Envoy-Original-Dst-Host"))
}

func TestHeaders_String(t *testing.T) {
	h := NewHeaders("app.example.com", nil)
	h.Set(HeaderUseDirect, "true")

	assert.Equal(t, "{Content-Type: application/json, Host: app.example.com, Use-Direct: true}", h.String())
}
