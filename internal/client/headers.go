package client

import (
	"net/http"
	"sort"
	"strings"
)

// Header names used by the stickyapp routing layer.
const (
	HeaderContentType     = "Content-Type"
	HeaderHost            = "Host"
	HeaderUseDirect       = "use-direct"
	HeaderOriginalDstHost = "x-envoy-original-dst-host"
)

// Headers is the header set owned by one session. It starts from the
// defaults every request carries and accumulates the sticky-routing
// headers once the session exists. A Headers value is not shared between
// sessions and is not safe for concurrent mutation.
type Headers struct {
	values map[string]string
}

// NewHeaders returns the default header set: JSON content type and the
// virtual host, plus any static extras.
func NewHeaders(host string, extra map[string]string) *Headers {
	h := &Headers{values: make(map[string]string, len(extra)+2)}
	for k, v := range extra {
		h.Set(k, v)
	}
	h.Set(HeaderContentType, "application/json")
	if host != "" {
		h.Set(HeaderHost, host)
	}
	return h
}

// Set adds or replaces a header.
func (h *Headers) Set(key, value string) {
	h.values[http.CanonicalHeaderKey(key)] = value
}

// Get returns a header value, or "" if unset.
func (h *Headers) Get(key string) string {
	return h.values[http.CanonicalHeaderKey(key)]
}

// Host returns the virtual host.
func (h *Headers) Host() string {
	return h.Get(HeaderHost)
}

// Apply writes the header set onto req. Host goes to req.Host, which is
// what net/http actually sends.
func (h *Headers) Apply(req *http.Request) {
	for k, v := range h.values {
		if k == HeaderHost {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
}

// String renders the set in a stable order for logs.
func (h *Headers) String() string {
	keys := make([]string, 0, len(h.values))
	for k := range h.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(h.values[k])
	}
	b.WriteByte('}')
	return b.String()
}
