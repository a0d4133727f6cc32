package http

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/v1/links", "/v1/links"},
		{"/v1/admin/keys/6ba7b810-9dad-11d1-80b4-00c04fd430c8", "/v1/admin/keys/:param"},
		{"/v1/download/eyJhbGciOiJFZERTQSIsImtpZCI6IjEifQ.payload.sig", "/v1/download/:param"},
		{"/v1/files/12345", "/v1/files/:param"},
		{"/v1/links?ttl=5m", "/v1/links"},
	}
	for _, c := range cases {
		if got := normalizePath(c.in); got != c.want {
			t.Errorf("normalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
