package interceptors

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func mustTrust(t *testing.T, entries ...string) TrustedProxies {
	t.Helper()
	tp, err := ParseTrustedProxies(entries)
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	return tp
}

func TestParseTrustedProxies(t *testing.T) {
	tp := mustTrust(t, "10.0.0.0/8", " 192.0.2.4 ", "", "2001:db8::/32")
	if len(tp) != 3 {
		t.Fatalf("len = %d, want 3", len(tp))
	}
	for ip, want := range map[string]bool{
		"10.1.2.3":        true,
		"::ffff:10.1.2.3": true,
		"192.0.2.4":       true,
		"192.0.2.5":       false,
		"2001:db8::1":     true,
		"198.51.100.66":   false,
		"not-an-address":  false,
	} {
		if got := tp.Contains(ip); got != want {
			t.Errorf("Contains(%q) = %v, want %v", ip, got, want)
		}
	}

	for _, bad := range []string{"10.0.0.0/33", "proxy.internal"} {
		if _, err := ParseTrustedProxies([]string{bad}); err == nil {
			t.Errorf("ParseTrustedProxies(%q) should fail", bad)
		}
	}
}

func TestClientIP(t *testing.T) {
	trusted := mustTrust(t, "10.0.0.0/8")
	tests := []struct {
		name    string
		trusted TrustedProxies
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer ignores forwarded for", nil, map[string]string{"X-Forwarded-For": "203.0.113.1"}, "198.51.100.66:443", "198.51.100.66"},
		{"untrusted peer ignores real ip", nil, map[string]string{"X-Real-IP": "203.0.113.1"}, "198.51.100.66:443", "198.51.100.66"},
		{"peer outside trusted range", trusted, map[string]string{"X-Forwarded-For": "203.0.113.1"}, "198.51.100.66:443", "198.51.100.66"},
		{"trusted proxy single hop", trusted, map[string]string{"X-Forwarded-For": " 198.51.100.1 "}, "10.0.0.2:443", "198.51.100.1"},
		{"trusted chain skips inner proxies", trusted, map[string]string{"X-Forwarded-For": "203.0.113.9, 198.51.100.1, 10.0.0.7"}, "10.0.0.2:443", "198.51.100.1"},
		{"all hops trusted", trusted, map[string]string{"X-Forwarded-For": "10.0.0.9, 10.0.0.7"}, "10.0.0.2:443", "10.0.0.9"},
		{"garbage hop falls back to peer", trusted, map[string]string{"X-Forwarded-For": "evil, 10.0.0.7"}, "10.0.0.2:443", "10.0.0.2"},
		{"trusted real ip", trusted, map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.2:443", "198.51.100.2"},
		{"trusted without headers", trusted, nil, "10.0.0.2:443", "10.0.0.2"},
		{"remote addr without port", nil, nil, "192.0.2.10", "192.0.2.10"},
		{"nothing", nil, nil, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tt.trusted); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"ascii over limit", strings.Repeat("a", 600)},
		{"multibyte across the limit", "a" + strings.Repeat("日", 200)},
		{"invalid bytes", "curl/8 \xff\xfe" + strings.Repeat("é", 300)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("User-Agent", tt.in)
			got := UserAgent(r)
			if len(got) > maxUserAgent {
				t.Errorf("len = %d, want <= %d", len(got), maxUserAgent)
			}
			if !utf8.ValidString(got) {
				t.Errorf("user agent is not valid UTF-8: %q", got)
			}
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "a"+strings.Repeat("日", 200))
	if got := UserAgent(r); len(got) != 511 {
		t.Errorf("len = %d, want 511 (170 whole runes after the ascii byte)", len(got))
	}
	r.Header.Set("User-Agent", "curl/8.5")
	if got := UserAgent(r); got != "curl/8.5" {
		t.Errorf("short user agent changed: %q", got)
	}
}

func TestRequestMetadata_StoresClient(t *testing.T) {
	var got Client
	h := RequestMetadata(mustTrust(t, "10.0.0.0/8"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetClient(r.Context())
	}))
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	r.RemoteAddr = "10.0.0.3:5555"
	r.Header.Set("X-Forwarded-For", "192.0.2.10")
	r.Header.Set("User-Agent", strings.Repeat("a", 600))
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got.IP != "192.0.2.10" {
		t.Errorf("ip = %q", got.IP)
	}
	if len(got.UserAgent) != maxUserAgent {
		t.Errorf("user agent length = %d, want %d", len(got.UserAgent), maxUserAgent)
	}
}
