// urlguard_test.go — exhaustive destination-policy tests.
package urlguard

import (
	"errors"
	"testing"
)

func TestValidate_AllowedURLs(t *testing.T) {
	allowed := []string{
		"https://example.com/live/a/b/1.m3u8",
		"http://provider.example.com:8080/player_api.php?username=u&password=p",
		"http://8.8.8.8/list.m3u",
		"https://cdn.example.net/movie/123.mp4?token=abc",
		"http://172.15.255.255/edge-of-range", // just below 172.16/12
		"http://172.32.0.1/above-range",       // just above 172.16/12
	}
	for _, raw := range allowed {
		u, err := Validate(raw)
		if err != nil {
			t.Errorf("Validate(%q) rejected: %v", raw, err)
			continue
		}
		if u == nil {
			t.Errorf("Validate(%q) returned nil URL without error", raw)
		}
	}
}

func TestValidate_RejectsBadSchemes(t *testing.T) {
	for _, raw := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"gopher://example.com",
		"javascript:alert(1)",
		"//example.com/protocol-relative",
		"not a url at all\x00",
	} {
		if _, err := Validate(raw); !errors.Is(err, ErrBlocked) {
			t.Errorf("Validate(%q) = %v, want ErrBlocked", raw, err)
		}
	}
}

func TestValidate_RejectsInternalHostnames(t *testing.T) {
	for _, raw := range []string{
		"http://localhost/admin",
		"http://localhost:8080/admin",
		"http://LOCALHOST/case-insensitive",
		"http://localhost.localdomain/",
		"http://router.local/",
		"http://db.internal/",
		"http://api.localhost/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://instance-data/latest/meta-data",
	} {
		if _, err := Validate(raw); !errors.Is(err, ErrBlocked) {
			t.Errorf("Validate(%q) = %v, want ErrBlocked", raw, err)
		}
	}
}

func TestValidate_RejectsPrivateRanges(t *testing.T) {
	for _, raw := range []string{
		"http://127.0.0.1/",
		"http://127.255.255.254/",
		"http://0.0.0.0/",
		"http://10.1.2.3/",
		"http://172.16.0.1/",
		"http://172.31.255.255/",
		"http://192.168.1.1/router",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http://[::]/",
		"http://[fe80::1]/",
		"http://[fc00::1]/",
		"http://[fd12:3456::1]/",
		"http://[::ffff:127.0.0.1]/", // IPv4-mapped loopback
	} {
		if _, err := Validate(raw); !errors.Is(err, ErrBlocked) {
			t.Errorf("Validate(%q) = %v, want ErrBlocked", raw, err)
		}
	}
}

func TestValidate_IsPure(t *testing.T) {
	// Same input, same answer — no hidden state.
	for i := 0; i < 3; i++ {
		if _, err := Validate("https://example.com/x.m3u8"); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if _, err := Validate("http://10.0.0.1/"); !errors.Is(err, ErrBlocked) {
			t.Fatalf("iteration %d: expected ErrBlocked", i)
		}
	}
}
