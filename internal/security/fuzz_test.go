package security

import "testing"

func FuzzValidate(f *testing.F) {
	seeds := []string{
		"https://example.com",
		"http://example.com/path?q=1",
		"ftp://example.com",
		"file:///etc/passwd",
		"javascript:alert(1)",
		"http://127.0.0.1",
		"http://[::1]",
		"http://10.0.0.1",
		"http://192.168.1.1",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal",
		"http://localhost:3000",
		"",
		"://",
		"http://",
		"http://0.0.0.0",
		"http://[::ffff:127.0.0.1]",
		// Loopback spelled in ways url.Parse may or may not normalize.
		"http://0x7f000001",
		"http://2130706433",
		"http://127.1",
		"http://0177.0.0.1",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	v := NewURL()
	f.Fuzz(func(t *testing.T, rawURL string) {
		// Must never panic, whatever the input.
		_ = v.Validate(rawURL)
	})
}
