package transport

import "testing"

func TestHTTPFactorySelectsOnScheme(t *testing.T) {
	f := NewHTTPConnectorFactory()
	if _, ok, err := f.NewConnector("central", "oci://registry.example.com", "oci"); ok || err != nil {
		t.Fatalf("expected http factory to decline a non-http scheme, got ok=%v err=%v", ok, err)
	}
	conn, ok, err := f.NewConnector("central", "https://repo.example.com", "default")
	if !ok || err != nil || conn == nil {
		t.Fatalf("expected http factory to accept an https url, got ok=%v err=%v", ok, err)
	}
}

func TestSanitizeTag(t *testing.T) {
	if got := sanitizeTag("1.0+build:7"); got != "1.0_build_7" {
		t.Fatalf("sanitizeTag() = %q, want %q", got, "1.0_build_7")
	}
}
