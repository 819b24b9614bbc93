package session

import (
	"context"
	"testing"
)

func TestFromContextRequiresSession(t *testing.T) {
	if _, err := FromContext(context.Background()); err == nil {
		t.Fatal("expected error when no session is attached")
	}
}

func TestWithSessionRoundTrip(t *testing.T) {
	sess := New()
	sess.Offline = true
	ctx := WithSession(context.Background(), sess)
	got, err := FromContext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != sess {
		t.Fatal("expected the same *Session instance back")
	}
}

func TestValidateTrackingFilename(t *testing.T) {
	cases := map[string]bool{
		"_remote.repositories": true,
		"":                      false,
		"sub/dir":               false,
		"..":                    false,
		"../escape":             false,
	}
	for name, wantOK := range cases {
		err := ValidateTrackingFilename(name)
		if (err == nil) != wantOK {
			t.Errorf("ValidateTrackingFilename(%q) err=%v, want ok=%v", name, err, wantOK)
		}
	}
}

func TestIsProtocolAndHostExempt(t *testing.T) {
	sess := New()
	sess.OfflineProtocols = ParseCSV("file, classpath")
	sess.OfflineHosts = ParseCSV("localhost")
	if !sess.IsProtocolExempt("FILE") {
		t.Fatal("expected case-insensitive protocol match")
	}
	if sess.IsProtocolExempt("http") {
		t.Fatal("http should not be exempt")
	}
	if !sess.IsHostExempt("localhost") {
		t.Fatal("expected localhost to be exempt")
	}
}

func TestParseHelpers(t *testing.T) {
	if !ParseBool("", true) {
		t.Fatal("empty input should fall back to default")
	}
	if ParseBool("false", true) {
		t.Fatal("explicit false should override default")
	}
	if ParseInt("not-a-number", 4) != 4 {
		t.Fatal("invalid input should fall back to default")
	}
	if ParseInt("8", 4) != 8 {
		t.Fatal("valid input should parse")
	}
}
