package totp

import (
	"testing"
	"time"
)

func TestCodeIsDeterministicWithinPeriod(t *testing.T) {
	key := Key("server-secret", "grant_1", "kody@example.com")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := Code(key, base)
	b := Code(key, base.Add(29*time.Second))
	if a != b {
		t.Errorf("codes within one period differ: %s vs %s", a, b)
	}
}

func TestCodeChangesAcrossPeriods(t *testing.T) {
	key := Key("server-secret", "grant_1", "kody@example.com")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := Code(key, base)
	varied := false
	for i := 1; i <= 5; i++ {
		if Code(key, base.Add(time.Duration(i)*Period)) != first {
			varied = true
			break
		}
	}
	if !varied {
		t.Errorf("codes never changed across periods, stuck at %s", first)
	}
}

func TestCodeHasSixDigits(t *testing.T) {
	key := Key("server-secret", "grant_1", "kody@example.com")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		code := Code(key, now.Add(time.Duration(i)*Period))
		if len(code) != Digits {
			t.Fatalf("code %q has %d digits, want %d", code, len(code), Digits)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit %q", code, r)
			}
		}
	}
}

func TestKeyBindsIdentity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	baseKey := Key("server-secret", "grant_1", "kody@example.com")

	variants := map[string][]byte{
		"different secret": Key("other-secret", "grant_1", "kody@example.com"),
		"different grant":  Key("server-secret", "grant_2", "kody@example.com"),
		"different email":  Key("server-secret", "grant_1", "hannah@example.com"),
	}
	for name, key := range variants {
		// Individual periods can collide by chance; every period matching
		// means the key material is not actually bound.
		diverged := false
		for i := 0; i < 5; i++ {
			at := now.Add(time.Duration(i) * Period)
			if Code(key, at) != Code(baseKey, at) {
				diverged = true
				break
			}
		}
		if !diverged {
			t.Errorf("%s produced identical codes in every period", name)
		}
	}
}

func TestEqual(t *testing.T) {
	if !Equal("123456", "123456") {
		t.Error("identical codes should compare equal")
	}
	if Equal("123456", "654321") {
		t.Error("different codes should not compare equal")
	}
	if Equal("123456", "1234567") {
		t.Error("different lengths should not compare equal")
	}
}
