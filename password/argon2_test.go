package password

import (
	"strings"
	"testing"
)

func testConfig() Config {
	// Small parameters keep the test fast while clearing the minimums.
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := newTestHasher(t, testConfig())

	encoded, err := h.Hash("password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$") {
		t.Fatalf("unexpected hash prefix: %q", encoded)
	}

	ok, err := h.Verify("password", encoded)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("correct password failed verification")
	}

	ok, err = h.Verify("passw0rd", encoded)
	if err != nil {
		t.Fatalf("verify wrong password: %v", err)
	}
	if ok {
		t.Fatal("wrong password passed verification")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := newTestHasher(t, testConfig())

	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected short password rejection")
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	h := newTestHasher(t, testConfig())

	first, err := h.Hash("password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := h.Hash("password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := newTestHasher(t, testConfig())

	encoded, err := weak.Hash("password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	same, err := weak.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("needs rehash: %v", err)
	}
	if same {
		t.Error("hash produced with current params reported stale")
	}

	strongCfg := testConfig()
	strongCfg.Memory = 64 * 1024
	strongCfg.Time = 2
	strong := newTestHasher(t, strongCfg)

	upgrade, err := strong.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("needs rehash: %v", err)
	}
	if !upgrade {
		t.Error("weaker hash not flagged for upgrade")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, testConfig())

	cases := []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=8192,t=1,p=1$short",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	}
	for _, raw := range cases {
		if _, err := h.Verify("password", raw); err == nil {
			t.Errorf("Verify(%q) accepted malformed hash", raw)
		}
	}
}

func TestNewHasherValidation(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"low memory", func(c *Config) { c.Memory = 1024 }},
		{"zero time", func(c *Config) { c.Time = 0 }},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"short salt", func(c *Config) { c.SaltLength = 8 }},
		{"short key", func(c *Config) { c.KeyLength = 8 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mod(&cfg)
			if _, err := NewHasher(cfg); err == nil {
				t.Fatal("expected config rejection")
			}
		})
	}
}
