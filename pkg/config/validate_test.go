package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validRaw returns a complete settings map that passes core validation. The
// SSH key paths point at files created under dir with acceptable modes.
func validRaw(t *testing.T) map[string]string {
	t.Helper()
	dir := t.TempDir()
	private := filepath.Join(dir, "id_ed25519")
	public := filepath.Join(dir, "id_ed25519.pub")
	if err := os.WriteFile(private, []byte("key material"), 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	if err := os.WriteFile(public, []byte("public key"), 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return map[string]string{
		KeyProviderToken:     "tok-provider",
		KeyDNSAPIToken:       "tok-dns",
		KeyDNSZoneID:         "zone123",
		KeyDomain:            "example.com",
		KeyWebSubdomain:      "cloud",
		KeyRegion:            "nbg1",
		KeyDBPassword:        "secret",
		KeySSHPrivateKeyPath: private,
		KeySSHPublicKeyPath:  public,
		KeyCertMode:          "production",
		KeyNotifyEmail:       "ops@example.com",
	}
}

func missingKeys(t *testing.T, err error) map[string]string {
	t.Helper()
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	got := make(map[string]string, len(cerr.Missing))
	for _, m := range cerr.Missing {
		got[m.Key] = m.RequiredBy
	}
	return got
}

func TestValidateAcceptsCompleteSettings(t *testing.T) {
	d, err := Validate(validRaw(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.CertMode != CertModeProduction {
		t.Errorf("expected production mode, got %q", d.CertMode)
	}
	if d.WebFQDN() != "cloud.example.com" {
		t.Errorf("unexpected web fqdn %q", d.WebFQDN())
	}
	if d.S3 != nil || d.Mailer != nil {
		t.Error("optional feature blocks should be nil when flags are off")
	}
}

func TestValidateReportsExactlyTheMissingSet(t *testing.T) {
	raw := validRaw(t)
	delete(raw, KeyProviderToken)
	delete(raw, KeyDBPassword)
	delete(raw, KeyNotifyEmail)

	_, err := Validate(raw)
	got := missingKeys(t, err)

	want := []string{KeyProviderToken, KeyDBPassword, KeyNotifyEmail}
	if len(got) != len(want) {
		t.Fatalf("expected %d missing keys, got %v", len(want), got)
	}
	for _, key := range want {
		if _, ok := got[key]; !ok {
			t.Errorf("expected %s to be reported missing", key)
		}
	}
}

func TestValidateConditionalKeysOwnedByFlag(t *testing.T) {
	cases := []struct {
		name string
		flag string
		keys []string
	}{
		{"s3", KeyEnableS3Storage, s3Required},
		{"mailer", KeyMailerEnabled, mailerRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw(t)
			raw[tc.flag] = "true"

			_, err := Validate(raw)
			got := missingKeys(t, err)

			for _, key := range tc.keys {
				requiredBy, ok := got[key]
				if !ok {
					t.Errorf("expected %s to be reported missing", key)
					continue
				}
				if requiredBy != tc.flag {
					t.Errorf("expected %s to name flag %s, got %q", key, tc.flag, requiredBy)
				}
			}
		})
	}
}

func TestValidateConditionalKeysSilentWhenFlagOff(t *testing.T) {
	for _, value := range []string{"", "false"} {
		raw := validRaw(t)
		if value != "" {
			raw[KeyEnableS3Storage] = value
			raw[KeyMailerEnabled] = value
		}

		if _, err := Validate(raw); err != nil {
			t.Errorf("flag value %q: expected no error, got %v", value, err)
		}
	}
}

func TestValidateMailerTLSOptional(t *testing.T) {
	raw := validRaw(t)
	raw[KeyMailerEnabled] = "true"
	raw[KeyMailerHost] = "smtp.example.com"
	raw[KeyMailerPort] = "587"
	raw[KeyMailerUsername] = "mailer"
	raw[KeyMailerPassword] = "hunter2"
	raw[KeyMailerFromAddress] = "noreply@example.com"
	raw[KeyMailerFromName] = "Cloud"

	d, err := Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Mailer == nil {
		t.Fatal("expected mailer settings")
	}
	if d.Mailer.TLS {
		t.Error("mailer_tls should default to false")
	}
	if d.Mailer.Port != 587 {
		t.Errorf("expected port 587, got %d", d.Mailer.Port)
	}
}

func TestValidateRejectsBadFlagValue(t *testing.T) {
	raw := validRaw(t)
	raw[KeyEnableS3Storage] = "yes"

	_, err := Validate(raw)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if len(cerr.Invalid) != 1 || cerr.Invalid[0].Key != KeyEnableS3Storage {
		t.Errorf("expected invalid entry for %s, got %+v", KeyEnableS3Storage, cerr.Invalid)
	}
}

func TestValidateRejectsUnknownCertMode(t *testing.T) {
	raw := validRaw(t)
	raw[KeyCertMode] = "sandbox"

	_, err := Validate(raw)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if len(cerr.Invalid) == 0 || cerr.Invalid[0].Key != KeyCertMode {
		t.Errorf("expected invalid entry for %s, got %+v", KeyCertMode, cerr.Invalid)
	}
}

func TestValidateAggregatesFormatViolations(t *testing.T) {
	raw := validRaw(t)
	raw[KeyNotifyEmail] = "not-an-address"
	delete(raw, KeyDBPassword)

	_, err := Validate(raw)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if len(cerr.Missing) != 1 || cerr.Missing[0].Key != KeyDBPassword {
		t.Errorf("expected %s missing, got %+v", KeyDBPassword, cerr.Missing)
	}
	found := false
	for _, iv := range cerr.Invalid {
		if iv.Key == KeyNotifyEmail {
			found = true
		}
	}
	if !found {
		t.Errorf("expected invalid entry for %s, got %+v", KeyNotifyEmail, cerr.Invalid)
	}
}

func TestKeyPermissionTable(t *testing.T) {
	cases := []struct {
		mode os.FileMode
		ok   bool
	}{
		{0o600, true},
		{0o400, true},
		{0o644, false},
		{0o640, false},
		{0o777, false},
		{0o666, false},
	}
	for _, tc := range cases {
		raw := validRaw(t)
		if err := os.Chmod(raw[KeySSHPrivateKeyPath], tc.mode); err != nil {
			t.Fatalf("chmod: %v", err)
		}

		_, err := Validate(raw)
		if tc.ok {
			if err != nil {
				t.Errorf("mode %04o: expected success, got %v", tc.mode, err)
			}
			continue
		}
		var serr *SecurityError
		if !errors.As(err, &serr) {
			t.Errorf("mode %04o: expected *SecurityError, got %v", tc.mode, err)
			continue
		}
		if serr.Mode != tc.mode {
			t.Errorf("mode %04o: error reports %04o", tc.mode, serr.Mode)
		}
		for _, accepted := range []string{"0600", "0400"} {
			if !strings.Contains(serr.Error(), accepted) {
				t.Errorf("mode %04o: error should name accepted mode %s: %s", tc.mode, accepted, serr.Error())
			}
		}
	}
}

func TestKeyCheckRunsOnlyAfterRequiredSetPasses(t *testing.T) {
	raw := validRaw(t)
	raw[KeySSHPrivateKeyPath] = filepath.Join(t.TempDir(), "does-not-exist")
	delete(raw, KeyDomain)

	// The missing domain must surface as a ConfigError; the dangling key
	// path must not be touched while configuration errors are outstanding.
	_, err := Validate(raw)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError before filesystem checks, got %v", err)
	}
}

func TestValidateTeardownMinimalSet(t *testing.T) {
	raw := map[string]string{
		KeyProviderToken:     "tok-provider",
		KeyDNSAPIToken:       "tok-dns",
		KeyDNSZoneID:         "zone123",
		KeyDomain:            "example.com",
		KeyWebSubdomain:      "cloud",
		KeyRegion:            "nbg1",
		KeySSHPrivateKeyPath: "/home/op/.ssh/id_ed25519",
		KeySSHPublicKeyPath:  "/home/op/.ssh/id_ed25519.pub",
	}
	if _, err := ValidateTeardown(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	delete(raw, KeyProviderToken)
	_, err := ValidateTeardown(raw)
	got := missingKeys(t, err)
	if len(got) != 1 {
		t.Fatalf("expected exactly one missing key, got %v", got)
	}
	if _, ok := got[KeyProviderToken]; !ok {
		t.Errorf("expected %s missing, got %v", KeyProviderToken, got)
	}
}

func TestValidateTeardownRejectsMalformedFlag(t *testing.T) {
	raw := map[string]string{
		KeyProviderToken:      "tok-provider",
		KeyDNSAPIToken:        "tok-dns",
		KeyDNSZoneID:          "zone123",
		KeyDomain:             "example.com",
		KeyWebSubdomain:       "cloud",
		KeyRegion:             "nbg1",
		KeySSHPrivateKeyPath:  "/home/op/.ssh/id_ed25519",
		KeySSHPublicKeyPath:   "/home/op/.ssh/id_ed25519.pub",
		KeyEnableBlockStorage: "maybe",
	}

	// A flag value rejected on apply must be rejected on teardown too,
	// not silently coerced to false.
	_, err := ValidateTeardown(raw)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if len(cerr.Invalid) != 1 || cerr.Invalid[0].Key != KeyEnableBlockStorage {
		t.Errorf("expected invalid entry for %s, got %+v", KeyEnableBlockStorage, cerr.Invalid)
	}
}
