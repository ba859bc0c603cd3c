package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// coreRequired is the set of keys every apply run needs, regardless of which
// optional features are enabled.
var coreRequired = []string{
	KeyProviderToken,
	KeyDNSAPIToken,
	KeyDNSZoneID,
	KeyDomain,
	KeyWebSubdomain,
	KeyRegion,
	KeyDBPassword,
	KeySSHPrivateKeyPath,
	KeySSHPublicKeyPath,
	KeyCertMode,
	KeyNotifyEmail,
}

// s3Required becomes mandatory when enable_s3_storage is true.
var s3Required = []string{
	KeyS3AccessKey,
	KeyS3SecretKey,
	KeyS3Bucket,
}

// mailerRequired becomes mandatory when mailer_enabled is true. mailer_tls is
// deliberately absent: it is optional and defaults to false.
var mailerRequired = []string{
	KeyMailerHost,
	KeyMailerPort,
	KeyMailerUsername,
	KeyMailerPassword,
	KeyMailerFromAddress,
	KeyMailerFromName,
}

// teardownRequired is the minimal set needed to destroy provisioned resources.
var teardownRequired = []string{
	KeyProviderToken,
	KeyDNSAPIToken,
	KeyDNSZoneID,
	KeyDomain,
	KeyWebSubdomain,
	KeyRegion,
	KeySSHPrivateKeyPath,
	KeySSHPublicKeyPath,
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// fieldKeys maps validator struct namespaces back to settings keys so format
// violations are reported against the key the operator actually wrote.
var fieldKeys = map[string]string{
	"Deployment.ProviderToken":      KeyProviderToken,
	"Deployment.DNSAPIToken":        KeyDNSAPIToken,
	"Deployment.DNSZoneID":          KeyDNSZoneID,
	"Deployment.Domain":             KeyDomain,
	"Deployment.WebSubdomain":       KeyWebSubdomain,
	"Deployment.MediaSubdomain":     KeyMediaSubdomain,
	"Deployment.Region":             KeyRegion,
	"Deployment.DBPassword":         KeyDBPassword,
	"Deployment.SSHPrivateKeyPath":  KeySSHPrivateKeyPath,
	"Deployment.SSHPublicKeyPath":   KeySSHPublicKeyPath,
	"Deployment.NotifyEmail":        KeyNotifyEmail,
	"Deployment.S3.AccessKey":       KeyS3AccessKey,
	"Deployment.S3.SecretKey":       KeyS3SecretKey,
	"Deployment.S3.Bucket":          KeyS3Bucket,
	"Deployment.Mailer.Host":        KeyMailerHost,
	"Deployment.Mailer.Port":        KeyMailerPort,
	"Deployment.Mailer.Username":    KeyMailerUsername,
	"Deployment.Mailer.Password":    KeyMailerPassword,
	"Deployment.Mailer.FromAddress": KeyMailerFromAddress,
	"Deployment.Mailer.FromName":    KeyMailerFromName,
}

// Validate checks the raw settings map and builds the typed Deployment for an
// apply run. Every missing or malformed key is collected into one aggregated
// ConfigError. The SSH key permission check runs only after the required sets
// pass, so configuration problems surface before any filesystem access.
func Validate(raw map[string]string) (*Deployment, error) {
	cerr := &ConfigError{}

	for _, key := range coreRequired {
		if raw[key] == "" {
			cerr.addMissing(key, "")
		}
	}

	s3Enabled := parseFlag(raw, KeyEnableS3Storage, cerr)
	mailerEnabled := parseFlag(raw, KeyMailerEnabled, cerr)

	if s3Enabled {
		for _, key := range s3Required {
			if raw[key] == "" {
				cerr.addMissing(key, KeyEnableS3Storage)
			}
		}
	}
	if mailerEnabled {
		for _, key := range mailerRequired {
			if raw[key] == "" {
				cerr.addMissing(key, KeyMailerEnabled)
			}
		}
	}

	d := &Deployment{
		ProviderToken:      raw[KeyProviderToken],
		DNSAPIToken:        raw[KeyDNSAPIToken],
		DNSZoneID:          raw[KeyDNSZoneID],
		Domain:             raw[KeyDomain],
		WebSubdomain:       raw[KeyWebSubdomain],
		MediaSubdomain:     raw[KeyMediaSubdomain],
		Region:             raw[KeyRegion],
		DBPassword:         raw[KeyDBPassword],
		SSHPrivateKeyPath:  raw[KeySSHPrivateKeyPath],
		SSHPublicKeyPath:   raw[KeySSHPublicKeyPath],
		NotifyEmail:        raw[KeyNotifyEmail],
		EnableBlockStorage: parseFlag(raw, KeyEnableBlockStorage, cerr),
		EdgeProxy:          parseFlag(raw, KeyEdgeProxy, cerr),
	}

	if raw[KeyCertMode] != "" {
		mode, err := ParseCertMode(raw[KeyCertMode])
		if err != nil {
			cerr.addInvalid(KeyCertMode, raw[KeyCertMode], "expected dry-run, staging or production")
		} else {
			d.CertMode = mode
		}
	}

	if s3Enabled {
		d.S3 = &S3Settings{
			AccessKey: raw[KeyS3AccessKey],
			SecretKey: raw[KeyS3SecretKey],
			Bucket:    raw[KeyS3Bucket],
		}
	}
	if mailerEnabled {
		mailer := &MailerSettings{
			Host:        raw[KeyMailerHost],
			Username:    raw[KeyMailerUsername],
			Password:    raw[KeyMailerPassword],
			FromAddress: raw[KeyMailerFromAddress],
			FromName:    raw[KeyMailerFromName],
			TLS:         parseFlag(raw, KeyMailerTLS, cerr),
		}
		if raw[KeyMailerPort] != "" {
			port, err := strconv.Atoi(raw[KeyMailerPort])
			if err != nil {
				cerr.addInvalid(KeyMailerPort, raw[KeyMailerPort], "not a number")
			} else {
				mailer.Port = port
			}
		}
		d.Mailer = mailer
	}

	checkFormats(d, cerr)

	if cerr.HasProblems() {
		return nil, cerr
	}

	if err := checkKeyPermissions(d.SSHPrivateKeyPath); err != nil {
		return nil, err
	}

	return d, nil
}

// ValidateTeardown checks the minimal settings needed to destroy the stack.
func ValidateTeardown(raw map[string]string) (*Deployment, error) {
	cerr := &ConfigError{}

	for _, key := range teardownRequired {
		if raw[key] == "" {
			cerr.addMissing(key, "")
		}
	}

	blockStorage := parseFlag(raw, KeyEnableBlockStorage, cerr)
	edgeProxy := parseFlag(raw, KeyEdgeProxy, cerr)

	if cerr.HasProblems() {
		return nil, cerr
	}

	return &Deployment{
		ProviderToken:      raw[KeyProviderToken],
		DNSAPIToken:        raw[KeyDNSAPIToken],
		DNSZoneID:          raw[KeyDNSZoneID],
		Domain:             raw[KeyDomain],
		WebSubdomain:       raw[KeyWebSubdomain],
		MediaSubdomain:     raw[KeyMediaSubdomain],
		Region:             raw[KeyRegion],
		SSHPrivateKeyPath:  raw[KeySSHPrivateKeyPath],
		SSHPublicKeyPath:   raw[KeySSHPublicKeyPath],
		EnableBlockStorage: blockStorage,
		EdgeProxy:          edgeProxy,
	}, nil
}

// parseFlag interprets a string-typed boolean setting. Only the literal
// "true" enables a feature; absent and "false" disable it. Anything else is
// reported as an invalid value rather than guessed at.
func parseFlag(raw map[string]string, key string, cerr *ConfigError) bool {
	switch raw[key] {
	case "", "false":
		return false
	case "true":
		return true
	default:
		cerr.addInvalid(key, raw[key], "expected true or false")
		return false
	}
}

// checkFormats runs struct-tag validation for format-level problems (email,
// fqdn, port range). Failures of the "required" tag are skipped: presence is
// already covered by the aggregated missing-key pass, which also knows which
// feature flag owns each key.
func checkFormats(d *Deployment, cerr *ConfigError) {
	err := structValidator.Struct(d)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		cerr.addInvalid("settings", "", err.Error())
		return
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			continue
		}
		key, ok := fieldKeys[fe.StructNamespace()]
		if !ok {
			key = fe.StructNamespace()
		}
		cerr.addInvalid(key, fmt.Sprintf("%v", fe.Value()), "fails "+fe.Tag()+" check")
	}
}

// checkKeyPermissions verifies the SSH private key exists and is readable
// only by its owner. Accepted permission bits are exactly 0600 and 0400.
func checkKeyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &SecurityError{Path: path, Err: err}
	}
	switch info.Mode().Perm() {
	case 0o600, 0o400:
		return nil
	}
	return &SecurityError{Path: path, Mode: info.Mode().Perm()}
}
