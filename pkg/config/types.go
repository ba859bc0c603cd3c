package config

import "fmt"

// Settings keys understood by the validator. The settings file is a flat
// string map; every key not listed here is ignored.
const (
	KeyProviderToken      = "provider_token"
	KeyDNSAPIToken        = "dns_api_token"
	KeyDNSZoneID          = "dns_zone_id"
	KeyDomain             = "domain"
	KeyWebSubdomain       = "web_subdomain"
	KeyMediaSubdomain     = "media_subdomain"
	KeyRegion             = "region"
	KeyDBPassword         = "db_password"
	KeySSHPrivateKeyPath  = "ssh_private_key_path"
	KeySSHPublicKeyPath   = "ssh_public_key_path"
	KeyCertMode           = "cert_mode"
	KeyNotifyEmail        = "notify_email"
	KeyEnableBlockStorage = "enable_block_storage"
	KeyEnableS3Storage    = "enable_s3_storage"
	KeyMailerEnabled      = "mailer_enabled"
	KeyEdgeProxy          = "edge_proxy"
	KeyS3AccessKey        = "s3_access_key"
	KeyS3SecretKey        = "s3_secret_key"
	KeyS3Bucket           = "s3_bucket"
	KeyMailerHost         = "mailer_host"
	KeyMailerPort         = "mailer_port"
	KeyMailerUsername     = "mailer_username"
	KeyMailerPassword     = "mailer_password"
	KeyMailerFromAddress  = "mailer_from_address"
	KeyMailerFromName     = "mailer_from_name"
	KeyMailerTLS          = "mailer_tls"
)

// CertMode selects the ACME trust environment for certificate issuance.
type CertMode string

const (
	// CertModeDryRun exercises the issuance path without obtaining a
	// certificate; SSL stays off for the whole run.
	CertModeDryRun CertMode = "dry-run"

	// CertModeStaging issues against the staging CA environment. Browsers
	// will show trust warnings; that is expected.
	CertModeStaging CertMode = "staging"

	// CertModeProduction issues a publicly trusted certificate.
	CertModeProduction CertMode = "production"
)

// ParseCertMode converts the raw settings value into a typed mode.
func ParseCertMode(s string) (CertMode, error) {
	switch CertMode(s) {
	case CertModeDryRun, CertModeStaging, CertModeProduction:
		return CertMode(s), nil
	}
	return "", fmt.Errorf("unknown certificate mode %q (expected dry-run, staging or production)", s)
}

// S3Settings configures the optional object-storage feature.
type S3Settings struct {
	AccessKey string `validate:"required"`
	SecretKey string `validate:"required"`
	Bucket    string `validate:"required"`
}

// MailerSettings configures the optional outbound mail feature.
type MailerSettings struct {
	Host        string `validate:"required,hostname"`
	Port        int    `validate:"required,min=1,max=65535"`
	Username    string `validate:"required"`
	Password    string `validate:"required"`
	FromAddress string `validate:"required,email"`
	FromName    string `validate:"required"`

	// TLS enables secure transport to the mail relay. Optional, defaults
	// to false.
	TLS bool
}

// Deployment is the immutable, fully validated configuration for one
// orchestration run. Constructed once by Validate and passed by reference to
// every component; never mutated afterwards.
type Deployment struct {
	ProviderToken string `validate:"required"`
	DNSAPIToken   string `validate:"required"`
	DNSZoneID     string `validate:"required"`

	Domain         string `validate:"required,fqdn"`
	WebSubdomain   string `validate:"required,hostname"`
	MediaSubdomain string `validate:"omitempty,hostname"`

	Region     string `validate:"required"`
	DBPassword string `validate:"required"`

	SSHPrivateKeyPath string `validate:"required"`
	SSHPublicKeyPath  string `validate:"required"`

	CertMode    CertMode
	NotifyEmail string `validate:"required,email"`

	EnableBlockStorage bool
	EdgeProxy          bool

	// S3 is nil unless enable_s3_storage is true.
	S3 *S3Settings

	// Mailer is nil unless mailer_enabled is true.
	Mailer *MailerSettings
}

// WebFQDN returns the fully qualified name of the primary service endpoint.
func (d *Deployment) WebFQDN() string {
	return d.WebSubdomain + "." + d.Domain
}

// MediaFQDN returns the fully qualified name of the secondary service
// endpoint, or "" when no media subdomain is configured.
func (d *Deployment) MediaFQDN() string {
	if d.MediaSubdomain == "" {
		return ""
	}
	return d.MediaSubdomain + "." + d.Domain
}

// Domains lists every FQDN a certificate must cover, primary first.
func (d *Deployment) Domains() []string {
	domains := []string{d.WebFQDN()}
	if fqdn := d.MediaFQDN(); fqdn != "" {
		domains = append(domains, fqdn)
	}
	return domains
}
