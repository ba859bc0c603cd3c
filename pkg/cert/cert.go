// Package cert decides, per deployment, whether TLS certificate issuance is
// needed and drives the external ACME client (certbot) when it is. Issuance
// runs on the remote host through the configuration engine's ad-hoc remote
// channel; this package never talks to a certificate authority itself.
package cert

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/groundworkhq/groundwork/pkg/config"
	"github.com/groundworkhq/groundwork/pkg/localexec"
	"github.com/groundworkhq/groundwork/pkg/provision"
	sshx "github.com/groundworkhq/groundwork/pkg/transports/ssh"
)

// State is the per-domain certificate state after Ensure.
type State string

const (
	// StateAbsent means no certificate exists and none was issued.
	StateAbsent State = "absent"

	// StateDryRunDone means the issuance path was exercised without
	// obtaining a certificate; SSL stays off for this run.
	StateDryRunDone State = "dry-run-done"

	// StateEnabled means a certificate directory exists on the host; the
	// enable-ssl configuration pass may proceed.
	StateEnabled State = "enabled"
)

// liveCertificateRoot is where the ACME client keeps issued certificates.
// Directory existence under this root is the sole persisted signal the
// orchestrator reads back; once present it is treated as issued forever,
// with no renewal or freshness check.
const liveCertificateRoot = "/etc/letsencrypt/live"

// webrootPath serves ACME HTTP challenges during webroot validation.
const webrootPath = "/var/www/letsencrypt"

// CertificateIssuanceError reports a failed or impossible ACME invocation.
//
// nolint:revive // named for the error taxonomy of the workflow
type CertificateIssuanceError struct {
	// Domain is the primary certificate name.
	Domain string

	// Mode is the issuance mode in effect.
	Mode config.CertMode

	// Output is the ACME client's combined diagnostic output.
	Output string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CertificateIssuanceError) Error() string {
	return fmt.Sprintf("certificate issuance for %s (mode %s) failed: %v", e.Domain, e.Mode, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *CertificateIssuanceError) Unwrap() error {
	return e.Err
}

// Manager is the per-domain issuance state machine.
type Manager struct {
	exec localexec.Runner
	dial sshx.Dialer
}

// NewManager creates a Manager. exec invokes the configuration engine's
// remote channel locally; dial opens the SFTP probe to the host.
func NewManager(exec localexec.Runner, dial sshx.Dialer) *Manager {
	return &Manager{exec: exec, dial: dial}
}

// Ensure brings the deployment's certificate state to its target. The
// decision order is fixed: an existing certificate directory short-circuits
// to enabled with zero ACME invocations (idempotent by presence, not by
// freshness); otherwise the configured mode selects the issuance
// environment. Unknown modes fail before any client invocation, and a failed
// invocation is fatal for the run, never retried.
func (m *Manager) Ensure(ctx context.Context, host *provision.Host, cfg *config.Deployment) (State, error) {
	primary := cfg.WebFQDN()

	exists, err := m.certificateExists(ctx, host, primary)
	if err != nil {
		return StateAbsent, err
	}
	if exists {
		log.Info().Str("domain", primary).Msg("certificate directory present, skipping issuance")
		return StateEnabled, nil
	}

	switch cfg.CertMode {
	case config.CertModeDryRun:
		if err := m.issue(ctx, host, cfg, "--dry-run"); err != nil {
			return StateAbsent, err
		}
		log.Info().Str("domain", primary).Msg("dry-run issuance completed, SSL stays off")
		return StateDryRunDone, nil
	case config.CertModeStaging:
		if err := m.issue(ctx, host, cfg, "--staging"); err != nil {
			return StateAbsent, err
		}
		log.Info().Str("domain", primary).Msg("staging certificate issued; browsers will warn, that is expected")
		return StateEnabled, nil
	case config.CertModeProduction:
		if err := m.issue(ctx, host, cfg, ""); err != nil {
			return StateAbsent, err
		}
		log.Info().Str("domain", primary).Msg("production certificate issued")
		return StateEnabled, nil
	}

	return StateAbsent, &CertificateIssuanceError{
		Domain: primary,
		Mode:   cfg.CertMode,
		Err:    fmt.Errorf("unknown certificate mode %q", cfg.CertMode),
	}
}

// certificateExists probes the host filesystem for the primary domain's
// certificate directory over SFTP.
func (m *Manager) certificateExists(ctx context.Context, host *provision.Host, primary string) (bool, error) {
	transport, err := m.dial(ctx, host.Addr)
	if err != nil {
		return false, &CertificateIssuanceError{
			Domain: primary,
			Err:    fmt.Errorf("probe certificate directory: %w", err),
		}
	}
	defer transport.Close()

	exists, err := transport.FileExists(ctx, liveCertificateRoot+"/"+primary)
	if err != nil {
		return false, &CertificateIssuanceError{
			Domain: primary,
			Err:    fmt.Errorf("probe certificate directory: %w", err),
		}
	}
	return exists, nil
}

// issue runs the ACME client on the remote host, requesting a
// webroot-validated certificate for every configured subdomain.
func (m *Manager) issue(ctx context.Context, host *provision.Host, cfg *config.Deployment, envFlag string) error {
	primary := cfg.WebFQDN()

	certbot := []string{
		"certbot", "certonly",
		"--webroot", "-w", webrootPath,
		"--cert-name", primary,
	}
	for _, domain := range cfg.Domains() {
		certbot = append(certbot, "-d", domain)
	}
	certbot = append(certbot,
		"-m", cfg.NotifyEmail,
		"--agree-tos",
		"--non-interactive",
	)
	if envFlag != "" {
		certbot = append(certbot, envFlag)
	}

	args := []string{
		"all",
		"-i", host.Addr + ",",
		"-u", "root",
		"--private-key", cfg.SSHPrivateKeyPath,
		"-m", "command",
		"-a", strings.Join(certbot, " "),
	}

	log.Info().
		Str("domain", primary).
		Str("mode", string(cfg.CertMode)).
		Msg("invoking ACME client")

	result, err := m.exec.Execute(ctx, localexec.Command{Name: "ansible", Args: args})
	if err != nil {
		output := ""
		if result != nil {
			output = result.Combined()
		}
		return &CertificateIssuanceError{Domain: primary, Mode: cfg.CertMode, Output: output, Err: err}
	}
	return nil
}
