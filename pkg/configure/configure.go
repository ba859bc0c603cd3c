// Package configure invokes the external configuration-management engine
// (ansible-playbook) against the provisioned host. The engine runs the same
// playbook in up to two passes: a bootstrap pass that stands the stack up
// over plain HTTP, and an optional enable-ssl pass that switches the
// templated configuration to its TLS-enabled variants.
package configure

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/groundworkhq/groundwork/pkg/config"
	"github.com/groundworkhq/groundwork/pkg/localexec"
	"github.com/groundworkhq/groundwork/pkg/provision"
	sshx "github.com/groundworkhq/groundwork/pkg/transports/ssh"
)

// reverseProxyService is the process whose liveness is the sole health signal
// read back after the bootstrap pass.
const reverseProxyService = "nginx"

// DefaultPlaybook is the playbook applied in both passes.
const DefaultPlaybook = "deploy/ansible/site.yml"

// ConfigurationError reports a failed engine run.
//
// nolint:revive // named for the error taxonomy of the workflow
type ConfigurationError struct {
	// Pass is "bootstrap" or "enable-ssl".
	Pass string

	// Output is the engine's combined diagnostic output.
	Output string

	// Err is the underlying execution error.
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration pass %s failed: %v", e.Pass, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ServiceHealthError reports that the expected runtime state did not
// materialize even though the configuration engine itself reported success.
type ServiceHealthError struct {
	// Service is the process that was probed.
	Service string

	// Status is what the probe observed instead of "active".
	Status string
}

// Error implements the error interface.
func (e *ServiceHealthError) Error() string {
	return fmt.Sprintf("service %s is not active after configuration (status: %s)", e.Service, e.Status)
}

// Runner drives the configuration engine through an injectable command
// runner, and probes the host over SSH for the post-bootstrap health signal.
type Runner struct {
	exec     localexec.Runner
	dial     sshx.Dialer
	playbook string
}

// NewRunner creates a Runner. An empty playbook selects DefaultPlaybook.
func NewRunner(exec localexec.Runner, dial sshx.Dialer, playbook string) *Runner {
	if playbook == "" {
		playbook = DefaultPlaybook
	}
	return &Runner{exec: exec, dial: dial, playbook: playbook}
}

// RunBootstrap applies the playbook with SSL disabled, then verifies the
// reverse proxy is actually running. Engine success alone is not trusted.
func (r *Runner) RunBootstrap(ctx context.Context, host *provision.Host, cfg *config.Deployment) error {
	if err := r.runPlaybook(ctx, "bootstrap", host, cfg, false); err != nil {
		return err
	}
	return r.checkServiceHealth(ctx, host)
}

// RunEnableSsl reruns the playbook with ssl_enabled=true so the templated
// configuration switches to its TLS variants. Called at most once per run,
// only after certificate issuance reports the enabled state.
func (r *Runner) RunEnableSsl(ctx context.Context, host *provision.Host, cfg *config.Deployment) error {
	return r.runPlaybook(ctx, "enable-ssl", host, cfg, true)
}

func (r *Runner) runPlaybook(ctx context.Context, pass string, host *provision.Host, cfg *config.Deployment, sslEnabled bool) error {
	args := []string{
		"-i", host.Addr + ",",
		"-u", "root",
		"--private-key", cfg.SSHPrivateKeyPath,
	}
	args = append(args, extraVars(cfg, sslEnabled)...)
	args = append(args, r.playbook)

	log.Info().Str("pass", pass).Str("host", host.Addr).Msg("running configuration engine")

	result, err := r.exec.Execute(ctx, localexec.Command{Name: "ansible-playbook", Args: args})
	if err != nil {
		output := ""
		if result != nil {
			output = result.Combined()
		}
		return &ConfigurationError{Pass: pass, Output: output, Err: err}
	}

	log.Info().Str("pass", pass).Msg("configuration pass completed")
	return nil
}

// extraVars flattens the deployment configuration into the engine's
// parameter bag. Both passes receive the full bag; only ssl_enabled differs.
func extraVars(cfg *config.Deployment, sslEnabled bool) []string {
	vars := ev(nil, "domain", cfg.Domain)
	vars = ev(vars, "web_subdomain", cfg.WebSubdomain)
	vars = ev(vars, "media_subdomain", cfg.MediaSubdomain)
	vars = ev(vars, "db_password", cfg.DBPassword)
	vars = ev(vars, "cert_mode", string(cfg.CertMode))
	vars = ev(vars, "notify_email", cfg.NotifyEmail)
	vars = ev(vars, "enable_block_storage", strconv.FormatBool(cfg.EnableBlockStorage))
	vars = ev(vars, "enable_s3_storage", strconv.FormatBool(cfg.S3 != nil))
	vars = ev(vars, "mailer_enabled", strconv.FormatBool(cfg.Mailer != nil))
	vars = ev(vars, "ssl_enabled", strconv.FormatBool(sslEnabled))
	if cfg.S3 != nil {
		vars = ev(vars, "s3_access_key", cfg.S3.AccessKey)
		vars = ev(vars, "s3_secret_key", cfg.S3.SecretKey)
		vars = ev(vars, "s3_bucket", cfg.S3.Bucket)
	}
	if cfg.Mailer != nil {
		vars = ev(vars, "mailer_host", cfg.Mailer.Host)
		vars = ev(vars, "mailer_port", strconv.Itoa(cfg.Mailer.Port))
		vars = ev(vars, "mailer_username", cfg.Mailer.Username)
		vars = ev(vars, "mailer_password", cfg.Mailer.Password)
		vars = ev(vars, "mailer_from_address", cfg.Mailer.FromAddress)
		vars = ev(vars, "mailer_from_name", cfg.Mailer.FromName)
		vars = ev(vars, "mailer_tls", strconv.FormatBool(cfg.Mailer.TLS))
	}
	return vars
}

func ev(vars []string, key, value string) []string {
	return append(vars, "-e", key+"="+value)
}

// checkServiceHealth verifies the reverse proxy came up. systemd's
// is-active prints the unit state on stdout whether or not it is active.
func (r *Runner) checkServiceHealth(ctx context.Context, host *provision.Host) error {
	transport, err := r.dial(ctx, host.Addr)
	if err != nil {
		return &ServiceHealthError{Service: reverseProxyService, Status: "unreachable: " + err.Error()}
	}
	defer transport.Close()

	stdout, _, err := transport.ExecuteCommand(ctx, "systemctl is-active "+reverseProxyService)
	status := stdout
	if status == "" {
		status = "unknown"
	}
	if err != nil || stdout != "active" {
		log.Error().Str("service", reverseProxyService).Str("status", status).Msg("service health check failed")
		return &ServiceHealthError{Service: reverseProxyService, Status: status}
	}

	log.Debug().Str("service", reverseProxyService).Msg("service health check passed")
	return nil
}
