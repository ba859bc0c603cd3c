// Package provision drives the external declarative infrastructure engine
// (terraform) that creates compute, storage, firewall and DNS resources for a
// deployment. The engine is an opaque collaborator: this package only shapes
// its input variables and reads back its outputs.
package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/groundworkhq/groundwork/pkg/config"
	"github.com/groundworkhq/groundwork/pkg/localexec"
)

// Host is the read-back result of a successful apply: where the compute
// resource can be reached and how the engine identifies it. Immutable once
// created; only Destroy removes what it points at.
type Host struct {
	// Addr is the public IPv4 address assigned to the server.
	Addr string

	// ServerID is the infrastructure engine's identifier for the compute
	// resource.
	ServerID string
}

// ProvisionError reports a failed apply or destroy.
//
// nolint:revive // named for the error taxonomy of the workflow
type ProvisionError struct {
	// Op is "apply" or "destroy".
	Op string

	// Output is the engine's combined diagnostic output.
	Output string

	// Recoverable marks the resize-conflict sub-kind that Apply retries
	// once with a forced replacement.
	Recoverable bool

	// Err is the underlying execution error.
	Err error
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	return fmt.Sprintf("terraform %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// serverResourceAddress is the compute resource that gets force-replaced when
// the provider refuses an in-place disk resize.
const serverResourceAddress = "hcloud_server.app"

// Output names read back from the engine after apply.
const (
	outputServerIPv4 = "server_ipv4"
	outputServerID   = "server_id"
)

// Provisioner invokes the infrastructure engine through an injectable Runner.
type Provisioner struct {
	runner  localexec.Runner
	workDir string
}

// New creates a Provisioner rooted at the directory holding the resource
// declarations.
func New(runner localexec.Runner, workDir string) *Provisioner {
	return &Provisioner{runner: runner, workDir: workDir}
}

// Apply creates or updates the infrastructure and returns the provisioned
// host. If the engine fails with a known resize-conflict diagnostic, the
// apply is retried exactly once with the compute resource forced to be
// replaced instead of resized; any other failure propagates unchanged.
func (p *Provisioner) Apply(ctx context.Context, cfg *config.Deployment) (*Host, error) {
	args := applyArgs(cfg, false)

	result, err := p.runner.Execute(ctx, p.terraform(args))
	if err != nil {
		diagnostic := combinedOutput(result)
		if !IsResizeConflict(diagnostic) {
			return nil, &ProvisionError{Op: "apply", Output: diagnostic, Err: err}
		}

		log.Warn().
			Str("resource", serverResourceAddress).
			Msg("provider refused in-place disk resize, retrying with forced replacement")

		result, err = p.runner.Execute(ctx, p.terraform(applyArgs(cfg, true)))
		if err != nil {
			return nil, &ProvisionError{
				Op:          "apply",
				Output:      combinedOutput(result),
				Recoverable: true,
				Err:         err,
			}
		}
	}

	host, err := p.readHost(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("addr", host.Addr).
		Str("server_id", host.ServerID).
		Msg("infrastructure provisioned")
	return host, nil
}

// Destroy removes all provisioned resources. It passes the same variable set
// as Apply minus db_password, the one secret first-boot provisioning consumes
// that deletion does not need; keeping the sets aligned stops the engine from
// detecting spurious drift.
func (p *Provisioner) Destroy(ctx context.Context, cfg *config.Deployment) error {
	args := append([]string{"destroy", "-auto-approve", "-input=false", "-no-color"}, Variables(cfg, true)...)

	result, err := p.runner.Execute(ctx, p.terraform(args))
	if err != nil {
		return &ProvisionError{Op: "destroy", Output: combinedOutput(result), Err: err}
	}

	log.Info().Msg("infrastructure destroyed")
	return nil
}

// Variables builds the -var argument list handed to the engine. forDestroy
// omits secrets not needed for deletion. Exported so the apply/destroy
// symmetry can be pinned by tests.
func Variables(cfg *config.Deployment, forDestroy bool) []string {
	vars := []string{
		variable("provider_token", cfg.ProviderToken),
		variable("dns_api_token", cfg.DNSAPIToken),
		variable("dns_zone_id", cfg.DNSZoneID),
		variable("domain", cfg.Domain),
		variable("web_subdomain", cfg.WebSubdomain),
		variable("media_subdomain", cfg.MediaSubdomain),
		variable("region", cfg.Region),
		variable("ssh_public_key_path", cfg.SSHPublicKeyPath),
		variable("enable_block_storage", strconv.FormatBool(cfg.EnableBlockStorage)),
		variable("enable_s3_storage", strconv.FormatBool(cfg.S3 != nil)),
		variable("edge_proxy", strconv.FormatBool(cfg.EdgeProxy)),
	}
	if !forDestroy {
		vars = append(vars, variable("db_password", cfg.DBPassword))
	}
	return vars
}

func applyArgs(cfg *config.Deployment, forceReplace bool) []string {
	args := []string{"apply", "-auto-approve", "-input=false", "-no-color"}
	if forceReplace {
		args = append(args, "-replace="+serverResourceAddress)
	}
	return append(args, Variables(cfg, false)...)
}

// readHost reads the assigned network address and server identifier back from
// the engine's output.
func (p *Provisioner) readHost(ctx context.Context) (*Host, error) {
	result, err := p.runner.Execute(ctx, p.terraform([]string{"output", "-json"}))
	if err != nil {
		return nil, &ProvisionError{Op: "output", Output: combinedOutput(result), Err: err}
	}

	var outputs map[string]struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &outputs); err != nil {
		return nil, &ProvisionError{Op: "output", Output: result.Stdout, Err: fmt.Errorf("parse outputs: %w", err)}
	}

	addr := outputs[outputServerIPv4].Value
	if addr == "" {
		return nil, &ProvisionError{Op: "output", Output: result.Stdout,
			Err: fmt.Errorf("engine output missing %s", outputServerIPv4)}
	}

	return &Host{Addr: addr, ServerID: outputs[outputServerID].Value}, nil
}

func (p *Provisioner) terraform(args []string) localexec.Command {
	return localexec.Command{Name: "terraform", Args: args, Dir: p.workDir}
}

func variable(key, value string) string {
	return fmt.Sprintf("-var=%s=%s", key, value)
}

func combinedOutput(result *localexec.Result) string {
	if result == nil {
		return ""
	}
	return result.Combined()
}
