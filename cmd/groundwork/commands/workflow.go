package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/groundworkhq/groundwork/pkg/cert"
	"github.com/groundworkhq/groundwork/pkg/config"
	"github.com/groundworkhq/groundwork/pkg/configure"
	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/journal"
	"github.com/groundworkhq/groundwork/pkg/localexec"
	"github.com/groundworkhq/groundwork/pkg/netutil"
	"github.com/groundworkhq/groundwork/pkg/provision"
	"github.com/groundworkhq/groundwork/pkg/telemetry"
	sshx "github.com/groundworkhq/groundwork/pkg/transports/ssh"
)

type workflow int

const (
	workflowApply workflow = iota
	workflowTeardown
)

// terraformDir holds the infrastructure resource declarations, relative to
// the directory groundwork is invoked from.
const terraformDir = "deploy/terraform"

// journalPath is where run history is kept, relative to the working directory.
const journalPath = ".groundwork/journal.db"

// runWorkflow loads the settings file, wires the orchestrator and runs the
// requested workflow. Any error maps to exit code 1 in main.
func runWorkflow(ctx context.Context, out io.Writer, wf workflow) error {
	tel, err := setupTelemetry()
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	raw, err := config.Load(configPath)
	if err != nil {
		return err
	}

	recorder := openJournal(ctx)
	if recorder != nil {
		defer recorder.Close()
	}

	runner := localexec.Observed(localexec.NewProcessRunner(), tel.Metrics.ToolInvoked)
	dial := newDialer(raw[config.KeySSHPrivateKeyPath])

	opts := engine.Options{
		Provisioner: provision.New(runner, terraformDir),
		Waiter:      sshWaiter{},
		Configurer:  configure.NewRunner(runner, dial, ""),
		Certs:       cert.NewManager(runner, dial),
		Metrics:     tel.Metrics,
		Tracer:      tel.Tracer,
		Out:         out,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}

	orch, err := engine.New(opts)
	if err != nil {
		return err
	}

	if wf == workflowTeardown {
		_, err = orch.Teardown(ctx, raw)
		return err
	}
	_, err = orch.Deploy(ctx, raw)
	return err
}

// setupTelemetry builds the workflow's telemetry from the persistent flags
// and installs its logger as the process-global one.
func setupTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig("groundwork", "")
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	tel, err := telemetry.New(cfg)
	if err != nil {
		return nil, err
	}
	log.Logger = tel.Logger.Zerolog()
	return tel, nil
}

// applyLogFlags adjusts the global logger from the persistent flags; used by
// the subcommands that do not carry the full telemetry stack.
func applyLogFlags() {
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// openJournal opens the run history database. History is best-effort: a
// journal problem is logged and the run proceeds without recording.
func openJournal(ctx context.Context) *journal.SQLiteJournal {
	if err := os.MkdirAll(filepath.Dir(journalPath), 0o755); err != nil {
		log.Warn().Err(err).Msg("cannot create journal directory, run will not be recorded")
		return nil
	}
	j, err := journal.New(journal.Config{Path: journalPath})
	if err == nil {
		err = j.Init(ctx)
	}
	if err == nil {
		err = j.Migrate(ctx)
	}
	if err != nil {
		log.Warn().Err(err).Msg("cannot open journal, run will not be recorded")
		return nil
	}
	return j
}

// newDialer builds the SSH transport factory used for host observation. The
// target user is always root: the image is provisioned with the deploy key on
// the root account.
func newDialer(privateKeyPath string) sshx.Dialer {
	return func(ctx context.Context, host string) (sshx.Transport, error) {
		client, err := sshx.NewClient(sshx.DefaultConfig(host, "root", privateKeyPath))
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// sshWaiter adapts the reachability poll to the engine interface.
type sshWaiter struct{}

func (sshWaiter) WaitForReachable(ctx context.Context, addr string) error {
	return netutil.WaitForReachable(ctx, addr, netutil.WaitOptions{})
}
