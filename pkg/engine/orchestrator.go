package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/groundworkhq/groundwork/pkg/cert"
	"github.com/groundworkhq/groundwork/pkg/config"
	"github.com/groundworkhq/groundwork/pkg/configure"
	"github.com/groundworkhq/groundwork/pkg/netutil"
	"github.com/groundworkhq/groundwork/pkg/provision"
	"github.com/groundworkhq/groundwork/pkg/telemetry"
)

// Orchestrator sequences validation, provisioning, readiness, configuration
// and certificate issuance into one apply workflow, plus the symmetric
// teardown. It owns user-facing reporting; exit-code mapping happens at the
// CLI boundary.
type Orchestrator struct {
	provisioner Provisioner
	waiter      ReadinessWaiter
	configurer  ConfigurationRunner
	certs       CertificateManager

	recorder RunRecorder
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	out      io.Writer
}

// Options wires the orchestrator's collaborators. Provisioner, Waiter,
// Configurer and Certs are required; the rest are optional.
type Options struct {
	Provisioner Provisioner
	Waiter      ReadinessWaiter
	Configurer  ConfigurationRunner
	Certs       CertificateManager

	Recorder RunRecorder
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer

	// Out receives the human-readable run report.
	Out io.Writer
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Provisioner == nil || opts.Waiter == nil || opts.Configurer == nil || opts.Certs == nil {
		return nil, fmt.Errorf("provisioner, waiter, configurer and certificate manager are required")
	}
	metrics := opts.Metrics
	if metrics == nil {
		var err error
		metrics, err = telemetry.NewMetrics(telemetry.MetricsConfig{})
		if err != nil {
			return nil, err
		}
	}
	tracer := opts.Tracer
	if tracer == nil {
		var err error
		tracer, err = telemetry.NewTracer(telemetry.TracingConfig{}, "groundwork", "")
		if err != nil {
			return nil, err
		}
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Orchestrator{
		provisioner: opts.Provisioner,
		waiter:      opts.Waiter,
		configurer:  opts.Configurer,
		certs:       opts.Certs,
		recorder:    opts.Recorder,
		metrics:     metrics,
		tracer:      tracer,
		out:         out,
	}, nil
}

// Deploy runs the full apply workflow against the raw settings map. The
// returned Result is always non-nil and describes how far the run got.
func (o *Orchestrator) Deploy(ctx context.Context, raw map[string]string) (*Result, error) {
	result := o.newResult(ModeApply)
	ctx, runSpan := o.tracer.StartRunSpan(ctx, result.RunID, string(ModeApply))

	var cfg *config.Deployment
	var host *provision.Host
	var state cert.State

	err := o.phase(ctx, result, PhaseValidate, func(ctx context.Context) error {
		var err error
		cfg, err = config.Validate(raw)
		return err
	})
	if err == nil {
		err = o.phase(ctx, result, PhaseProvision, func(ctx context.Context) error {
			var err error
			host, err = o.provisioner.Apply(ctx, cfg)
			if host != nil {
				result.HostAddr = host.Addr
			}
			return err
		})
	}
	if err == nil {
		err = o.phase(ctx, result, PhaseReadiness, func(ctx context.Context) error {
			return o.waiter.WaitForReachable(ctx, netutil.Address(host.Addr, netutil.DefaultSSHPort))
		})
	}
	if err == nil {
		err = o.phase(ctx, result, PhaseConfigure, func(ctx context.Context) error {
			return o.configurer.RunBootstrap(ctx, host, cfg)
		})
	}
	if err == nil {
		err = o.phase(ctx, result, PhaseCertificates, func(ctx context.Context) error {
			var err error
			state, err = o.certs.Ensure(ctx, host, cfg)
			return err
		})
	}
	if err == nil && state == cert.StateEnabled {
		err = o.phase(ctx, result, PhaseEnableSSL, func(ctx context.Context) error {
			return o.configurer.RunEnableSsl(ctx, host, cfg)
		})
	}

	if err == nil {
		result.Success = true
		result.SSLEnabled = state == cert.StateEnabled
		scheme := "http"
		if result.SSLEnabled {
			scheme = "https"
		}
		result.WebURL = fmt.Sprintf("%s://%s", scheme, cfg.WebFQDN())
		if fqdn := cfg.MediaFQDN(); fqdn != "" {
			result.MediaURL = fmt.Sprintf("%s://%s", scheme, fqdn)
		}
	}

	o.finish(ctx, result, runSpan, err)
	return result, err
}

// Teardown validates the minimal settings and destroys the infrastructure.
func (o *Orchestrator) Teardown(ctx context.Context, raw map[string]string) (*Result, error) {
	result := o.newResult(ModeDestroy)
	ctx, runSpan := o.tracer.StartRunSpan(ctx, result.RunID, string(ModeDestroy))

	var cfg *config.Deployment
	err := o.phase(ctx, result, PhaseValidate, func(ctx context.Context) error {
		var err error
		cfg, err = config.ValidateTeardown(raw)
		return err
	})
	if err == nil {
		err = o.phase(ctx, result, PhaseDestroy, func(ctx context.Context) error {
			return o.provisioner.Destroy(ctx, cfg)
		})
	}
	if err == nil {
		result.Success = true
	}

	o.finish(ctx, result, runSpan, err)
	return result, err
}

func (o *Orchestrator) newResult(mode Mode) *Result {
	result := &Result{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now(),
	}
	o.metrics.RunStarted(string(mode))
	log.Info().Str("run_id", result.RunID).Str("mode", string(mode)).Msg("starting orchestration run")
	return result
}

// phase runs one workflow step with its span, metrics and progress logging.
func (o *Orchestrator) phase(ctx context.Context, result *Result, phase Phase, fn func(context.Context) error) error {
	result.Phase = phase
	ctx, span := o.tracer.StartPhaseSpan(ctx, string(phase))
	start := time.Now()

	log.Info().Str("phase", string(phase)).Msg("phase started")
	err := fn(ctx)

	o.metrics.PhaseObserved(string(phase), time.Since(start), err == nil)
	telemetry.EndSpan(span, err)

	if err != nil {
		log.Error().Str("phase", string(phase)).Err(err).Msg("phase failed")
		return err
	}
	log.Info().Str("phase", string(phase)).Dur("duration", time.Since(start)).Msg("phase completed")
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, result *Result, runSpan trace.Span, err error) {
	telemetry.EndSpan(runSpan, err)
	result.Duration = time.Since(result.StartedAt)
	if err != nil {
		result.Error = err.Error()
	}
	o.metrics.RunCompleted(string(result.Mode), result.Success)

	if o.recorder != nil {
		if recErr := o.recorder.RecordRun(ctx, result); recErr != nil {
			log.Warn().Err(recErr).Msg("failed to record run in journal")
		}
	}

	o.report(result, err)
}

// report writes the human-facing summary: endpoints on success, the failing
// phase plus a remediation hint on failure.
func (o *Orchestrator) report(result *Result, err error) {
	if result.Success {
		fmt.Fprintf(o.out, "Run %s (%s) completed in %s\n", result.RunID, result.Mode, result.Duration.Round(time.Second))
		if result.Mode == ModeApply {
			fmt.Fprintf(o.out, "  Web:   %s\n", result.WebURL)
			if result.MediaURL != "" {
				fmt.Fprintf(o.out, "  Media: %s\n", result.MediaURL)
			}
			if !result.SSLEnabled {
				fmt.Fprintln(o.out, "  SSL is not enabled for this run.")
			}
		}
		return
	}

	fmt.Fprintf(o.out, "Run %s (%s) failed during %s: %v\n", result.RunID, result.Mode, result.Phase, err)
	if hint := remediation(err); hint != "" {
		fmt.Fprintf(o.out, "  Hint: %s\n", hint)
	}
}

// remediation maps each error kind to a next step for the operator.
func remediation(err error) string {
	var (
		configErr   *config.ConfigError
		securityErr *config.SecurityError
		provErr     *provision.ProvisionError
		readyErr    *netutil.ReadinessTimeoutError
		confErr     *configure.ConfigurationError
		healthErr   *configure.ServiceHealthError
		certErr     *cert.CertificateIssuanceError
	)
	switch {
	case errors.As(err, &configErr):
		return "add the listed settings to the configuration file and rerun"
	case errors.As(err, &securityErr):
		return "chmod the private key to 0600 (or 0400) and rerun"
	case errors.As(err, &provErr):
		return "inspect the infrastructure engine output; state is preserved, rerunning is safe"
	case errors.As(err, &readyErr):
		return "check the provider console and firewall rules, then rerun to resume"
	case errors.As(err, &healthErr):
		return "inspect the reverse proxy logs on the host before rerunning"
	case errors.As(err, &confErr):
		return "fix the reported task and rerun; completed tasks are idempotent"
	case errors.As(err, &certErr):
		return "verify DNS records point at the host and that port 80 is reachable, then rerun"
	}
	return ""
}
