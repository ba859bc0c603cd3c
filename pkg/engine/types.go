// Package engine composes the deployment components into the apply and
// teardown workflows. Execution is single-threaded and strictly sequential:
// no phase begins before the previous phase's blocking external call returns,
// and the first failure aborts the run with the failing phase recorded.
package engine

import "time"

// Mode selects the workflow direction.
type Mode string

const (
	// ModeApply runs the full deployment workflow.
	ModeApply Mode = "apply"

	// ModeDestroy runs the teardown workflow.
	ModeDestroy Mode = "destroy"
)

// Phase identifies one step of a workflow for reporting and telemetry.
type Phase string

const (
	PhaseValidate     Phase = "validate"
	PhaseProvision    Phase = "provision"
	PhaseReadiness    Phase = "readiness"
	PhaseConfigure    Phase = "configure"
	PhaseCertificates Phase = "certificates"
	PhaseEnableSSL    Phase = "enable-ssl"
	PhaseDestroy      Phase = "destroy"
)

// Result is the aggregate outcome of one orchestration run, consumed only at
// the process boundary (exit code and console report).
type Result struct {
	// RunID uniquely identifies this run.
	RunID string

	// Mode is the workflow that ran.
	Mode Mode

	// Phase is the last phase that started. On success it is the final
	// phase of the workflow; on failure it names exactly where the run
	// stopped.
	Phase Phase

	// Success reports whether every required phase completed.
	Success bool

	// Error holds the failure cause, empty on success.
	Error string

	// HostAddr is the provisioned host's address, when provisioning ran.
	HostAddr string

	// SSLEnabled reports whether the run finished with TLS turned on.
	SSLEnabled bool

	// WebURL and MediaURL are the human-facing endpoints of the deployed
	// stack, populated only on a successful apply.
	WebURL   string
	MediaURL string

	// StartedAt and Duration time the whole run.
	StartedAt time.Time
	Duration  time.Duration
}
