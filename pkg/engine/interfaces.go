package engine

import (
	"context"

	"github.com/groundworkhq/groundwork/pkg/cert"
	"github.com/groundworkhq/groundwork/pkg/config"
	"github.com/groundworkhq/groundwork/pkg/provision"
)

// Provisioner creates and destroys the infrastructure resources.
type Provisioner interface {
	Apply(ctx context.Context, cfg *config.Deployment) (*provision.Host, error)
	Destroy(ctx context.Context, cfg *config.Deployment) error
}

// ReadinessWaiter blocks until the host answers on its SSH port, then lets
// it settle.
type ReadinessWaiter interface {
	WaitForReachable(ctx context.Context, addr string) error
}

// ConfigurationRunner drives the external configuration-management engine.
type ConfigurationRunner interface {
	RunBootstrap(ctx context.Context, host *provision.Host, cfg *config.Deployment) error
	RunEnableSsl(ctx context.Context, host *provision.Host, cfg *config.Deployment) error
}

// CertificateManager brings the deployment's certificate state to its target.
type CertificateManager interface {
	Ensure(ctx context.Context, host *provision.Host, cfg *config.Deployment) (cert.State, error)
}

// RunRecorder persists run outcomes. Recording is best-effort: a recorder
// failure is logged, never fatal.
type RunRecorder interface {
	RecordRun(ctx context.Context, result *Result) error
}
