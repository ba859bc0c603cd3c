// Package ssh provides the SSH/SFTP channel the orchestrator uses to observe
// a provisioned host: service health probes and certificate directory checks.
// All state-changing configuration goes through the external configuration
// engine, not this package.
package ssh

import "context"

// Transport defines remote operations against the deployment target.
type Transport interface {
	// Connect establishes the SSH connection.
	Connect(ctx context.Context) error

	// Close tears down the connection and releases all resources.
	Close() error

	// ExecuteCommand runs a command on the remote host and returns the
	// captured stdout and stderr.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// FileExists reports whether a path exists on the remote host. The
	// check goes through SFTP so it needs no shell on the far side.
	FileExists(ctx context.Context, remotePath string) (bool, error)
}

// Dialer opens a connected Transport to a host address. The workflow injects
// a Dialer wherever a component needs to observe the remote host, so tests
// can substitute fakes.
type Dialer func(ctx context.Context, host string) (Transport, error)

// TransportError wraps a failed remote operation.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute", "stat").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the failure may clear on retry.
	IsTemporary bool

	// IsAuthError indicates the failure is an authentication problem.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
