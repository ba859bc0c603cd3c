package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements Transport over a single SSH connection. The workflow is
// strictly sequential, so there is no pooling; one connection serves the
// whole run.
type Client struct {
	config *Config

	mu     sync.Mutex
	client *ssh.Client
	sftpc  *sftp.Client
}

// NewClient creates a Transport for the given target.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.buildClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, dialErr := ssh.Dial("tcp", address, clientConfig)
		if dialErr != nil {
			errChan <- dialErr
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case dialErr := <-errChan:
		return &TransportError{Op: "connect", Err: dialErr, IsTemporary: true}
	case client := <-connChan:
		c.client = client
		return nil
	}
}

// Close tears down the SFTP and SSH connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.sftpc != nil {
		if err := c.sftpc.Close(); err != nil {
			errs = append(errs, err)
		}
		c.sftpc = nil
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			errs = append(errs, err)
		}
		c.client = nil
	}
	return errors.Join(errs...)
}

// ExecuteCommand runs a command on the remote host.
func (c *Client) ExecuteCommand(ctx context.Context, cmd string) (string, string, error) {
	client, err := c.connection()
	if err != nil {
		return "", "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	start := time.Now()
	log.Debug().Str("command", cmd).Msg("executing remote command")

	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("command", cmd).
		Dur("duration", time.Since(start)).
		Err(execErr).
		Msg("remote command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			return stdout, stderr, &TransportError{
				Op:  "execute",
				Err: fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
			}
		}
		return stdout, stderr, &TransportError{Op: "execute", Err: execErr, IsTemporary: true}
	}
	return stdout, stderr, nil
}

// FileExists reports whether a path exists on the remote host via SFTP.
func (c *Client) FileExists(ctx context.Context, remotePath string) (bool, error) {
	sftpc, err := c.sftpClient()
	if err != nil {
		return false, err
	}

	_, err = sftpc.Stat(remotePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, &TransportError{Op: "stat", Err: err, IsTemporary: true}
}

func (c *Client) connection() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, &TransportError{Op: "execute", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

func (c *Client) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, &TransportError{Op: "stat", Err: fmt.Errorf("not connected")}
	}
	if c.sftpc == nil {
		sftpc, err := sftp.NewClient(c.client)
		if err != nil {
			return nil, &TransportError{Op: "stat", Err: err, IsTemporary: true}
		}
		c.sftpc = sftpc
	}
	return c.sftpc, nil
}
