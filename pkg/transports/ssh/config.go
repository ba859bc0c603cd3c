package ssh

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds SSH connection configuration for the deployment target.
// Authentication is always by private key; the key file is the same one the
// validator already permission-checked.
type Config struct {
	// Host is the remote address (the provisioned host's public IP).
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string

	// KnownHostsPath is the path to a known_hosts file. When empty, host
	// key verification is disabled; a freshly provisioned host has no
	// recorded key yet, so this is the common case for first contact.
	KnownHostsPath string

	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration

	// CommandTimeout is the default timeout for command execution.
	CommandTimeout time.Duration
}

// DefaultConfig returns a Config with the defaults used by the workflow.
func DefaultConfig(host, user, privateKeyPath string) *Config {
	return &Config{
		Host:           host,
		Port:           22,
		User:           user,
		PrivateKeyPath: privateKeyPath,
		ConnectTimeout: 30 * time.Second,
		CommandTimeout: 5 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("private key path is required")
	}
	if _, err := os.Stat(c.PrivateKeyPath); err != nil {
		return fmt.Errorf("private key file not usable: %w", err)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	return nil
}

// Address returns the host:port dial target.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// buildClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) buildClientConfig() (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		// First contact with a just-created host; no recorded key exists.
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}
