package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/groundworkhq/groundwork/pkg/cert"
	"github.com/groundworkhq/groundwork/pkg/config"
	"github.com/groundworkhq/groundwork/pkg/configure"
	"github.com/groundworkhq/groundwork/pkg/netutil"
	"github.com/groundworkhq/groundwork/pkg/provision"
)

type fakeProvisioner struct {
	host       *provision.Host
	applyErr   error
	destroyErr error

	applyCalls   int
	destroyCalls int
}

func (f *fakeProvisioner) Apply(ctx context.Context, cfg *config.Deployment) (*provision.Host, error) {
	f.applyCalls++
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return f.host, nil
}

func (f *fakeProvisioner) Destroy(ctx context.Context, cfg *config.Deployment) error {
	f.destroyCalls++
	return f.destroyErr
}

type fakeWaiter struct {
	err   error
	addrs []string
}

func (f *fakeWaiter) WaitForReachable(ctx context.Context, addr string) error {
	f.addrs = append(f.addrs, addr)
	return f.err
}

type fakeConfigurer struct {
	bootstrapErr error
	sslErr       error

	bootstrapCalls int
	sslCalls       int
}

func (f *fakeConfigurer) RunBootstrap(ctx context.Context, host *provision.Host, cfg *config.Deployment) error {
	f.bootstrapCalls++
	return f.bootstrapErr
}

func (f *fakeConfigurer) RunEnableSsl(ctx context.Context, host *provision.Host, cfg *config.Deployment) error {
	f.sslCalls++
	return f.sslErr
}

type fakeCertManager struct {
	state cert.State
	err   error
	calls int
}

func (f *fakeCertManager) Ensure(ctx context.Context, host *provision.Host, cfg *config.Deployment) (cert.State, error) {
	f.calls++
	if f.err != nil {
		return cert.StateAbsent, f.err
	}
	return f.state, nil
}

type fakeRecorder struct {
	results []*Result
	err     error
}

func (f *fakeRecorder) RecordRun(ctx context.Context, result *Result) error {
	f.results = append(f.results, result)
	return f.err
}

func writeKeyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, []byte("key material"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func validSettings(t *testing.T, certMode string) map[string]string {
	t.Helper()
	keyPath := writeKeyFile(t)
	return map[string]string{
		config.KeyProviderToken:     "tok-provider",
		config.KeyDNSAPIToken:       "tok-dns",
		config.KeyDNSZoneID:         "zone-1",
		config.KeyDomain:            "example.com",
		config.KeyWebSubdomain:      "app",
		config.KeyMediaSubdomain:    "media",
		config.KeyRegion:            "fsn1",
		config.KeyDBPassword:        "s3cret",
		config.KeySSHPrivateKeyPath: keyPath,
		config.KeySSHPublicKeyPath:  keyPath + ".pub",
		config.KeyCertMode:          certMode,
		config.KeyNotifyEmail:       "ops@example.com",
	}
}

func newTestOrchestrator(t *testing.T, prov *fakeProvisioner, waiter *fakeWaiter, conf *fakeConfigurer, certs *fakeCertManager, rec RunRecorder, out *bytes.Buffer) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Provisioner: prov,
		Waiter:      waiter,
		Configurer:  conf,
		Certs:       certs,
		Recorder:    rec,
		Out:         out,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return o
}

func TestDeployDryRunKeepsSSLOff(t *testing.T) {
	prov := &fakeProvisioner{host: &provision.Host{Addr: "198.51.100.7", ServerID: "42"}}
	waiter := &fakeWaiter{}
	conf := &fakeConfigurer{}
	certs := &fakeCertManager{state: cert.StateDryRunDone}
	rec := &fakeRecorder{}
	var out bytes.Buffer

	o := newTestOrchestrator(t, prov, waiter, conf, certs, rec, &out)
	result, err := o.Deploy(context.Background(), validSettings(t, "dry-run"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Error("expected a successful run")
	}
	if conf.bootstrapCalls != 1 {
		t.Errorf("expected one bootstrap run, got %d", conf.bootstrapCalls)
	}
	if certs.calls != 1 {
		t.Errorf("expected one certificate reconciliation, got %d", certs.calls)
	}
	if conf.sslCalls != 0 {
		t.Errorf("dry-run must never enable ssl, got %d calls", conf.sslCalls)
	}
	if result.SSLEnabled {
		t.Error("dry-run must report ssl disabled")
	}
	if result.WebURL != "http://app.example.com" {
		t.Errorf("unexpected web url %q", result.WebURL)
	}
	if result.MediaURL != "http://media.example.com" {
		t.Errorf("unexpected media url %q", result.MediaURL)
	}
	if len(waiter.addrs) != 1 || waiter.addrs[0] != "198.51.100.7:22" {
		t.Errorf("unexpected readiness addresses %v", waiter.addrs)
	}
}

func TestDeployProductionEnablesSSL(t *testing.T) {
	prov := &fakeProvisioner{host: &provision.Host{Addr: "198.51.100.7"}}
	waiter := &fakeWaiter{}
	conf := &fakeConfigurer{}
	certs := &fakeCertManager{state: cert.StateEnabled}
	var out bytes.Buffer

	o := newTestOrchestrator(t, prov, waiter, conf, certs, nil, &out)
	result, err := o.Deploy(context.Background(), validSettings(t, "production"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if conf.sslCalls != 1 {
		t.Errorf("expected exactly one enable-ssl run, got %d", conf.sslCalls)
	}
	if !result.SSLEnabled {
		t.Error("expected ssl enabled")
	}
	if result.WebURL != "https://app.example.com" {
		t.Errorf("unexpected web url %q", result.WebURL)
	}
	if !strings.Contains(out.String(), "https://app.example.com") {
		t.Errorf("report must show the https endpoint, got:\n%s", out.String())
	}
}

func TestDeployStopsAtFailedValidation(t *testing.T) {
	prov := &fakeProvisioner{host: &provision.Host{Addr: "198.51.100.7"}}
	conf := &fakeConfigurer{}
	certs := &fakeCertManager{state: cert.StateEnabled}
	var out bytes.Buffer

	o := newTestOrchestrator(t, prov, &fakeWaiter{}, conf, certs, nil, &out)
	result, err := o.Deploy(context.Background(), map[string]string{})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	var configErr *config.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected *config.ConfigError, got %T", err)
	}
	if result.Phase != PhaseValidate {
		t.Errorf("expected phase %s, got %s", PhaseValidate, result.Phase)
	}
	if prov.applyCalls != 0 {
		t.Error("provisioning must not run after failed validation")
	}
	if conf.bootstrapCalls != 0 || certs.calls != 0 {
		t.Error("no later phase may run after failed validation")
	}
}

func TestDeployFailurePhases(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeProvisioner, *fakeWaiter, *fakeConfigurer, *fakeCertManager)
		phase Phase
	}{
		{
			name: "provisioning fails",
			setup: func(p *fakeProvisioner, w *fakeWaiter, c *fakeConfigurer, m *fakeCertManager) {
				p.applyErr = &provision.ProvisionError{Op: "apply", Err: errors.New("boom")}
			},
			phase: PhaseProvision,
		},
		{
			name: "host never reachable",
			setup: func(p *fakeProvisioner, w *fakeWaiter, c *fakeConfigurer, m *fakeCertManager) {
				w.err = &netutil.ReadinessTimeoutError{Address: "198.51.100.7:22", Attempts: 10}
			},
			phase: PhaseReadiness,
		},
		{
			name: "bootstrap fails",
			setup: func(p *fakeProvisioner, w *fakeWaiter, c *fakeConfigurer, m *fakeCertManager) {
				c.bootstrapErr = &configure.ConfigurationError{Pass: "bootstrap", Err: errors.New("task failed")}
			},
			phase: PhaseConfigure,
		},
		{
			name: "issuance fails",
			setup: func(p *fakeProvisioner, w *fakeWaiter, c *fakeConfigurer, m *fakeCertManager) {
				m.err = &cert.CertificateIssuanceError{Domain: "app.example.com", Err: errors.New("rate limited")}
			},
			phase: PhaseCertificates,
		},
		{
			name: "enable-ssl fails",
			setup: func(p *fakeProvisioner, w *fakeWaiter, c *fakeConfigurer, m *fakeCertManager) {
				m.state = cert.StateEnabled
				c.sslErr = &configure.ConfigurationError{Pass: "enable-ssl", Err: errors.New("task failed")}
			},
			phase: PhaseEnableSSL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prov := &fakeProvisioner{host: &provision.Host{Addr: "198.51.100.7"}}
			waiter := &fakeWaiter{}
			conf := &fakeConfigurer{}
			certs := &fakeCertManager{state: cert.StateEnabled}
			tt.setup(prov, waiter, conf, certs)

			var out bytes.Buffer
			o := newTestOrchestrator(t, prov, waiter, conf, certs, nil, &out)
			result, err := o.Deploy(context.Background(), validSettings(t, "production"))
			if err == nil {
				t.Fatal("expected failure")
			}
			if result.Phase != tt.phase {
				t.Errorf("expected phase %s, got %s", tt.phase, result.Phase)
			}
			if result.Success {
				t.Error("failed run must not report success")
			}
			if result.Error == "" {
				t.Error("failed run must carry the error message")
			}
		})
	}
}

func TestDeploySecondRunReusesCertificate(t *testing.T) {
	// An existing certificate short-circuits issuance but the SSL pass still
	// runs so the proxy configuration converges.
	prov := &fakeProvisioner{host: &provision.Host{Addr: "198.51.100.7"}}
	conf := &fakeConfigurer{}
	certs := &fakeCertManager{state: cert.StateEnabled}
	var out bytes.Buffer

	o := newTestOrchestrator(t, prov, &fakeWaiter{}, conf, certs, nil, &out)
	result, err := o.Deploy(context.Background(), validSettings(t, "production"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.sslCalls != 1 {
		t.Errorf("expected the ssl pass to run, got %d calls", conf.sslCalls)
	}
	if !result.SSLEnabled {
		t.Error("expected ssl enabled")
	}
}

func TestTeardown(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &fakeRecorder{}
	var out bytes.Buffer

	o := newTestOrchestrator(t, prov, &fakeWaiter{}, &fakeConfigurer{}, &fakeCertManager{}, rec, &out)
	keyPath := writeKeyFile(t)
	raw := map[string]string{
		config.KeyProviderToken:     "tok-provider",
		config.KeyDNSAPIToken:       "tok-dns",
		config.KeyDNSZoneID:         "zone-1",
		config.KeyDomain:            "example.com",
		config.KeyWebSubdomain:      "app",
		config.KeyRegion:            "fsn1",
		config.KeySSHPrivateKeyPath: keyPath,
		config.KeySSHPublicKeyPath:  keyPath + ".pub",
	}
	result, err := o.Teardown(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prov.destroyCalls != 1 {
		t.Errorf("expected one destroy, got %d", prov.destroyCalls)
	}
	if result.Mode != ModeDestroy || !result.Success {
		t.Errorf("unexpected result %+v", result)
	}
	if len(rec.results) != 1 {
		t.Fatalf("expected the run to be recorded, got %d records", len(rec.results))
	}
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	prov := &fakeProvisioner{host: &provision.Host{Addr: "198.51.100.7"}}
	rec := &fakeRecorder{err: errors.New("database locked")}
	var out bytes.Buffer

	o := newTestOrchestrator(t, prov, &fakeWaiter{}, &fakeConfigurer{}, &fakeCertManager{state: cert.StateDryRunDone}, rec, &out)
	result, err := o.Deploy(context.Background(), validSettings(t, "dry-run"))
	if err != nil {
		t.Fatalf("recorder failure must not fail the run: %v", err)
	}
	if !result.Success {
		t.Error("expected a successful run")
	}
}

func TestNewRequiresComponents(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for missing components")
	}
}
