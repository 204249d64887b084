package app

import (
	"context"
	"os"
	goruntime "runtime"

	"github.com/CodexForgeBR/appboot/internal/config"
	"github.com/CodexForgeBR/appboot/internal/keystore"
	"github.com/CodexForgeBR/appboot/internal/machine"
	"github.com/CodexForgeBR/appboot/internal/permissions"
	"github.com/CodexForgeBR/appboot/internal/phases"
	"github.com/CodexForgeBR/appboot/internal/platform"
	"github.com/CodexForgeBR/appboot/internal/profile"
	"github.com/CodexForgeBR/appboot/internal/resume"
	"github.com/CodexForgeBR/appboot/internal/retry"
)

// Runtime is one launch of the app: the state store plus everything that
// reacts to it.
type Runtime struct {
	Config       *config.Config
	Platform     platform.Info
	Store        *machine.Store
	Services     *Services
	Orchestrator *phases.Orchestrator
	Bridge       *resume.Bridge
}

// DetectPlatform classifies the host, honouring the PLATFORM and HOME_DIR
// settings.
func DetectPlatform(cfg *config.Config) platform.Info {
	if cfg.HomeDir == "" {
		return platform.Current(cfg.Platform)
	}
	return platform.Detect(platform.Signals{
		GOOS:     goruntime.GOOS,
		Override: cfg.Platform,
		HomeDir:  cfg.HomeDir,
	})
}

// NewRuntime wires a runtime for cfg on platform p. Nothing runs until Start.
func NewRuntime(cfg *config.Config, p platform.Info) *Runtime {
	home := cfg.HomeDir
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	svc := &Services{
		Vault:       keystore.New(cfg.StateDir, p.VaultName()),
		DBPath:      cfg.DatabasePath(),
		Permissions: permissions.NewChecker(p, home),
		Platform:    p,
	}
	if cfg.ProfileURL != "" {
		svc.Profile = profile.NewClient(cfg.ProfileURL, config.Seconds(cfg.ProfileTimeout), svc.Token)
	}

	store := machine.NewStore(machine.Initial(p))
	return &Runtime{
		Config:   cfg,
		Platform: p,
		Store:    store,
		Services: svc,
		Orchestrator: phases.New(store, svc, phases.Options{
			StateDir: cfg.StateDir,
			Timeout:  config.Seconds(cfg.LoadTimeout),
		}),
		Bridge: resume.New(store, svc, resume.Options{
			StateDir: cfg.StateDir,
			Retry:    retry.Config{MaxRetries: cfg.PersistRetries},
			Timeout:  config.Seconds(cfg.PersistTimeout),
		}),
	}
}

// Start begins the loading pipeline. Canceling ctx stops collaborator
// calls; progress writes already queued still finish on Close. The bridge
// subscribes first so it sees every transition the orchestrator causes.
func (r *Runtime) Start(ctx context.Context) {
	r.Bridge.Start(context.WithoutCancel(ctx))
	r.Orchestrator.Start(ctx)
}

// Settled reports whether s needs no further work from the pipeline: any
// state other than Loading, or a keychain platform waiting for consent.
func Settled(s machine.State) bool {
	l, ok := s.(*machine.Loading)
	if !ok {
		return true
	}
	return l.Phase == machine.PhaseInitializingDB &&
		l.DBStatus == machine.DBIdle &&
		!l.Platform.UsesSilentVault()
}

// AwaitingConsent reports whether s is waiting for the user to allow vault
// access.
func AwaitingConsent(s machine.State) bool {
	_, loading := s.(*machine.Loading)
	return loading && Settled(s)
}

// Settle blocks until the store reaches a settled state or ctx is done.
func (r *Runtime) Settle(ctx context.Context) (machine.State, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := r.Store.Subscribe(func(_, _ machine.State, _ machine.Action) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		s := r.Store.State()
		if Settled(s) {
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Close stops the pipeline, drains pending progress writes and releases the
// local database.
func (r *Runtime) Close() error {
	r.Orchestrator.Stop()
	r.Bridge.Stop()
	return r.Services.Close()
}
