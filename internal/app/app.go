// Package app wires configuration into a running updater and exposes the
// operations used by the CLI and the HTTP trigger.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"sgcars-go/internal/cache"
	"sgcars-go/internal/config"
	"sgcars-go/internal/database"
	"sgcars-go/internal/database/migrations"
	"sgcars-go/internal/encryption"
	"sgcars-go/internal/fetch"
	"sgcars-go/internal/fingerprint"
	"sgcars-go/internal/transform"
	"sgcars-go/internal/updater"
	"sgcars-go/internal/vault"
)

// SnapshotName is the vault metadata item holding the latest database snapshot.
const SnapshotName = "sgcars.db"

var (
	// ErrUnknownDataset is returned for a dataset name missing from the config.
	ErrUnknownDataset = errors.New("unknown dataset")
	// ErrNoVault is returned by archive operations when retention is disabled.
	ErrNoVault = errors.New("no vault configured")
	// ErrRunInProgress is returned when the dataset is already being updated.
	ErrRunInProgress = errors.New("update already in progress")
)

// Options override collaborators, mainly for tests. The zero value is the
// production setup.
type Options struct {
	// Logger replaces the file-and-stderr logger.
	Logger     *slog.Logger
	LogLevel   slog.Leveler
	Clock      updater.Clock
	IDs        updater.IDGenerator
	HTTPClient *http.Client
	// SkipMigrationCheck opens a database whose schema is behind, so that
	// `sgcars db migrate` can bring it up to date.
	SkipMigrationCheck bool
}

// App is the application layer between the CLI (or HTTP trigger) and the
// updater Service. It constructs all dependencies from config and releases
// them on Close.
type App struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	cache     cache.ChangeCache
	summaries *cache.ReadCache
	vault     vault.Vault
	encryptor encryption.Encryptor
	service   *updater.Service
	logger    *slog.Logger
	clock     updater.Clock
	ids       updater.IDGenerator
	logFile   *os.File

	mu      sync.Mutex
	states  map[string]updater.State
	running map[string]bool
}

// Report is the outcome of one dataset run as returned to callers.
type Report struct {
	Dataset string          `json:"dataset"`
	RunID   string          `json:"runId,omitempty"`
	Result  *updater.Result `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DatasetStatus summarizes one dataset table and its latest run.
type DatasetStatus struct {
	Dataset    string                 `json:"dataset"`
	Summary    *database.TableSummary `json:"summary"`
	LastStatus string                 `json:"lastStatus,omitempty"`
	LastRunAt  *time.Time             `json:"lastRunAt,omitempty"`
}

// New creates a fully wired App from cfg. The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:     cfg,
		clock:   opts.Clock,
		ids:     opts.IDs,
		logger:  opts.Logger,
		states:  make(map[string]updater.State),
		running: make(map[string]bool),
	}
	if a.clock == nil {
		a.clock = updater.RealClock{}
	}
	if a.ids == nil {
		a.ids = updater.UUIDGenerator{}
	}

	if err := a.open(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, opts Options) error {
	cfg := a.cfg

	if a.logger == nil {
		sessionID := a.clock.Now().UTC().Format("20060102T150405Z")
		logger, f, err := newLogger(cfg.LogDir, sessionID, opts.LogLevel)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		a.logger, a.logFile = logger, f
	}

	summaries, err := cache.NewReadCache(cfg.ReadCache.Size)
	if err != nil {
		return fmt.Errorf("creating read cache: %w", err)
	}
	a.summaries = summaries

	store, err := database.NewStoreFromConfig(cfg.Database, summaries)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.store = store
	if !opts.SkipMigrationCheck {
		if err := store.CheckMigrations(); err != nil {
			return fmt.Errorf("database schema out of date (run `sgcars db migrate`): %w", err)
		}
	}

	cc, err := cache.NewChangeCacheFromConfig(cfg.Cache)
	if err != nil {
		return fmt.Errorf("creating change cache: %w", err)
	}
	a.cache = cc

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	a.vault = v

	deps := updater.Deps{
		Fetcher: fetch.NewHTTPFetcher(fetch.Options{
			ScratchDir:        cfg.Updater.ScratchDir,
			Timeout:           time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			UserAgent:         cfg.HTTP.UserAgent,
			HTTPClient:        opts.HTTPClient,
		}),
		Fingerprinter: fingerprint.SHA256{},
		Transformer:   transform.CSV{},
		Cache:         cc,
		Store:         store,
		Persister:     updater.NewPersister(store, summaries, cfg.Updater.BatchSize, cfg.Updater.Atomic),
		Logger:        &slogAdapter{l: a.logger},
		Clock:         a.clock,
		OnTransition:  a.recordState,
	}
	if v != nil {
		if !enc.IsConfigured() {
			return fmt.Errorf("encryption type %q has no keys (run `sgcars keys init`)", enc.Name())
		}
		deps.Retainer = vault.NewRetainer(v, enc)
	}

	svc, err := updater.NewService(deps)
	if err != nil {
		return fmt.Errorf("creating updater: %w", err)
	}
	a.service = svc
	return nil
}

func (a *App) recordState(dataset string, _, to updater.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[dataset] = to
}

// States returns the last observed run state of every dataset run so far.
func (a *App) States() map[string]updater.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]updater.State, len(a.states))
	for k, v := range a.states {
		out[k] = v
	}
	return out
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the App's logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Update runs the named dataset once and records the run.
func (a *App) Update(ctx context.Context, name string) (*Report, error) {
	dc := a.cfg.Dataset(name)
	if dc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	desc, err := dc.Descriptor()
	if err != nil {
		return nil, err
	}
	return a.runDataset(ctx, desc)
}

// UpdateAll runs every configured dataset, at most updater.concurrency at a
// time. A failing dataset does not stop the others; all failures are returned
// together. The reports are in config order.
func (a *App) UpdateAll(ctx context.Context) ([]*Report, error) {
	descs, err := a.cfg.Descriptors()
	if err != nil {
		return nil, err
	}

	reports := make([]*Report, len(descs))
	var (
		mu     sync.Mutex
		result *multierror.Error
	)

	limit := a.cfg.Updater.Concurrency
	if limit <= 0 {
		limit = config.DefaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, d := range descs {
		g.Go(func() error {
			rep, err := a.runDataset(ctx, d)
			if rep == nil {
				rep = &Report{Dataset: d.Name}
			}
			if err != nil {
				rep.Error = err.Error()
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", d.Name, err))
				mu.Unlock()
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()

	return reports, result.ErrorOrNil()
}

// acquire marks dataset as running. Two runs of one dataset would share its
// scratch directory.
func (a *App) acquire(dataset string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running[dataset] {
		return false
	}
	a.running[dataset] = true
	return true
}

func (a *App) release(dataset string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.running, dataset)
}

func (a *App) runDataset(ctx context.Context, d updater.SourceDescriptor) (*Report, error) {
	if !a.acquire(d.Name) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, d.Name)
	}
	defer a.release(d.Name)

	run, err := a.store.CreateRun(ctx, a.ids.New(), d.Name, d.Table, a.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	res, runErr := a.service.Update(ctx, d)

	run.FinishedAt = sql.NullTime{Time: a.clock.Now().UTC(), Valid: true}
	report := &Report{Dataset: d.Name, RunID: run.ID, Result: res}
	if runErr != nil {
		run.Status = string(updater.OutcomeFailed)
		run.Error = runErr.Error()
		report.Error = runErr.Error()
	} else {
		run.Status = string(res.Outcome)
		run.RecordsProcessed = res.RecordsProcessed
		run.Message = res.Message
		run.Checksum = res.Checksum
	}

	// Record the run even when ctx was cancelled mid-way.
	if err := a.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		if runErr == nil {
			return report, err
		}
		a.logger.Warn("recording failed run", "dataset", d.Name, "run", run.ID, "error", err)
	}
	return report, runErr
}

// History returns up to limit recorded runs, newest first. An empty dataset
// lists runs of every dataset.
func (a *App) History(ctx context.Context, dataset string, limit int) ([]*database.Run, error) {
	if dataset != "" && a.cfg.Dataset(dataset) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}
	return a.store.ListRuns(ctx, dataset, limit)
}

// Status summarizes every configured dataset table.
func (a *App) Status(ctx context.Context) ([]*DatasetStatus, error) {
	out := make([]*DatasetStatus, 0, len(a.cfg.Datasets))
	for _, d := range a.cfg.Datasets {
		sum, err := a.store.Summary(ctx, d.Table)
		if err != nil {
			return nil, err
		}
		st := &DatasetStatus{Dataset: d.Name, Summary: sum}

		runs, err := a.store.ListRuns(ctx, d.Name, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 {
			st.LastStatus = runs[0].Status
			started := runs[0].StartedAt
			st.LastRunAt = &started
		}
		out = append(out, st)
	}
	return out, nil
}

// Archives lists the checksums of the retained archives of dataset.
func (a *App) Archives(ctx context.Context, dataset string) ([]string, error) {
	if a.vault == nil {
		return nil, ErrNoVault
	}
	if a.cfg.Dataset(dataset) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}
	return a.vault.ListArchives(ctx, dataset)
}

// RestoreArchive writes the retained archive of dataset with checksum to w,
// unlocking the private key with passphrase.
func (a *App) RestoreArchive(ctx context.Context, dataset, checksum, passphrase string, w io.Writer) error {
	if a.vault == nil {
		return ErrNoVault
	}
	d, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	return vault.Restore(ctx, a.vault, d, dataset, checksum, w)
}

// Migrate applies pending schema migrations.
func (a *App) Migrate() error {
	return a.store.Migrate()
}

// SchemaStatus reports the applied and the latest available schema version.
func (a *App) SchemaStatus() (current uint, latest uint, dirty bool, err error) {
	current, dirty, err = a.store.SchemaVersion()
	if err != nil && !errors.Is(err, migrations.ErrNoVersion) {
		return 0, 0, false, err
	}
	latest, err = migrations.LatestVersion()
	if err != nil {
		return 0, 0, false, err
	}
	return current, latest, dirty, nil
}

// BackupDatabase writes a snapshot of the database to dest, which must not
// exist. When a vault is configured the snapshot is also uploaded as the
// SnapshotName metadata item. An empty dest uploads without keeping a local copy.
func (a *App) BackupDatabase(ctx context.Context, dest string) error {
	if dest == "" {
		if a.vault == nil {
			return fmt.Errorf("backup destination required: %w", ErrNoVault)
		}
		dir, err := os.MkdirTemp("", "sgcars-db-backup-*")
		if err != nil {
			return fmt.Errorf("creating temp dir for db backup: %w", err)
		}
		defer os.RemoveAll(dir)
		dest = filepath.Join(dir, SnapshotName)
	}

	if err := a.store.BackupTo(ctx, dest); err != nil {
		return err
	}
	a.logger.Info("database snapshot written", "path", dest)

	if a.vault == nil {
		return nil
	}
	return a.uploadSnapshot(ctx, dest)
}

func (a *App) uploadSnapshot(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening db backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db backup: %w", err)
	}

	if err := a.vault.PutMetadata(ctx, SnapshotName, f, info.Size()); err != nil {
		return fmt.Errorf("uploading database snapshot to vault: %w", err)
	}
	a.logger.Info("database snapshot uploaded", "name", SnapshotName, "bytes", info.Size())
	return nil
}

// Close releases every resource opened by New.
func (a *App) Close() error {
	var result *multierror.Error

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing change cache: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing database: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return result.ErrorOrNil()
}

// InitKeys generates the archive encryption key pair. It does not need a
// database, so it runs without an App.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return err
	}
	if _, ok := enc.(encryption.Plain); ok {
		return fmt.Errorf("encryption is disabled: set encryption.type in the config first")
	}
	return enc.Setup(passphrase)
}
