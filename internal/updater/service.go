package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"

	"sgcars-go/internal/dedup"
	"sgcars-go/internal/model"
)

// State is a step of one updater run.
type State string

const (
	StateIdle           State = "idle"
	StateFetching       State = "fetching"
	StateFingerprinting State = "fingerprinting"
	StateUnchanged      State = "unchanged"
	StateTransforming   State = "transforming"
	StateDeduplicating  State = "deduplicating"
	StatePersisting     State = "persisting"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

type trigger string

const (
	triggerStart       trigger = "start"
	triggerFetched     trigger = "fetched"
	triggerUnchanged   trigger = "unchanged"
	triggerChanged     trigger = "changed"
	triggerTransformed trigger = "transformed"
	triggerPlanned     trigger = "planned"
	triggerPersisted   trigger = "persisted"
	triggerFail        trigger = "fail"
)

// TransitionFunc observes state changes of a run.
type TransitionFunc func(dataset string, from, to State)

// Deps are the collaborators of a Service. Retainer and OnTransition are
// optional; everything else is required.
type Deps struct {
	Fetcher       Fetcher
	Fingerprinter Fingerprinter
	Transformer   Transformer
	Cache         ChangeCache
	Store         Store
	Persister     *Persister
	Retainer      ArchiveRetainer
	Logger        Logger
	Clock         Clock
	OnTransition  TransitionFunc
}

// Service runs the fetch, fingerprint, transform, deduplicate and persist
// sequence for one dataset at a time. It holds no mutable state, so a single
// Service may run different datasets concurrently.
type Service struct {
	deps Deps
}

// NewService creates a Service. A nil Persister is replaced by one with the
// default batch size over deps.Store; a nil Logger by NopLogger; a nil Clock
// by RealClock.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Fingerprinter == nil:
		return nil, fmt.Errorf("fingerprinter is required")
	case deps.Transformer == nil:
		return nil, fmt.Errorf("transformer is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("change cache is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	}
	if deps.Persister == nil {
		deps.Persister = NewPersister(deps.Store, nil, DefaultBatchSize, false)
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	return &Service{deps: deps}, nil
}

// Update runs the dataset described by d once. A failed run returns the
// error from the step that failed; nothing is retried.
func (s *Service) Update(ctx context.Context, d SourceDescriptor) (*Result, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	r := &run{svc: s, desc: d, machine: s.newMachine(d.Name)}
	if err := r.fire(ctx, triggerStart); err != nil {
		return nil, err
	}

	res, err := r.execute(ctx)
	if err != nil {
		if ferr := r.fire(ctx, triggerFail); ferr != nil {
			s.deps.Logger.Warn("recording failed state", "dataset", d.Name, "error", ferr)
		}
		s.deps.Logger.Error("update failed", "dataset", d.Name, "table", d.Table, "error", err)
		return nil, err
	}

	s.deps.Logger.Info("update finished",
		"dataset", d.Name,
		"table", res.Table,
		"outcome", string(res.Outcome),
		"inserted", res.RecordsProcessed,
		"checksum", res.Checksum,
	)
	return res, nil
}

func (s *Service) newMachine(dataset string) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(triggerStart, StateFetching)
	sm.Configure(StateFetching).
		Permit(triggerFetched, StateFingerprinting).
		Permit(triggerFail, StateFailed)
	sm.Configure(StateFingerprinting).
		Permit(triggerUnchanged, StateUnchanged).
		Permit(triggerChanged, StateTransforming).
		Permit(triggerFail, StateFailed)
	sm.Configure(StateTransforming).
		Permit(triggerTransformed, StateDeduplicating).
		Permit(triggerFail, StateFailed)
	sm.Configure(StateDeduplicating).
		Permit(triggerPlanned, StatePersisting).
		Permit(triggerFail, StateFailed)
	sm.Configure(StatePersisting).
		Permit(triggerPersisted, StateDone).
		Permit(triggerFail, StateFailed)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		from, _ := t.Source.(State)
		to, _ := t.Destination.(State)
		s.deps.Logger.Debug("run state changed", "dataset", dataset, "from", string(from), "to", string(to), "trigger", fmt.Sprint(t.Trigger))
		if s.deps.OnTransition != nil {
			s.deps.OnTransition(dataset, from, to)
		}
	})

	return sm
}

// run carries one execution of a descriptor through the state machine.
type run struct {
	svc     *Service
	desc    SourceDescriptor
	machine *stateless.StateMachine
}

func (r *run) fire(ctx context.Context, t trigger) error {
	if err := r.machine.FireCtx(ctx, t); err != nil {
		return fmt.Errorf("run state machine: %w", err)
	}
	return nil
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	deps := r.svc.deps
	d := r.desc

	dl, err := deps.Fetcher.Fetch(ctx, d)
	if err != nil {
		return nil, err
	}
	deps.Logger.Debug("archive extracted", "dataset", d.Name, "dir", dl.Dir, "files", len(dl.Files), "selected", dl.Selected)
	if err := r.fire(ctx, triggerFetched); err != nil {
		return nil, err
	}

	path := dl.Path()
	checksum, err := deps.Fingerprinter.Checksum(path)
	if err != nil {
		return nil, asIOError("fingerprint", path, err)
	}

	cached, err := deps.Cache.GetChecksum(ctx, dl.Selected)
	if err != nil {
		return nil, asCacheError("get", dl.Selected, err)
	}
	if cached == checksum {
		if err := r.fire(ctx, triggerUnchanged); err != nil {
			return nil, err
		}
		return &Result{
			Table:     d.Table,
			Message:   MessageUnchanged,
			Timestamp: deps.Clock.Now().UTC(),
			Checksum:  checksum,
			Outcome:   OutcomeUnchanged,
		}, nil
	}

	if deps.Retainer != nil {
		if err := deps.Retainer.Retain(ctx, d.Name, checksum, bytes.NewReader(dl.Archive), int64(len(dl.Archive))); err != nil {
			return nil, asIOError("retain", d.Name+"/"+checksum, err)
		}
	}
	if err := r.fire(ctx, triggerChanged); err != nil {
		return nil, err
	}

	records, err := deps.Transformer.Transform(path, d.Transform)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, asIOError("transform", path, err)
	}
	if err := checkKeyFields(dl.Selected, d.KeyFields, records); err != nil {
		return nil, err
	}
	deps.Logger.Debug("records parsed", "dataset", d.Name, "count", len(records))
	if err := r.fire(ctx, triggerTransformed); err != nil {
		return nil, err
	}

	existing, err := deps.Store.Keys(ctx, d.Table, d.KeyFields)
	if err != nil {
		return nil, asStoreError("keys", d.Table, err)
	}
	fresh := dedup.Filter(d.KeyFields, existing, records)
	deps.Logger.Debug("deduplicated", "dataset", d.Name, "existing", len(existing), "parsed", len(records), "new", len(fresh))
	if err := r.fire(ctx, triggerPlanned); err != nil {
		return nil, err
	}

	inserted, err := r.persist(ctx, fresh)
	if err != nil {
		return nil, err
	}

	// The checksum is recorded only once the rows are stored, so a failure
	// above leaves the previous checksum in place and the next run reprocesses.
	if err := deps.Cache.SetChecksum(ctx, dl.Selected, checksum); err != nil {
		return nil, asCacheError("set", dl.Selected, err)
	}
	if err := r.fire(ctx, triggerPersisted); err != nil {
		return nil, err
	}

	res := &Result{
		Table:            d.Table,
		RecordsProcessed: inserted,
		Timestamp:        deps.Clock.Now().UTC(),
		Checksum:         checksum,
	}
	if inserted == 0 {
		res.Message = MessageNoNewRecords
		res.Outcome = OutcomeNoNewRecords
	} else {
		res.Message = fmt.Sprintf("inserted %d new records", inserted)
		res.Outcome = OutcomeInserted
	}
	return res, nil
}

func (r *run) persist(ctx context.Context, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	return r.svc.deps.Persister.Persist(ctx, r.desc.Table, records)
}

// checkKeyFields fails when a key field is absent from the parsed records.
// Every record carries the fields of the header row, so the first is checked.
func checkKeyFields(file string, fields []string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, f := range fields {
		if _, ok := records[0][f]; !ok {
			return &ParseError{File: file, Line: 1, Err: fmt.Errorf("key field %q is not a column of the file", f)}
		}
	}
	return nil
}

func asIOError(op, path string, err error) error {
	var ioe *IOError
	if errors.As(err, &ioe) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func asCacheError(op, key string, err error) error {
	var ce *CacheError
	if errors.As(err, &ce) {
		return err
	}
	return &CacheError{Op: op, Key: key, Err: err}
}

func asStoreError(op, table string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Table: table, Err: err}
}
