package updater_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sgcars-go/internal/fetch"
	"sgcars-go/internal/fingerprint"
	"sgcars-go/internal/model"
	"sgcars-go/internal/testutil"
	"sgcars-go/internal/transform"
	"sgcars-go/internal/updater"
	"sgcars-go/internal/vault"
)

const carsFile = "M03-Car_Regn_by_make.csv"

type harness struct {
	srv     *testutil.ArchiveServer
	store   *testutil.FakeStore
	cache   *testutil.FakeCache
	clock   *testutil.StubClock
	inv     *testutil.RecordingInvalidator
	desc    updater.SourceDescriptor
	svc     *updater.Service
	persist *updater.Persister

	mu          sync.Mutex
	transitions []string
}

type harnessOption func(*updater.Deps)

func newHarness(t *testing.T, csv string, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		srv:   testutil.NewArchiveServer(t, carsArchive(t, csv)),
		store: testutil.NewFakeStore(),
		cache: testutil.NewFakeCache(),
		clock: testutil.FixedClock(),
		inv:   &testutil.RecordingInvalidator{},
	}

	steps, err := transform.ParseStepMap(map[string][]string{
		"make":   {"trim"},
		"number": {"number"},
	})
	if err != nil {
		t.Fatalf("ParseStepMap() error = %v", err)
	}
	h.desc = updater.SourceDescriptor{
		Name:      "cars",
		URL:       h.srv.URL(),
		FileName:  carsFile,
		Table:     "cars",
		KeyFields: []string{"month", "make"},
		Transform: updater.TransformConfig{Steps: steps},
	}

	h.persist = updater.NewPersister(h.store, h.inv, 5000, false)
	deps := updater.Deps{
		Fetcher:       fetch.NewHTTPFetcher(fetch.Options{ScratchDir: t.TempDir(), HTTPClient: h.srv.Client()}),
		Fingerprinter: fingerprint.SHA256{},
		Transformer:   transform.CSV{},
		Cache:         h.cache,
		Store:         h.store,
		Persister:     h.persist,
		Clock:         h.clock,
		OnTransition: func(dataset string, from, to updater.State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.transitions = append(h.transitions, fmt.Sprintf("%s:%s>%s", dataset, from, to))
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc, err := updater.NewService(deps)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h.svc = svc
	return h
}

func carsArchive(t *testing.T, csv string) []byte {
	t.Helper()
	return testutil.ZipArchive(t, testutil.ZipEntry{Name: carsFile, Content: csv})
}

func (h *harness) update(t *testing.T) *updater.Result {
	t.Helper()
	res, err := h.svc.Update(context.Background(), h.desc)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	return res
}

func (h *harness) takeTransitions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.transitions
	h.transitions = nil
	return out
}

func TestService_Update_EndToEnd(t *testing.T) {
	csv := "month,make,number\n2024-01,BMW,10\n2024-01,BMW,\n"
	h := newHarness(t, csv)

	res := h.update(t)

	if res.Outcome != updater.OutcomeInserted {
		t.Errorf("Outcome = %s, want inserted", res.Outcome)
	}
	if res.RecordsProcessed != 1 {
		t.Errorf("RecordsProcessed = %d, want 1", res.RecordsProcessed)
	}
	if res.Table != "cars" {
		t.Errorf("Table = %q", res.Table)
	}
	if res.Checksum != testutil.SHA256Hex([]byte(csv)) {
		t.Errorf("Checksum = %q, want digest of the extracted file", res.Checksum)
	}
	if !res.Timestamp.Equal(h.clock.Now()) {
		t.Errorf("Timestamp = %v, want %v", res.Timestamp, h.clock.Now())
	}

	want := []model.Record{{"month": "2024-01", "make": "BMW", "number": int64(10)}}
	if diff := cmp.Diff(want, h.store.Rows("cars")); diff != "" {
		t.Errorf("stored rows mismatch (-want +got):\n%s", diff)
	}
	if h.cache.Entry(carsFile) != res.Checksum {
		t.Errorf("cache = %q, want new checksum", h.cache.Entry(carsFile))
	}
	if diff := cmp.Diff([]string{"cars"}, h.inv.Tables()); diff != "" {
		t.Errorf("invalidated mismatch (-want +got):\n%s", diff)
	}

	wantPath := []string{
		"cars:idle>fetching",
		"cars:fetching>fingerprinting",
		"cars:fingerprinting>transforming",
		"cars:transforming>deduplicating",
		"cars:deduplicating>persisting",
		"cars:persisting>done",
	}
	if diff := cmp.Diff(wantPath, h.takeTransitions()); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Update_SkipsExistingRows(t *testing.T) {
	h := newHarness(t, "month,make,number\n2024-01,Toyota,3\n2024-01,BMW,5\n2024-01,BMW,6\n")
	h.store.Seed("cars", model.Record{"month": "2024-01", "make": "Toyota", "number": int64(3)})

	res := h.update(t)

	if res.RecordsProcessed != 1 {
		t.Errorf("RecordsProcessed = %d, want 1", res.RecordsProcessed)
	}
	if diff := cmp.Diff([]int{1}, h.store.InsertCalls()); diff != "" {
		t.Errorf("insert calls mismatch (-want +got):\n%s", diff)
	}
	rows := h.store.Rows("cars")
	if got := rows[len(rows)-1]; got["make"] != "BMW" || got["number"] != int64(5) {
		t.Errorf("inserted row = %v, want first BMW row", got)
	}
}

func TestService_Update_UnchangedIsIdempotent(t *testing.T) {
	h := newHarness(t, "month,make,number\n2024-01,BMW,10\n")
	first := h.update(t)
	h.takeTransitions()

	second := h.update(t)

	if second.Outcome != updater.OutcomeUnchanged {
		t.Errorf("Outcome = %s, want unchanged", second.Outcome)
	}
	if second.RecordsProcessed != 0 {
		t.Errorf("RecordsProcessed = %d, want 0", second.RecordsProcessed)
	}
	if second.Message != updater.MessageUnchanged {
		t.Errorf("Message = %q", second.Message)
	}
	if second.Checksum != first.Checksum {
		t.Errorf("Checksum = %q, want %q", second.Checksum, first.Checksum)
	}
	if len(h.store.InsertCalls()) != 1 {
		t.Errorf("insert calls = %v, want only the first run's", h.store.InsertCalls())
	}
	if h.store.KeysCalls() != 1 {
		t.Errorf("keys calls = %d, want the store untouched on unchanged", h.store.KeysCalls())
	}
	if h.cache.Sets() != 1 {
		t.Errorf("cache sets = %d, want no write on unchanged", h.cache.Sets())
	}

	wantPath := []string{
		"cars:idle>fetching",
		"cars:fetching>fingerprinting",
		"cars:fingerprinting>unchanged",
	}
	if diff := cmp.Diff(wantPath, h.takeTransitions()); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Update_NoNewRecords(t *testing.T) {
	h := newHarness(t, "month,make,number\n2024-01,BMW,10\n")
	h.update(t)

	// Whitespace changes the checksum but not the trimmed keys.
	h.srv.SetBody(carsArchive(t, "month,make,number\n2024-01, BMW ,10\n"))
	res := h.update(t)

	if res.Outcome != updater.OutcomeNoNewRecords {
		t.Errorf("Outcome = %s, want no_new_records", res.Outcome)
	}
	if res.Message != updater.MessageNoNewRecords {
		t.Errorf("Message = %q", res.Message)
	}
	if res.Message == updater.MessageUnchanged {
		t.Error("no-new-records message must differ from unchanged")
	}
	if len(h.store.InsertCalls()) != 1 {
		t.Errorf("insert calls = %v, want none for an empty plan", h.store.InsertCalls())
	}
	if h.cache.Entry(carsFile) != res.Checksum {
		t.Error("cache should hold the checksum of the changed file")
	}
}

func TestService_Update_PersistFailureKeepsOldChecksum(t *testing.T) {
	h := newHarness(t, "month,make,number\n2024-01,BMW,10\n")
	first := h.update(t)

	h.srv.SetBody(carsArchive(t, "month,make,number\n2024-01,BMW,10\n2024-02,BMW,4\n2024-02,Audi,2\n2024-03,Audi,1\n"))
	h.persist = updater.NewPersister(h.store, h.inv, 1, false)
	svc, err := updater.NewService(updater.Deps{
		Fetcher:       fetch.NewHTTPFetcher(fetch.Options{ScratchDir: t.TempDir(), HTTPClient: h.srv.Client()}),
		Fingerprinter: fingerprint.SHA256{},
		Transformer:   transform.CSV{},
		Cache:         h.cache,
		Store:         h.store,
		Persister:     h.persist,
		Clock:         h.clock,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h.svc = svc
	h.store.FailOnInsert = 3

	_, err = h.svc.Update(context.Background(), h.desc)

	var se *updater.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StoreError", err)
	}
	if h.cache.Entry(carsFile) != first.Checksum {
		t.Errorf("cache = %q, want previous checksum %q", h.cache.Entry(carsFile), first.Checksum)
	}
	if len(h.store.Rows("cars")) != 2 {
		t.Errorf("stored rows = %d, want the first run's row plus one committed batch", len(h.store.Rows("cars")))
	}

	h.store.FailOnInsert = 0
	res, err := h.svc.Update(context.Background(), h.desc)
	if err != nil {
		t.Fatalf("retry Update() error = %v", err)
	}
	if res.RecordsProcessed != 2 {
		t.Errorf("RecordsProcessed = %d, want the 2 rows not committed before", res.RecordsProcessed)
	}
	if len(h.store.Rows("cars")) != 4 {
		t.Errorf("stored rows = %d, want 4 with no duplicates", len(h.store.Rows("cars")))
	}
	if h.cache.Entry(carsFile) != res.Checksum {
		t.Error("cache should advance after the successful retry")
	}
}

func TestService_Update_Failures(t *testing.T) {
	t.Run("fetch error", func(t *testing.T) {
		h := newHarness(t, "")
		h.srv.SetError(http.StatusBadGateway, "upstream down")

		_, err := h.svc.Update(context.Background(), h.desc)

		var fe *updater.FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("error = %v, want *FetchError", err)
		}
		if diff := cmp.Diff([]string{"cars:idle>fetching", "cars:fetching>failed"}, h.takeTransitions()); diff != "" {
			t.Errorf("transitions mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		h := newHarness(t, "")
		h.srv.SetBody(testutil.ZipArchive(t, testutil.ZipEntry{Name: "other.csv", Content: "a\n"}))

		_, err := h.svc.Update(context.Background(), h.desc)

		var fnf *updater.FileNotFoundError
		if !errors.As(err, &fnf) {
			t.Fatalf("error = %v, want *FileNotFoundError", err)
		}
	})

	t.Run("parse error", func(t *testing.T) {
		h := newHarness(t, "month,make,number\n2024-01,\"BMW,10\n")

		_, err := h.svc.Update(context.Background(), h.desc)

		var pe *updater.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *ParseError", err)
		}
		if h.cache.Sets() != 0 {
			t.Error("cache must not be written on failure")
		}
		got := h.takeTransitions()
		if got[len(got)-1] != "cars:transforming>failed" {
			t.Errorf("last transition = %s, want transforming>failed", got[len(got)-1])
		}
	})

	t.Run("key field missing from header", func(t *testing.T) {
		h := newHarness(t, "period,make,number\n2024-01,BMW,10\n2024-02,BMW,11\n2024-03,BMW,12\n")

		_, err := h.svc.Update(context.Background(), h.desc)

		var pe *updater.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *ParseError", err)
		}
		if pe.Line != 1 || pe.File != carsFile {
			t.Errorf("ParseError = %+v, want line 1 of %s", pe, carsFile)
		}
		if !strings.Contains(pe.Error(), "month") {
			t.Errorf("error %q should name the missing field", pe.Error())
		}
		if h.store.KeysCalls() != 0 || len(h.store.InsertCalls()) != 0 {
			t.Error("store must not be touched when a key field is missing")
		}
		if h.cache.Sets() != 0 {
			t.Error("cache must not be written on failure")
		}
		got := h.takeTransitions()
		if got[len(got)-1] != "cars:transforming>failed" {
			t.Errorf("last transition = %s, want transforming>failed", got[len(got)-1])
		}
	})

	t.Run("cache read error", func(t *testing.T) {
		h := newHarness(t, "month,make,number\n2024-01,BMW,10\n")
		h.cache.GetErr = errors.New("cache offline")

		_, err := h.svc.Update(context.Background(), h.desc)

		var ce *updater.CacheError
		if !errors.As(err, &ce) {
			t.Fatalf("error = %v, want *CacheError", err)
		}
		if ce.Op != "get" || ce.Key != carsFile {
			t.Errorf("CacheError = %+v", ce)
		}
		if h.store.KeysCalls() != 0 || len(h.store.InsertCalls()) != 0 {
			t.Error("store must not be touched when the cache cannot be read")
		}
	})

	t.Run("cache write error", func(t *testing.T) {
		h := newHarness(t, "month,make,number\n2024-01,BMW,10\n")
		h.cache.SetErr = errors.New("cache read-only")

		_, err := h.svc.Update(context.Background(), h.desc)

		var ce *updater.CacheError
		if !errors.As(err, &ce) {
			t.Fatalf("error = %v, want *CacheError", err)
		}
		if ce.Op != "set" {
			t.Errorf("Op = %q, want set", ce.Op)
		}
		if len(h.store.Rows("cars")) != 1 {
			t.Errorf("stored rows = %d, want the persisted row", len(h.store.Rows("cars")))
		}
	})

	t.Run("keys error", func(t *testing.T) {
		h := newHarness(t, "month,make,number\n2024-01,BMW,10\n")
		h.store.KeysErr = errors.New("no such table")

		_, err := h.svc.Update(context.Background(), h.desc)

		var se *updater.StoreError
		if !errors.As(err, &se) {
			t.Fatalf("error = %v, want *StoreError", err)
		}
		if se.Op != "keys" {
			t.Errorf("Op = %q, want keys", se.Op)
		}
	})

	t.Run("invalid descriptor", func(t *testing.T) {
		h := newHarness(t, "")
		d := h.desc
		d.KeyFields = nil

		if _, err := h.svc.Update(context.Background(), d); err == nil {
			t.Fatal("Update() error = nil, want validation error")
		}
		if h.srv.Requests() != 0 {
			t.Error("an invalid descriptor must not be fetched")
		}
	})
}

type recordingRetainer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingRetainer) Retain(_ context.Context, dataset, checksum string, rd io.Reader, size int64) error {
	data, err := io.ReadAll(rd)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size %d does not match %d bytes", size, len(data))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dataset+"/"+checksum)
	return r.err
}

func TestService_Update_RetainsChangedArchives(t *testing.T) {
	ret := &recordingRetainer{}
	h := newHarness(t, "month,make,number\n2024-01,BMW,10\n", func(d *updater.Deps) { d.Retainer = ret })

	first := h.update(t)
	h.update(t)

	if diff := cmp.Diff([]string{"cars/" + first.Checksum}, ret.calls); diff != "" {
		t.Errorf("retained mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Update_RetainFailure(t *testing.T) {
	ret := &recordingRetainer{err: errors.New("bucket missing")}
	h := newHarness(t, "month,make,number\n2024-01,BMW,10\n", func(d *updater.Deps) { d.Retainer = ret })

	_, err := h.svc.Update(context.Background(), h.desc)

	var ioe *updater.IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("error = %v, want *IOError", err)
	}
	if ioe.Op != "retain" {
		t.Errorf("Op = %q, want retain", ioe.Op)
	}
	if len(h.store.InsertCalls()) != 0 {
		t.Error("store must not be written when retention fails")
	}
}

func TestService_Update_SQLiteStoreAndVault(t *testing.T) {
	store := testutil.NewTestSQLStore(t, nil)
	v := testutil.NewTestVault()
	h := newHarness(t, "month,make,number\n2024-01,BMW,10\n2024-01,AUDI,3\n", func(d *updater.Deps) {
		d.Store = store
		d.Persister = updater.NewPersister(store, nil, 1, false)
		d.Retainer = vault.NewRetainer(v, nil)
	})

	first := h.update(t)
	if first.RecordsProcessed != 2 {
		t.Fatalf("RecordsProcessed = %d, want 2", first.RecordsProcessed)
	}

	h.srv.SetBody(carsArchive(t, "month,make,number\n2024-01,BMW,10\n2024-02,BMW,4\n"))
	second := h.update(t)
	if second.RecordsProcessed != 1 {
		t.Errorf("second RecordsProcessed = %d, want 1", second.RecordsProcessed)
	}

	got, err := v.ListArchives(context.Background(), "cars")
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("retained %d archives, want 2", len(got))
	}

	summary, err := store.Summary(context.Background(), "cars")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.Rows != 3 {
		t.Errorf("Rows = %d, want 3", summary.Rows)
	}
}

func TestService_Update_Concurrent(t *testing.T) {
	h := newHarness(t, "month,make,number\n2024-01,BMW,10\n")
	coeSrv := testutil.NewArchiveServer(t, testutil.ZipArchive(t,
		testutil.ZipEntry{Name: "M11-coe_results.csv", Content: "month,make,number\n2024-01,Cat A,7\n"},
	))
	other := h.desc
	other.Name = "coe"
	other.URL = coeSrv.URL()
	other.FileName = "M11-coe_results.csv"
	other.Table = "coe"

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, d := range []updater.SourceDescriptor{h.desc, other} {
		wg.Add(1)
		go func(i int, d updater.SourceDescriptor) {
			defer wg.Done()
			_, errs[i] = h.svc.Update(context.Background(), d)
		}(i, d)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("run %d error = %v", i, err)
		}
	}
	if len(h.store.Rows("cars")) != 1 || len(h.store.Rows("coe")) != 1 {
		t.Error("each dataset should insert its row")
	}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	full := updater.Deps{
		Fetcher:       fetch.NewHTTPFetcher(fetch.Options{}),
		Fingerprinter: fingerprint.SHA256{},
		Transformer:   transform.CSV{},
		Cache:         testutil.NewFakeCache(),
		Store:         testutil.NewFakeStore(),
	}
	if _, err := updater.NewService(full); err != nil {
		t.Fatalf("NewService() with all deps error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*updater.Deps)
	}{
		{"fetcher", func(d *updater.Deps) { d.Fetcher = nil }},
		{"fingerprinter", func(d *updater.Deps) { d.Fingerprinter = nil }},
		{"transformer", func(d *updater.Deps) { d.Transformer = nil }},
		{"cache", func(d *updater.Deps) { d.Cache = nil }},
		{"store", func(d *updater.Deps) { d.Store = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := full
			tt.mutate(&d)
			if _, err := updater.NewService(d); err == nil {
				t.Error("NewService() error = nil, want missing collaborator error")
			}
		})
	}
}
