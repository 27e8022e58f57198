package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/models"
)

// FakeConnector records Connect and Disconnect calls.
type FakeConnector struct {
	ConnectorName string
	ConnectErr    error

	mu          sync.Mutex
	connects    int
	disconnects int
}

func (f *FakeConnector) Name() string { return f.ConnectorName }

func (f *FakeConnector) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.ConnectErr
}

func (f *FakeConnector) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

// Calls returns the number of Connect and Disconnect calls.
func (f *FakeConnector) Calls() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

// FakeSource serves in-memory records per dataset. It is Pollable.
type FakeSource struct {
	FakeConnector
	// Records by dataset name; datasets without an entry do not exist
	Records map[string][]core.Record
	// AppearAfter makes a dataset exist only from the given check on (1-based)
	AppearAfter map[string]int
	// FailReads fails the first N reads of a dataset
	FailReads map[string]int

	mu     sync.Mutex
	checks map[string]int
	reads  map[string][]core.ReadRequest
}

// NewFakeSource creates a source called name.
func NewFakeSource(name string, records map[string][]core.Record) *FakeSource {
	return &FakeSource{FakeConnector: FakeConnector{ConnectorName: name}, Records: records}
}

func (f *FakeSource) Exists(ctx context.Context, d *models.Dataset) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checks == nil {
		f.checks = map[string]int{}
	}
	f.checks[d.Name]++
	if _, ok := f.Records[d.Name]; !ok {
		return false, nil
	}
	if after, ok := f.AppearAfter[d.Name]; ok {
		return f.checks[d.Name] >= after, nil
	}
	return true, nil
}

func (f *FakeSource) Read(ctx context.Context, req core.ReadRequest, out core.RecordWriter) error {
	f.mu.Lock()
	if f.reads == nil {
		f.reads = map[string][]core.ReadRequest{}
	}
	f.reads[req.Dataset.Name] = append(f.reads[req.Dataset.Name], req)
	n := len(f.reads[req.Dataset.Name])
	records, ok := f.Records[req.Dataset.Name]
	f.mu.Unlock()

	if n <= f.FailReads[req.Dataset.Name] {
		return fmt.Errorf("read %d of %s failed", n, req.Dataset.Name)
	}
	if !ok {
		return fmt.Errorf("dataset %s does not exist", req.Dataset.Name)
	}
	for _, rec := range records {
		if err := out.Write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Checks returns how often the existence of a dataset was checked.
func (f *FakeSource) Checks(dataset string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[dataset]
}

// Reads returns the read requests of a dataset in order.
func (f *FakeSource) Reads(dataset string) []core.ReadRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.ReadRequest(nil), f.reads[dataset]...)
}

// FakeExecutor answers every query with Rows. It is not a Source.
type FakeExecutor struct {
	FakeConnector
	Rows []core.Record

	mu      sync.Mutex
	queries []string
	binds   []map[string]any
}

func (f *FakeExecutor) Execute(ctx context.Context, query string, binds map[string]any) ([]core.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.binds = append(f.binds, binds)
	return f.Rows, nil
}

// Queries returns the executed queries in order.
func (f *FakeExecutor) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// FakeTarget keeps written records per target table.
type FakeTarget struct {
	FakeConnector
	// FailWrites fails the first N writes of a dataset
	FailWrites map[string]int

	mu      sync.Mutex
	written map[string][]core.Record
	plans   []models.WritePlan
	writes  map[string]int
}

// NewFakeTarget creates a target called name.
func NewFakeTarget(name string) *FakeTarget {
	return &FakeTarget{FakeConnector: FakeConnector{ConnectorName: name}}
}

func (f *FakeTarget) Write(ctx context.Context, req core.WriteRequest, in core.RecordReader) (int64, error) {
	f.mu.Lock()
	if f.writes == nil {
		f.writes = map[string]int{}
	}
	f.writes[req.Plan.Dataset]++
	n := f.writes[req.Plan.Dataset]
	f.mu.Unlock()

	if n <= f.FailWrites[req.Plan.Dataset] {
		return 0, fmt.Errorf("write %d of %s failed", n, req.Plan.Dataset)
	}

	var records []core.Record
	for {
		rec, err := in.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		records = append(records, rec)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.written == nil {
		f.written = map[string][]core.Record{}
	}
	if req.Plan.Mode == models.LoadModeOverwrite || req.Plan.Truncate {
		f.written[req.Plan.TargetName] = nil
	}
	f.written[req.Plan.TargetName] = append(f.written[req.Plan.TargetName], records...)
	f.plans = append(f.plans, req.Plan)
	return int64(len(records)), nil
}

// Written returns the records in a target table.
func (f *FakeTarget) Written(table string) []core.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Record(nil), f.written[table]...)
}

// Plans returns the plans of successful writes in completion order.
func (f *FakeTarget) Plans() []models.WritePlan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.WritePlan(nil), f.plans...)
}
