package core

import (
	"context"

	"github.com/ajitpratap0/porter/pkg/models"
)

// Connector is the base interface for all connectors. Connect and Disconnect
// bracket a run; connectors with nothing to open return nil.
type Connector interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// ReadRequest describes one dataset read.
type ReadRequest struct {
	Dataset *models.Dataset
	// Binds are the dataset's values_to_bind merged with the dynamic input
	// query result
	Binds map[string]any
	// Attempt is the scheduler retry count, 0 on the first try
	Attempt int
}

// WriteRequest describes one dataset write into a target.
type WriteRequest struct {
	Dataset *models.Dataset
	Plan    models.WritePlan
	Attempt int
}

// Source is implemented by connectors that can be read from.
type Source interface {
	Connector
	Read(ctx context.Context, req ReadRequest, out RecordWriter) error
}

// Target is implemented by connectors that can be written to. Write returns
// the number of records written.
type Target interface {
	Connector
	Write(ctx context.Context, req WriteRequest, in RecordReader) (int64, error)
}

// Pollable is implemented by connectors that can tell whether a dataset
// exists without reading it.
type Pollable interface {
	Connector
	Exists(ctx context.Context, dataset *models.Dataset) (bool, error)
}

// Executor is implemented by connectors that run ad hoc queries, such as
// dynamic input queries.
type Executor interface {
	Connector
	Execute(ctx context.Context, query string, binds map[string]any) ([]Record, error)
}
