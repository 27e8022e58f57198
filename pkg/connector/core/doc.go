// Package core defines the capability surface Porter connectors implement.
//
// Every connector implements Connector. The optional operations are separate
// interfaces, and callers check for them with Capabilities or Require before
// dispatching:
//
//   - Source: reads a dataset into a RecordWriter
//   - Target: writes records from a RecordReader
//   - Pollable: reports whether a dataset exists
//   - Executor: runs an ad hoc query and returns its rows
package core
