// Package connector is the root of Porter's connector tree.
//
// # Architecture Overview
//
// The connector packages are organized as follows:
//
//   - core: the capability interfaces. Every connector implements Connector;
//     Source, Target, Pollable and Executor are optional and discovered at
//     runtime with core.Capabilities before any I/O happens.
//
//   - registry: binds each variant (source.file, target.database, ...) to
//     an args schema and a factory. Connector packages register themselves
//     in init.
//
//   - file, database, api, stream: the built-in connectors. secrets declares
//     the secrets backend schemas, which have no connector.
//
//   - all: imports every built-in package for its registration.
//
// # Creating Connectors
//
// Pipelines create connectors through the registry with args already
// validated against the variant's schema:
//
//	args, err := schema.Validate(schema.VariantOf(schema.KindTarget, "file"), raw)
//	if err != nil {
//	    return err
//	}
//	conn, err := registry.Create(variant, registry.Config{Name: "lake", Args: args})
//	if err != nil {
//	    return err
//	}
//	target, err := core.AsTarget(conn)
//
// # Implementing a Connector
//
// A connector package declares its args as a struct with yaml tags,
// optionally `required:"true"` and `default:"..."` tags and a Validate
// method, then registers a factory:
//
//	func init() {
//	    registry.MustRegister(schema.VariantOf(schema.KindSource, "mysource"), Args{}, New,
//	        "Reads from my system")
//	}
//
// Errors returned from Connect, Read and Write should be *errors.Error
// values so that the runner can log and classify them.
package connector
