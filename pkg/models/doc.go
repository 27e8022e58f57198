// Package models defines the Porter configuration documents: sources,
// targets, secrets backends, datasets and the pipeline that ties them
// together.
//
// Documents are decoded from YAML or JSON and then validated as a whole.
// Validation is fail-fast for the run but exhaustive for the document: every
// connector's args are checked against the schema registered for its variant,
// and every problem in the pipeline is reported in one error.
//
//	reg := schema.Default()
//	p, err := models.LoadPipeline("pipelines/daily.yaml", reg)
//	if err != nil {
//	    // err lists every invalid arg, missing secrets_source and dangling
//	    // reference in the document
//	}
//
// A validated pipeline is not modified afterwards.
package models
