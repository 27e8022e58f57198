// Package config provides configuration document loading for Porter.
//
// # Documents
//
// Pipeline, source, target and secrets backend documents are YAML or JSON.
// The encoding is chosen from the file extension before the file is read:
//
//	.yaml, .yml  gopkg.in/yaml.v3
//	.json        github.com/goccy/go-json
//
// Any other extension fails with errors.ErrorTypeUnsupportedFormat and the
// file is never opened.
//
// # Environment Variable Substitution
//
// ${VAR_NAME} references are replaced with the environment value before
// decoding, so credentials can stay out of the documents:
//
//	source:
//	  name: warehouse
//	  source_type: database
//	  args:
//	    driver: postgres
//	    hostname: ${PG_HOST}
//	    password: ${PG_PASSWORD}
//
// Unset variables become empty strings.
//
// # Run Options
//
// RunOptions carries dry-run, debug, retry budget and staging settings for a
// single run. See DefaultRunOptions for defaults.
package config
