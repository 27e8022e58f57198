// Package all registers every built-in connector and secrets backend schema.
package all

import (
	// Imported for their init registration.
	_ "github.com/ajitpratap0/porter/pkg/connector/api"
	_ "github.com/ajitpratap0/porter/pkg/connector/database"
	_ "github.com/ajitpratap0/porter/pkg/connector/file"
	_ "github.com/ajitpratap0/porter/pkg/connector/secrets"
	_ "github.com/ajitpratap0/porter/pkg/connector/stream"
)
