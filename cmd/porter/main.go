// Command porter validates and runs declarative ETL pipelines.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ajitpratap0/porter/pkg/logger"

	// Register every connector and secrets backend schema
	_ "github.com/ajitpratap0/porter/pkg/connector/all"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	err := newRootCmd().Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
