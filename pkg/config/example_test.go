package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/porter/pkg/config"
)

// ExampleDefaultRunOptions demonstrates the defaults of a run.
func ExampleDefaultRunOptions() {
	opts := config.DefaultRunOptions()

	fmt.Printf("Max Retries: %d\n", opts.MaxRetries)
	fmt.Printf("Staging Compression: %s\n", opts.StagingCompression)
	fmt.Printf("Dry Run: %v\n", opts.DryRun)

	// Output:
	// Max Retries: 3
	// Staging Compression: zstd
	// Dry Run: false
}

// ExampleRunOptions_Validate shows how to validate options before a run.
func ExampleRunOptions_Validate() {
	opts := config.DefaultRunOptions()
	opts.MaxRetries = 5
	opts.MaxParallel = 8

	if err := opts.Validate(); err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	fmt.Println("Options are valid!")

	// Output:
	// Options are valid!
}

// ExampleDetectFormat shows that the extension decides the decoder.
func ExampleDetectFormat() {
	for _, path := range []string{"pipeline.yaml", "pipeline.json", "pipeline.toml"} {
		format, err := config.DetectFormat(path)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Println(format)
	}

	// Output:
	// yaml
	// json
	// unsupported_format: file type: ".toml" is not supported
}
