package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/porter/pkg/logger"
)

type globalFlags struct {
	logLevel  string
	logFormat string
	debug     bool
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "porter",
		Short: "Porter - declarative data pipelines",
		Long: `Porter loads datasets from files, databases, APIs and Kafka topics into
file and database targets. Pipelines are YAML or JSON documents that are fully
validated before any I/O happens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := flags.logLevel
			if flags.debug {
				level = "debug"
			}
			return logger.Init(logger.Config{
				Level:       level,
				Development: flags.debug,
				Encoding:    flags.logFormat,
			})
		},
	}

	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "console", "Log encoding (console, json)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Debug logging")

	root.AddCommand(
		newVersionCmd(),
		newListCmd(),
		newValidateCmd(),
		newRunCmd(),
		newGroupCmd("transform", "Transformation tooling"),
		newGroupCmd("source", "Source tooling"),
		newGroupCmd("govern", "Governance tooling"),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Porter v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// newGroupCmd creates a command namespace without subcommands yet.
func newGroupCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
}
