package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/porter/pkg/config"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

type validateFlags struct {
	pipeline       string
	source         string
	target         string
	secretsBackend string
	output         string
}

func newValidateCmd() *cobra.Command {
	var flags validateFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline or connector document without running it",
		Long: `Validate checks a pipeline document, or a standalone source, target or
secrets backend document, against the args schema of its connector variant.

With --output a standalone connector document is written back with every
default filled in.`,
		Example: `  porter validate -f pipeline.yaml
  porter validate --source landing.yaml
  porter validate --target warehouse.yaml --output warehouse.resolved.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.pipeline, "file", "f", "", "Pipeline document (.yaml, .yml or .json)")
	f.StringVar(&flags.source, "source", "", "Standalone source document")
	f.StringVar(&flags.target, "target", "", "Standalone target document")
	f.StringVar(&flags.secretsBackend, "secrets-backend", "", "Standalone secrets backend document")
	f.StringVarP(&flags.output, "output", "o", "", "Write the resolved connector document here")
	cmd.MarkFlagsMutuallyExclusive("file", "source", "target", "secrets-backend")
	cmd.MarkFlagsMutuallyExclusive("file", "output")
	return cmd
}

func runValidate(cmd *cobra.Command, flags validateFlags) error {
	reg := schema.Default()
	out := cmd.OutOrStdout()

	var (
		doc  any
		conn *models.ConnectorConfig
		kind string
	)
	switch {
	case flags.pipeline != "":
		p, err := models.LoadPipeline(flags.pipeline, reg)
		if err != nil {
			return err
		}
		printPipeline(cmd, p)
		return nil
	case flags.source != "":
		s, err := models.LoadSourceConfig(flags.source, reg)
		if err != nil {
			return err
		}
		doc, conn, kind = s, &s.ConnectorConfig, string(s.Variant())
	case flags.target != "":
		t, err := models.LoadTargetConfig(flags.target, reg)
		if err != nil {
			return err
		}
		doc, conn, kind = t, &t.ConnectorConfig, string(t.Variant())
	case flags.secretsBackend != "":
		b, err := models.LoadSecretsBackend(flags.secretsBackend, reg)
		if err != nil {
			return err
		}
		doc, conn, kind = b, &b.ConnectorConfig, string(b.Variant())
	default:
		return fmt.Errorf("one of --file, --source, --target or --secrets-backend is required")
	}

	fmt.Fprintf(out, "%s %q is valid\n", kind, conn.Name)
	if flags.output == "" {
		return nil
	}
	raw, err := schema.ToRaw(conn.Args)
	if err != nil {
		return err
	}
	conn.RawArgs = raw
	if err := config.Save(flags.output, doc); err != nil {
		return err
	}
	fmt.Fprintf(out, "resolved document written to %s\n", flags.output)
	return nil
}

func printPipeline(cmd *cobra.Command, p *models.PipelineConfig) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pipeline %q is valid\n", p.Name)
	fmt.Fprintf(out, "  source: %s (%s)\n", p.Source.Name, p.Source.Variant())
	for _, s := range p.LookupSources {
		fmt.Fprintf(out, "  lookup source: %s (%s)\n", s.Name, s.Variant())
	}
	for _, d := range p.Datasets {
		policy := d.MissingPolicy()
		fmt.Fprintf(out, "  dataset: %s [%s, on missing: %s]\n", d.Name, d.Kind(), policy.Action)
	}
	for _, plan := range p.WritePlans() {
		truncate := ""
		if plan.Truncate {
			truncate = ", truncate"
		}
		fmt.Fprintf(out, "  write: %s -> %s.%s (%s%s)\n", plan.Dataset, plan.Target, plan.TargetName, plan.Mode, truncate)
	}
}
