package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
)

// planDocument is the offline plan file. YAML is a superset of JSON, so both parse here.
type planDocument struct {
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	PlanType    string        `yaml:"planType"`
	Elements    plan.Elements `yaml:"elements"`
}

type evaluation struct {
	Title string `json:"title,omitempty"`
	plan.Report
	Complete bool `json:"complete"`
}

func newEvaluateCmd() *cobra.Command {
	var minScore int

	cmd := &cobra.Command{
		Use:   "evaluate <plan.yaml|plan.json|->",
		Short: "Score a plan file against the 12 mandatory elements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minScore < 0 || minScore > 100 {
				return withCode(exitUsage, fmt.Errorf("--min must be within 0..100, got %d", minScore))
			}
			in, closeFn, err := openInput(args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}
			defer closeFn()

			ev, err := evaluateDocument(in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(ev); err != nil {
				return err
			}
			if minScore > 0 && !ev.Meets(minScore) {
				return withCode(exitValidation, fmt.Errorf("completeness %d%% is below %d%%", ev.CompletenessScore, minScore))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&minScore, "min", 0, "Fail with exit code 2 when the score is below this value")
	return cmd
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func evaluateDocument(r io.Reader) (evaluation, error) {
	var doc planDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return evaluation{}, withCode(exitValidation, fmt.Errorf("parse plan: %w", err))
	}
	elements := doc.Elements.Normalize()
	if err := elements.Validate(); err != nil {
		return evaluation{}, withCode(exitValidation, err)
	}
	report := plan.Evaluate(elements)
	return evaluation{Title: doc.Title, Report: report, Complete: report.Complete()}, nil
}
