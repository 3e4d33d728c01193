package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"portal/internal/flow/catalog"
	"portal/internal/flow/document"
	"portal/internal/flow/steps"
	"portal/pkg/domain"
)

func newRootCmd(out io.Writer) *cobra.Command {
	var catalogPath string

	root := &cobra.Command{
		Use:          "flowctl",
		Short:        "Inspect and dry-run government service flows",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&catalogPath, "catalog", "", "flow catalog YAML (defaults to the built-in catalog)")
	root.SetOut(out)

	load := func() (*catalog.Catalog, error) {
		if catalogPath == "" {
			return catalog.Default()
		}
		raw, err := os.ReadFile(catalogPath)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		return catalog.Load(raw, steps.NewRegistry())
	}

	root.AddCommand(newValidateCmd(load), newResolveCmd(load))
	return root
}

func newValidateCmd(load func() (*catalog.Catalog, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compile every flow in the catalog and list them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := load()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, def := range cat.All() {
				fmt.Fprintf(w, "%-28s %-14s rules=%d stages=%d\n", def.Key, def.Category, len(def.Rules), def.Stages.Len())
			}
			fmt.Fprintf(w, "ok: %d flows\n", len(cat.All()))
			return nil
		},
	}
}

type resolveOutput struct {
	Flow        string `json:"flow"`
	NextStep    string `json:"next_step"`
	IsStepValid bool   `json:"is_step_valid"`
	Rule        string `json:"rule,omitempty"`
	Done        bool   `json:"done"`
}

func newResolveCmd(load func() (*catalog.Catalog, error)) *cobra.Command {
	var flowKey string

	cmd := &cobra.Command{
		Use:   "resolve <document.json>",
		Short: "Resolve the next step of a flow for a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.ParseFlowKey(flowKey)
			if err != nil {
				return err
			}
			cat, err := load()
			if err != nil {
				return err
			}
			def, err := cat.Get(key)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			doc, err := document.Unmarshal(raw)
			if err != nil {
				return err
			}

			res := steps.Resolve(def.Chain, doc)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resolveOutput{
				Flow:        def.Key.String(),
				NextStep:    res.Key.String(),
				IsStepValid: res.IsStepValid,
				Rule:        res.Rule,
				Done:        res.Done(),
			})
		},
	}
	cmd.Flags().StringVar(&flowKey, "flow", "", "flow key to resolve")
	_ = cmd.MarkFlagRequired("flow")
	return cmd
}
