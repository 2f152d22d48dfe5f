package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intelliquery/intent-agent/internal/evaluation"
)

func evalCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	var minAccuracy float64

	cmd := &cobra.Command{
		Use:   "eval <dataset>",
		Short: "Score the pipeline against a labelled YAML or JSON dataset",
		Long: `eval runs every dataset item through the pipeline and reports intent
accuracy, workspace accuracy, exact matches and the fallback rate. The summary
is stored in the audit database unless --no-audit is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset, err := evaluation.LoadDataset(args[0])
			if err != nil {
				return err
			}

			rt, err := loadRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			var store evaluation.RunStore
			if rt.Store != nil {
				store = rt.Store
			}
			evaluator := evaluation.NewEvaluator(rt.Orchestrator, store)

			report, err := evaluator.RunDatasetEvaluation(cmd.Context(), dataset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, evaluator.GenerateReport(report))
			}

			if report.IntentAccuracy < minAccuracy {
				return fmt.Errorf("intent accuracy %.3f is below the required %.3f", report.IntentAccuracy, minAccuracy)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0, "fail when intent accuracy is below this value")
	return cmd
}
