package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/pipeline"
)

func classifyCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	var locale string

	cmd := &cobra.Command{
		Use:   "classify <query...>",
		Short: "Run one query through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			env := rt.Orchestrator.Run(cmd.Context(), pipeline.Query{
				Text:       strings.Join(args, " "),
				Locale:     locale,
				ReceivedAt: time.Now().UTC(),
			})

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(env)
			}
			return printEnvelope(out, env)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response envelope as JSON")
	cmd.Flags().StringVar(&locale, "locale", "", "locale hint passed with the query")
	return cmd
}

func printEnvelope(w io.Writer, env *pipeline.Envelope) error {
	if !env.Success {
		_, err := fmt.Fprintf(w, "error: %s (%s)\n", env.Error.Message, env.Error.Code)
		return err
	}

	a := env.IntentAnalysis
	fmt.Fprintf(w, "intent:           %s\n", a.IntentType)
	fmt.Fprintf(w, "workspaces:       %s\n", strings.Join(a.Workspaces, ", "))
	fmt.Fprintf(w, "confidence:       %.2f\n", a.Confidence)
	fmt.Fprintf(w, "query type:       %s\n", a.QueryType)
	fmt.Fprintf(w, "time sensitivity: %s\n", a.TimeSensitivity)
	fmt.Fprintf(w, "rationale:        %s\n", a.Rationale)

	for _, category := range entities.Categories() {
		if values := a.Entities.Get(category); len(values) > 0 {
			fmt.Fprintf(w, "  %-14s %s\n", category+":", strings.Join(values, ", "))
		}
	}

	if m := env.Metadata; m != nil {
		fmt.Fprintf(w, "provider:         %s (attempts %d, repairs %d)\n", m.Provider, m.LLMAttempts, m.RepairAttempts)
		if m.FallbackUsed {
			fmt.Fprintln(w, "fallback:         classifier")
		}
		for _, d := range m.Degradations {
			fmt.Fprintf(w, "degraded:         %s %s: %s\n", d.Stage, d.Code, d.Message)
		}
		_, err := fmt.Fprintf(w, "processing time:  %.3fs\n", m.ProcessingTime)
		return err
	}
	return nil
}
