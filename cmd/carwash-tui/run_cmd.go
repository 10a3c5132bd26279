package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stevenijones/reactcarwashsim/internal/logging"
	"github.com/stevenijones/reactcarwashsim/internal/params"
	"github.com/stevenijones/reactcarwashsim/internal/results"
	"github.com/stevenijones/reactcarwashsim/internal/run"
	"github.com/stevenijones/reactcarwashsim/internal/storage"
)

// paramFlags maps each run flag to the field it edits.
var paramFlags = []struct {
	name  string
	field params.Field
}{
	{name: "run-length", field: params.FieldRunLength},
	{name: "num-systems", field: params.FieldNumSystems},
	{name: "max-queue-length", field: params.FieldMaxQueueLength},
	{name: "arrival-rate", field: params.FieldArrivalRate},
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	var (
		save       bool
		asJSON     bool
		paramsPath string
	)
	raw := make(map[string]*string, len(paramFlags))

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation without the TUI and print the results",
		Long: `Run submits a single simulation with the default parameters, overridden by
a --params file and then by the individual parameter flags. Values are sent
through the same validation as the TUI. A failed run exits with status 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			ctx := logging.WithLogger(cmd.Context(), logger)

			paramStore := params.NewStore()
			if paramsPath != "" {
				values, _, err := resolveStartupParams(paramsPath)
				if err != nil {
					return fmt.Errorf("load params: %w", err)
				}
				for field, value := range values {
					if err := paramStore.Set(field, value); err != nil {
						return err
					}
				}
			}
			for _, pf := range paramFlags {
				if cmd.Flags().Changed(pf.name) {
					if err := paramStore.Set(pf.field, *raw[pf.name]); err != nil {
						return err
					}
				}
			}

			svc, err := startEngine(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				_ = svc.Stop()
			}()

			controller := run.NewController(svc, paramStore,
				run.WithTimeout(cfg.RequestTimeout),
				run.WithLogger(logger),
			)
			outcome, err := controller.Run(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !outcome.Succeeded() {
				color.New(color.FgRed, color.Bold).Fprintf(out, "Run failed (%s): %s\n", outcome.Failure.Kind, outcome.Failure.Message)
				return errRunFailed
			}

			state := controller.State()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(struct {
					Params params.RunParameters `json:"params"`
					Result *results.Result     `json:"result"`
				}{state.Params, outcome.Result}); err != nil {
					return fmt.Errorf("encode result: %w", err)
				}
			} else {
				printResult(out, state, outcome.Result)
			}

			if save {
				store, err := storage.NewStore(cfg.RunsDir)
				if err != nil {
					return fmt.Errorf("initialize run storage: %w", err)
				}
				summary, err := store.SaveRun(state.Params, outcome.Result)
				if err != nil {
					return fmt.Errorf("save run: %w", err)
				}
				logger.Info("run bundle saved", "run_id", state.ID, "directory", summary.Directory)
				if !asJSON {
					color.New(color.FgGreen).Fprintf(out, "Saved to %s\n", summary.Directory)
				}
			}
			return nil
		},
	}

	for _, pf := range paramFlags {
		raw[pf.name] = cmd.Flags().String(pf.name, "", fmt.Sprintf("%s (default %s)", pf.field.Label(), params.Defaults().Raw()[pf.field]))
	}
	cmd.Flags().StringVar(&paramsPath, "params", "", "JSON file of parameters to start from")
	cmd.Flags().BoolVar(&save, "save", false, "save the run bundle under the runs directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the parameters and result as JSON")
	return cmd
}

func printResult(w io.Writer, state run.State, result *results.Result) {
	heading := color.New(color.FgCyan, color.Bold)
	value := color.New(color.FgHiWhite, color.Bold)
	muted := color.New(color.FgHiBlack)

	heading.Fprintf(w, "Run #%d succeeded in %s\n", state.ID, state.Elapsed().Round(time.Millisecond))
	muted.Fprintf(w, "%s\n\n", state.Params.String())

	fmt.Fprintf(w, "  Reneged cars:      %s\n", value.Sprint(results.FormatCount(result.Metrics.RenegedCars)))
	fmt.Fprintf(w, "  Average wait time: %s\n", value.Sprint(results.FormatWait(result.Metrics.AvgWaitTime)))
	fmt.Fprintf(w, "  Longest wait time: %s\n", value.Sprint(results.FormatWait(result.Metrics.LongestWaitTime)))
	fmt.Fprintln(w)
	for _, series := range result.AllSeries() {
		peak := 0.0
		for _, s := range series.Samples {
			if s.Value > peak {
				peak = s.Value
			}
		}
		muted.Fprintf(w, "  %-16s %5d samples, peak %s\n", series.Title(), series.Len(), results.FormatWait(peak))
	}
}
