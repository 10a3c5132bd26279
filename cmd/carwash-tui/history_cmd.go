package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/stevenijones/reactcarwashsim/internal/results"
	"github.com/stevenijones/reactcarwashsim/internal/storage"
)

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			store, err := storage.NewStore(cfg.RunsDir)
			if err != nil {
				return fmt.Errorf("initialize run storage: %w", err)
			}
			items, err := store.List(limit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 for all)")
	return cmd
}

func renderHistory(w io.Writer, items []storage.RunSummary) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No saved runs.")
		return
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			filepath.Base(item.Directory),
			strconv.Itoa(item.Params.RunLength),
			strconv.Itoa(item.Params.NumSystems),
			strconv.Itoa(item.Params.MaxQueueLength),
			strconv.FormatFloat(item.Params.ArrivalRate, 'f', -1, 64),
			results.FormatCount(item.RenegedCars),
			results.FormatWait(item.AvgWaitTime),
			results.FormatWait(item.LongestWaitTime),
		})
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("RUN", "LENGTH", "BAYS", "MAX QUEUE", "ARRIVAL", "RENEGED", "AVG WAIT", "LONGEST").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}
