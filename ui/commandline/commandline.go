// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: hyperparameter
// settings flags, a progress bar with the running metrics, and a final metrics report.
package commandline

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/cutmix/ml/train/metrics"
)

// ReportMetrics writes to w a table with the means of the metrics tracked for each loader during its last run.
func ReportMetrics(w io.Writer, tracker *metrics.Tracker) error {
	for _, loader := range tracker.Loaders() {
		table := lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			})
		for _, name := range tracker.Names(loader) {
			table.Row(name, tracker.PrettyPrint(loader, name))
		}
		if _, err := fmt.Fprintf(w, "Results on %s:\n%s\n", loader, table.String()); err != nil {
			return err
		}
	}
	return nil
}
