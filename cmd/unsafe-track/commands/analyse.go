// Package commands implements CLI command handlers for unsafe-track.
package commands

import (
	"fmt"
	"os"
	"regexp"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/DCNick3/unsafe-track/internal/analysis"
	"github.com/DCNick3/unsafe-track/internal/observability"
	"github.com/DCNick3/unsafe-track/internal/plot"
	"github.com/DCNick3/unsafe-track/internal/rustscan"
)

// AnalyseCommand holds flags for the one-shot analyse command.
type AnalyseCommand struct {
	filter   string
	xCoord   string
	yCoord   string
	htmlOut  string
	logLevel string
}

// NewAnalyseCommand creates the analyse cobra command.
func NewAnalyseCommand() *cobra.Command {
	ac := &AnalyseCommand{}

	cmd := &cobra.Command{
		Use:   "analyse <repo-url>",
		Short: "Analyze one repository and print the per-commit series",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return ac.run(args[0])
		},
	}

	cmd.Flags().StringVar(&ac.filter, "filter", `\.rs$`, "regexp selecting file paths to analyze")
	cmd.Flags().StringVar(&ac.xCoord, "x-coord", "index", "x axis: index or date")
	cmd.Flags().StringVar(&ac.yCoord, "y-coord", "functions", "y axis: functions or expressions")
	cmd.Flags().StringVar(&ac.htmlOut, "html-out", "", "write the chart to this HTML file")
	cmd.Flags().StringVar(&ac.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	return cmd
}

func (ac *AnalyseCommand) run(repoURL string) error {
	shutdown, err := observability.Init(observability.Config{LogLevel: ac.logLevel})
	if err != nil {
		return err
	}

	ctx, stop := contextWithSignals()
	defer stop()

	defer func() { _ = shutdown(ctx) }() //nolint:errcheck // best-effort flush

	filter, err := regexp.Compile(ac.filter)
	if err != nil {
		return fmt.Errorf("bad --filter: %w", err)
	}

	x, err := plot.ParseXCoord(ac.xCoord)
	if err != nil {
		return err
	}

	y, err := plot.ParseYCoord(ac.yCoord)
	if err != nil {
		return err
	}

	scanner, err := rustscan.New()
	if err != nil {
		return err
	}

	// One-shot runs see every blob exactly once, so memoization across
	// runs buys nothing.
	pipeline := analysis.NewPipeline(scanner, 0)

	results, _, err := pipeline.AnalyzeRepo(ctx, repoURL, filter)
	if err != nil {
		return err
	}

	printResults(results, y)

	if ac.htmlOut != "" {
		return writeChart(ac.htmlOut, repoURL, results, x, y)
	}

	return nil
}

// printResults renders the series as a terminal table.
func printResults(results []analysis.CommitResult, y plot.YCoord) {
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"#", "commit", "date", "safe", "unsafe", "failed files"})

	for _, result := range results {
		counts := y.Counts(result.Counters)

		unsafeCell := green("0")
		if counts.Unsafe > 0 {
			unsafeCell = red(fmt.Sprintf("%d", counts.Unsafe))
		}

		tbl.AppendRow(table.Row{
			result.Index,
			result.ID.String()[:8],
			result.Time.Format("2006-01-02"),
			green(fmt.Sprintf("%d", counts.Safe)),
			unsafeCell,
			result.FailedFiles,
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d commits", len(results))})
	tbl.Render()
}

func writeChart(path, title string, results []analysis.CommitResult, x plot.XCoord, y plot.YCoord) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	renderErr := plot.RenderHTML(out, title, results, x, y)

	closeErr := out.Close()
	if renderErr != nil {
		return renderErr
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", path, closeErr)
	}

	return nil
}
