package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/dataset"
	"github.com/secfix-research/maintscan/report"
	"github.com/spf13/cobra"
)

func (a *app) reportCommand() *cobra.Command {
	var reports string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export scores and write the statistical reports",
	}
	cmd.PersistentFlags().StringVar(&reports, "reports", "reports", "directory for report CSV files and charts")
	reportsDir := func() (string, error) { return homedir.Expand(reports) }

	cmd.AddCommand(
		a.reportExportCommand(),
		a.reportComparisonCommand(reportsDir),
		a.groupedReportCommand("guideline <results.csv>", "Compare changes per guideline", reportsDir,
			func(t *dataset.Table) ([]report.GroupResult, report.Kind, error) {
				return report.ByGuideline(t), report.KindGuideline, nil
			}),
		a.groupedReportCommand("language <results.csv>", "Compare changes per language", reportsDir,
			func(t *dataset.Table) ([]report.GroupResult, report.Kind, error) {
				return report.ByLanguage(t), report.KindLanguage, nil
			}),
		a.groupedReportCommand("severity <results.csv>", "Compare changes per severity", reportsDir,
			func(t *dataset.Table) ([]report.GroupResult, report.Kind, error) {
				return report.BySeverity(t), report.KindSeverity, nil
			}),
		a.reportCWECommand(reportsDir),
		a.reportDistributionCommand(reportsDir),
		a.reportDescribeCommand(),
	)
	return cmd
}

func (a *app) reportExportCommand() *cobra.Command {
	var secdb, regdb, results, baseline string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Score the cached reports of the datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secdb == "" && regdb == "" {
				return fmt.Errorf("give --secdb, --regdb or both")
			}
			if baseline != "random" && baseline != "size" {
				return fmt.Errorf("baseline must be random or size, got %q", baseline)
			}
			store, release, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			reports := cache.NewReports(store)

			if secdb != "" {
				out := report.ResultPath(results, false, baseline)
				if _, err := report.ExportFile(cmd.Context(), secdb, out, reports, false, a.log); err != nil {
					return err
				}
			}
			if regdb != "" {
				out := report.ResultPath(results, true, baseline)
				if _, err := report.ExportFile(cmd.Context(), regdb, out, reports, true, a.log); err != nil {
					return err
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&secdb, "secdb", "", "security dataset")
	flags.StringVar(&regdb, "regdb", "", "regular dataset")
	flags.StringVar(&results, "results", "results", "results directory")
	flags.StringVar(&baseline, "baseline", "random", "regular baseline name: random or size")
	return cmd
}

func (a *app) reportComparisonCommand(reportsDir func() (string, error)) *cobra.Command {
	var results, baseline string
	cmd := &cobra.Command{
		Use:   "comparison",
		Short: "Compare security changes with regular changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sec, err := dataset.ReadCSV(report.ResultPath(results, false, baseline))
			if err != nil {
				return err
			}
			reg, err := dataset.ReadCSV(report.ResultPath(results, true, baseline))
			if err != nil {
				return err
			}
			dir, err := reportsDir()
			if err != nil {
				return err
			}
			return report.Write(dir, report.KindComparison, report.CompareChanges(sec, reg), a.log)
		},
	}
	cmd.Flags().StringVar(&results, "results", "results", "results directory written by report export")
	cmd.Flags().StringVar(&baseline, "baseline", "random", "regular baseline name")
	return cmd
}

type groupFunc func(t *dataset.Table) ([]report.GroupResult, report.Kind, error)

func (a *app) groupedReportCommand(use, short string, reportsDir func() (string, error), group groupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := dataset.ReadCSV(args[0])
			if err != nil {
				return err
			}
			results, kind, err := group(t)
			if err != nil {
				return err
			}
			dir, err := reportsDir()
			if err != nil {
				return err
			}
			return report.Write(dir, kind, results, a.log)
		},
	}
}

func (a *app) reportCWECommand(reportsDir func() (string, error)) *cobra.Command {
	var composites string
	var only bool
	cmd := a.groupedReportCommand("cwe <results.csv>", "Compare changes per CWE composite", reportsDir,
		func(t *dataset.Table) ([]report.GroupResult, report.Kind, error) {
			c, err := report.ReadComposites(composites)
			if err != nil {
				return nil, "", err
			}
			kind := report.KindCWE
			if only {
				kind = report.KindCWESpec
			}
			return report.ByCWE(t, c, only), kind, nil
		})
	cmd.Flags().StringVar(&composites, "composites", "CWE", "composites file: group, then member CWEs, tab separated")
	cmd.Flags().BoolVar(&only, "only", false, "drop fixes whose CWE is not in the composites file")
	return cmd
}

func (a *app) reportDistributionCommand(reportsDir func() (string, error)) *cobra.Command {
	var column string
	cmd := &cobra.Command{
		Use:   "distribution <csv>",
		Short: "Chart the share of each value of a column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := dataset.ReadCSV(args[0])
			if err != nil {
				return err
			}
			if !t.HasColumn(column) {
				return fmt.Errorf("%s has no column %q", args[0], column)
			}
			dir, err := reportsDir()
			if err != nil {
				return err
			}
			path := filepath.Join(dir, strings.ToLower(column)+"_dist.pdf")
			if err := report.Distribution(path, t, column, report.ChartSize{Width: 10, Height: 8}); err != nil {
				return err
			}
			a.log.WithField("chart", path).Info("distribution written")
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", "language", "column to chart, such as language or domain")
	return cmd
}

func (a *app) reportDescribeCommand() *cobra.Command {
	var out string
	var columns []string
	cmd := &cobra.Command{
		Use:   "describe <projects.csv>",
		Short: "Summarize project statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := dataset.ReadCSV(args[0])
			if err != nil {
				return err
			}
			var cols []string
			for _, c := range columns {
				if t.HasColumn(c) {
					cols = append(cols, c)
				}
			}
			return report.DescribeColumns(t, cols).WriteCSV(out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "dataset_statistics.csv", "output CSV")
	cmd.Flags().StringSliceVar(&columns, "columns", report.ProjectColumns, "numeric columns to summarize")
	return cmd
}
