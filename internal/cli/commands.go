package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-json"

	"cinetrack/internal/app"
	"cinetrack/internal/domain"
	"cinetrack/internal/retry"
	"cinetrack/internal/trend"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

type ReconcileCommand struct {
	DryRun bool `long:"dry-run" description:"Print the merge plan without writing"`

	rt *runtime
}

func (c *ReconcileCommand) Execute(_ []string) error {
	return c.rt.withStores(func(ctx context.Context, stores app.Stores, retryCfg retry.Config, logger *slog.Logger) error {
		reconciler := trend.NewReconciler(stores.Trends,
			trend.WithReconcileExecutor(retry.New(retryCfg, retry.WithLogger(logger))),
			trend.WithReconcileLogger(logger),
		)
		if c.DryRun {
			plans, scanned, err := reconciler.Plan(ctx)
			if err != nil {
				return err
			}
			return c.printPlan(plans, scanned)
		}

		report, err := reconciler.Reconcile(ctx)
		var partial *trend.ReconciliationPartialFailure
		if err != nil && !errors.As(err, &partial) {
			return err
		}
		if printErr := c.printReport(report); printErr != nil {
			return printErr
		}
		return err
	})
}

func (c *ReconcileCommand) printPlan(plans []trend.MergePlan, scanned int) error {
	if c.rt.globals.JSON {
		if plans == nil {
			plans = []trend.MergePlan{}
		}
		return writeJSON(c.rt, map[string]any{"recordsScanned": scanned, "groups": plans})
	}
	if len(plans) == 0 {
		_, err := fmt.Fprintf(c.rt.out, "scanned %d records, no duplicates\n", scanned)
		return err
	}
	rows := make([][]string, 0, len(plans))
	for _, plan := range plans {
		removed := make([]string, 0, len(plan.Remove))
		for _, rec := range plan.Remove {
			removed = append(removed, rec.ID)
		}
		rows = append(rows, []string{
			strconv.Itoa(plan.MovieID),
			plan.Canonical.Title,
			plan.Canonical.ID,
			strings.Join(removed, ","),
			strconv.Itoa(plan.Patch.Count),
		})
	}
	fmt.Fprintf(c.rt.out, "scanned %d records, %d duplicate groups\n", scanned, len(plans))
	return renderTable(c.rt, []string{"MOVIE", "TITLE", "KEEP", "REMOVE", "COUNT"}, rows)
}

func (c *ReconcileCommand) printReport(report domain.ReconcileReport) error {
	if c.rt.globals.JSON {
		return writeJSON(c.rt, report)
	}
	_, err := fmt.Fprintf(c.rt.out, "scanned %d records, merged %d of %d duplicate groups, removed %d records in %s\n",
		report.RecordsScanned, report.GroupsMerged, report.DuplicateGroupsFound, report.RecordsRemoved,
		report.Duration.Round(time.Millisecond))
	return err
}

type TopCommand struct {
	Limit int `short:"n" long:"limit" default:"10" description:"Number of movies to print"`

	rt *runtime
}

func (c *TopCommand) Execute(_ []string) error {
	return c.rt.withStores(func(ctx context.Context, stores app.Stores, retryCfg retry.Config, logger *slog.Logger) error {
		svc := trend.NewService(stores.Trends,
			trend.WithExecutor(retry.New(retryCfg, retry.WithLogger(logger))),
			trend.WithLogger(logger),
		)
		rows, err := svc.TopTrending(ctx, c.Limit)
		if err != nil {
			return err
		}
		if c.rt.globals.JSON {
			if rows == nil {
				rows = []domain.TrendAggregate{}
			}
			return writeJSON(c.rt, rows)
		}
		if len(rows) == 0 {
			_, err := fmt.Fprintln(c.rt.out, "no searches recorded yet")
			return err
		}
		lines := make([][]string, 0, len(rows))
		for i, row := range rows {
			lines = append(lines, []string{
				strconv.Itoa(i + 1),
				strconv.Itoa(row.MovieID),
				row.Title,
				strconv.Itoa(row.Count),
				row.LastSearchTerm,
			})
		}
		return renderTable(c.rt, []string{"#", "MOVIE", "TITLE", "SEARCHES", "LAST TERM"}, lines)
	})
}

type RecordCommand struct {
	MovieID int    `long:"movie-id" required:"true" description:"Catalog id of the opened movie"`
	Title   string `long:"title" required:"true" description:"Movie title"`
	Release string `long:"release-date" description:"Release date, YYYY-MM-DD"`

	rt *runtime
}

func (c *RecordCommand) Execute(args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("record: missing search query")
	}
	return c.rt.withStores(func(ctx context.Context, stores app.Stores, retryCfg retry.Config, logger *slog.Logger) error {
		svc := trend.NewService(stores.Trends,
			trend.WithExecutor(retry.New(retryCfg, retry.WithLogger(logger))),
			trend.WithLogger(logger),
		)
		movie := domain.MovieSummary{ID: c.MovieID, Title: strings.TrimSpace(c.Title), ReleaseDate: c.Release}
		if err := svc.RecordSearch(ctx, query, movie); err != nil {
			return err
		}
		if c.rt.globals.JSON {
			return writeJSON(c.rt, map[string]any{"recorded": true, "movieId": c.MovieID, "query": query})
		}
		_, err := fmt.Fprintf(c.rt.out, "recorded %q for movie %d\n", query, c.MovieID)
		return err
	})
}

func renderTable(rt *runtime, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(rt.out, t.String())
	return err
}

func writeJSON(rt *runtime, payload any) error {
	encoder := json.NewEncoder(rt.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
