package trend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cinetrack/internal/domain"
	"cinetrack/internal/domain/ports"
	"cinetrack/internal/metrics"
	"cinetrack/internal/retry"
)

const defaultMaxScan = 5000

var ErrReconcileInProgress = errors.New("reconciliation already running")

// ReconciliationPartialFailure is returned when a pass stopped part way.
// Report holds the work completed before the failing step; groups before
// MovieID are merged, later groups are untouched.
type ReconciliationPartialFailure struct {
	Report  domain.ReconcileReport
	MovieID int
	Step    string
	Err     error
}

func (e *ReconciliationPartialFailure) Error() string {
	return fmt.Sprintf("%s: %s movie %d after %d groups merged, %d records removed: %v",
		domain.ErrReconciliationPartial, e.Step, e.MovieID, e.Report.GroupsMerged, e.Report.RecordsRemoved, e.Err)
}

func (e *ReconciliationPartialFailure) Unwrap() []error {
	return []error{domain.ErrReconciliationPartial, e.Err}
}

// MergePlan describes how one duplicate group collapses into its canonical record.
type MergePlan struct {
	MovieID   int                     `json:"movieId"`
	Canonical domain.TrendAggregate   `json:"canonical"`
	Remove    []domain.TrendAggregate `json:"remove"`
	Patch     domain.AggregatePatch   `json:"-"`
}

// PlanMerges groups records by movie id and plans a merge for every group
// with more than one member, in ascending movie id order.
//
// The canonical record is the member touched last (UpdatedAt, falling back
// to CreatedAt), ties going to the lowest id, among the members no other
// member lists in its MergedIDs. Counts of members already listed in
// another member's MergedIDs are not added again.
func PlanMerges(records []domain.TrendAggregate) []MergePlan {
	groups := make(map[int][]domain.TrendAggregate)
	for _, record := range records {
		groups[record.MovieID] = append(groups[record.MovieID], record)
	}

	movieIDs := make([]int, 0, len(groups))
	for movieID, members := range groups {
		if len(members) > 1 {
			movieIDs = append(movieIDs, movieID)
		}
	}
	sort.Ints(movieIDs)

	plans := make([]MergePlan, 0, len(movieIDs))
	for _, movieID := range movieIDs {
		plans = append(plans, planGroup(movieID, groups[movieID]))
	}
	return plans
}

func planGroup(movieID int, members []domain.TrendAggregate) MergePlan {
	canonical := pickCanonical(members)

	chronological := append([]domain.TrendAggregate(nil), members...)
	domain.SortChronological(chronological)

	alreadyMerged := make(map[string]struct{})
	for _, member := range members {
		for _, id := range member.MergedIDs {
			alreadyMerged[id] = struct{}{}
		}
	}

	count := 0
	termLists := make([][]string, 0, len(chronological))
	mergedIDs := make([][]string, 0, len(chronological)+1)
	lastSearchedAt := time.Time{}
	remove := make([]domain.TrendAggregate, 0, len(members)-1)
	for _, member := range chronological {
		termLists = append(termLists, member.SearchTerms)
		mergedIDs = append(mergedIDs, member.MergedIDs)
		if member.LastSearchedAt.After(lastSearchedAt) {
			lastSearchedAt = member.LastSearchedAt
		}
		if _, folded := alreadyMerged[member.ID]; !folded || member.ID == canonical.ID {
			count += member.Count
		}
		if member.ID != canonical.ID {
			remove = append(remove, member)
		}
	}
	removedIDs := make([]string, 0, len(remove))
	for _, member := range remove {
		removedIDs = append(removedIDs, member.ID)
	}
	mergedIDs = append(mergedIDs, removedIDs)

	terms := mergeTerms(termLists...)
	lastTerm := canonical.LastSearchTerm
	if len(terms) > 0 {
		lastTerm = terms[len(terms)-1]
	}

	return MergePlan{
		MovieID:   movieID,
		Canonical: canonical,
		Remove:    remove,
		Patch: domain.AggregatePatch{
			SearchTerms:    terms,
			LastSearchTerm: lastTerm,
			Count:          count,
			LastSearchedAt: lastSearchedAt,
			MergedIDs:      withoutID(mergeTerms(mergedIDs...), canonical.ID),
		},
	}
}

func pickCanonical(members []domain.TrendAggregate) domain.TrendAggregate {
	absorbed := make(map[string]struct{})
	for _, member := range members {
		for _, id := range member.MergedIDs {
			if id != member.ID {
				absorbed[id] = struct{}{}
			}
		}
	}
	// Members folded into another one are never canonical.
	candidates := make([]domain.TrendAggregate, 0, len(members))
	for _, member := range members {
		if _, ok := absorbed[member.ID]; !ok {
			candidates = append(candidates, member)
		}
	}
	if len(candidates) == 0 {
		candidates = members
	}

	best := candidates[0]
	for _, member := range candidates[1:] {
		bestTouched, touched := best.LastTouched(), member.LastTouched()
		switch {
		case touched.After(bestTouched):
			best = member
		case touched.Equal(bestTouched) && member.ID < best.ID:
			best = member
		}
	}
	return best
}

func withoutID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// Reconciler merges aggregates fragmented by concurrent RecordSearch calls.
// Passes are idempotent: a second pass with no intervening writes removes
// nothing and leaves canonical records unchanged.
type Reconciler struct {
	store    ports.AggregateStore
	executor *retry.Executor
	logger   *slog.Logger
	maxScan  int
	tracer   trace.Tracer

	running sync.Mutex
}

type ReconcilerOption func(*Reconciler)

func WithReconcileExecutor(executor *retry.Executor) ReconcilerOption {
	return func(r *Reconciler) {
		if executor != nil {
			r.executor = executor
		}
	}
}

func WithReconcileLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxScan bounds how many aggregates one pass loads.
func WithMaxScan(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxScan = n
		}
	}
}

func NewReconciler(store ports.AggregateStore, options ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:   store,
		logger:  slog.Default(),
		maxScan: defaultMaxScan,
		tracer:  otel.Tracer(tracerName),
	}
	for _, option := range options {
		if option != nil {
			option(r)
		}
	}
	if r.executor == nil {
		r.executor = retry.New(retry.DefaultConfig(), retry.WithLogger(r.logger))
	}
	return r
}

// Plan loads the collection and returns the merges a pass would perform
// without writing anything.
func (r *Reconciler) Plan(ctx context.Context) ([]MergePlan, int, error) {
	records, err := retry.Do(ctx, r.executor, "trend.reconcile.list", func(ctx context.Context) ([]domain.TrendAggregate, error) {
		return r.store.ListAll(ctx, r.maxScan)
	})
	if err != nil {
		return nil, 0, err
	}
	if len(records) >= r.maxScan {
		r.logger.Warn("reconcile scan hit limit, some duplicates may wait for a later pass",
			slog.Int("maxScan", r.maxScan))
	}
	return PlanMerges(records), len(records), nil
}

// Reconcile runs one pass. On a failed write it stops and returns a
// *ReconciliationPartialFailure with the counts completed so far; rerunning
// the pass is safe.
func (r *Reconciler) Reconcile(ctx context.Context) (domain.ReconcileReport, error) {
	if !r.running.TryLock() {
		return domain.ReconcileReport{}, ErrReconcileInProgress
	}
	defer r.running.Unlock()

	ctx, span := r.tracer.Start(ctx, "trend.Reconcile")
	defer span.End()

	started := time.Now()
	var report domain.ReconcileReport
	finish := func(status string, err error) (domain.ReconcileReport, error) {
		report.Duration = time.Since(started)
		metrics.ReconcileRunsTotal.WithLabelValues(status).Inc()
		metrics.ReconcileDuration.Observe(report.Duration.Seconds())
		span.SetAttributes(
			attribute.Int("reconcile.groups", report.DuplicateGroupsFound),
			attribute.Int("reconcile.removed", report.RecordsRemoved),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			metrics.ReconcileLastSuccess.SetToCurrentTime()
		}
		return report, err
	}

	plans, scanned, err := r.Plan(ctx)
	if err != nil {
		return finish("error", err)
	}
	report.RecordsScanned = scanned
	report.DuplicateGroupsFound = len(plans)

	for _, plan := range plans {
		removed, step, err := r.apply(ctx, plan)
		report.RecordsRemoved += removed
		metrics.ReconcileRecordsRemovedTotal.Add(float64(removed))
		if err != nil {
			partial := &ReconciliationPartialFailure{
				Report:  report,
				MovieID: plan.MovieID,
				Step:    step,
				Err:     err,
			}
			partial.Report.Duration = time.Since(started)
			r.logger.Warn("reconcile stopped part way",
				slog.Int("movieId", plan.MovieID),
				slog.String("step", step),
				slog.Int("groupsMerged", report.GroupsMerged),
				slog.Int("recordsRemoved", report.RecordsRemoved),
				slog.String("error", err.Error()),
			)
			_, _ = finish("partial", partial)
			return partial.Report, partial
		}
		if step != "skipped" {
			report.GroupsMerged++
			metrics.ReconcileGroupsMergedTotal.Inc()
		}
	}

	r.logger.Info("reconcile finished",
		slog.Int("scanned", report.RecordsScanned),
		slog.Int("duplicateGroups", report.DuplicateGroupsFound),
		slog.Int("recordsRemoved", report.RecordsRemoved),
		slog.Duration("elapsed", time.Since(started)),
	)
	return finish("ok", nil)
}

// apply writes the merged values to the canonical record, then deletes the
// other members. It returns how many records it removed and the step it was
// on when it stopped.
func (r *Reconciler) apply(ctx context.Context, plan MergePlan) (int, string, error) {
	err := r.executor.Run(ctx, "trend.reconcile.update", func(ctx context.Context) error {
		_, err := r.store.Update(ctx, plan.Canonical.ID, plan.Patch)
		return notFoundIsPermanent(err)
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Another instance already merged this group.
		r.logger.Debug("canonical aggregate vanished, skipping group",
			slog.Int("movieId", plan.MovieID),
			slog.String("id", plan.Canonical.ID))
		return 0, "skipped", nil
	}
	if err != nil {
		return 0, "update", err
	}

	removed := 0
	for _, member := range plan.Remove {
		err := r.executor.Run(ctx, "trend.reconcile.delete", func(ctx context.Context) error {
			return notFoundIsPermanent(r.store.Delete(ctx, member.ID))
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, "delete", err
		}
		removed++
	}
	return removed, "merged", nil
}

func notFoundIsPermanent(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return retry.Permanent(err)
	}
	return err
}
