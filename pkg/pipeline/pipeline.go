// Package pipeline runs the churn feature pipeline: read the raw customer
// table, derive and clean features, publish labels with their split, publish
// features offline and online, and register on-demand functions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/chfs/pkg/catalog"
	"github.com/ethpandaops/chfs/pkg/features"
	"github.com/ethpandaops/chfs/pkg/featurestore"
	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/ethpandaops/chfs/pkg/observability"
	"github.com/ethpandaops/chfs/pkg/split"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Define static errors
var (
	ErrReaderRequired = errors.New("catalog reader is required")
	ErrStoreRequired  = errors.New("feature store client is required")
)

// Triggers
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerAPI       = "api"
)

// OnlinePublisher serves the latest feature snapshot per entity
type OnlinePublisher interface {
	Publish(ctx context.Context, table string, t *frame.Table, primaryKey, timestampColumn string) (int, error)
	Drop(ctx context.Context, table string) (featurestore.DropResult, error)
}

// Clients are the collaborators of a run. Reader and Store are required; a
// nil Online, Registrar or Tracker skips the matching work.
type Clients struct {
	Reader    catalog.Reader
	Store     featurestore.Client
	Online    OnlinePublisher
	Registrar functions.Registrar
	Tracker   Tracker
}

// Runner executes pipeline runs
type Runner struct {
	log       logrus.FieldLogger
	cfg       Config
	clients   Clients
	functions []functions.Function
	now       func() time.Time
}

// NewRunner creates a runner. fns are registered on every run when function
// registration is enabled.
func NewRunner(log logrus.FieldLogger, cfg Config, clients Clients, fns ...functions.Function) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	if clients.Reader == nil {
		return nil, ErrReaderRequired
	}

	if clients.Store == nil {
		return nil, ErrStoreRequired
	}

	return &Runner{
		log:       log.WithField("component", "pipeline"),
		cfg:       cfg,
		clients:   clients,
		functions: fns,
		now:       time.Now,
	}, nil
}

// Config returns the validated configuration
func (r *Runner) Config() Config {
	return r.cfg
}

// run carries the tables passed between stages of one run
type run struct {
	summary *RunSummary
	mu      sync.Mutex

	snapshotTS time.Time
	raw        *frame.Table
	computed   *frame.Table
	cleaned    *frame.Table
	stamped    *frame.Table
	features   *frame.Table
}

func (s *run) recordStage(stage string, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.Stages = append(s.summary.Stages, stage)
	s.summary.Rows[stage] = rows
}

// Run executes every stage in dependency order. Independent stages run
// concurrently; the first failure cancels the rest of the run.
func (r *Runner) Run(ctx context.Context, trigger string) (*RunSummary, error) {
	started := r.now().UTC()

	state := &run{
		summary: &RunSummary{
			ID:        uuid.New().String(),
			Trigger:   trigger,
			Status:    StatusRunning,
			StartedAt: started,
			Stages:    []string{},
			Rows:      map[string]int{},
		},
		snapshotTS: started.Truncate(time.Millisecond),
	}

	log := r.log.WithFields(logrus.Fields{
		"run_id":  state.summary.ID,
		"trigger": trigger,
	})

	observability.RecordPipelineStart()
	r.track(ctx, state.summary)

	log.Info("Starting pipeline run")

	err := r.execute(ctx, log, state)

	finished := r.now().UTC()
	duration := finished.Sub(started)

	state.summary.FinishedAt = &finished
	state.summary.Status = StatusSucceeded

	if err != nil {
		state.summary.Status = StatusFailed
		state.summary.Error = err.Error()
		observability.RecordError("pipeline", "run_failed")
	}

	observability.RecordPipelineComplete(trigger, state.summary.Status, duration.Seconds())
	r.track(ctx, state.summary)

	if err != nil {
		log.WithError(err).WithField("duration", duration).Error("Pipeline run failed")

		return state.summary, err
	}

	log.WithFields(logrus.Fields{
		"duration": duration,
		"rows":     state.summary.Rows,
		"splits":   state.summary.Splits,
	}).Info("Pipeline run completed")

	return state.summary, nil
}

func (r *Runner) track(ctx context.Context, summary *RunSummary) {
	if r.clients.Tracker == nil {
		return
	}

	// A run that cannot be tracked still runs.
	if err := r.clients.Tracker.Save(context.WithoutCancel(ctx), summary); err != nil {
		r.log.WithError(err).WithField("run_id", summary.ID).Warn("Failed to track pipeline run")
	}
}

func (r *Runner) execute(ctx context.Context, log logrus.FieldLogger, state *run) error {
	graph, err := NewGraph(r.stages(log, state)...)
	if err != nil {
		return err
	}

	levels, err := graph.Levels()
	if err != nil {
		return err
	}

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)

		for _, id := range level {
			stage, err := graph.Stage(id)
			if err != nil {
				return err
			}

			g.Go(func() error {
				return r.runStage(gctx, log, state, stage)
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) runStage(ctx context.Context, log logrus.FieldLogger, state *run, stage Stage) error {
	start := time.Now()

	rows, err := stage.Run(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}

	observability.RecordStage(stage.ID, status, time.Since(start).Seconds(), rows)

	if err != nil {
		return fmt.Errorf("stage %s failed: %w", stage.ID, err)
	}

	state.recordStage(stage.ID, rows)

	log.WithFields(logrus.Fields{
		"stage":    stage.ID,
		"rows":     rows,
		"duration": time.Since(start),
	}).Debug("Stage completed")

	return nil
}

func (r *Runner) stages(log logrus.FieldLogger, state *run) []Stage {
	cfg := r.cfg

	return []Stage{
		{
			ID: StageRead,
			Run: func(ctx context.Context) (int, error) {
				t, err := r.clients.Reader.ReadTable(ctx, cfg.SourceTable)
				if err != nil {
					return 0, err
				}

				state.raw = t

				return t.Len(), nil
			},
		},
		{
			ID:    StageComputeServices,
			Needs: []string{StageRead},
			Run: func(ctx context.Context) (int, error) {
				t, err := features.ComputeServiceFeatures(ctx, state.raw, cfg.ServiceColumns...)
				if err != nil {
					return 0, err
				}

				state.computed = t

				return t.Len(), nil
			},
		},
		{
			ID:    StageClean,
			Needs: []string{StageComputeServices},
			Run: func(ctx context.Context) (int, error) {
				t, err := features.CleanChurnFeatures(ctx, state.computed, cfg.Clean)
				if err != nil {
					return 0, err
				}

				state.cleaned = t

				return t.Len(), nil
			},
		},
		{
			ID:    StageTimestamp,
			Needs: []string{StageClean},
			Run: func(ctx context.Context) (int, error) {
				col := frame.Column{Name: cfg.TimestampColumn, Type: frame.TypeTimestamp}

				t, err := state.cleaned.WithLiteral(ctx, col, state.snapshotTS)
				if err != nil {
					return 0, err
				}

				state.stamped = t

				return t.Len(), nil
			},
		},
		{
			ID:    StageLabels,
			Needs: []string{StageTimestamp},
			Run: func(ctx context.Context) (int, error) {
				return r.publishLabels(ctx, log, state)
			},
		},
		{
			ID:    StageFeatures,
			Needs: []string{StageTimestamp},
			Run: func(ctx context.Context) (int, error) {
				return r.publishFeatures(ctx, log, state)
			},
		},
		{
			ID:    StageOnline,
			Needs: []string{StageFeatures},
			Run: func(ctx context.Context) (int, error) {
				return r.publishOnline(ctx, log, state)
			},
		},
		{
			ID: StageFunctions,
			Run: func(ctx context.Context) (int, error) {
				return r.registerFunctions(ctx, log)
			},
		},
	}
}

func (r *Runner) publishLabels(ctx context.Context, log logrus.FieldLogger, state *run) (int, error) {
	cfg := r.cfg

	labels, err := state.stamped.Select(ctx, cfg.PrimaryKey, cfg.TimestampColumn, cfg.LabelColumn)
	if err != nil {
		return 0, err
	}

	labeler, err := split.NewLabeler(cfg.Ratios, cfg.Seed, cfg.PrimaryKey)
	if err != nil {
		return 0, err
	}

	labels, err = labeler.Label(ctx, labels)
	if err != nil {
		return 0, err
	}

	if _, err := featurestore.PublishLabels(ctx, r.clients.Store, cfg.LabelTable, labels, cfg.PrimaryKey, cfg.TimestampColumn); err != nil {
		return 0, fmt.Errorf("failed to publish labels to %s: %w", cfg.LabelTable, err)
	}

	counts := split.Counts(labels)
	observability.RecordSplitCounts(counts)

	state.mu.Lock()
	state.summary.Splits = counts
	state.mu.Unlock()

	log.WithFields(logrus.Fields{
		"table":  cfg.LabelTable,
		"splits": counts,
	}).Info("Published label table")

	return labels.Len(), nil
}

func (r *Runner) publishFeatures(ctx context.Context, log logrus.FieldLogger, state *run) (int, error) {
	cfg := r.cfg
	store := r.clients.Store

	// Labels live in their own table to avoid label leakage.
	t, err := state.stamped.Drop(ctx, cfg.LabelColumn)
	if err != nil {
		return 0, err
	}

	if cfg.DropExisting {
		result, err := store.DropTable(ctx, cfg.FeatureTable)
		if err != nil {
			return 0, err
		}

		log.WithFields(logrus.Fields{
			"table":  cfg.FeatureTable,
			"result": result.String(),
		}).Info("Dropped existing feature table")
	}

	_, err = store.CreateTable(ctx, featurestore.TableSpec{
		Name:             cfg.FeatureTable,
		PrimaryKeys:      []string{cfg.PrimaryKey, cfg.TimestampColumn},
		Schema:           t.Schema(),
		TimeseriesColumn: cfg.TimestampColumn,
		Description:      cfg.Description,
	})

	switch {
	case errors.Is(err, featurestore.ErrTableExists):
		log.WithField("table", cfg.FeatureTable).Info("Feature table exists, writing into it")
	case err != nil:
		return 0, err
	}

	if err := store.WriteTable(ctx, cfg.FeatureTable, t, cfg.WriteMode); err != nil {
		return 0, err
	}

	state.features = t

	log.WithFields(logrus.Fields{
		"table": cfg.FeatureTable,
		"mode":  cfg.WriteMode,
		"rows":  t.Len(),
	}).Info("Published feature table")

	return t.Len(), nil
}

func (r *Runner) publishOnline(ctx context.Context, log logrus.FieldLogger, state *run) (int, error) {
	cfg := r.cfg
	online := r.clients.Online

	if online == nil || cfg.OnlineTable == "" {
		log.Debug("Online table disabled, skipping")

		return 0, nil
	}

	if cfg.DropOnline {
		result, err := online.Drop(ctx, cfg.OnlineTable)
		if err != nil {
			return 0, err
		}

		log.WithFields(logrus.Fields{
			"table":  cfg.OnlineTable,
			"result": result.String(),
		}).Info("Dropped existing online table")
	}

	return online.Publish(ctx, cfg.OnlineTable, state.features, cfg.PrimaryKey, cfg.TimestampColumn)
}

func (r *Runner) registerFunctions(ctx context.Context, log logrus.FieldLogger) (int, error) {
	if !r.cfg.RegisterFunctions || r.clients.Registrar == nil {
		log.Debug("Function registration disabled, skipping")

		return 0, nil
	}

	for _, fn := range r.functions {
		if err := r.clients.Registrar.RegisterFunction(ctx, fn); err != nil {
			return 0, fmt.Errorf("failed to register function %s: %w", fn.Name, err)
		}
	}

	return len(r.functions), nil
}
