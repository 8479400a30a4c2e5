package rotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudrotate/rotate-backups/cmd/internal/collect"
	"github.com/cloudrotate/rotate-backups/cmd/internal/storage"
	"github.com/cloudrotate/rotate-backups/pkg/rotation"
)

// Rotator runs the rotation pipeline for a single container: collect the
// backups, compute the keep/delete partition and issue one batched
// deletion for the remainder.
type Rotator struct {
	log       *slog.Logger
	store     storage.Storage
	collector *collect.Collector
	config    *Config
}

// Config provides configuration for a Rotator.
type Config struct {
	// Scheme is the retention policy per frequency.
	Scheme rotation.Scheme
	// Include and Exclude are shell glob patterns, see collect.New.
	Include []string
	Exclude []string
	// DryRun computes and logs the partition without deleting anything.
	DryRun bool
	// Reference anchors the retention windows. The zero value means "use
	// the most recent discovered backup's timestamp".
	Reference time.Time
}

// Result summarizes one rotation run.
type Result struct {
	Container string
	Found     int
	Preserved int
	Deleted   int
	DryRun    bool
}

// New returns a rotator for the given container. The scheme is validated
// here so that configuration errors surface before any container is
// touched.
func New(log *slog.Logger, store storage.Storage, config *Config) (*Rotator, error) {
	if config == nil {
		return nil, errors.New("rotator requires a config")
	}

	if err := config.Scheme.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rotation scheme: %w", err)
	}

	collector, err := collect.New(log, store, config.Include, config.Exclude)
	if err != nil {
		return nil, err
	}

	return &Rotator{
		log:       log,
		store:     store,
		collector: collector,
		config:    config,
	}, nil
}

// Plan collects the container's backups and computes the keep/delete
// partition without acting on it.
func (r *Rotator) Plan(ctx context.Context) (*rotation.Plan, error) {
	backups, err := r.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}

	reference := r.config.Reference
	if reference.IsZero() && len(backups) > 0 {
		reference = backups[len(backups)-1].Timestamp
	}

	return rotation.PlanRotation(backups, r.config.Scheme, reference), nil
}

// Rotate runs the full pipeline. Partial deletion failures are returned
// as *storage.PartialDeletionError with the run otherwise completed;
// nothing is retried or rolled back.
func (r *Rotator) Rotate(ctx context.Context) (*Result, error) {
	plan, err := r.Plan(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Container: r.store.Name(),
		Found:     len(plan.Backups),
		Preserved: len(plan.Backups) - len(plan.Deletions),
		Deleted:   len(plan.Deletions),
		DryRun:    r.config.DryRun,
	}

	if len(plan.Backups) == 0 {
		r.log.Info("no backups found", "container", r.store.Name())
		return result, nil
	}

	var deletions []string
	for _, backup := range plan.Backups {
		if reasons := plan.Preserved.Reasons(backup); reasons != nil {
			r.log.Info("preserving backup", "name", backup.Pathname, "matches", reasons)
		} else {
			r.log.Info("deleting backup", "kind", backup.Kind, "name", backup.Pathname)
			deletions = append(deletions, backup.Pathname)
		}
	}

	if plan.NothingToDo() {
		r.log.Info("nothing to do, all backups preserved", "container", r.store.Name())
		return result, nil
	}

	if r.config.DryRun {
		r.log.Info("dry run, not deleting anything", "container", r.store.Name(), "deletions", len(deletions))
		return result, nil
	}

	if err := r.store.DeleteNames(ctx, deletions); err != nil {
		return result, err
	}

	r.log.Info("rotated backups", "container", r.store.Name(), "preserved", result.Preserved, "deleted", result.Deleted)

	return result, nil
}
