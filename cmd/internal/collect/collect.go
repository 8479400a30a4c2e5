package collect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudrotate/rotate-backups/cmd/internal/storage"
	"github.com/cloudrotate/rotate-backups/pkg/rotation"

	"github.com/gobwas/glob"
)

// Collector discovers the timestamped backups in one container and turns
// them into a sorted backup list for the rotation engine.
type Collector struct {
	log     *slog.Logger
	store   storage.Storage
	include []glob.Glob
	exclude []glob.Glob
}

// New returns a collector for the given container. Include and exclude
// are shell glob patterns matched against the full name; a name matching
// the exclude list is skipped even when it also matches the include list.
func New(log *slog.Logger, store storage.Storage, include, exclude []string) (*Collector, error) {
	compile := func(patterns []string) ([]glob.Glob, error) {
		var globs []glob.Glob
		for _, pattern := range patterns {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			globs = append(globs, g)
		}
		return globs, nil
	}

	includes, err := compile(include)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(exclude)
	if err != nil {
		return nil, err
	}

	return &Collector{
		log:     log,
		store:   store,
		include: includes,
		exclude: excludes,
	}, nil
}

// Collect lists the container and returns the matching backups sorted by
// timestamp ascending, ties broken by name. Names without a decodable
// timestamp are skipped. The container is not modified.
func (c *Collector) Collect(ctx context.Context) ([]rotation.Backup, error) {
	names, err := c.store.ListNames(ctx)
	if err != nil {
		return nil, err
	}

	var backups []rotation.Backup
	for _, name := range names {
		timestamp, ok := rotation.ExtractTimestamp(name)
		if !ok {
			c.log.Debug("no timestamp in name, skipping", "name", name)
			continue
		}

		if matchesAny(c.exclude, name) {
			c.log.Debug("excluded, name matches the exclude list", "name", name)
			continue
		}
		if len(c.include) > 0 && !matchesAny(c.include, name) {
			c.log.Debug("excluded, name does not match the include list", "name", name)
			continue
		}

		backups = append(backups, rotation.Backup{
			Pathname:  name,
			Timestamp: timestamp,
			Kind:      c.store.Kind(),
		})
	}

	rotation.Sort(backups)

	c.log.Info("collected timestamped backups", "container", c.store.Name(), "count", len(backups))

	return backups, nil
}

func matchesAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
