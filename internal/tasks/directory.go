// Package tasks mirrors the status of tasks owned by the place/task service.
// Lookups are served from a short-lived in-memory cache backed by the
// task_states table.
package tasks

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
)

// DefaultCacheTTL is how long a task lookup is served from memory.
const DefaultCacheTTL = 30 * time.Second

// Directory resolves task state. Concurrent lookups of the same task share
// one database query.
type Directory struct {
	store *repository.Store
	cache *cache.Cache
	group singleflight.Group
	log   logger.Logger
}

// NewDirectory creates a Directory on store. A non-positive ttl selects DefaultCacheTTL.
func NewDirectory(store *repository.Store, ttl time.Duration, log logger.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Directory{
		store: store,
		cache: cache.New(ttl, ttl*2),
		log:   log.Module("tasks"),
	}
}

// Get returns the task state. Unknown tasks return repository.ErrTaskNotFound.
// The returned value is a copy and may be modified by the caller.
func (d *Directory) Get(ctx context.Context, taskID string) (*entities.TaskState, error) {
	if cached, found := d.cache.Get(taskID); found {
		task := cached.(entities.TaskState)
		return &task, nil
	}

	v, err, shared := d.group.Do(taskID, func() (any, error) {
		task, err := d.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		d.cache.Set(taskID, *task, cache.DefaultExpiration)
		return *task, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, err
		}
		return nil, errors.New(err).
			Component("tasks").
			Category(errors.CategoryDatabase).
			Context("task_id", taskID).
			Build()
	}
	if shared {
		d.log.Trace("task lookup shared", logger.String("task_id", taskID))
	}
	task := v.(entities.TaskState)
	return &task, nil
}

// Sync stores the task state reported by the place/task service and
// refreshes the cache.
func (d *Directory) Sync(ctx context.Context, task *entities.TaskState) error {
	if task.TaskID == "" {
		return errors.Newf("task id is required").
			Component("tasks").
			Category(errors.CategoryValidation).
			Build()
	}
	if !task.Status.Valid() {
		return errors.Newf("invalid task status %q", task.Status).
			Component("tasks").
			Category(errors.CategoryValidation).
			Context("task_id", task.TaskID).
			Build()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = time.Now().UTC()
	}
	if err := d.store.UpsertTask(ctx, task); err != nil {
		return errors.New(err).
			Component("tasks").
			Category(errors.CategoryDatabase).
			Context("task_id", task.TaskID).
			Build()
	}
	d.cache.Set(task.TaskID, *task, cache.DefaultExpiration)
	d.log.Debug("task synced",
		logger.String("task_id", task.TaskID),
		logger.String("status", string(task.Status)))
	return nil
}

// Invalidate drops the cached state of a task.
func (d *Directory) Invalidate(taskID string) {
	d.cache.Delete(taskID)
}

// CachedCount returns the number of cached tasks.
func (d *Directory) CachedCount() int {
	return d.cache.ItemCount()
}
