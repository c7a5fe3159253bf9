package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickymta/isra-notification-service/internal/domain/notification"
	"github.com/rickymta/isra-notification-service/internal/infra/cache"
)

// CachedRepository wraps a Repository with cache-aside reads and
// write-through invalidation. Reads consult the cache first and fall
// back to the inner repository on a miss; writes go to the inner
// repository and then delete every cache key that could hold the
// affected record. Invalidation is unconditional so a write is always
// visible on the next read, even when the cache's view is unknown.
//
// Cache failures never fail a read: they are logged and the read is
// served from the inner repository.
type CachedRepository struct {
	inner Repository
	cache cache.Cache
	ttl   time.Duration
}

var _ Repository = (*CachedRepository)(nil)

// NewCachedRepository wraps inner with a cache holding entries for ttl.
func NewCachedRepository(inner Repository, c cache.Cache, ttl time.Duration) *CachedRepository {
	return &CachedRepository{inner: inner, cache: c, ttl: ttl}
}

// GetByID retrieves a template by id, cache first.
func (r *CachedRepository) GetByID(ctx context.Context, id string) (*NotificationTemplate, error) {
	key := cache.TemplateIDKey(id)

	var cached NotificationTemplate
	if hit := r.lookup(ctx, key, &cached); hit {
		return &cached, nil
	}

	tmpl, err := r.inner.GetByID(ctx, id)
	if err != nil || tmpl == nil {
		return tmpl, err
	}

	r.populate(ctx, key, tmpl)
	return tmpl, nil
}

// GetByNameAndLanguage retrieves a template by its (name, language)
// pair, cache first. A repository hit also seeds the by-id entry so a
// follow-up id lookup of the same record does not miss.
func (r *CachedRepository) GetByNameAndLanguage(ctx context.Context, name, language string) (*NotificationTemplate, error) {
	key := cache.TemplateNameLangKey(name, language)

	var cached NotificationTemplate
	if hit := r.lookup(ctx, key, &cached); hit {
		return &cached, nil
	}

	tmpl, err := r.inner.GetByNameAndLanguage(ctx, name, language)
	if err != nil || tmpl == nil {
		return tmpl, err
	}

	r.populate(ctx, key, tmpl)
	r.populate(ctx, cache.TemplateIDKey(tmpl.ID), tmpl)
	return tmpl, nil
}

// GetByChannel retrieves all templates for one delivery channel, cache
// first. A repository hit seeds the by-id entry of every record in the
// collection.
func (r *CachedRepository) GetByChannel(ctx context.Context, ch notification.Channel) ([]*NotificationTemplate, error) {
	key := cache.TemplatesChannelKey(string(ch))

	var cached []*NotificationTemplate
	if hit := r.lookup(ctx, key, &cached); hit {
		return cached, nil
	}

	templates, err := r.inner.GetByChannel(ctx, ch)
	if err != nil {
		return nil, err
	}

	r.populate(ctx, key, templates)
	for _, tmpl := range templates {
		r.populate(ctx, cache.TemplateIDKey(tmpl.ID), tmpl)
	}
	return templates, nil
}

// GetAll retrieves every template, cache first.
func (r *CachedRepository) GetAll(ctx context.Context) ([]*NotificationTemplate, error) {
	var cached []*NotificationTemplate
	if hit := r.lookup(ctx, cache.TemplatesAllKey, &cached); hit {
		return cached, nil
	}

	templates, err := r.inner.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	r.populate(ctx, cache.TemplatesAllKey, templates)
	return templates, nil
}

// Create stores a new template and invalidates every key shape that
// could now be stale.
func (r *CachedRepository) Create(ctx context.Context, t *NotificationTemplate) error {
	if err := r.inner.Create(ctx, t); err != nil {
		return err
	}
	r.invalidate(ctx, recordKeys(t)...)
	return nil
}

// Update replaces a stored template and invalidates every key shape
// that could hold either the old or the new version. The old version is
// read from the inner repository before the write so renames and
// channel moves clear their previous keys too.
func (r *CachedRepository) Update(ctx context.Context, t *NotificationTemplate) error {
	old, err := r.inner.GetByID(ctx, t.ID)
	if err != nil {
		slog.Warn("failed to load template before update, invalidating broadly",
			"id", t.ID, "error", err)
	}

	if err := r.inner.Update(ctx, t); err != nil {
		return err
	}

	keys := recordKeys(t)
	if old != nil {
		keys = append(keys, recordKeys(old)...)
	} else {
		keys = append(keys, allChannelKeys()...)
	}
	r.invalidate(ctx, keys...)
	return nil
}

// Delete removes a template and invalidates its cache keys. When the
// record cannot be read before deletion, every channel collection is
// invalidated instead, which the closed channel enum keeps cheap.
func (r *CachedRepository) Delete(ctx context.Context, id string) error {
	old, err := r.inner.GetByID(ctx, id)
	if err != nil {
		slog.Warn("failed to load template before delete, invalidating broadly",
			"id", id, "error", err)
	}

	if err := r.inner.Delete(ctx, id); err != nil {
		return err
	}

	keys := []string{cache.TemplateIDKey(id), cache.TemplatesAllKey}
	if old != nil {
		keys = append(keys, cache.TemplateNameLangKey(old.Name, old.Language),
			cache.TemplatesChannelKey(string(old.Channel)))
	} else {
		keys = append(keys, allChannelKeys()...)
	}
	r.invalidate(ctx, keys...)
	return nil
}

// Exists reports whether a template exists. Existence checks always hit
// the inner repository; they guard writes and must not trust the cache.
func (r *CachedRepository) Exists(ctx context.Context, id string) (bool, error) {
	return r.inner.Exists(ctx, id)
}

// lookup reads key into dest and reports whether it was a usable hit.
// Read failures other than a miss are logged and treated as misses.
func (r *CachedRepository) lookup(ctx context.Context, key string, dest any) bool {
	err := r.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("template cache read failed", "key", key, "error", err)
	}
	return false
}

func (r *CachedRepository) populate(ctx context.Context, key string, value any) {
	if err := r.cache.Set(ctx, key, value, r.ttl); err != nil {
		slog.Warn("template cache write failed", "key", key, "error", err)
	}
}

// invalidate best-effort deletes keys. A failed delete is logged but
// not surfaced; the entries expire by TTL at the latest.
func (r *CachedRepository) invalidate(ctx context.Context, keys ...string) {
	if err := r.cache.Delete(ctx, keys...); err != nil {
		slog.Warn("template cache invalidation failed",
			"keys", fmt.Sprintf("%v", keys), "error", err)
	}
}

// recordKeys lists every cache key that can hold the given template.
func recordKeys(t *NotificationTemplate) []string {
	return []string{
		cache.TemplateIDKey(t.ID),
		cache.TemplateNameLangKey(t.Name, t.Language),
		cache.TemplatesChannelKey(string(t.Channel)),
		cache.TemplatesAllKey,
	}
}

func allChannelKeys() []string {
	channels := notification.Channels()
	keys := make([]string, len(channels))
	for i, ch := range channels {
		keys[i] = cache.TemplatesChannelKey(string(ch))
	}
	return keys
}
