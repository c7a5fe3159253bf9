package template_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rickymta/isra-notification-service/internal/domain/notification"
	"github.com/rickymta/isra-notification-service/internal/domain/template"
	"github.com/rickymta/isra-notification-service/internal/infra/cache"
)

// fakeRepo is an in-memory template.Repository with call counting and
// per-method error injection.
type fakeRepo struct {
	mu        sync.Mutex
	templates map[string]*template.NotificationTemplate // by id
	calls     map[string]int
	errs      map[string]error
}

var _ template.Repository = (*fakeRepo)(nil)

func newFakeRepo(templates ...*template.NotificationTemplate) *fakeRepo {
	r := &fakeRepo{
		templates: make(map[string]*template.NotificationTemplate),
		calls:     make(map[string]int),
		errs:      make(map[string]error),
	}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

func (r *fakeRepo) failWith(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[method] = err
}

func (r *fakeRepo) callCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *fakeRepo) enter(method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[method]++
	return r.errs[method]
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*template.NotificationTemplate, error) {
	if err := r.enter("GetByID"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.templates[id], nil
}

func (r *fakeRepo) GetByNameAndLanguage(_ context.Context, name, language string) (*template.NotificationTemplate, error) {
	if err := r.enter("GetByNameAndLanguage"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.templates {
		if t.Name == name && t.Language == language {
			return t, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetByChannel(_ context.Context, ch notification.Channel) ([]*template.NotificationTemplate, error) {
	if err := r.enter("GetByChannel"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*template.NotificationTemplate
	for _, t := range r.templates {
		if t.Channel == ch {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetAll(_ context.Context) ([]*template.NotificationTemplate, error) {
	if err := r.enter("GetAll"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*template.NotificationTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeRepo) Create(_ context.Context, t *template.NotificationTemplate) error {
	if err := r.enter("Create"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

func (r *fakeRepo) Update(_ context.Context, t *template.NotificationTemplate) error {
	if err := r.enter("Update"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	if err := r.enter("Delete"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.templates, id)
	return nil
}

func (r *fakeRepo) Exists(_ context.Context, id string) (bool, error) {
	if err := r.enter("Exists"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.templates[id]
	return ok, nil
}

// fakeCache is an in-memory cache.Cache storing JSON, with error
// injection and a record of deleted keys.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
	getErr  error
	setErr  error
	delErr  error
}

var _ cache.Cache = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return c.getErr
	}
	data, ok := c.entries[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, keys...)
	if c.delErr != nil {
		return c.delErr
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *fakeCache) deletedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.deleted))
	copy(out, c.deleted)
	return out
}
