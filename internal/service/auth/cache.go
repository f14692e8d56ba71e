package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"BarHarvest/pkg/cache"
)

// Record is a sign-in response as cached on disk or in the cache service.
type Record struct {
	Error     *string `json:"error,omitempty"`
	User      *User   `json:"user,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

type User struct {
	AuthToken string `json:"auth_token"`
	IsPro     bool   `json:"is_pro"`
	ProPlan   string `json:"pro_plan"`
}

// Cacheable reports whether the response carried an explicit empty error.
func (r *Record) Cacheable() bool {
	return r.Error != nil && *r.Error == ""
}

// Store persists sign-in records per username. Load returns cache.ErrMiss when no
// record exists.
type Store interface {
	Load(ctx context.Context, username string) (*Record, error)
	Save(ctx context.Context, username string, r *Record) error
}

// FileCache keeps <dir>/<username>_auth.json.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache { return &FileCache{dir: dir} }

func (c *FileCache) path(username string) string {
	return filepath.Join(c.dir, username+"_auth.json")
}

func (c *FileCache) Load(_ context.Context, username string) (*Record, error) {
	b, err := os.ReadFile(c.path(username))
	if errors.Is(err, os.ErrNotExist) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read auth cache: %w", err)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode auth cache: %w", err)
	}
	return &r, nil
}

func (c *FileCache) Save(_ context.Context, username string, r *Record) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(username), b, 0o600)
}

// ServiceCache keeps records in a cache.Store such as Redis.
type ServiceCache struct {
	svc cache.Store
	ttl time.Duration
}

func NewServiceCache(svc cache.Store, ttl time.Duration) *ServiceCache {
	return &ServiceCache{svc: svc, ttl: ttl}
}

func (c *ServiceCache) key(username string) string {
	return cache.Key("auth", username)
}

func (c *ServiceCache) Load(ctx context.Context, username string) (*Record, error) {
	raw, err := c.svc.Get(ctx, c.key(username))
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode auth cache: %w", err)
	}
	return &r, nil
}

func (c *ServiceCache) Save(ctx context.Context, username string, r *Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.svc.Set(ctx, c.key(username), b, c.ttl)
}
