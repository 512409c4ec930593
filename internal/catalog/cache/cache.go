package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/consulthub/internal/catalog"
	accessDatamodel "github.com/frahmantamala/consulthub/internal/core/datamodel/access"
	"github.com/frahmantamala/consulthub/internal/core/events"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// New creates a Redis client and checks that it answers.
func New(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("catalog/cache: ping: %w", err)
	}

	return client, nil
}

// Repository is a read-through cache in front of the role baseline query.
// Every other catalog read goes straight to the wrapped repository.
type Repository struct {
	catalog.RepositoryAPI

	client *redis.Client
	ttl    time.Duration
	prefix string
	group  singleflight.Group
	logger *slog.Logger
}

func NewRepository(next catalog.RepositoryAPI, client *redis.Client, ttl time.Duration, prefix string, logger *slog.Logger) *Repository {
	if prefix == "" {
		prefix = "consulthub:catalog"
	}
	return &Repository{
		RepositoryAPI: next,
		client:        client,
		ttl:           ttl,
		prefix:        prefix,
		logger:        logger,
	}
}

func (r *Repository) key(role string) string {
	return r.prefix + ":role:" + role + ":permissions"
}

func (r *Repository) genKey(role string) string {
	return r.prefix + ":role:" + role + ":gen"
}

func (r *Repository) globalGenKey() string {
	return r.prefix + ":gen"
}

var errStaleFill = errors.New("baseline changed while loading")

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// generation names the invalidation state of role. Invalidate and
// InvalidateAll bump it, so a fill read under an older generation is dropped.
func (r *Repository) generation(ctx context.Context, c multiGetter, role string) (string, error) {
	vals, err := c.MGet(ctx, r.globalGenKey(), r.genKey(role)).Result()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v|%v", vals[0], vals[1]), nil
}

// ListRolePermissionCodes serves from Redis when possible. A Redis failure
// degrades to the database instead of failing the check.
func (r *Repository) ListRolePermissionCodes(ctx context.Context, role string) ([]string, error) {
	key := r.key(role)

	payload, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var codes []string
		if jsonErr := json.Unmarshal(payload, &codes); jsonErr == nil {
			return codes, nil
		}
		r.logger.WarnContext(ctx, "discarding corrupt role baseline cache entry", "role", role)
	case !errors.Is(err, redis.Nil):
		r.logger.WarnContext(ctx, "role baseline cache unavailable", "role", role, "error", err)
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// read before the query so an invalidation racing it is seen at fill time
		gen, genErr := r.generation(ctx, r.client, role)

		codes, err := r.RepositoryAPI.ListRolePermissionCodes(ctx, role)
		if err != nil {
			return nil, err
		}
		if codes == nil {
			codes = []string{}
		}
		if genErr != nil {
			return codes, nil
		}

		switch err := r.fill(ctx, role, gen, codes); {
		case errors.Is(err, errStaleFill):
			r.logger.DebugContext(ctx, "skipping stale role baseline fill", "role", role)
		case err != nil:
			r.logger.WarnContext(ctx, "failed to fill role baseline cache", "role", role, "error", err)
		}
		return codes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// fill stores codes only if role's generation still equals gen.
func (r *Repository) fill(ctx context.Context, role, gen string, codes []string) error {
	raw, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	key := r.key(role)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := r.generation(ctx, tx, role)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			return nil
		})
		return err
	}, r.globalGenKey(), r.genKey(role))
	if errors.Is(err, redis.TxFailedErr) {
		return errStaleFill
	}
	return err
}

func (r *Repository) Invalidate(ctx context.Context, role string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, r.genKey(role))
		pipe.Del(ctx, r.key(role))
		return nil
	})
	return err
}

// InvalidateAll drops every cached baseline.
func (r *Repository) InvalidateAll(ctx context.Context) error {
	if err := r.client.Incr(ctx, r.globalGenKey()).Err(); err != nil {
		return err
	}
	iter := r.client.Scan(ctx, 0, r.prefix+":role:*:permissions", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Permission and role activity feed into every baseline, so provisioning
// clears the whole cache.

func (r *Repository) UpsertPermission(ctx context.Context, p *accessDatamodel.Permission) error {
	if err := r.RepositoryAPI.UpsertPermission(ctx, p); err != nil {
		return err
	}
	return r.InvalidateAll(ctx)
}

func (r *Repository) UpsertRole(ctx context.Context, role *accessDatamodel.Role) error {
	if err := r.RepositoryAPI.UpsertRole(ctx, role); err != nil {
		return err
	}
	return r.Invalidate(ctx, role.Code)
}

// Subscribe wires invalidation to committed baseline changes.
func (r *Repository) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeRolePermissionChanged, func(ctx context.Context, event events.Event) error {
		changed, ok := event.(*events.RolePermissionChangedEvent)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", event)
		}
		if err := r.Invalidate(ctx, changed.RoleCode); err != nil {
			return fmt.Errorf("invalidate role %s: %w", changed.RoleCode, err)
		}
		r.logger.DebugContext(ctx, "role baseline cache invalidated", "role", changed.RoleCode)
		return nil
	})
}

// Ping reports whether Redis answers. It backs the health endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
