package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/utestwalter/Mila/pkg/logx"
)

const (
	redisDefaultPrefix = "mila:"
	redisAuditLimit    = 10000
)

// redisStore keeps <prefix>task:<id>:txt and <prefix>task:<id>:meta plus an
// id index set. Writes run in MULTI/EXEC so both keys change together.
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return newRedisStore(client, cfg.Redis.Prefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	if prefix == "" {
		prefix = redisDefaultPrefix
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) textKey(id string) string { return s.prefix + "task:" + id + ":txt" }
func (s *redisStore) metaKey(id string) string { return s.prefix + "task:" + id + ":meta" }
func (s *redisStore) indexKey() string         { return s.prefix + "tasks" }
func (s *redisStore) auditKey() string         { return s.prefix + "audit" }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) Put(ctx context.Context, def TaskDefinition) error {
	if err := ValidateID(def.ID); err != nil {
		return err
	}
	meta, err := encodeMetadata(def)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.textKey(def.ID), def.Instructions, 0)
		pipe.Set(ctx, s.metaKey(def.ID), meta, 0)
		pipe.SAdd(ctx, s.indexKey(), def.ID)
		return nil
	})
	return err
}

func (s *redisStore) Get(ctx context.Context, id string) (TaskDefinition, bool, error) {
	if err := ValidateID(id); err != nil {
		return TaskDefinition{}, false, err
	}
	vals, err := s.client.MGet(ctx, s.textKey(id), s.metaKey(id)).Result()
	if err != nil {
		return TaskDefinition{}, false, err
	}
	return decodeRedisPair(id, vals)
}

func decodeRedisPair(id string, vals []any) (TaskDefinition, bool, error) {
	text, textOK := vals[0].(string)
	meta, metaOK := vals[1].(string)
	switch {
	case !textOK && !metaOK:
		return TaskDefinition{}, false, nil
	case !textOK:
		return TaskDefinition{}, true, corruptf(id, "instructions key missing")
	case !metaOK:
		return TaskDefinition{}, true, corruptf(id, "metadata key missing")
	}
	def, err := decodeRecord(id, text, []byte(meta))
	return def, true, err
}

func (s *redisStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.metaKey(id), s.textKey(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

func (s *redisStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.textKey(id), s.metaKey(id)).Result()
	return n > 0, err
}

func (s *redisStore) List(ctx context.Context, f Filter) (Listing, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return Listing{}, err
	}
	sort.Strings(ids)

	var out Listing
	for _, id := range ids {
		if !f.match(id) || ValidateID(id) != nil {
			continue
		}
		_, found, err := s.Get(ctx, id)
		switch {
		case err != nil && errors.Is(err, ErrCorrupt):
			out.Corrupt = append(out.Corrupt, CorruptRecord{ID: id, Reason: err.Error()})
		case err != nil && ctx.Err() != nil:
			return Listing{}, ctx.Err()
		case err != nil:
			s.log.Warn("task record unreadable", logx.String("task", id), logx.Err(err))
			out.Unreadable = append(out.Unreadable, CorruptRecord{ID: id, Reason: err.Error()})
		case !found:
			// Stale index entry left by an interrupted delete.
			s.client.SRem(ctx, s.indexKey(), id)
		default:
			out.IDs = append(out.IDs, id)
		}
	}
	return out, nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := sonic.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.auditKey(), b)
	pipe.LTrim(ctx, s.auditKey(), -redisAuditLimit, -1)
	_, err = pipe.Exec(ctx)
	return err
}
