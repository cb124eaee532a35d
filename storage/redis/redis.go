// Package redis provides a Redis-backed implementation of storage.Store.
//
// Records are stored as JSON strings. A sorted set per record type, scored by
// ID, keeps listings ordered, and two sets per casting (movie -> actors,
// actor -> movies) keep cascading deletes cheap.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/casting-api/storage"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// DB selects the logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: REDIS_KEY_PREFIX
	KeyPrefix string `env:"REDIS_KEY_PREFIX,default=casting:"`
}

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 8

// Store implements storage.Store on top of a Redis client.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ storage.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg.KeyPrefix), nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg)
}

// NewWithClient wraps an existing client. The store takes ownership of it.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "casting:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

// --- Key helpers ---

func (s *Store) seqKey(kind string) string   { return s.keyPrefix + kind + ":seq" }
func (s *Store) indexKey(kind string) string { return s.keyPrefix + kind + ":index" }
func (s *Store) recordKey(kind string, id int64) string {
	return s.keyPrefix + kind + ":" + strconv.FormatInt(id, 10)
}
func (s *Store) castKey(movieID int64) string {
	return s.keyPrefix + "movie:" + strconv.FormatInt(movieID, 10) + ":cast"
}
func (s *Store) rolesKey(actorID int64) string {
	return s.keyPrefix + "actor:" + strconv.FormatInt(actorID, 10) + ":movies"
}

const (
	kindActor = "actor"
	kindMovie = "movie"
)

// --- Generic record helpers ---

func (s *Store) get(ctx context.Context, kind string, id int64, into any) error {
	raw, err := s.client.Get(ctx, s.recordKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s %d: %w", kind, id, err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("failed to unmarshal %s %d: %w", kind, id, err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, kind string, each func(raw []byte) error) error {
	ids, err := s.client.ZRange(ctx, s.indexKey(kind), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list %s ids: %w", kind, err)
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyPrefix + kind + ":" + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to load %s records: %w", kind, err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		if err := each([]byte(str)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) create(ctx context.Context, kind string, assign func(id int64) ([]byte, error)) error {
	id, err := s.client.Incr(ctx, s.seqKey(kind)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate %s id: %w", kind, err)
	}
	data, err := assign(id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.recordKey(kind, id), data, 0)
		p.ZAdd(ctx, s.indexKey(kind), redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store %s %d: %w", kind, id, err)
	}
	return nil
}

// update runs a read-modify-write of one record under WATCH, retrying when a
// concurrent writer wins.
func (s *Store) update(ctx context.Context, kind string, id int64, modify func(raw []byte) ([]byte, error)) error {
	key := s.recordKey(kind, id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := modify(raw)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}
	return s.watch(ctx, txf, key)
}

func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction on %v: too much contention", keys)
}

// --- Actors ---

func (s *Store) ListActors(ctx context.Context) ([]storage.Actor, error) {
	out := []storage.Actor{}
	err := s.list(ctx, kindActor, func(raw []byte) error {
		var a storage.Actor
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("failed to unmarshal actor: %w", err)
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (s *Store) GetActor(ctx context.Context, id int64) (storage.Actor, error) {
	var a storage.Actor
	if err := s.get(ctx, kindActor, id, &a); err != nil {
		return storage.Actor{}, err
	}
	return a, nil
}

func (s *Store) CreateActor(ctx context.Context, a storage.Actor) (storage.Actor, error) {
	if err := a.Validate(); err != nil {
		return storage.Actor{}, err
	}
	err := s.create(ctx, kindActor, func(id int64) ([]byte, error) {
		a.ID = id
		return json.Marshal(a)
	})
	if err != nil {
		return storage.Actor{}, err
	}
	return a, nil
}

func (s *Store) UpdateActor(ctx context.Context, id int64, p storage.ActorPatch) (storage.Actor, error) {
	var out storage.Actor
	err := s.update(ctx, kindActor, id, func(raw []byte) ([]byte, error) {
		var a storage.Actor
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actor %d: %w", id, err)
		}
		a = p.Apply(a)
		if err := a.Validate(); err != nil {
			return nil, err
		}
		out = a
		return json.Marshal(a)
	})
	if err != nil {
		return storage.Actor{}, err
	}
	return out, nil
}

func (s *Store) DeleteActor(ctx context.Context, id int64) error {
	key := s.recordKey(kindActor, id)
	roles := s.rolesKey(id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		movies, err := tx.SMembers(ctx, roles).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			member := strconv.FormatInt(id, 10)
			p.Del(ctx, key, roles)
			p.ZRem(ctx, s.indexKey(kindActor), member)
			for _, m := range movies {
				p.SRem(ctx, s.keyPrefix+"movie:"+m+":cast", member)
			}
			return nil
		})
		return err
	}, key, roles)
}

// --- Movies ---

func (s *Store) ListMovies(ctx context.Context) ([]storage.Movie, error) {
	out := []storage.Movie{}
	err := s.list(ctx, kindMovie, func(raw []byte) error {
		var m storage.Movie
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("failed to unmarshal movie: %w", err)
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *Store) GetMovie(ctx context.Context, id int64) (storage.Movie, error) {
	var m storage.Movie
	if err := s.get(ctx, kindMovie, id, &m); err != nil {
		return storage.Movie{}, err
	}
	return m, nil
}

func (s *Store) CreateMovie(ctx context.Context, m storage.Movie) (storage.Movie, error) {
	if err := m.Validate(); err != nil {
		return storage.Movie{}, err
	}
	err := s.create(ctx, kindMovie, func(id int64) ([]byte, error) {
		m.ID = id
		return json.Marshal(m)
	})
	if err != nil {
		return storage.Movie{}, err
	}
	return m, nil
}

func (s *Store) UpdateMovie(ctx context.Context, id int64, p storage.MoviePatch) (storage.Movie, error) {
	var out storage.Movie
	err := s.update(ctx, kindMovie, id, func(raw []byte) ([]byte, error) {
		var m storage.Movie
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal movie %d: %w", id, err)
		}
		m = p.Apply(m)
		if err := m.Validate(); err != nil {
			return nil, err
		}
		out = m
		return json.Marshal(m)
	})
	if err != nil {
		return storage.Movie{}, err
	}
	return out, nil
}

func (s *Store) DeleteMovie(ctx context.Context, id int64) error {
	key := s.recordKey(kindMovie, id)
	cast := s.castKey(id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		actors, err := tx.SMembers(ctx, cast).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			member := strconv.FormatInt(id, 10)
			p.Del(ctx, key, cast)
			p.ZRem(ctx, s.indexKey(kindMovie), member)
			for _, a := range actors {
				p.SRem(ctx, s.keyPrefix+"actor:"+a+":movies", member)
			}
			return nil
		})
		return err
	}, key, cast)
}

// --- Casting ---

func (s *Store) ListCast(ctx context.Context, movieID int64) ([]storage.Actor, error) {
	n, err := s.client.Exists(ctx, s.recordKey(kindMovie, movieID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check movie %d: %w", movieID, err)
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	ids, err := s.client.SMembers(ctx, s.castKey(movieID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cast of movie %d: %w", movieID, err)
	}
	out := []storage.Actor{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyPrefix + kindActor + ":" + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cast of movie %d: %w", movieID, err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var a storage.Actor
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actor: %w", err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddCast(ctx context.Context, movieID, actorID int64) error {
	movieKey := s.recordKey(kindMovie, movieID)
	actorKey := s.recordKey(kindActor, actorID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, movieKey, actorKey).Result()
		if err != nil {
			return err
		}
		if n != 2 {
			return storage.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SAdd(ctx, s.castKey(movieID), strconv.FormatInt(actorID, 10))
			p.SAdd(ctx, s.rolesKey(actorID), strconv.FormatInt(movieID, 10))
			return nil
		})
		return err
	}, movieKey, actorKey)
}

func (s *Store) RemoveCast(ctx context.Context, movieID, actorID int64) error {
	movieKey := s.recordKey(kindMovie, movieID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, movieKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SRem(ctx, s.castKey(movieID), strconv.FormatInt(actorID, 10))
			p.SRem(ctx, s.rolesKey(actorID), strconv.FormatInt(movieID, 10))
			return nil
		})
		return err
	}, movieKey)
}
