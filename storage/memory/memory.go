// Package memory provides an in-memory implementation of storage.Store. Data
// lives only as long as the process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ggoodman/casting-api/storage"
)

// Store implements storage.Store using maps guarded by a single RWMutex.
type Store struct {
	mu     sync.RWMutex
	actors map[int64]storage.Actor
	movies map[int64]storage.Movie
	cast   map[int64]map[int64]struct{} // movie -> actors

	// Each record kind has its own id sequence.
	lastActorID int64
	lastMovieID int64
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		actors: map[int64]storage.Actor{},
		movies: map[int64]storage.Movie{},
		cast:   map[int64]map[int64]struct{}{},
	}
}

func nextID(last *int64) int64 {
	*last++
	return *last
}

func (s *Store) ListActors(ctx context.Context) ([]storage.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetActor(ctx context.Context, id int64) (storage.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return storage.Actor{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) CreateActor(ctx context.Context, a storage.Actor) (storage.Actor, error) {
	if err := a.Validate(); err != nil {
		return storage.Actor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = nextID(&s.lastActorID)
	s.actors[a.ID] = a
	return a, nil
}

func (s *Store) UpdateActor(ctx context.Context, id int64, p storage.ActorPatch) (storage.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return storage.Actor{}, storage.ErrNotFound
	}
	a = p.Apply(a)
	if err := a.Validate(); err != nil {
		return storage.Actor{}, err
	}
	s.actors[id] = a
	return a, nil
}

func (s *Store) DeleteActor(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.actors, id)
	for _, actors := range s.cast {
		delete(actors, id)
	}
	return nil
}

func (s *Store) ListMovies(ctx context.Context) ([]storage.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Movie, 0, len(s.movies))
	for _, m := range s.movies {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetMovie(ctx context.Context, id int64) (storage.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.movies[id]
	if !ok {
		return storage.Movie{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) CreateMovie(ctx context.Context, m storage.Movie) (storage.Movie, error) {
	if err := m.Validate(); err != nil {
		return storage.Movie{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = nextID(&s.lastMovieID)
	s.movies[m.ID] = m
	return m, nil
}

func (s *Store) UpdateMovie(ctx context.Context, id int64, p storage.MoviePatch) (storage.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[id]
	if !ok {
		return storage.Movie{}, storage.ErrNotFound
	}
	m = p.Apply(m)
	if err := m.Validate(); err != nil {
		return storage.Movie{}, err
	}
	s.movies[id] = m
	return m, nil
}

func (s *Store) DeleteMovie(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.movies[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.movies, id)
	delete(s.cast, id)
	return nil
}

func (s *Store) ListCast(ctx context.Context, movieID int64) ([]storage.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.movies[movieID]; !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]storage.Actor, 0, len(s.cast[movieID]))
	for id := range s.cast[movieID] {
		out = append(out, s.actors[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddCast(ctx context.Context, movieID, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.movies[movieID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := s.actors[actorID]; !ok {
		return storage.ErrNotFound
	}
	if s.cast[movieID] == nil {
		s.cast[movieID] = map[int64]struct{}{}
	}
	s.cast[movieID][actorID] = struct{}{}
	return nil
}

func (s *Store) RemoveCast(ctx context.Context, movieID, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.movies[movieID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.cast[movieID], actorID)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
