// Package storagetest holds a conformance suite every storage.Store
// implementation is expected to pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/casting-api/storage"
)

// StoreFactory creates a new, empty Store for testing. The suite closes it.
type StoreFactory func(t *testing.T) storage.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Actors_CreateGetList", func(t *testing.T) { testActorsCreateGetList(t, factory) })
	t.Run("Actors_Update", func(t *testing.T) { testActorsUpdate(t, factory) })
	t.Run("Actors_Validation", func(t *testing.T) { testActorsValidation(t, factory) })
	t.Run("Actors_NotFound", func(t *testing.T) { testActorsNotFound(t, factory) })
	t.Run("Movies_CreateUpdateDelete", func(t *testing.T) { testMoviesCreateUpdateDelete(t, factory) })
	t.Run("Movies_Validation", func(t *testing.T) { testMoviesValidation(t, factory) })
	t.Run("Cast_AddListRemove", func(t *testing.T) { testCastAddListRemove(t, factory) })
	t.Run("Cast_DeleteActorCascades", func(t *testing.T) { testCastDeleteActorCascades(t, factory) })
	t.Run("Cast_DeleteMovieCascades", func(t *testing.T) { testCastDeleteMovieCascades(t, factory) })
	t.Run("Cast_MissingRecords", func(t *testing.T) { testCastMissingRecords(t, factory) })
	t.Run("IDs_SequencePerKind", func(t *testing.T) { testIDsSequencePerKind(t, factory) })
	t.Run("Concurrency_CreateUniqueIDs", func(t *testing.T) { testConcurrentCreateUniqueIDs(t, factory) })
}

func newStore(t *testing.T, factory StoreFactory) (storage.Store, context.Context) {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return s, ctx
}

func mustActor(t *testing.T, s storage.Store, ctx context.Context, name string) storage.Actor {
	t.Helper()
	a, err := s.CreateActor(ctx, storage.Actor{Name: name, Age: 40, Gender: storage.GenderFemale})
	if err != nil {
		t.Fatalf("CreateActor(%s): %v", name, err)
	}
	return a
}

func mustMovie(t *testing.T, s storage.Store, ctx context.Context, title string) storage.Movie {
	t.Helper()
	m, err := s.CreateMovie(ctx, storage.Movie{Title: title, ReleaseDate: "2024-05-01"})
	if err != nil {
		t.Fatalf("CreateMovie(%s): %v", title, err)
	}
	return m
}

func testIDsSequencePerKind(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)

	a1 := mustActor(t, s, ctx, "first")
	m1 := mustMovie(t, s, ctx, "first")
	a2 := mustActor(t, s, ctx, "second")
	m2 := mustMovie(t, s, ctx, "second")

	if a1.ID != 1 || a2.ID != 2 {
		t.Fatalf("actor ids: got %d, %d want 1, 2", a1.ID, a2.ID)
	}
	if m1.ID != 1 || m2.ID != 2 {
		t.Fatalf("movie ids: got %d, %d want 1, 2", m1.ID, m2.ID)
	}
}

func testActorsCreateGetList(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)

	if got, err := s.ListActors(ctx); err != nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %v %v", got, err)
	}

	a := mustActor(t, s, ctx, "Ada")
	b := mustActor(t, s, ctx, "Grace")
	if a.ID == 0 || b.ID == 0 || a.ID == b.ID {
		t.Fatalf("expected distinct non-zero ids, got %d and %d", a.ID, b.ID)
	}

	got, err := s.GetActor(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetActor: %v", err)
	}
	if got != a {
		t.Fatalf("GetActor: got %+v want %+v", got, a)
	}

	list, err := s.ListActors(ctx)
	if err != nil {
		t.Fatalf("ListActors: %v", err)
	}
	if len(list) != 2 || list[0].ID >= list[1].ID {
		t.Fatalf("expected two actors ordered by id, got %+v", list)
	}
}

func testActorsUpdate(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	a := mustActor(t, s, ctx, "Ada")

	age := 41
	updated, err := s.UpdateActor(ctx, a.ID, storage.ActorPatch{Age: &age})
	if err != nil {
		t.Fatalf("UpdateActor: %v", err)
	}
	if updated.Age != 41 || updated.Name != "Ada" || updated.ID != a.ID {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if got, _ := s.GetActor(ctx, a.ID); got != updated {
		t.Fatalf("update not persisted: %+v", got)
	}

	bad := 200
	if _, err := s.UpdateActor(ctx, a.ID, storage.ActorPatch{Age: &bad}); !errors.Is(err, storage.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if got, _ := s.GetActor(ctx, a.ID); got.Age != 41 {
		t.Fatalf("invalid update must not be written, got %+v", got)
	}
}

func testActorsValidation(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	cases := map[string]storage.Actor{
		"empty name":   {Name: " ", Age: 30, Gender: storage.GenderMale},
		"negative age": {Name: "A", Age: -1, Gender: storage.GenderMale},
		"age too high": {Name: "A", Age: storage.MaxAge + 1, Gender: storage.GenderMale},
		"bad gender":   {Name: "A", Age: 30, Gender: "other"},
	}
	for name, a := range cases {
		_, err := s.CreateActor(ctx, a)
		var ve *storage.ValidationError
		if !errors.As(err, &ve) || !errors.Is(err, storage.ErrInvalid) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
	if list, _ := s.ListActors(ctx); len(list) != 0 {
		t.Fatalf("invalid actors were stored: %+v", list)
	}
}

func testActorsNotFound(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	name := "x"
	if _, err := s.GetActor(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetActor: expected ErrNotFound, got %v", err)
	}
	if _, err := s.UpdateActor(ctx, 999, storage.ActorPatch{Name: &name}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateActor: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteActor(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteActor: expected ErrNotFound, got %v", err)
	}
}

func testMoviesCreateUpdateDelete(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	m := mustMovie(t, s, ctx, "Metropolis")

	title := "Metropolis (restored)"
	updated, err := s.UpdateMovie(ctx, m.ID, storage.MoviePatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateMovie: %v", err)
	}
	if updated.Title != title || updated.ReleaseDate != m.ReleaseDate {
		t.Fatalf("unexpected update result %+v", updated)
	}

	if err := s.DeleteMovie(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMovie: %v", err)
	}
	if _, err := s.GetMovie(ctx, m.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteMovie(ctx, m.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	if list, _ := s.ListMovies(ctx); len(list) != 0 {
		t.Fatalf("expected no movies, got %+v", list)
	}
}

func testMoviesValidation(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	if _, err := s.CreateMovie(ctx, storage.Movie{Title: ""}); !errors.Is(err, storage.ErrInvalid) {
		t.Errorf("empty title: expected ErrInvalid, got %v", err)
	}
	if _, err := s.CreateMovie(ctx, storage.Movie{Title: "X", ReleaseDate: "01/02/2024"}); !errors.Is(err, storage.ErrInvalid) {
		t.Errorf("bad date: expected ErrInvalid, got %v", err)
	}
	if _, err := s.CreateMovie(ctx, storage.Movie{Title: "No date yet"}); err != nil {
		t.Errorf("release date is optional: %v", err)
	}
}

func testCastAddListRemove(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	m := mustMovie(t, s, ctx, "Casablanca")
	a := mustActor(t, s, ctx, "Ingrid")
	b := mustActor(t, s, ctx, "Humphrey")

	for _, id := range []int64{b.ID, a.ID, a.ID} {
		if err := s.AddCast(ctx, m.ID, id); err != nil {
			t.Fatalf("AddCast(%d): %v", id, err)
		}
	}
	cast, err := s.ListCast(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListCast: %v", err)
	}
	if len(cast) != 2 || cast[0].ID != a.ID || cast[1].ID != b.ID {
		t.Fatalf("unexpected cast %+v", cast)
	}

	if err := s.RemoveCast(ctx, m.ID, a.ID); err != nil {
		t.Fatalf("RemoveCast: %v", err)
	}
	if err := s.RemoveCast(ctx, m.ID, a.ID); err != nil {
		t.Fatalf("RemoveCast of uncast actor should be a no-op: %v", err)
	}
	cast, _ = s.ListCast(ctx, m.ID)
	if len(cast) != 1 || cast[0].ID != b.ID {
		t.Fatalf("unexpected cast after remove %+v", cast)
	}
}

func testCastDeleteActorCascades(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	m := mustMovie(t, s, ctx, "Alien")
	a := mustActor(t, s, ctx, "Sigourney")
	if err := s.AddCast(ctx, m.ID, a.ID); err != nil {
		t.Fatalf("AddCast: %v", err)
	}
	if err := s.DeleteActor(ctx, a.ID); err != nil {
		t.Fatalf("DeleteActor: %v", err)
	}
	cast, err := s.ListCast(ctx, m.ID)
	if err != nil || len(cast) != 0 {
		t.Fatalf("expected empty cast after actor delete, got %+v %v", cast, err)
	}
}

func testCastDeleteMovieCascades(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	m := mustMovie(t, s, ctx, "Heat")
	a := mustActor(t, s, ctx, "Al")
	if err := s.AddCast(ctx, m.ID, a.ID); err != nil {
		t.Fatalf("AddCast: %v", err)
	}
	if err := s.DeleteMovie(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMovie: %v", err)
	}
	if _, err := s.ListCast(ctx, m.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted movie's cast, got %v", err)
	}
	// The actor survives and can be cast again elsewhere.
	m2 := mustMovie(t, s, ctx, "Heat 2")
	if err := s.AddCast(ctx, m2.ID, a.ID); err != nil {
		t.Fatalf("AddCast after cascade: %v", err)
	}
}

func testCastMissingRecords(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	m := mustMovie(t, s, ctx, "Solaris")
	a := mustActor(t, s, ctx, "Natalya")

	if err := s.AddCast(ctx, m.ID, a.ID+1000); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AddCast unknown actor: expected ErrNotFound, got %v", err)
	}
	if err := s.AddCast(ctx, m.ID+1000, a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AddCast unknown movie: expected ErrNotFound, got %v", err)
	}
	if err := s.RemoveCast(ctx, m.ID+1000, a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("RemoveCast unknown movie: expected ErrNotFound, got %v", err)
	}
	if _, err := s.ListCast(ctx, m.ID+1000); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ListCast unknown movie: expected ErrNotFound, got %v", err)
	}
}

func testConcurrentCreateUniqueIDs(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	const n = 32
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := s.CreateActor(ctx, storage.Actor{Name: "Extra", Age: 20, Gender: storage.GenderMale})
			if err != nil {
				t.Errorf("CreateActor: %v", err)
				return
			}
			mu.Lock()
			ids[a.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(ids))
	}
}
