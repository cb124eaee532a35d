// Package storage defines the casting agency's records and the Store
// interface that persists them. Implementations live in the memory and redis
// subpackages; storagetest holds a shared conformance suite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error types
var (
	// ErrNotFound is returned when an actor or movie does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalid is wrapped by every *ValidationError.
	ErrInvalid = errors.New("storage: invalid record")
)

// ValidationError reports the first field of a record that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("storage: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Gender of an actor.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool { return g == GenderMale || g == GenderFemale }

// MaxAge bounds Actor.Age.
const MaxAge = 150

// ReleaseDateLayout is the format of Movie.ReleaseDate.
const ReleaseDateLayout = "2006-01-02"

// Actor is a performer the agency can cast.
type Actor struct {
	ID     int64  `json:"id"`
	Name   string `json:"name" jsonschema:"minLength=1"`
	Age    int    `json:"age" jsonschema:"minimum=0,maximum=150"`
	Gender Gender `json:"gender" jsonschema:"enum=male,enum=female"`
}

// Validate checks the actor's fields. ID is not checked.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if a.Age < 0 || a.Age > MaxAge {
		return &ValidationError{Field: "age", Reason: fmt.Sprintf("must be between 0 and %d", MaxAge)}
	}
	if !a.Gender.Valid() {
		return &ValidationError{Field: "gender", Reason: `must be "male" or "female"`}
	}
	return nil
}

// ActorPatch is a partial update. Nil fields are left unchanged.
type ActorPatch struct {
	Name   *string `json:"name,omitempty" jsonschema:"minLength=1"`
	Age    *int    `json:"age,omitempty" jsonschema:"minimum=0,maximum=150"`
	Gender *Gender `json:"gender,omitempty" jsonschema:"enum=male,enum=female"`
}

// Apply returns a with the patch applied.
func (p ActorPatch) Apply(a Actor) Actor {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Age != nil {
		a.Age = *p.Age
	}
	if p.Gender != nil {
		a.Gender = *p.Gender
	}
	return a
}

// Movie is a production actors can be cast in.
type Movie struct {
	ID          int64  `json:"id"`
	Title       string `json:"title" jsonschema:"minLength=1"`
	ReleaseDate string `json:"release_date,omitempty" jsonschema:"format=date"`
}

// Validate checks the movie's fields. ID is not checked.
func (m Movie) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if m.ReleaseDate != "" {
		if _, err := time.Parse(ReleaseDateLayout, m.ReleaseDate); err != nil {
			return &ValidationError{Field: "release_date", Reason: "must be formatted as YYYY-MM-DD"}
		}
	}
	return nil
}

// MoviePatch is a partial update. Nil fields are left unchanged.
type MoviePatch struct {
	Title       *string `json:"title,omitempty" jsonschema:"minLength=1"`
	ReleaseDate *string `json:"release_date,omitempty" jsonschema:"format=date"`
}

// Apply returns m with the patch applied.
func (p MoviePatch) Apply(m Movie) Movie {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.ReleaseDate != nil {
		m.ReleaseDate = *p.ReleaseDate
	}
	return m
}

// Store persists actors, movies and the casting relation between them.
//
// Create and Update validate the resulting record and return a
// *ValidationError without writing when it is invalid. Lists are ordered by
// ID. Deleting an actor or movie also removes every casting that references
// it. Implementations must be safe for concurrent use.
type Store interface {
	ListActors(ctx context.Context) ([]Actor, error)
	GetActor(ctx context.Context, id int64) (Actor, error)
	CreateActor(ctx context.Context, a Actor) (Actor, error)
	UpdateActor(ctx context.Context, id int64, p ActorPatch) (Actor, error)
	DeleteActor(ctx context.Context, id int64) error

	ListMovies(ctx context.Context) ([]Movie, error)
	GetMovie(ctx context.Context, id int64) (Movie, error)
	CreateMovie(ctx context.Context, m Movie) (Movie, error)
	UpdateMovie(ctx context.Context, id int64, p MoviePatch) (Movie, error)
	DeleteMovie(ctx context.Context, id int64) error

	// ListCast returns the actors cast in a movie.
	ListCast(ctx context.Context, movieID int64) ([]Actor, error)
	// AddCast casts an actor in a movie. Adding an existing casting is a
	// no-op. Both records must exist.
	AddCast(ctx context.Context, movieID, actorID int64) error
	// RemoveCast removes a casting. The movie must exist; removing an actor
	// who was not cast is a no-op.
	RemoveCast(ctx context.Context, movieID, actorID int64) error

	// Close releases resources held by the store.
	Close() error
}
