package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GenreTarget is the parent a genre is attached to. Only MovieTarget and
// SeriesTarget implement it, so a link always has exactly one parent.
type GenreTarget interface {
	TargetID() uuid.UUID
	TargetKind() string
	isGenreTarget()
}

type MovieTarget struct{ ID uuid.UUID }

func (t MovieTarget) TargetID() uuid.UUID { return t.ID }
func (MovieTarget) TargetKind() string    { return "movie" }
func (MovieTarget) isGenreTarget()        {}

type SeriesTarget struct{ ID uuid.UUID }

func (t SeriesTarget) TargetID() uuid.UUID { return t.ID }
func (SeriesTarget) TargetKind() string    { return "series" }
func (SeriesTarget) isGenreTarget()        {}

type GenreLink struct {
	GenreID uuid.UUID
	Target  GenreTarget
}

func NewGenreLink(genreID uuid.UUID, target GenreTarget) (GenreLink, error) {
	if genreID == uuid.Nil {
		return GenreLink{}, fmt.Errorf("%w: empty genre id", ErrInvalidGenreLink)
	}
	if target == nil || target.TargetID() == uuid.Nil {
		return GenreLink{}, fmt.Errorf("%w: empty target", ErrInvalidGenreLink)
	}
	return GenreLink{GenreID: genreID, Target: target}, nil
}

type genreLinkJSON struct {
	GenreID    uuid.UUID `json:"genre_id"`
	TargetKind string    `json:"target_kind"`
	TargetID   uuid.UUID `json:"target_id"`
}

func (l GenreLink) MarshalJSON() ([]byte, error) {
	if l.Target == nil {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidGenreLink)
	}
	return json.Marshal(genreLinkJSON{
		GenreID:    l.GenreID,
		TargetKind: l.Target.TargetKind(),
		TargetID:   l.Target.TargetID(),
	})
}

func (l *GenreLink) UnmarshalJSON(b []byte) error {
	var raw genreLinkJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var target GenreTarget
	switch raw.TargetKind {
	case "movie":
		target = MovieTarget{ID: raw.TargetID}
	case "series":
		target = SeriesTarget{ID: raw.TargetID}
	default:
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidGenreLink, raw.TargetKind)
	}
	link, err := NewGenreLink(raw.GenreID, target)
	if err != nil {
		return err
	}
	*l = link
	return nil
}
