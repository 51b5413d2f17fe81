package lookupstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cargotrack-backend/internal/db"
)

// Store keeps the history of tracking lookups.
type Store struct {
	db     *sql.DB
	qry    *db.Queries
	makeTx db.MakeTx
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:     database,
		qry:    db.New(database),
		makeTx: db.NewMakeTx(database),
	}
}

// Migrate creates the tables when missing.
func (s Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, db.Schema)
	return err
}

type Entry struct {
	Time           time.Time
	TrackingNumber string
	Carrier        string
	Source         db.Source
	Status         string
	LiveETA        string
	Summary        string
}

// Record writes all entries in one transaction.
func (s Store) Record(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	txqry, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return err
	}
	defer discard()

	for _, e := range entries {
		_, err := txqry.CreateLookup(ctx, db.CreateLookupParams{
			Trackingnumber: e.TrackingNumber,
			Carrier:        e.Carrier,
			Source:         string(e.Source),
			Status:         e.Status,
			Liveeta:        e.LiveETA,
			Summary:        e.Summary,
			Createdat:      e.Time.Unix(),
		})
		if err != nil {
			return err
		}
	}
	return commit()
}

func fromRow(r db.Lookup) Entry {
	return Entry{
		Time:           time.Unix(r.Createdat, 0).UTC(),
		TrackingNumber: r.Trackingnumber,
		Carrier:        r.Carrier,
		Source:         db.Source(r.Source),
		Status:         r.Status,
		LiveETA:        r.Liveeta,
		Summary:        r.Summary,
	}
}

// History returns the latest lookups of a number, newest first.
func (s Store) History(ctx context.Context, trackingNumber string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.qry.GetLookups(ctx, db.GetLookupsParams{
		Trackingnumber: trackingNumber,
		Limit:          int64(limit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// Latest returns the newest lookup that found something.
func (s Store) Latest(ctx context.Context, trackingNumber string) (Entry, bool, error) {
	row, err := s.qry.GetLatestLookup(ctx, trackingNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return fromRow(row), true, nil
}

// Prune deletes lookups older than `before`.
func (s Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	return s.qry.DeleteLookupsBefore(ctx, before.Unix())
}
