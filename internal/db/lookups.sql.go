package db

import (
	"context"
)

const createLookup = `-- name: CreateLookup :one
insert into Lookup(trackingNumber, carrier, source, status, liveEta, summary, createdAt)
values (?, ?, ?, ?, ?, ?, ?)
returning id
`

type CreateLookupParams struct {
	Trackingnumber string
	Carrier        string
	Source         string
	Status         string
	Liveeta        string
	Summary        string
	Createdat      int64
}

func (q *Queries) CreateLookup(ctx context.Context, arg CreateLookupParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, createLookup,
		arg.Trackingnumber,
		arg.Carrier,
		arg.Source,
		arg.Status,
		arg.Liveeta,
		arg.Summary,
		arg.Createdat,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getLookups = `-- name: GetLookups :many
select id, trackingNumber, carrier, source, status, liveEta, summary, createdAt from Lookup
where trackingNumber = ?
order by createdAt desc, id desc
limit ?
`

type GetLookupsParams struct {
	Trackingnumber string
	Limit          int64
}

func (q *Queries) GetLookups(ctx context.Context, arg GetLookupsParams) ([]Lookup, error) {
	rows, err := q.db.QueryContext(ctx, getLookups, arg.Trackingnumber, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Lookup
	for rows.Next() {
		var i Lookup
		if err := rows.Scan(
			&i.ID,
			&i.Trackingnumber,
			&i.Carrier,
			&i.Source,
			&i.Status,
			&i.Liveeta,
			&i.Summary,
			&i.Createdat,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getLatestLookup = `-- name: GetLatestLookup :one
select id, trackingNumber, carrier, source, status, liveEta, summary, createdAt from Lookup
where trackingNumber = ? and source != 'not_found'
order by createdAt desc, id desc
limit 1
`

func (q *Queries) GetLatestLookup(ctx context.Context, trackingnumber string) (Lookup, error) {
	row := q.db.QueryRowContext(ctx, getLatestLookup, trackingnumber)
	var i Lookup
	err := row.Scan(
		&i.ID,
		&i.Trackingnumber,
		&i.Carrier,
		&i.Source,
		&i.Status,
		&i.Liveeta,
		&i.Summary,
		&i.Createdat,
	)
	return i, err
}

const deleteLookupsBefore = `-- name: DeleteLookupsBefore :execrows
delete from Lookup where createdAt < ?
`

func (q *Queries) DeleteLookupsBefore(ctx context.Context, createdat int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteLookupsBefore, createdat)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
