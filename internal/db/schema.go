package db

import _ "embed"

//go:embed schema.sql
var Schema string

// Source is where a lookup result came from.
type Source string

const (
	SOURCE_API      Source = "api"
	SOURCE_DRIVER   Source = "driver"
	SOURCE_NOTFOUND Source = "not_found"
)
