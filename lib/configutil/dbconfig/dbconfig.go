package dbconfig

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Config selects where the lookup history lives. `url` takes priority and is
// opened with the libsql driver (libsql://, https://, wss:// urls), otherwise
// `file` is opened as a local sqlite database, ":memory:" included.
type Config struct {
	File string `json:"file"`
	Url  string `json:"url"`
}

func (c Config) Enabled() bool {
	return c.File != "" || c.Url != ""
}

func (c Config) OpenDB() (*sql.DB, error) {
	if c.Url != "" {
		if !isLibsqlUrl(c.Url) {
			return nil, fmt.Errorf("unsupported database url scheme: %s", c.Url)
		}
		return sql.Open("libsql", c.Url)
	}
	if c.File == "" {
		return nil, fmt.Errorf("a path was not specified")
	}

	dbpath := c.File
	if dbpath != ":memory:" {
		err := os.MkdirAll(filepath.Dir(dbpath), 0755)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		return nil, err
	}
	// sqlite only allows a single writer, a single connection also keeps
	// ":memory:" databases from being opened once per connection.
	db.SetMaxOpenConns(1)
	if dbpath != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func isLibsqlUrl(u string) bool {
	for _, prefix := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(u, prefix) {
			return true
		}
	}
	return false
}
