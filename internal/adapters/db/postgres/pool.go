// Package postgres implements the ports repository interfaces with raw
// database/sql against PostgreSQL, using separate reader/writer pools.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Pools bundles the writer and reader connection pools. Both currently
// point at the same primary; the split is an organizational convenience
// that keeps long read queries from starving writes, and leaves room for
// a future read-replica DSN without touching call sites.
type Pools struct {
	Writer *sql.DB
	Reader *sql.DB
}

// Open dials both pools against dsn and applies the same sizing to each:
// at most 20 open and 2 idle connections, idle connections closed after
// 30s, connections recycled after 30m. No acquisition timeout is set; a
// caller waiting for a free connection waits until its context ends.
func Open(dsn string) (*Pools, error) {
	writer, err := openPool(dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer pool: %w", err)
	}

	reader, err := openPool(dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader pool: %w", err)
	}

	return &Pools{Writer: writer, Reader: reader}, nil
}

func openPool(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}

// Close shuts down both pools.
func (p *Pools) Close() error {
	err1 := p.Writer.Close()
	err2 := p.Reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
