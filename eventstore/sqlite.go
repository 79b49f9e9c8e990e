package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// sqlStore is the embedded-relational backend: a single table of
// records, read back in insertion (autoincrement id) order, behind
// database/sql. No driver is imported
// here — the gateway's deployment chooses one (e.g. a CGo-free sqlite
// driver) and registers it with database/sql via its own blank import,
// the same constructor-registry contract the connector and store
// packages use for plug-ins. Config supplies the registered driver
// name and DSN; sql.Open fails fast with "unknown driver" if the
// caller forgot to import one.
type sqlStore struct {
	mu       sync.Mutex
	db       *sql.DB
	packSize int

	pendingIDs []int64
	pending    [][]byte
}

func newSQLStore(config map[string]any) (Store, error) {
	driverName, _ := config["driverName"].(string)
	dsn, _ := config["dsn"].(string)
	if driverName == "" || dsn == "" {
		return nil, fmt.Errorf("eventstore: sql backend requires driverName and dsn")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", driverName, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("eventstore: ping %s: %w", driverName, err)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS gwcore_events (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		payload BLOB NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("eventstore: create table: %w", err)
	}

	packSize := defaultPackSize
	if v, ok := config["packSize"].(float64); ok && v > 0 {
		packSize = int(v)
	}

	return &sqlStore{db: db, packSize: packSize}, nil
}

func init() {
	Register("sqlite", newSQLStore)
	Register("sql", newSQLStore)
}

func (s *sqlStore) Put(ctx context.Context, record []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO gwcore_events (payload) VALUES (?)`, record)
	return err == nil
}

func (s *sqlStore) GetEventPack(ctx context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		return s.pending, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM gwcore_events ORDER BY id ASC LIMIT ?`, s.packSize)
	if err != nil {
		return nil, fmt.Errorf("eventstore: select pack: %w", err)
	}
	defer rows.Close()

	var ids []int64
	var pack [][]byte
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("eventstore: scan row: %w", err)
		}
		ids = append(ids, id)
		pack = append(pack, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pack) == 0 {
		return nil, nil
	}

	s.pendingIDs = ids
	s.pending = pack
	return pack, nil
}

func (s *sqlStore) EventPackProcessingDone(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pendingIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventstore: begin delete tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM gwcore_events WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, id := range s.pendingIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("eventstore: delete acked record %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventstore: commit delete tx: %w", err)
	}

	s.pendingIDs = nil
	s.pending = nil
	return nil
}

func (s *sqlStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM gwcore_events`)
	if err := row.Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *sqlStore) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
