package backup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// Catalog is the backup history ledger, a small sqlite database next to the
// backups themselves. It is advisory: manifests stay authoritative, the
// catalog exists so history queries need not walk the destination.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates the catalog database and ensures its schema.
func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("backup: open catalog %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			// optional tuning, not fatal
		}
	}
	catalog := &Catalog{db: db}
	if err := catalog.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return catalog, nil
}

func (c *Catalog) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
            key TEXT PRIMARY KEY,
            value TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS backups (
            id TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            file_count INTEGER NOT NULL,
            path TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at);`,
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return tx.Commit()
}

// Record inserts one backup into the history.
func (c *Catalog) Record(ctx context.Context, manifest *Manifest) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO backups(id, type, created_at, file_count, path) VALUES(?,?,?,?,?)`,
		manifest.BackupID, string(manifest.Type), manifest.CreatedTime, manifest.FileCount, manifest.Path)
	if err != nil {
		return fmt.Errorf("backup: catalog record %s: %w", manifest.BackupID, err)
	}
	return nil
}

// HistoryEntry is one catalog row.
type HistoryEntry struct {
	BackupID    string
	Type        Type
	CreatedTime time.Time
	FileCount   int
	Path        string
}

// History returns the recorded backups, newest first.
func (c *Catalog) History(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, type, created_at, file_count, path FROM backups ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("backup: catalog history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var kind string
		if err := rows.Scan(&entry.BackupID, &kind, &entry.CreatedTime, &entry.FileCount, &entry.Path); err != nil {
			return nil, err
		}
		entry.Type = Type(kind)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Close releases the catalog database.
func (c *Catalog) Close() error { return c.db.Close() }
