package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
)

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore opens (and if needed initializes) a SQLite store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sync_items (
        entity_type TEXT NOT NULL,
        entity_id TEXT NOT NULL,
        data BLOB,
        status TEXT NOT NULL,
        last_modified TIMESTAMP NOT NULL,
        version INTEGER NOT NULL DEFAULT 0,
        checksum TEXT NOT NULL DEFAULT '',
        PRIMARY KEY (entity_type, entity_id)
    );

    CREATE INDEX IF NOT EXISTS idx_sync_items_status
        ON sync_items(entity_type, status);

    CREATE TABLE IF NOT EXISTS checkpoints (
        id TEXT PRIMARY KEY,
        timestamp TIMESTAMP NOT NULL,
        last_synced_id TEXT,
        total_items INTEGER NOT NULL,
        synced_items INTEGER NOT NULL,
        checksum TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_checkpoints_time ON checkpoints(timestamp);

    CREATE TABLE IF NOT EXISTS conflicts (
        id TEXT PRIMARY KEY,
        entity_type TEXT NOT NULL,
        record_id TEXT NOT NULL,
        status TEXT NOT NULL,
        detected_at TIMESTAMP NOT NULL,
        record BLOB NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status, detected_at);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Get retrieves one item.
func (s *SQLiteStore) Get(entityType models.EntityType, id string) (*models.SyncItem, error) {
	item := &models.SyncItem{Type: entityType, ID: id}
	var data []byte

	err := s.db.QueryRow(`
        SELECT data, status, last_modified, version, checksum
        FROM sync_items
        WHERE entity_type = ? AND entity_id = ?
    `, entityType, id).Scan(&data, &item.Status, &item.LastModified, &item.Version, &item.Checksum)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}

	if len(data) > 0 {
		item.Data = json.RawMessage(data)
	}
	return item, nil
}

// Put inserts or replaces an item.
func (s *SQLiteStore) Put(item *models.SyncItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	_, err := s.db.Exec(`
        INSERT INTO sync_items (entity_type, entity_id, data, status, last_modified, version, checksum)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(entity_type, entity_id) DO UPDATE SET
            data = excluded.data,
            status = excluded.status,
            last_modified = excluded.last_modified,
            version = excluded.version,
            checksum = excluded.checksum
    `, item.Type, item.ID, []byte(item.Data), item.Status, item.LastModified, item.Version, item.Checksum)

	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// Delete removes an item.
func (s *SQLiteStore) Delete(entityType models.EntityType, id string) error {
	_, err := s.db.Exec(`
        DELETE FROM sync_items WHERE entity_type = ? AND entity_id = ?
    `, entityType, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// ListDirty returns unsynced items of one type, oldest modification first.
func (s *SQLiteStore) ListDirty(entityType models.EntityType) ([]*models.SyncItem, error) {
	rows, err := s.db.Query(`
        SELECT entity_id, data, status, last_modified, version, checksum
        FROM sync_items
        WHERE entity_type = ? AND status != ?
        ORDER BY last_modified ASC, entity_id ASC
    `, entityType, models.ItemSynced)
	if err != nil {
		return nil, fmt.Errorf("query dirty items: %w", err)
	}
	defer rows.Close()

	return s.scanItems(rows, entityType)
}

// ListAll returns every item in entity-key order.
func (s *SQLiteStore) ListAll() ([]*models.SyncItem, error) {
	rows, err := s.db.Query(`
        SELECT entity_type, entity_id, data, status, last_modified, version, checksum
        FROM sync_items
        ORDER BY entity_type ASC, entity_id ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []*models.SyncItem
	for rows.Next() {
		item := &models.SyncItem{}
		var data []byte
		if err := rows.Scan(&item.Type, &item.ID, &data, &item.Status,
			&item.LastModified, &item.Version, &item.Checksum); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		if len(data) > 0 {
			item.Data = json.RawMessage(data)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) scanItems(rows *sql.Rows, entityType models.EntityType) ([]*models.SyncItem, error) {
	var items []*models.SyncItem
	for rows.Next() {
		item := &models.SyncItem{Type: entityType}
		var data []byte
		if err := rows.Scan(&item.ID, &data, &item.Status,
			&item.LastModified, &item.Version, &item.Checksum); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		if len(data) > 0 {
			item.Data = json.RawMessage(data)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveCheckpoint appends a checkpoint.
func (s *SQLiteStore) SaveCheckpoint(cp *models.SyncCheckpoint) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"checkpoint_id": cp.ID,
		"synced":        cp.SyncedItems,
		"total":         cp.TotalItems,
	}).Debug("Saving checkpoint")

	_, err := s.db.Exec(`
        INSERT INTO checkpoints (id, timestamp, last_synced_id, total_items, synced_items, checksum)
        VALUES (?, ?, ?, ?, ?, ?)
    `, cp.ID, cp.Timestamp, cp.LastSyncedID, cp.TotalItems, cp.SyncedItems, cp.Checksum)

	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint.
func (s *SQLiteStore) LatestCheckpoint() (*models.SyncCheckpoint, error) {
	cp := &models.SyncCheckpoint{}
	var lastSyncedID sql.NullString

	err := s.db.QueryRow(`
        SELECT id, timestamp, last_synced_id, total_items, synced_items, checksum
        FROM checkpoints
        ORDER BY timestamp DESC
        LIMIT 1
    `).Scan(&cp.ID, &cp.Timestamp, &lastSyncedID, &cp.TotalItems, &cp.SyncedItems, &cp.Checksum)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}

	if lastSyncedID.Valid {
		cp.LastSyncedID = lastSyncedID.String
	}
	return cp, nil
}

// SaveConflict persists a new conflict record.
func (s *SQLiteStore) SaveConflict(rec *models.ConflictRecord) error {
	return s.writeConflict(rec, false)
}

// UpdateConflict replaces an existing conflict record.
func (s *SQLiteStore) UpdateConflict(rec *models.ConflictRecord) error {
	return s.writeConflict(rec, true)
}

func (s *SQLiteStore) writeConflict(rec *models.ConflictRecord, replace bool) error {
	// Updates are gated on existence alone; only new records are
	// validated, matching MemoryStore.
	if !replace {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("invalid conflict record: %w", err)
		}
	}

	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal conflict record: %w", err)
	}

	if replace {
		res, err := s.db.Exec(`
            UPDATE conflicts SET status = ?, record = ? WHERE id = ?
        `, rec.Status, blob, rec.ID)
		if err != nil {
			return fmt.Errorf("update conflict: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	}

	_, err = s.db.Exec(`
        INSERT INTO conflicts (id, entity_type, record_id, status, detected_at, record)
        VALUES (?, ?, ?, ?, ?, ?)
    `, rec.ID, rec.EntityType, rec.RecordID, rec.Status, rec.DetectedAt, blob)
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

// GetConflict retrieves a conflict record by ID.
func (s *SQLiteStore) GetConflict(id string) (*models.ConflictRecord, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT record FROM conflicts WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conflict: %w", err)
	}

	rec := &models.ConflictRecord{}
	if err := json.Unmarshal(blob, rec); err != nil {
		return nil, fmt.Errorf("unmarshal conflict record: %w", err)
	}
	return rec, nil
}

// ListConflicts returns conflicts in a status, oldest first.
func (s *SQLiteStore) ListConflicts(status models.ConflictStatus) ([]*models.ConflictRecord, error) {
	query := `SELECT record FROM conflicts ORDER BY detected_at ASC`
	args := []interface{}{}
	if status != "" {
		query = `SELECT record FROM conflicts WHERE status = ? ORDER BY detected_at ASC`
		args = append(args, status)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	var records []*models.ConflictRecord
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan conflict row: %w", err)
		}
		rec := &models.ConflictRecord{}
		if err := json.Unmarshal(blob, rec); err != nil {
			return nil, fmt.Errorf("unmarshal conflict record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
