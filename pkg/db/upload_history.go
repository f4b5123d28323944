package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UploadRecord represents one committed upload.
type UploadRecord struct {
	ID         int64
	BatchID    string
	Filename   string
	Policy     string
	KeyColumn  string
	TotalRows  int
	Inserted   int
	Duplicates int
	Updated    int
	UploadedAt time.Time
}

// UploadHistory manages the upload audit trail.
type UploadHistory struct {
	conn *Connection
}

// NewUploadHistory creates a new UploadHistory instance.
func NewUploadHistory(conn *Connection) *UploadHistory {
	return &UploadHistory{conn: conn}
}

// RecordUpload records an upload. Re-recording the same batch id updates its counts.
func (h *UploadHistory) RecordUpload(ctx context.Context, record UploadRecord) error {
	d := h.conn.dialect
	p := &params{d: d}
	if record.UploadedAt.IsZero() {
		record.UploadedAt = time.Now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (batch_id, filename, policy, key_column, total_rows, inserted, duplicates, updated, uploaded_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT(batch_id) DO UPDATE SET
			total_rows = excluded.total_rows,
			inserted = excluded.inserted,
			duplicates = excluded.duplicates,
			updated = excluded.updated
	`, d.Table(UploadHistoryTable),
		p.add(record.BatchID),
		p.add(record.Filename),
		p.add(record.Policy),
		p.add(record.KeyColumn),
		p.add(record.TotalRows),
		p.add(record.Inserted),
		p.add(record.Duplicates),
		p.add(record.Updated),
		p.add(record.UploadedAt.UTC()),
	)

	if _, err := h.conn.db.ExecContext(ctx, query, p.args...); err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}

	return nil
}

// RecentUploads retrieves the newest uploads first.
func (h *UploadHistory) RecentUploads(ctx context.Context, limit int) ([]UploadRecord, error) {
	d := h.conn.dialect
	p := &params{d: d}
	query := fmt.Sprintf(`
		SELECT id, batch_id, filename, policy, key_column, total_rows, inserted, duplicates, updated, uploaded_at
		FROM %s
		ORDER BY uploaded_at DESC, id DESC
		LIMIT %s
	`, d.Table(UploadHistoryTable), p.add(limit))

	rows, err := h.conn.db.QueryContext(ctx, query, p.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent uploads: %w", err)
	}
	defer rows.Close()

	var records []UploadRecord
	for rows.Next() {
		var record UploadRecord
		if err := rows.Scan(
			&record.ID,
			&record.BatchID,
			&record.Filename,
			&record.Policy,
			&record.KeyColumn,
			&record.TotalRows,
			&record.Inserted,
			&record.Duplicates,
			&record.Updated,
			&record.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan upload record: %w", err)
		}
		record.UploadedAt = record.UploadedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate upload records: %w", err)
	}

	return records, nil
}

// GetUpload retrieves an upload by batch id. It returns nil when none exists.
func (h *UploadHistory) GetUpload(ctx context.Context, batchID string) (*UploadRecord, error) {
	d := h.conn.dialect
	p := &params{d: d}
	query := fmt.Sprintf(`
		SELECT id, batch_id, filename, policy, key_column, total_rows, inserted, duplicates, updated, uploaded_at
		FROM %s
		WHERE batch_id = %s
	`, d.Table(UploadHistoryTable), p.add(batchID))

	var record UploadRecord
	err := h.conn.db.QueryRowContext(ctx, query, p.args...).Scan(
		&record.ID,
		&record.BatchID,
		&record.Filename,
		&record.Policy,
		&record.KeyColumn,
		&record.TotalRows,
		&record.Inserted,
		&record.Duplicates,
		&record.Updated,
		&record.UploadedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}

	record.UploadedAt = record.UploadedAt.UTC()
	return &record, nil
}
