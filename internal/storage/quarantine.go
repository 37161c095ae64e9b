package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuarantineEntry represents an invalid log submission held for operator
// inspection instead of being dropped.
type QuarantineEntry struct {
	RawEntry         string
	RemoteAddr       string
	Transport        string // "http" or "kafka"
	ValidationErrors []string
	ErrorCode        string
}

// QuarantineWriter handles writing invalid submissions to the quarantine
// table.
type QuarantineWriter struct {
	client *ClickHouseClient
}

// NewQuarantineWriter creates a new QuarantineWriter.
func NewQuarantineWriter(client *ClickHouseClient) *QuarantineWriter {
	return &QuarantineWriter{client: client}
}

// Write stores a single quarantine entry.
func (qw *QuarantineWriter) Write(ctx context.Context, entry *QuarantineEntry) error {
	query := `
		INSERT INTO log_entries_quarantine (
			quarantine_id, raw_entry, remote_addr, transport,
			validation_errors, error_code, quarantined_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := qw.client.Exec(ctx, query,
		uuid.New(),
		entry.RawEntry,
		entry.RemoteAddr,
		entry.Transport,
		entry.ValidationErrors,
		entry.ErrorCode,
		time.Now().UTC(),
	)
	if err != nil {
		return WrapQueryError("Write", "log_entries_quarantine", err)
	}
	return nil
}

// WriteBatch stores multiple quarantine entries.
func (qw *QuarantineWriter) WriteBatch(ctx context.Context, entries []*QuarantineEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := qw.client.PrepareBatch(ctx, `
		INSERT INTO log_entries_quarantine (
			quarantine_id, raw_entry, remote_addr, transport,
			validation_errors, error_code, quarantined_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare quarantine batch: %w", err)
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		err := batch.Append(
			uuid.New(),
			entry.RawEntry,
			entry.RemoteAddr,
			entry.Transport,
			entry.ValidationErrors,
			entry.ErrorCode,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to append quarantine entry: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return WrapQueryError("WriteBatch", "log_entries_quarantine", err)
	}
	return nil
}
