package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/schema"
)

// LogEntryStore reads persisted log entries. Writes go through the
// BatchWriter; this type only queries.
type LogEntryStore struct {
	client *ClickHouseClient
}

// NewLogEntryStore creates a log-entry store over the given client.
func NewLogEntryStore(client *ClickHouseClient) *LogEntryStore {
	return &LogEntryStore{client: client}
}

// GetByID returns one log entry, or ErrNotFound.
func (s *LogEntryStore) GetByID(ctx context.Context, id uuid.UUID) (*schema.LogEntry, error) {
	query := `
		SELECT id, agent_id, source, timestamp, level, message,
		       process_info, network_info, command_line, received_at
		FROM log_entries
		WHERE id = ?
		LIMIT 1
	`

	rows, err := s.client.Query(ctx, query, id)
	if err != nil {
		return nil, WrapQueryError("GetByID", "log_entries", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, WrapNotFoundError("GetByID", "log_entries", id.String())
	}
	return scanLogEntry(rows)
}

// QueryRange returns entries for an agent in a time window, oldest first.
// An empty agentID returns entries across all agents.
func (s *LogEntryStore) QueryRange(ctx context.Context, agentID string, start, end time.Time, limit int) ([]*schema.LogEntry, error) {
	query := `
		SELECT id, agent_id, source, timestamp, level, message,
		       process_info, network_info, command_line, received_at
		FROM log_entries
		WHERE timestamp >= ? AND timestamp < ?
	`
	args := []any{start, end}

	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY timestamp ASC LIMIT ?"
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("QueryRange", "log_entries", err)
	}
	defer rows.Close()

	var entries []*schema.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func scanLogEntry(rows detectionRows) (*schema.LogEntry, error) {
	var (
		e                        schema.LogEntry
		level                    string
		processInfo, networkInfo string
	)
	err := rows.Scan(
		&e.ID,
		&e.AgentID,
		&e.Source,
		&e.Timestamp,
		&level,
		&e.Message,
		&processInfo,
		&networkInfo,
		&e.CommandLine,
		&e.ReceivedAt,
	)
	if err != nil {
		return nil, WrapQueryError("Scan", "log_entries", err)
	}

	e.Level = schema.LogLevel(level)
	if processInfo != "" {
		var pi schema.ProcessInfo
		if err := json.Unmarshal([]byte(processInfo), &pi); err == nil {
			e.ProcessInfo = &pi
		}
	}
	if networkInfo != "" {
		var ni schema.NetworkInfo
		if err := json.Unmarshal([]byte(networkInfo), &ni); err == nil {
			e.NetworkInfo = &ni
		}
	}
	return &e, nil
}
