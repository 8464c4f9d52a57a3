package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteEntryStore persists trace chains in SQLite. The
// (trace_id, sequence_num) primary key makes concurrent appends to the same
// slot fail instead of silently losing an update.
type SQLiteEntryStore struct {
	db *sql.DB
}

// NewSQLiteEntryStore wraps db and ensures the schema exists.
func NewSQLiteEntryStore(db *sql.DB) (*SQLiteEntryStore, error) {
	s := &SQLiteEntryStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEntryStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS traces (
        trace_id TEXT PRIMARY KEY,
        case_id TEXT NOT NULL UNIQUE,
        entry_count INTEGER NOT NULL DEFAULT 0,
        accepted_count INTEGER NOT NULL DEFAULT 0,
        rejected_count INTEGER NOT NULL DEFAULT 0,
        gap_count INTEGER NOT NULL DEFAULT 0,
        created_at TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS trace_entries (
        trace_id TEXT NOT NULL,
        sequence_num INTEGER NOT NULL,
        event_type TEXT NOT NULL,
        actor TEXT NOT NULL,
        entity_type TEXT,
        entity_id TEXT,
        decision TEXT,
        input_data JSON,
        output_data JSON,
        reasons JSON,
        content_hash TEXT NOT NULL,
        previous_hash TEXT NOT NULL DEFAULT '',
        created_at TEXT NOT NULL,
        PRIMARY KEY (trace_id, sequence_num)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("trace: migrate failed: %w", err)
	}
	return nil
}

func (s *SQLiteEntryStore) CreateTrace(ctx context.Context, traceID, caseID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traces (trace_id, case_id, created_at) VALUES (?, ?, ?)`,
		traceID, caseID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %s", ErrTraceExists, caseID)
		}
		return fmt.Errorf("trace: create trace: %w", err)
	}
	return nil
}

func (s *SQLiteEntryStore) TraceForCase(ctx context.Context, caseID string) (string, error) {
	var traceID string
	err := s.db.QueryRowContext(ctx,
		`SELECT trace_id FROM traces WHERE case_id = ?`, caseID).Scan(&traceID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrNoTrace, caseID)
	}
	if err != nil {
		return "", fmt.Errorf("trace: lookup trace for case: %w", err)
	}
	return traceID, nil
}

func (s *SQLiteEntryStore) LatestEntry(ctx context.Context, traceID string) (*contracts.TraceEntry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+`
        WHERE trace_id = ?
        ORDER BY sequence_num DESC
        LIMIT 1`, traceID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trace: latest entry: %w", err)
	}
	return entry, nil
}

func (s *SQLiteEntryStore) AppendEntry(ctx context.Context, entry *contracts.TraceEntry, delta SummaryDelta) error {
	inputJSON, err := marshalMaybe(entry.InputData)
	if err != nil {
		return fmt.Errorf("trace: marshal input_data: %w", err)
	}
	outputJSON, err := marshalMaybe(entry.OutputData)
	if err != nil {
		return fmt.Errorf("trace: marshal output_data: %w", err)
	}
	reasonsJSON, err := marshalMaybe(entry.Reasons)
	if err != nil {
		return fmt.Errorf("trace: marshal reasons: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("trace: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO trace_entries
        (trace_id, sequence_num, event_type, actor, entity_type, entity_id, decision,
         input_data, output_data, reasons, content_hash, previous_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TraceID, entry.SequenceNum, string(entry.EventType), entry.Actor,
		entry.EntityType, entry.EntityID, entry.Decision,
		inputJSON, outputJSON, reasonsJSON,
		entry.ContentHash, entry.PreviousHash,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return fmt.Errorf("%w: sequence %d", ErrSequenceConflict, entry.SequenceNum)
		}
		return fmt.Errorf("trace: insert entry %d: %w", entry.SequenceNum, err)
	}

	// Summary counters move in the same transaction as the entry.
	_, err = tx.ExecContext(ctx, `UPDATE traces SET
        entry_count = entry_count + 1,
        accepted_count = accepted_count + ?,
        rejected_count = rejected_count + ?,
        gap_count = gap_count + ?
        WHERE trace_id = ?`,
		delta.Accepted, delta.Rejected, delta.Gaps, entry.TraceID)
	if err != nil {
		return fmt.Errorf("trace: update summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("trace: commit append: %w", err)
	}
	return nil
}

func (s *SQLiteEntryStore) ListEntries(ctx context.Context, traceID string) ([]contracts.TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+`
        WHERE trace_id = ?
        ORDER BY sequence_num ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("trace: list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []contracts.TraceEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("trace: scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace: iterate entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteEntryStore) Summary(ctx context.Context, traceID string) (*contracts.TraceSummary, error) {
	var sum contracts.TraceSummary
	err := s.db.QueryRowContext(ctx, `
        SELECT trace_id, case_id, entry_count, accepted_count, rejected_count, gap_count
        FROM traces WHERE trace_id = ?`, traceID).
		Scan(&sum.TraceID, &sum.CaseID, &sum.EntryCount, &sum.AcceptedCount, &sum.RejectedCount, &sum.GapCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: trace %s", ErrNoTrace, traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("trace: load summary: %w", err)
	}
	return &sum, nil
}

const selectEntry = `
        SELECT trace_id, sequence_num, event_type, actor, entity_type, entity_id, decision,
               input_data, output_data, reasons, content_hash, previous_hash, created_at
        FROM trace_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*contracts.TraceEntry, error) {
	var (
		entry       contracts.TraceEntry
		eventType   string
		entityType  sql.NullString
		entityID    sql.NullString
		decision    sql.NullString
		inputJSON   sql.NullString
		outputJSON  sql.NullString
		reasonsJSON sql.NullString
		createdAt   string
	)
	err := row.Scan(&entry.TraceID, &entry.SequenceNum, &eventType, &entry.Actor,
		&entityType, &entityID, &decision,
		&inputJSON, &outputJSON, &reasonsJSON,
		&entry.ContentHash, &entry.PreviousHash, &createdAt)
	if err != nil {
		return nil, err
	}
	entry.EventType = contracts.TraceEventType(eventType)
	entry.EntityType = entityType.String
	entry.EntityID = entityID.String
	entry.Decision = decision.String
	if inputJSON.Valid && inputJSON.String != "" {
		_ = json.Unmarshal([]byte(inputJSON.String), &entry.InputData)
	}
	if outputJSON.Valid && outputJSON.String != "" {
		_ = json.Unmarshal([]byte(outputJSON.String), &entry.OutputData)
	}
	if reasonsJSON.Valid && reasonsJSON.String != "" {
		_ = json.Unmarshal([]byte(reasonsJSON.String), &entry.Reasons)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("trace: parse created_at %q: %w", createdAt, err)
	}
	entry.CreatedAt = t
	return &entry, nil
}

func marshalMaybe(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return sql.NullString{}, nil
		}
	case []string:
		if t == nil {
			return sql.NullString{}, nil
		}
	case nil:
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
