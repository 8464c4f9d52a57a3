package evidence

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

// SQLiteStore persists evidence atoms in SQLite. Rows are append-only; the
// UNIQUE(case_id, atom_id) constraint backs the write-once invariant.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and ensures the schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS evidence_atoms (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        case_id TEXT NOT NULL,
        atom_id TEXT NOT NULL,
        evidence_type TEXT NOT NULL,
        content_hash TEXT NOT NULL,
        normalized_data JSON NOT NULL,
        provenance JSON,
        created_at TEXT NOT NULL,
        UNIQUE(case_id, atom_id)
    );
    CREATE INDEX IF NOT EXISTS idx_evidence_case_type ON evidence_atoms(case_id, evidence_type);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("evidence: migrate failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Persist(ctx context.Context, caseID string, atoms []contracts.EvidenceAtom) (*contracts.PersistResult, error) {
	if caseID == "" {
		return nil, ErrEmptyCaseID
	}
	result := &contracts.PersistResult{InsertedIDs: []string{}}

	// Lookups and inserts run in bounded batches so thousand-row ingestions
	// never exceed statement parameter limits.
	for start := 0; start < len(atoms); start += persistBatchSize {
		end := start + persistBatchSize
		if end > len(atoms) {
			end = len(atoms)
		}
		if err := s.persistBatch(ctx, caseID, atoms[start:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *SQLiteStore) persistBatch(ctx context.Context, caseID string, atoms []contracts.EvidenceAtom, result *contracts.PersistResult) error {
	ids := make([]string, 0, len(atoms))
	for _, a := range atoms {
		ids = append(ids, a.AtomID)
	}
	existing, err := s.existingIDs(ctx, caseID, ids)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("evidence: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `INSERT INTO evidence_atoms
        (case_id, atom_id, evidence_type, content_hash, normalized_data, provenance, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, atom := range atoms {
		if existing[atom.AtomID] {
			result.SkippedCount++
			continue
		}
		dataJSON, err := json.Marshal(atom.NormalizedData)
		if err != nil {
			return fmt.Errorf("evidence: marshal normalized_data for %s: %w", atom.AtomID, err)
		}
		provJSON, err := json.Marshal(atom.Provenance)
		if err != nil {
			return fmt.Errorf("evidence: marshal provenance for %s: %w", atom.AtomID, err)
		}
		createdAt := atom.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, insert,
			caseID, atom.AtomID, string(atom.EvidenceType), atom.ContentHash,
			string(dataJSON), string(provJSON), createdAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("evidence: insert atom %s: %w", atom.AtomID, err)
		}
		existing[atom.AtomID] = true
		result.InsertedCount++
		result.InsertedIDs = append(result.InsertedIDs, atom.AtomID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("evidence: commit batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) existingIDs(ctx context.Context, caseID string, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(
		`SELECT atom_id FROM evidence_atoms WHERE case_id = ? AND atom_id IN (%s)`, placeholders)
	args := make([]any, 0, len(ids)+1)
	args = append(args, caseID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("evidence: lookup existing atoms: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("evidence: scan atom id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence: iterate existing atoms: %w", err)
	}
	return existing, nil
}

func (s *SQLiteStore) ListByCase(ctx context.Context, caseID string) ([]contracts.EvidenceAtom, error) {
	query := `
        SELECT atom_id, evidence_type, content_hash, normalized_data, provenance, created_at
        FROM evidence_atoms
        WHERE case_id = ?
        ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("evidence: list atoms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var atoms []contracts.EvidenceAtom
	for rows.Next() {
		var (
			atomID       string
			evidenceType string
			contentHash  string
			dataJSON     string
			provJSON     sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&atomID, &evidenceType, &contentHash, &dataJSON, &provJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("evidence: scan atom row: %w", err)
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
			return nil, fmt.Errorf("evidence: decode normalized_data for %s: %w", atomID, err)
		}
		var prov contracts.Provenance
		if provJSON.Valid && provJSON.String != "" {
			_ = json.Unmarshal([]byte(provJSON.String), &prov)
		}
		atoms = append(atoms, contracts.EvidenceAtom{
			AtomID:         atomID,
			CaseID:         caseID,
			EvidenceType:   contracts.EvidenceType(evidenceType),
			ContentHash:    contentHash,
			NormalizedData: data,
			Provenance:     prov,
			CreatedAt:      parseTime(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence: iterate atoms: %w", err)
	}
	return atoms, nil
}

func (s *SQLiteStore) CountByType(ctx context.Context, caseID string) (map[contracts.EvidenceType]int, error) {
	query := `SELECT evidence_type, COUNT(*) FROM evidence_atoms WHERE case_id = ? GROUP BY evidence_type`
	rows, err := s.db.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("evidence: count by type: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[contracts.EvidenceType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("evidence: scan count row: %w", err)
		}
		counts[contracts.EvidenceType(t)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence: iterate counts: %w", err)
	}
	return counts, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
