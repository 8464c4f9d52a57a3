package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteCaseStore persists workflow cases in SQLite.
type SQLiteCaseStore struct {
	db *sql.DB
}

// NewSQLiteCaseStore wraps db and ensures the schema exists.
func NewSQLiteCaseStore(db *sql.DB) (*SQLiteCaseStore, error) {
	s := &SQLiteCaseStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteCaseStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS workflow_cases (
        case_id TEXT PRIMARY KEY,
        template_id TEXT NOT NULL,
        jurisdictions JSON NOT NULL,
        device_code TEXT,
        period_start TEXT,
        period_end TEXT,
        version INTEGER NOT NULL DEFAULT 1,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("workflow: migrate cases failed: %w", err)
	}
	return nil
}

func (s *SQLiteCaseStore) Get(ctx context.Context, caseID string) (*contracts.WorkflowCase, error) {
	query := `
        SELECT template_id, jurisdictions, device_code, period_start, period_end, version, created_at, updated_at
        FROM workflow_cases WHERE case_id = ?`
	row := s.db.QueryRowContext(ctx, query, caseID)

	var (
		templateID    string
		jurisJSON     string
		deviceCode    sql.NullString
		periodStart   sql.NullString
		periodEnd     sql.NullString
		version       int
		createdAtText string
		updatedAtText string
	)
	err := row.Scan(&templateID, &jurisJSON, &deviceCode, &periodStart, &periodEnd, &version, &createdAtText, &updatedAtText)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: scan case %s: %w", caseID, err)
	}
	var jurisdictions []string
	if err := json.Unmarshal([]byte(jurisJSON), &jurisdictions); err != nil {
		return nil, fmt.Errorf("workflow: decode jurisdictions for %s: %w", caseID, err)
	}
	return &contracts.WorkflowCase{
		CaseID:        caseID,
		TemplateID:    templateID,
		Jurisdictions: jurisdictions,
		DeviceCode:    deviceCode.String,
		PeriodStart:   parseTime(periodStart.String),
		PeriodEnd:     parseTime(periodEnd.String),
		Version:       version,
		CreatedAt:     parseTime(createdAtText),
		UpdatedAt:     parseTime(updatedAtText),
	}, nil
}

func (s *SQLiteCaseStore) Create(ctx context.Context, c *contracts.WorkflowCase) error {
	jurisJSON, err := json.Marshal(c.Jurisdictions)
	if err != nil {
		return fmt.Errorf("workflow: marshal jurisdictions: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO workflow_cases
        (case_id, template_id, jurisdictions, device_code, period_start, period_end, version, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CaseID, c.TemplateID, string(jurisJSON), c.DeviceCode,
		c.PeriodStart.UTC().Format(time.RFC3339Nano), c.PeriodEnd.UTC().Format(time.RFC3339Nano),
		c.Version, c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("workflow: insert case %s: %w", c.CaseID, err)
	}
	return nil
}

func (s *SQLiteCaseStore) Update(ctx context.Context, c *contracts.WorkflowCase) error {
	jurisJSON, err := json.Marshal(c.Jurisdictions)
	if err != nil {
		return fmt.Errorf("workflow: marshal jurisdictions: %w", err)
	}
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
        UPDATE workflow_cases
        SET template_id = ?, jurisdictions = ?, device_code = ?, period_start = ?, period_end = ?, version = ?, updated_at = ?
        WHERE case_id = ?`,
		c.TemplateID, string(jurisJSON), c.DeviceCode,
		c.PeriodStart.UTC().Format(time.RFC3339Nano), c.PeriodEnd.UTC().Format(time.RFC3339Nano),
		c.Version, c.UpdatedAt.Format(time.RFC3339Nano), c.CaseID)
	if err != nil {
		return fmt.Errorf("workflow: update case %s: %w", c.CaseID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workflow: update case %s: %w", c.CaseID, err)
	}
	if affected == 0 {
		return ErrCaseNotFound
	}
	return nil
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
