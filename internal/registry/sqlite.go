package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentgate/agentgate/pkg/models"
)

// SQLiteStore is the persistent Store. Specs are immutable rows keyed by
// (id, version); schema documents and optional metadata are stored as JSON
// text columns.
type SQLiteStore struct {
	db *sql.DB
}

const agentsSchema = `
CREATE TABLE IF NOT EXISTS agents (
	id              TEXT NOT NULL,
	version         TEXT NOT NULL,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL,
	primitive       TEXT NOT NULL,
	prompt          TEXT NOT NULL,
	input_schema    TEXT NOT NULL,
	output_schema   TEXT NOT NULL,
	supports_memory INTEGER NOT NULL DEFAULT 0,
	memory_policy   TEXT,
	tags            TEXT,
	credits         TEXT,
	created_at      INTEGER NOT NULL,
	archived        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (id, version)
);
CREATE INDEX IF NOT EXISTS idx_agents_id_created ON agents (id, created_at);
`

// NewSQLiteStore opens (creating if needed) the registry database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	// Single writer; WAL keeps readers unblocked during registration.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry db pragma: %w", err)
		}
	}
	if _, err := db.Exec(agentsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry db schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Register(ctx context.Context, raw map[string]any) (string, string, error) {
	spec, err := normalizeSpec(raw)
	if err != nil {
		return "", "", err
	}
	spec.CreatedAt = time.Now().UnixNano()

	inputJSON, err := json.Marshal(spec.InputSchema)
	if err != nil {
		return "", "", fmt.Errorf("encode input schema: %w", err)
	}
	outputJSON, err := json.Marshal(spec.OutputSchema)
	if err != nil {
		return "", "", fmt.Errorf("encode output schema: %w", err)
	}
	policyJSON, err := nullableJSON(spec.MemoryPolicy)
	if err != nil {
		return "", "", err
	}
	tagsJSON, err := nullableJSON(spec.Tags)
	if err != nil {
		return "", "", err
	}
	creditsJSON, err := nullableJSON(spec.Credits)
	if err != nil {
		return "", "", err
	}

	// INSERT with the primary key doubling as the duplicate check keeps
	// concurrent registrations atomic without an explicit transaction.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents
			(id, version, name, description, primitive, prompt,
			 input_schema, output_schema, supports_memory,
			 memory_policy, tags, credits, created_at, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		spec.ID, spec.Version, spec.Name, spec.Description,
		string(spec.Primitive), spec.Prompt,
		string(inputJSON), string(outputJSON), boolInt(spec.SupportsMemory),
		policyJSON, tagsJSON, creditsJSON, spec.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") ||
			strings.Contains(err.Error(), "constraint failed") {
			return "", "", &ErrVersionExists{ID: spec.ID, Version: spec.Version}
		}
		return "", "", fmt.Errorf("insert agent: %w", err)
	}
	return spec.ID, spec.Version, nil
}

const specColumns = `id, version, name, description, primitive, prompt,
	input_schema, output_schema, supports_memory,
	memory_policy, tags, credits, created_at, archived`

func (s *SQLiteStore) Get(ctx context.Context, id, version string) (*models.AgentSpec, error) {
	var row *sql.Row
	if version != "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+specColumns+` FROM agents WHERE id = ? AND version = ?`,
			id, version)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+specColumns+` FROM agents
			 WHERE id = ? AND archived = 0
			 ORDER BY created_at DESC LIMIT 1`,
			id)
	}
	spec, err := scanSpec(row)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{ID: id, Version: version}
	}
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	return spec, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]models.AgentSummary, error) {
	query := `SELECT ` + specColumns + ` FROM agents`
	var conds []string
	var args []any
	if !filter.IncludeArchived {
		conds = append(conds, "archived = 0")
	}
	if filter.Primitive != "" {
		conds = append(conds, "primitive = ?")
		args = append(args, filter.Primitive)
	}
	if filter.SupportsMemory != nil {
		conds = append(conds, "supports_memory = ?")
		args = append(args, boolInt(*filter.SupportsMemory))
	}
	if filter.Query != "" {
		conds = append(conds, "(instr(lower(id), ?) > 0 OR instr(lower(name), ?) > 0 OR instr(lower(description), ?) > 0)")
		q := strings.ToLower(filter.Query)
		args = append(args, q, q, q)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var specs []*models.AgentSpec
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	if filter.LatestOnly {
		specs = latestPerID(specs)
	}
	out := make([]models.AgentSummary, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec.Summary())
	}
	return out, nil
}

func (s *SQLiteStore) Archive(ctx context.Context, id, version string) error {
	return s.setArchived(ctx, id, version, true)
}

func (s *SQLiteStore) Unarchive(ctx context.Context, id, version string) error {
	return s.setArchived(ctx, id, version, false)
}

func (s *SQLiteStore) setArchived(ctx context.Context, id, version string, archived bool) error {
	var res sql.Result
	var err error
	if version != "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE agents SET archived = ? WHERE id = ? AND version = ?`,
			boolInt(archived), id, version)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE agents SET archived = ? WHERE id = ?`,
			boolInt(archived), id)
	}
	if err != nil {
		return fmt.Errorf("update archived: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update archived: %w", err)
	}
	if n == 0 {
		return &ErrNotFound{ID: id, Version: version}
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpec(row rowScanner) (*models.AgentSpec, error) {
	var spec models.AgentSpec
	var primitive, inputJSON, outputJSON string
	var supportsMemory, archived int
	var policyJSON, tagsJSON, creditsJSON sql.NullString

	err := row.Scan(
		&spec.ID, &spec.Version, &spec.Name, &spec.Description,
		&primitive, &spec.Prompt,
		&inputJSON, &outputJSON, &supportsMemory,
		&policyJSON, &tagsJSON, &creditsJSON,
		&spec.CreatedAt, &archived,
	)
	if err != nil {
		return nil, err
	}
	spec.Primitive = models.Primitive(primitive)
	spec.SupportsMemory = supportsMemory != 0
	spec.Archived = archived != 0

	if err := json.Unmarshal([]byte(inputJSON), &spec.InputSchema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	if err := json.Unmarshal([]byte(outputJSON), &spec.OutputSchema); err != nil {
		return nil, fmt.Errorf("decode output schema: %w", err)
	}
	if policyJSON.Valid && policyJSON.String != "" {
		var p models.MemoryPolicy
		if err := json.Unmarshal([]byte(policyJSON.String), &p); err != nil {
			return nil, fmt.Errorf("decode memory policy: %w", err)
		}
		spec.MemoryPolicy = &p
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &spec.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if creditsJSON.Valid && creditsJSON.String != "" {
		var c models.Credits
		if err := json.Unmarshal([]byte(creditsJSON.String), &c); err != nil {
			return nil, fmt.Errorf("decode credits: %w", err)
		}
		spec.Credits = &c
	}
	return &spec, nil
}

func nullableJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case *models.MemoryPolicy:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *models.Credits:
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
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode field: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
