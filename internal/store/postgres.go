package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vrpsolver/internal/model"
	"vrpsolver/internal/opt"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies embedded migrations that have not run yet, in file name order.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("migrations table: %w", err)
	}
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var done bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&done); err != nil {
			return err
		}
		if done {
			continue
		}
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateSolution(ctx context.Context, s model.Solution) error {
	cols, err := encodeSolution(s)
	if err != nil {
		return err
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO solutions (id, status, objective, request, result, trace, error, metrics, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		s.ID, s.Status, nullIfEmpty(s.Objective), cols.request, cols.result, nullIfEmpty(s.Trace), cols.problem, cols.metrics, created)
	return err
}

func (p *Postgres) UpdateSolution(ctx context.Context, s model.Solution) error {
	cols, err := encodeSolution(s)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE solutions SET status=$2, objective=$3, request=$4, result=$5, trace=$6, error=$7, metrics=$8, updated_at=now() WHERE id=$1`,
		s.ID, s.Status, nullIfEmpty(s.Objective), cols.request, cols.result, nullIfEmpty(s.Trace), cols.problem, cols.metrics)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetSolution(ctx context.Context, id string) (model.Solution, error) {
	var (
		s                               model.Solution
		objective, trace                sql.NullString
		request, result, problem, mtrcs []byte
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, status, objective, request, result, trace, error, metrics, created_at, updated_at FROM solutions WHERE id=$1`, id).
		Scan(&s.ID, &s.Status, &objective, &request, &result, &trace, &problem, &mtrcs, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Solution{}, ErrNotFound
	}
	if err != nil {
		return model.Solution{}, err
	}
	s.Objective, s.Trace = objective.String, trace.String
	if err := json.Unmarshal(request, &s.Request); err != nil {
		return model.Solution{}, fmt.Errorf("decode request: %w", err)
	}
	if len(result) > 0 {
		s.Result = &opt.Result{}
		if err := json.Unmarshal(result, s.Result); err != nil {
			return model.Solution{}, fmt.Errorf("decode result: %w", err)
		}
	}
	if len(problem) > 0 {
		s.Error = &model.Problem{}
		if err := json.Unmarshal(problem, s.Error); err != nil {
			return model.Solution{}, fmt.Errorf("decode error: %w", err)
		}
	}
	if len(mtrcs) > 0 {
		s.Metrics = &opt.Metrics{}
		if err := json.Unmarshal(mtrcs, s.Metrics); err != nil {
			return model.Solution{}, fmt.Errorf("decode metrics: %w", err)
		}
	}
	return s, nil
}

func (p *Postgres) ListSolutions(ctx context.Context, status, cursor string, limit int) ([]model.SolutionSummary, string, error) {
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `SELECT id, status, COALESCE(objective, ''),
            jsonb_array_length(request->'coords'), jsonb_array_length(request->'vehicle_capacities'),
            (result->>'total_distance')::int, created_at
        FROM solutions
        WHERE ($1 = '' OR status = $1)
          AND ($2 = '' OR (created_at, id) < (SELECT created_at, id FROM solutions WHERE id = $2))
        ORDER BY created_at DESC, id DESC
        LIMIT $3`, status, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.SolutionSummary{}
	var last string
	for rows.Next() {
		var s model.SolutionSummary
		var dist sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Status, &s.Objective, &s.Locations, &s.Vehicles, &dist, &s.CreatedAt); err != nil {
			return nil, "", err
		}
		if dist.Valid {
			d := int(dist.Int64)
			s.TotalDistance = &d
		}
		out = append(out, s)
		last = s.ID
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

type solutionColumns struct {
	request, result, problem, metrics any
}

func encodeSolution(s model.Solution) (solutionColumns, error) {
	var cols solutionColumns
	req, err := json.Marshal(s.Request)
	if err != nil {
		return cols, err
	}
	cols.request = req
	if cols.result, err = jsonOrNil(s.Result); err != nil {
		return cols, err
	}
	if cols.problem, err = jsonOrNil(s.Error); err != nil {
		return cols, err
	}
	if cols.metrics, err = jsonOrNil(s.Metrics); err != nil {
		return cols, err
	}
	return cols, nil
}

// jsonOrNil maps nil pointers to SQL NULL.
func jsonOrNil[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	return b, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
