package problems

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

// SQLRepository stores problems in the agent_problems table. Timestamps are
// Unix milliseconds.
type SQLRepository struct {
	conn database.Connection
}

// NewSQLRepository creates a repository on conn.
func NewSQLRepository(conn database.Connection) *SQLRepository {
	return &SQLRepository{conn: conn}
}

func (r *SQLRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *SQLRepository) q(query string) string {
	return database.Rebind(r.conn.Driver(), query)
}

func (r *SQLRepository) Upsert(ctx context.Context, p Problem) error {
	_, err := r.exec(ctx).Exec(ctx, r.q(`
		INSERT INTO agent_problems (problem_key, severity, message, first_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (problem_key) DO UPDATE
		SET severity = excluded.severity,
			message = excluded.message,
			updated_at = excluded.updated_at`),
		p.Key, int(p.Severity), p.Message, p.FirstSeen.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert problem %q: %w", p.Key, err)
	}
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, key string) (bool, error) {
	res, err := r.exec(ctx).Exec(ctx, r.q(`DELETE FROM agent_problems WHERE problem_key = ?`), key)
	if err != nil {
		return false, fmt.Errorf("delete problem %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLRepository) List(ctx context.Context) ([]Problem, error) {
	rows, err := r.exec(ctx).Query(ctx, `
		SELECT problem_key, severity, message, first_seen, updated_at
		FROM agent_problems
		ORDER BY severity DESC, problem_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Problem
	for rows.Next() {
		var (
			p         Problem
			severity  int
			firstSeen int64
			updated   int64
		)
		if err := rows.Scan(&p.Key, &severity, &p.Message, &firstSeen, &updated); err != nil {
			return nil, err
		}
		p.Severity = sdk.Severity(severity)
		p.FirstSeen = time.UnixMilli(firstSeen).UTC()
		p.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
