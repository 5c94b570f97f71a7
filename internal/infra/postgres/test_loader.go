package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"exam-session-service/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"golang.org/x/sync/singleflight"
)

// TestLoader reads test-definition JSONB from Postgres. Definitions are
// never cached across calls (weights are snapshotted into each record
// anyway); singleflight only collapses concurrent loads of the same test.
type TestLoader struct {
	pool *pgxpool.Pool
	sf   singleflight.Group
}

func NewTestLoader(pool *pgxpool.Pool) *TestLoader {
	return &TestLoader{pool: pool}
}

func (l *TestLoader) GetTest(ctx context.Context, testID string) (domain.TestDefinition, error) {
	result, err, _ := l.sf.Do(testID, func() (interface{}, error) {
		var raw []byte
		err := l.pool.QueryRow(ctx, `SELECT data FROM tests WHERE id=$1`, testID).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TestDefinition{}, domain.ErrTestNotFound
		}
		if err != nil {
			return domain.TestDefinition{}, fmt.Errorf("load test: %w", err)
		}
		var def domain.TestDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return domain.TestDefinition{}, fmt.Errorf("unmarshal test: %w", err)
		}
		return def, nil
	})
	if err != nil {
		return domain.TestDefinition{}, err
	}
	return result.(domain.TestDefinition), nil
}
