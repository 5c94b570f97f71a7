package memory

import (
	"context"

	"exam-session-service/internal/domain"
)

// StaticTestRepository serves test definitions from an in-memory map
// (useful for tests/demos and config-less runs).
type StaticTestRepository struct {
	tests map[string]domain.TestDefinition
}

func NewStaticTestRepository(tests map[string]domain.TestDefinition) *StaticTestRepository {
	return &StaticTestRepository{tests: tests}
}

func (r *StaticTestRepository) GetTest(_ context.Context, testID string) (domain.TestDefinition, error) {
	if def, ok := r.tests[testID]; ok {
		return def, nil
	}
	return domain.TestDefinition{}, domain.ErrTestNotFound
}
