package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/testkart/backend-testkart/internal/store"
)

// ErrNotFound indicates the requested test does not exist or is inactive.
var ErrNotFound = errors.New("test not found")

const listCacheKey = "catalog:tests:active"

// TestView is the public shape of a purchasable test.
type TestView struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
}

// Service serves the published test catalog and each student's owned tests.
// The active-test listing is cached; ownership lookups never are.
type Service struct {
	Q     store.Querier
	Cache *Cache
}

// List returns every active test, newest first.
func (s *Service) List(ctx context.Context) ([]TestView, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("catalog service not configured")
	}
	var cached []TestView
	if hit, err := s.Cache.GetJSON(ctx, listCacheKey, &cached); err == nil && hit {
		return cached, nil
	}
	tests, err := s.Q.ListActiveTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	out := toViews(tests)
	_ = s.Cache.SetJSON(ctx, listCacheKey, out)
	return out, nil
}

// Get returns one active test.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (TestView, error) {
	if s == nil || s.Q == nil {
		return TestView{}, errors.New("catalog service not configured")
	}
	test, err := s.Q.GetTestByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TestView{}, ErrNotFound
		}
		return TestView{}, fmt.Errorf("load test: %w", err)
	}
	if !test.IsActive {
		return TestView{}, ErrNotFound
	}
	return toView(test), nil
}

// Owned returns the tests the student has completed purchases for, in
// purchase order.
func (s *Service) Owned(ctx context.Context, studentID uuid.UUID) ([]TestView, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("catalog service not configured")
	}
	ids, err := s.Q.ListPurchasedTestIDs(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list purchased tests: %w", err)
	}
	if len(ids) == 0 {
		return []TestView{}, nil
	}
	tests, err := s.Q.ListTestsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load purchased tests: %w", err)
	}
	// preserve purchase order
	byID := make(map[uuid.UUID]store.Test, len(tests))
	for _, t := range tests {
		byID[t.ID] = t
	}
	out := make([]TestView, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, toView(t))
		}
	}
	return out, nil
}

func toViews(tests []store.Test) []TestView {
	out := make([]TestView, 0, len(tests))
	for _, t := range tests {
		out = append(out, toView(t))
	}
	return out
}

func toView(t store.Test) TestView {
	return TestView{ID: t.ID, Title: t.Title, Description: t.Description, Price: t.Price}
}
