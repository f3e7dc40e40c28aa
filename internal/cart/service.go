package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/testkart/backend-testkart/internal/pricing"
	"github.com/testkart/backend-testkart/internal/store"
)

// ErrTestNotFound indicates the referenced test does not exist or is inactive.
var ErrTestNotFound = errors.New("test not found")

// ErrAlreadyInCart indicates the test is already a line item in the cart.
var ErrAlreadyInCart = errors.New("test already in cart")

// ErrAlreadyPurchased indicates the student already owns the test.
var ErrAlreadyPurchased = errors.New("test already purchased")

// ErrItemNotFound indicates the test is not in the cart.
var ErrItemNotFound = errors.New("item not in cart")

// Item is one cart line with its add-time snapshot.
type Item struct {
	TestID  uuid.UUID `json:"test_id"`
	Title   string    `json:"title"`
	Price   int64     `json:"price"`
	AddedAt string    `json:"added_at"`
}

// View is the priced cart returned to clients. Totals come from the bundle
// discount engine so the preview always matches what checkout will charge.
type View struct {
	Items      []Item `json:"items"`
	Subtotal   int64  `json:"subtotal"`
	Discount   int64  `json:"discount"`
	Total      int64  `json:"total"`
	Savings    int64  `json:"savings"`
	BundleInfo string `json:"bundle_info"`
}

// Service encapsulates cart domain operations. Each student owns at most one
// cart, created lazily on first use.
type Service struct {
	Q store.Querier
}

func (s *Service) ensureCart(ctx context.Context, studentID uuid.UUID) (store.Cart, error) {
	c, err := s.Q.GetCartByStudent(ctx, studentID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Cart{}, err
	}
	return s.Q.CreateCart(ctx, studentID)
}

// Get returns the student's priced cart, creating an empty cart on first use.
func (s *Service) Get(ctx context.Context, studentID uuid.UUID) (View, error) {
	if s == nil || s.Q == nil {
		return View{}, errors.New("cart service not configured")
	}
	c, err := s.ensureCart(ctx, studentID)
	if err != nil {
		return View{}, fmt.Errorf("ensure cart: %w", err)
	}
	items, err := s.Q.ListCartItems(ctx, c.ID)
	if err != nil {
		return View{}, fmt.Errorf("list cart items: %w", err)
	}
	return buildView(items), nil
}

// Add places a test into the student's cart, snapshotting its current title
// and price. Tests the student already owns are refused.
func (s *Service) Add(ctx context.Context, studentID, testID uuid.UUID) (View, error) {
	if s == nil || s.Q == nil {
		return View{}, errors.New("cart service not configured")
	}
	test, err := s.Q.GetTestByID(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{}, ErrTestNotFound
		}
		return View{}, fmt.Errorf("load test: %w", err)
	}
	if !test.IsActive {
		return View{}, ErrTestNotFound
	}
	owned, err := s.Q.HasCompletedPurchase(ctx, studentID, testID)
	if err != nil {
		return View{}, fmt.Errorf("check ownership: %w", err)
	}
	if owned {
		return View{}, ErrAlreadyPurchased
	}
	c, err := s.ensureCart(ctx, studentID)
	if err != nil {
		return View{}, fmt.Errorf("ensure cart: %w", err)
	}
	inserted, err := s.Q.InsertCartItem(ctx, store.InsertCartItemParams{
		CartID: c.ID,
		TestID: testID,
		Title:  test.Title,
		Price:  test.Price,
	})
	if err != nil {
		return View{}, fmt.Errorf("insert cart item: %w", err)
	}
	if !inserted {
		return View{}, ErrAlreadyInCart
	}
	_ = s.Q.TouchCart(ctx, c.ID)
	items, err := s.Q.ListCartItems(ctx, c.ID)
	if err != nil {
		return View{}, fmt.Errorf("list cart items: %w", err)
	}
	return buildView(items), nil
}

// Remove deletes one test from the student's cart.
func (s *Service) Remove(ctx context.Context, studentID, testID uuid.UUID) (View, error) {
	if s == nil || s.Q == nil {
		return View{}, errors.New("cart service not configured")
	}
	c, err := s.ensureCart(ctx, studentID)
	if err != nil {
		return View{}, fmt.Errorf("ensure cart: %w", err)
	}
	removed, err := s.Q.DeleteCartItem(ctx, c.ID, testID)
	if err != nil {
		return View{}, fmt.Errorf("delete cart item: %w", err)
	}
	if !removed {
		return View{}, ErrItemNotFound
	}
	_ = s.Q.TouchCart(ctx, c.ID)
	items, err := s.Q.ListCartItems(ctx, c.ID)
	if err != nil {
		return View{}, fmt.Errorf("list cart items: %w", err)
	}
	return buildView(items), nil
}

// Clear removes every item from the student's cart. Clearing an empty cart
// succeeds.
func (s *Service) Clear(ctx context.Context, studentID uuid.UUID) (View, error) {
	if s == nil || s.Q == nil {
		return View{}, errors.New("cart service not configured")
	}
	c, err := s.ensureCart(ctx, studentID)
	if err != nil {
		return View{}, fmt.Errorf("ensure cart: %w", err)
	}
	if err := s.Q.ClearCart(ctx, c.ID); err != nil {
		return View{}, fmt.Errorf("clear cart: %w", err)
	}
	_ = s.Q.TouchCart(ctx, c.ID)
	return buildView(nil), nil
}

func buildView(items []store.CartItem) View {
	out := View{Items: make([]Item, 0, len(items))}
	priced := make([]pricing.Item, 0, len(items))
	for _, it := range items {
		out.Items = append(out.Items, Item{
			TestID:  it.TestID,
			Title:   it.Title,
			Price:   it.Price,
			AddedAt: it.AddedAt.UTC().Format(time.RFC3339),
		})
		priced = append(priced, pricing.Item{Price: pricing.Money(it.Price)})
	}
	result := pricing.Price(priced)
	out.Subtotal = int64(result.Subtotal)
	out.Discount = int64(result.Discount)
	out.Total = int64(result.Total)
	out.Savings = int64(result.Savings)
	out.BundleInfo = result.Label
	return out
}
