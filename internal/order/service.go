package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/testkart/backend-testkart/internal/events"
	"github.com/testkart/backend-testkart/internal/lock"
	"github.com/testkart/backend-testkart/internal/obs"
	"github.com/testkart/backend-testkart/internal/payment"
	"github.com/testkart/backend-testkart/internal/pricing"
	"github.com/testkart/backend-testkart/internal/resilience"
	"github.com/testkart/backend-testkart/internal/store"
)

// ErrTestNotFound indicates the referenced test does not exist or is inactive.
var ErrTestNotFound = errors.New("test not found")

// ErrAlreadyPurchased indicates the student already owns the test.
var ErrAlreadyPurchased = errors.New("test already purchased")

// ErrEmptyCart indicates checkout was attempted on a cart with no items.
var ErrEmptyCart = errors.New("cart is empty")

// ErrOrderNotFound indicates no order matches the supplied gateway reference.
var ErrOrderNotFound = errors.New("order not found")

// ErrSignatureInvalid indicates the payment callback signature failed
// verification.
var ErrSignatureInvalid = errors.New("invalid payment signature")

// ErrGatewayUnavailable indicates the payment gateway could not be reached.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrGatewayError indicates the gateway rejected or failed the request.
var ErrGatewayError = errors.New("payment gateway error")

// Intent is the material a client needs to open the gateway's payment UI.
type Intent struct {
	OrderRef string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
}

// CheckoutIntent extends Intent with the priced bundle snapshot.
type CheckoutIntent struct {
	Intent
	Subtotal   int64  `json:"subtotal"`
	Discount   int64  `json:"discount"`
	Total      int64  `json:"total"`
	Savings    int64  `json:"savings"`
	BundleInfo string `json:"bundle_info"`
	TestCount  int    `json:"item_count"`
}

// Settlement reports the outcome of a verified payment.
type Settlement struct {
	OrderRef    string      `json:"order_id"`
	TestIDs     []uuid.UUID `json:"test_ids"`
	Amount      int64       `json:"amount"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Service orchestrates single-test purchases and bundle checkouts against the
// payment gateway and the purchase ledger. Settlement runs in one database
// transaction so the ledger, the fan-out and the cart clear move together.
type Service struct {
	Q        store.Querier
	Runner   store.TxRunner
	Gateway  payment.Gateway
	Events   *events.Bus
	Lock     *lock.Locker
	Currency string
	KeyID    string
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Purchase initiates payment for a single test. The purchase is recorded as
// pending; ownership transfers only after VerifyPurchase.
func (s *Service) Purchase(ctx context.Context, studentID, testID uuid.UUID) (Intent, error) {
	if s == nil || s.Q == nil {
		return Intent{}, errors.New("order service not configured")
	}
	if s.Gateway == nil {
		return Intent{}, ErrGatewayUnavailable
	}
	test, err := s.Q.GetTestByID(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Intent{}, ErrTestNotFound
		}
		return Intent{}, fmt.Errorf("load test: %w", err)
	}
	if !test.IsActive {
		return Intent{}, ErrTestNotFound
	}
	owned, err := s.Q.HasCompletedPurchase(ctx, studentID, testID)
	if err != nil {
		return Intent{}, fmt.Errorf("check ownership: %w", err)
	}
	if owned {
		return Intent{}, ErrAlreadyPurchased
	}

	gwOrder, err := s.createGatewayOrder(ctx, test.Price, "test_"+shortRef(testID))
	if err != nil {
		countIntent("single", "gateway_error")
		return Intent{}, err
	}
	countIntent("single", "ok")

	purchase, err := s.Q.CreatePurchase(ctx, store.CreatePurchaseParams{
		StudentID:       studentID,
		TestID:          testID,
		Amount:          test.Price,
		GatewayOrderRef: gwOrder.Ref,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("record pending purchase: %w", err)
	}
	s.emit(ctx, events.TopicPurchaseCreated, purchase.ID, map[string]any{
		"purchase_id": purchase.ID,
		"test_id":     testID,
		"amount":      test.Price,
		"order_ref":   gwOrder.Ref,
	})

	return Intent{
		OrderRef: gwOrder.Ref,
		Amount:   test.Price,
		Currency: s.Currency,
		KeyID:    s.KeyID,
	}, nil
}

// VerifyPurchase settles a pending single-test purchase. Settlement happens
// at most once: a callback that matches no pending order, including a replay
// of an already settled one, fails with ErrOrderNotFound.
func (s *Service) VerifyPurchase(ctx context.Context, studentID uuid.UUID, orderRef, paymentRef, signature string) (Settlement, error) {
	if s == nil || s.Q == nil {
		return Settlement{}, errors.New("order service not configured")
	}
	if s.Gateway == nil {
		return Settlement{}, ErrGatewayUnavailable
	}
	if !s.Gateway.VerifySignature(orderRef, paymentRef, signature) {
		countVerification("single", "invalid_signature")
		return Settlement{}, ErrSignatureInvalid
	}
	purchase, err := s.Q.CompletePurchase(ctx, store.CompletePurchaseParams{
		StudentID:         studentID,
		GatewayOrderRef:   orderRef,
		GatewayPaymentRef: paymentRef,
	})
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Settlement{}, fmt.Errorf("settle purchase: %w", err)
		}
		// No pending row matched: the reference is unknown or the order was
		// already settled. Both refuse the same way; the lookup only tells
		// the metrics apart.
		existing, lookupErr := s.Q.GetPurchaseByOrderRef(ctx, studentID, orderRef)
		switch {
		case lookupErr == nil && existing.Status == store.OrderStatusCompleted:
			countVerification("single", "replay")
		case lookupErr != nil && !errors.Is(lookupErr, pgx.ErrNoRows):
			return Settlement{}, fmt.Errorf("lookup purchase: %w", lookupErr)
		default:
			countVerification("single", "not_found")
		}
		return Settlement{}, ErrOrderNotFound
	}
	countVerification("single", "ok")
	s.emit(ctx, events.TopicPurchaseCompleted, purchase.ID, map[string]any{
		"purchase_id": purchase.ID,
		"test_id":     purchase.TestID,
		"amount":      purchase.Amount,
		"order_ref":   orderRef,
	})
	return purchaseSettlement(purchase), nil
}

// Checkout initiates payment for the whole cart at the bundle-discounted
// total. The cart itself is untouched until the payment is verified.
// Concurrent checkouts by the same student are serialised so a double-click
// cannot open two gateway orders for the same cart.
func (s *Service) Checkout(ctx context.Context, studentID uuid.UUID) (CheckoutIntent, error) {
	if s == nil || s.Q == nil {
		return CheckoutIntent{}, errors.New("order service not configured")
	}
	if s.Gateway == nil {
		return CheckoutIntent{}, ErrGatewayUnavailable
	}
	if s.Lock == nil {
		return s.checkout(ctx, studentID)
	}
	var intent CheckoutIntent
	err := s.Lock.WithLock(ctx, "checkout:"+studentID.String(), 30*time.Second, func(ctx context.Context) error {
		var lockedErr error
		intent, lockedErr = s.checkout(ctx, studentID)
		return lockedErr
	})
	return intent, err
}

func (s *Service) checkout(ctx context.Context, studentID uuid.UUID) (CheckoutIntent, error) {
	c, err := s.Q.GetCartByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckoutIntent{}, ErrEmptyCart
		}
		return CheckoutIntent{}, fmt.Errorf("load cart: %w", err)
	}
	items, err := s.Q.ListCartItems(ctx, c.ID)
	if err != nil {
		return CheckoutIntent{}, fmt.Errorf("list cart items: %w", err)
	}
	if len(items) == 0 {
		return CheckoutIntent{}, ErrEmptyCart
	}
	testIDs := make([]uuid.UUID, 0, len(items))
	priced := make([]pricing.Item, 0, len(items))
	for _, it := range items {
		owned, err := s.Q.HasCompletedPurchase(ctx, studentID, it.TestID)
		if err != nil {
			return CheckoutIntent{}, fmt.Errorf("check ownership: %w", err)
		}
		if owned {
			return CheckoutIntent{}, ErrAlreadyPurchased
		}
		testIDs = append(testIDs, it.TestID)
		priced = append(priced, pricing.Item{Price: pricing.Money(it.Price)})
	}
	result := pricing.Price(priced)

	gwOrder, err := s.createGatewayOrder(ctx, int64(result.Total), "bundle_"+shortRef(c.ID))
	if err != nil {
		countIntent("bundle", "gateway_error")
		return CheckoutIntent{}, err
	}
	countIntent("bundle", "ok")

	bundle, err := s.Q.CreateBundleOrder(ctx, store.CreateBundleOrderParams{
		StudentID:       studentID,
		TestIDs:         testIDs,
		Subtotal:        int64(result.Subtotal),
		Discount:        int64(result.Discount),
		Total:           int64(result.Total),
		GatewayOrderRef: gwOrder.Ref,
	})
	if err != nil {
		return CheckoutIntent{}, fmt.Errorf("record bundle order: %w", err)
	}
	s.emit(ctx, events.TopicBundleOrderCreated, bundle.ID, map[string]any{
		"bundle_order_id": bundle.ID,
		"test_ids":        testIDs,
		"total":           bundle.Total,
		"order_ref":       gwOrder.Ref,
	})

	return CheckoutIntent{
		Intent: Intent{
			OrderRef: gwOrder.Ref,
			Amount:   bundle.Total,
			Currency: s.Currency,
			KeyID:    s.KeyID,
		},
		Subtotal:   bundle.Subtotal,
		Discount:   bundle.Discount,
		Total:      bundle.Total,
		Savings:    bundle.Discount,
		BundleInfo: result.Label,
		TestCount:  len(testIDs),
	}, nil
}

// VerifyCheckout settles a pending bundle order: the order flips to
// completed, one completed purchase is fanned out per test with the
// discounted total split evenly across them, and the cart is cleared. All of
// it happens in a single transaction. A callback that matches no pending
// order, including a replay of an already settled one, fails with
// ErrOrderNotFound.
func (s *Service) VerifyCheckout(ctx context.Context, studentID uuid.UUID, orderRef, paymentRef, signature string) (Settlement, error) {
	if s == nil || s.Q == nil || s.Runner == nil {
		return Settlement{}, errors.New("order service not configured")
	}
	if s.Gateway == nil {
		return Settlement{}, ErrGatewayUnavailable
	}
	if !s.Gateway.VerifySignature(orderRef, paymentRef, signature) {
		countVerification("bundle", "invalid_signature")
		return Settlement{}, ErrSignatureInvalid
	}

	var settled store.BundleOrder
	err := s.Runner.RunInTx(ctx, func(q store.Querier) error {
		bundle, err := q.CompleteBundleOrder(ctx, store.CompleteBundleOrderParams{
			StudentID:         studentID,
			GatewayOrderRef:   orderRef,
			GatewayPaymentRef: paymentRef,
		})
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("settle bundle order: %w", err)
			}
			existing, lookupErr := q.GetBundleOrderByRef(ctx, studentID, orderRef)
			switch {
			case lookupErr == nil && existing.Status == store.OrderStatusCompleted:
				countVerification("bundle", "replay")
			case lookupErr != nil && !errors.Is(lookupErr, pgx.ErrNoRows):
				return fmt.Errorf("lookup bundle order: %w", lookupErr)
			default:
				countVerification("bundle", "not_found")
			}
			return ErrOrderNotFound
		}

		completedAt := s.now()
		shares := pricing.SplitEven(pricing.Money(bundle.Total), len(bundle.TestIDs))
		for i, testID := range bundle.TestIDs {
			if _, err := q.InsertCompletedPurchase(ctx, store.InsertCompletedPurchaseParams{
				StudentID:         studentID,
				TestID:            testID,
				Amount:            int64(shares[i]),
				GatewayOrderRef:   orderRef,
				GatewayPaymentRef: paymentRef,
				CompletedAt:       completedAt,
			}); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					// The student settled a single purchase of this test after
					// checkout; the existing grant stands and the rest of the
					// bundle still settles.
					continue
				}
				return fmt.Errorf("fan out purchase: %w", err)
			}
		}

		c, err := q.GetCartByStudent(ctx, studentID)
		if err == nil {
			if err := q.ClearCart(ctx, c.ID); err != nil {
				return fmt.Errorf("clear cart: %w", err)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load cart: %w", err)
		}

		settled = bundle
		settled.Status = store.OrderStatusCompleted
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}
	countVerification("bundle", "ok")
	if obs.BundleSize != nil {
		obs.BundleSize.Observe(float64(len(settled.TestIDs)))
	}
	if obs.DiscountGranted != nil && settled.Discount > 0 {
		obs.DiscountGranted.Add(float64(settled.Discount))
	}

	s.emit(ctx, events.TopicBundleOrderComplete, settled.ID, map[string]any{
		"bundle_order_id": settled.ID,
		"test_ids":        settled.TestIDs,
		"total":           settled.Total,
		"order_ref":       orderRef,
	})

	completedAt := s.now()
	if settled.CompletedAt.Valid {
		completedAt = settled.CompletedAt.Time
	}
	return Settlement{
		OrderRef:    orderRef,
		TestIDs:     settled.TestIDs,
		Amount:      settled.Total,
		CompletedAt: completedAt,
	}, nil
}

func (s *Service) createGatewayOrder(ctx context.Context, amount int64, receipt string) (payment.Order, error) {
	gwOrder, err := s.Gateway.CreateOrder(ctx, amount, s.Currency, receipt)
	if err != nil {
		if errors.Is(err, resilience.ErrOpenCircuit) || errors.Is(err, context.DeadlineExceeded) {
			return payment.Order{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return payment.Order{}, fmt.Errorf("%w: %v", ErrGatewayError, err)
	}
	return gwOrder, nil
}

func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	_, _ = s.Events.Emit(ctx, topic, aggregateID, payload)
}

func purchaseSettlement(p store.Purchase) Settlement {
	out := Settlement{
		OrderRef: p.GatewayOrderRef,
		TestIDs:  []uuid.UUID{p.TestID},
		Amount:   p.Amount,
	}
	if p.CompletedAt.Valid {
		out.CompletedAt = p.CompletedAt.Time
	}
	return out
}

func shortRef(id uuid.UUID) string {
	return id.String()[:8]
}

// Metric collectors are nil until registration; tests exercise the service
// without them.
func countIntent(flow, result string) {
	if obs.PurchaseIntentTotal != nil {
		obs.PurchaseIntentTotal.WithLabelValues(flow, result).Inc()
	}
}

func countVerification(flow, result string) {
	if obs.PaymentVerificationTotal != nil {
		obs.PaymentVerificationTotal.WithLabelValues(flow, result).Inc()
	}
}
