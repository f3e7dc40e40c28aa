package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/testkart/backend-testkart/internal/events"
	"github.com/testkart/backend-testkart/internal/payment"
	"github.com/testkart/backend-testkart/internal/resilience"
	"github.com/testkart/backend-testkart/internal/store"
)

// ledgerStub is an in-memory purchase ledger faithful to the database
// semantics the service relies on: the pending-only settlement predicate and
// the one-completed-purchase-per-test rule.
type ledgerStub struct {
	store.Querier

	tests     map[uuid.UUID]store.Test
	purchases []store.Purchase
	bundles   []store.BundleOrder
	cart      *store.Cart
	items     []store.CartItem
}

func newLedger() *ledgerStub {
	return &ledgerStub{tests: map[uuid.UUID]store.Test{}}
}

func (l *ledgerStub) addTest(price int64) uuid.UUID {
	id := uuid.New()
	l.tests[id] = store.Test{ID: id, Title: "Mock Test", Price: price, IsActive: true}
	return id
}

func (l *ledgerStub) addCartItem(studentID, testID uuid.UUID) {
	if l.cart == nil {
		l.cart = &store.Cart{ID: uuid.New(), StudentID: studentID}
	}
	l.items = append(l.items, store.CartItem{
		ID:     uuid.New(),
		CartID: l.cart.ID,
		TestID: testID,
		Title:  l.tests[testID].Title,
		Price:  l.tests[testID].Price,
	})
}

func (l *ledgerStub) GetTestByID(_ context.Context, id uuid.UUID) (store.Test, error) {
	t, ok := l.tests[id]
	if !ok {
		return store.Test{}, pgx.ErrNoRows
	}
	return t, nil
}

func (l *ledgerStub) HasCompletedPurchase(_ context.Context, studentID, testID uuid.UUID) (bool, error) {
	for _, p := range l.purchases {
		if p.StudentID == studentID && p.TestID == testID && p.Status == store.OrderStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (l *ledgerStub) GetCartByStudent(_ context.Context, studentID uuid.UUID) (store.Cart, error) {
	if l.cart == nil || l.cart.StudentID != studentID {
		return store.Cart{}, pgx.ErrNoRows
	}
	return *l.cart, nil
}

func (l *ledgerStub) ListCartItems(_ context.Context, _ uuid.UUID) ([]store.CartItem, error) {
	return append([]store.CartItem(nil), l.items...), nil
}

func (l *ledgerStub) ClearCart(_ context.Context, _ uuid.UUID) error {
	l.items = nil
	return nil
}

func (l *ledgerStub) CreatePurchase(_ context.Context, arg store.CreatePurchaseParams) (store.Purchase, error) {
	p := store.Purchase{
		ID:              uuid.New(),
		StudentID:       arg.StudentID,
		TestID:          arg.TestID,
		Amount:          arg.Amount,
		Status:          store.OrderStatusPending,
		GatewayOrderRef: arg.GatewayOrderRef,
		CreatedAt:       time.Now(),
	}
	l.purchases = append(l.purchases, p)
	return p, nil
}

func (l *ledgerStub) CompletePurchase(_ context.Context, arg store.CompletePurchaseParams) (store.Purchase, error) {
	for i, p := range l.purchases {
		if p.StudentID == arg.StudentID && p.GatewayOrderRef == arg.GatewayOrderRef && p.Status == store.OrderStatusPending {
			l.purchases[i].Status = store.OrderStatusCompleted
			l.purchases[i].GatewayPaymentRef = pgtype.Text{String: arg.GatewayPaymentRef, Valid: true}
			l.purchases[i].CompletedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			return l.purchases[i], nil
		}
	}
	return store.Purchase{}, pgx.ErrNoRows
}

func (l *ledgerStub) GetPurchaseByOrderRef(_ context.Context, studentID uuid.UUID, orderRef string) (store.Purchase, error) {
	for _, p := range l.purchases {
		if p.StudentID == studentID && p.GatewayOrderRef == orderRef {
			return p, nil
		}
	}
	return store.Purchase{}, pgx.ErrNoRows
}

func (l *ledgerStub) InsertCompletedPurchase(_ context.Context, arg store.InsertCompletedPurchaseParams) (store.Purchase, error) {
	// mirrors the conflict-tolerant insert: an existing completed purchase
	// makes the insert a no-op
	for _, p := range l.purchases {
		if p.StudentID == arg.StudentID && p.TestID == arg.TestID && p.Status == store.OrderStatusCompleted {
			return store.Purchase{}, pgx.ErrNoRows
		}
	}
	p := store.Purchase{
		ID:                uuid.New(),
		StudentID:         arg.StudentID,
		TestID:            arg.TestID,
		Amount:            arg.Amount,
		Status:            store.OrderStatusCompleted,
		GatewayOrderRef:   arg.GatewayOrderRef,
		GatewayPaymentRef: pgtype.Text{String: arg.GatewayPaymentRef, Valid: true},
		CompletedAt:       pgtype.Timestamptz{Time: arg.CompletedAt, Valid: true},
	}
	l.purchases = append(l.purchases, p)
	return p, nil
}

func (l *ledgerStub) CreateBundleOrder(_ context.Context, arg store.CreateBundleOrderParams) (store.BundleOrder, error) {
	b := store.BundleOrder{
		ID:              uuid.New(),
		StudentID:       arg.StudentID,
		TestIDs:         arg.TestIDs,
		Subtotal:        arg.Subtotal,
		Discount:        arg.Discount,
		Total:           arg.Total,
		Status:          store.OrderStatusPending,
		GatewayOrderRef: arg.GatewayOrderRef,
		CreatedAt:       time.Now(),
	}
	l.bundles = append(l.bundles, b)
	return b, nil
}

func (l *ledgerStub) CompleteBundleOrder(_ context.Context, arg store.CompleteBundleOrderParams) (store.BundleOrder, error) {
	for i, b := range l.bundles {
		if b.StudentID == arg.StudentID && b.GatewayOrderRef == arg.GatewayOrderRef && b.Status == store.OrderStatusPending {
			l.bundles[i].Status = store.OrderStatusCompleted
			l.bundles[i].GatewayPaymentRef = pgtype.Text{String: arg.GatewayPaymentRef, Valid: true}
			l.bundles[i].CompletedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			return l.bundles[i], nil
		}
	}
	return store.BundleOrder{}, pgx.ErrNoRows
}

func (l *ledgerStub) GetBundleOrderByRef(_ context.Context, studentID uuid.UUID, orderRef string) (store.BundleOrder, error) {
	for _, b := range l.bundles {
		if b.StudentID == studentID && b.GatewayOrderRef == orderRef {
			return b, nil
		}
	}
	return store.BundleOrder{}, pgx.ErrNoRows
}

// eventSink records emitted topics.
type eventSink struct {
	topics []string
}

func (e *eventSink) InsertDomainEvent(_ context.Context, arg store.InsertDomainEventParams) (store.DomainEvent, error) {
	e.topics = append(e.topics, arg.Topic)
	return store.DomainEvent{
		ID:          uuid.New(),
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     arg.Payload,
	}, nil
}

// inlineRunner executes the transaction body directly against the stub.
type inlineRunner struct{ q store.Querier }

func (r inlineRunner) RunInTx(_ context.Context, fn func(store.Querier) error) error {
	return fn(r.q)
}

// fakeGateway returns deterministic order refs and treats "sig-ok" as the
// only valid signature.
type fakeGateway struct {
	orders int
	err    error
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, _ string) (payment.Order, error) {
	if g.err != nil {
		return payment.Order{}, g.err
	}
	g.orders++
	return payment.Order{Ref: "order_" + string(rune('a'+g.orders-1)), Amount: amount, Currency: currency}, nil
}

func (g *fakeGateway) VerifySignature(_, _, signature string) bool {
	return signature == "sig-ok"
}

func newService(l *ledgerStub, gw payment.Gateway) *Service {
	return &Service{
		Q:        l,
		Runner:   inlineRunner{q: l},
		Gateway:  gw,
		Currency: "INR",
		KeyID:    "rzp_test_key",
	}
}

func TestPurchaseCreatesPendingOrder(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})
	student := uuid.New()
	testID := l.addTest(50_000)

	intent, err := svc.Purchase(context.Background(), student, testID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if intent.Amount != 50_000 || intent.Currency != "INR" || intent.OrderRef == "" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if len(l.purchases) != 1 || l.purchases[0].Status != store.OrderStatusPending {
		t.Fatalf("expected one pending purchase, got %+v", l.purchases)
	}
}

func TestPurchaseRefusesOwnedAndUnknownTests(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})
	student := uuid.New()

	if _, err := svc.Purchase(context.Background(), student, uuid.New()); !errors.Is(err, ErrTestNotFound) {
		t.Fatalf("expected ErrTestNotFound, got %v", err)
	}

	owned := l.addTest(10_000)
	l.purchases = append(l.purchases, store.Purchase{
		StudentID: student, TestID: owned, Status: store.OrderStatusCompleted,
	})
	if _, err := svc.Purchase(context.Background(), student, owned); !errors.Is(err, ErrAlreadyPurchased) {
		t.Fatalf("expected ErrAlreadyPurchased, got %v", err)
	}
}

func TestPurchaseMapsGatewayFailures(t *testing.T) {
	l := newLedger()
	student := uuid.New()
	testID := l.addTest(10_000)

	svc := newService(l, &fakeGateway{err: resilience.ErrOpenCircuit})
	if _, err := svc.Purchase(context.Background(), student, testID); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	svc = newService(l, &fakeGateway{err: errors.New("order rejected")})
	if _, err := svc.Purchase(context.Background(), student, testID); !errors.Is(err, ErrGatewayError) {
		t.Fatalf("expected ErrGatewayError, got %v", err)
	}
	if len(l.purchases) != 0 {
		t.Fatalf("no pending purchase may exist after a gateway failure, got %+v", l.purchases)
	}
}

func TestVerifyPurchaseSettlesExactlyOnce(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})
	student := uuid.New()
	testID := l.addTest(50_000)

	intent, err := svc.Purchase(context.Background(), student, testID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	first, err := svc.VerifyPurchase(context.Background(), student, intent.OrderRef, "pay_1", "sig-ok")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(first.TestIDs) != 1 || first.TestIDs[0] != testID {
		t.Fatalf("unexpected settlement %+v", first)
	}

	// the same callback a second time matches no pending order and must
	// be refused, not granted again
	if _, err := svc.VerifyPurchase(context.Background(), student, intent.OrderRef, "pay_1", "sig-ok"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("second verification must fail with ErrOrderNotFound, got %v", err)
	}
	var completed int
	for _, p := range l.purchases {
		if p.Status == store.OrderStatusCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed purchase, got %d", completed)
	}
}

func TestVerifyPurchaseRejectsTamperedSignature(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})
	student := uuid.New()
	testID := l.addTest(50_000)

	intent, err := svc.Purchase(context.Background(), student, testID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := svc.VerifyPurchase(context.Background(), student, intent.OrderRef, "pay_1", "sig-bad"); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if l.purchases[0].Status != store.OrderStatusPending {
		t.Fatalf("purchase must stay pending after a bad signature, got %s", l.purchases[0].Status)
	}
}

func TestVerifyPurchaseUnknownOrder(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})

	if _, err := svc.VerifyPurchase(context.Background(), uuid.New(), "order_missing", "pay_1", "sig-ok"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCheckoutRequiresItems(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})

	if _, err := svc.Checkout(context.Background(), uuid.New()); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCheckoutPricesBundle(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})
	student := uuid.New()
	for i := 0; i < 5; i++ {
		l.addCartItem(student, l.addTest(20_000))
	}

	intent, err := svc.Checkout(context.Background(), student)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if intent.Subtotal != 100_000 || intent.Discount != 25_000 || intent.Total != 75_000 {
		t.Fatalf("expected 25%% bundle pricing, got %+v", intent)
	}
	if intent.Amount != intent.Total {
		t.Fatalf("gateway amount must equal discounted total, got %+v", intent)
	}
	if len(l.bundles) != 1 || l.bundles[0].Status != store.OrderStatusPending {
		t.Fatalf("expected one pending bundle order, got %+v", l.bundles)
	}
	if len(l.items) != 5 {
		t.Fatal("checkout must not clear the cart before verification")
	}
}

func TestVerifyCheckoutFansOutAndClearsCart(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})
	sink := &eventSink{}
	svc.Events = &events.Bus{Store: sink}
	student := uuid.New()
	prices := []int64{10_000, 10_000, 10_000}
	for _, price := range prices {
		l.addCartItem(student, l.addTest(price))
	}

	intent, err := svc.Checkout(context.Background(), student)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	settlement, err := svc.VerifyCheckout(context.Background(), student, intent.OrderRef, "pay_9", "sig-ok")
	if err != nil {
		t.Fatalf("verify checkout: %v", err)
	}
	if len(settlement.TestIDs) != 3 {
		t.Fatalf("expected three settled tests, got %+v", settlement)
	}
	var sum int64
	for _, p := range l.purchases {
		if p.Status != store.OrderStatusCompleted {
			t.Fatalf("fanned-out purchase must be completed, got %+v", p)
		}
		sum += p.Amount
	}
	if sum != intent.Total {
		t.Fatalf("fanned-out amounts must sum to the total: got %d, want %d", sum, intent.Total)
	}
	if len(l.items) != 0 {
		t.Fatal("cart must be cleared after settlement")
	}

	// the same callback a second time matches no pending order and must
	// be refused, not settled again
	if _, err := svc.VerifyCheckout(context.Background(), student, intent.OrderRef, "pay_9", "sig-ok"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("second verification must fail with ErrOrderNotFound, got %v", err)
	}
	if len(l.purchases) != 3 {
		t.Fatalf("second verification must not fan out again, got %d purchases", len(l.purchases))
	}
	var completions int
	for _, topic := range sink.topics {
		if topic == events.TopicBundleOrderComplete {
			completions++
		}
	}
	if completions != 1 {
		t.Fatalf("exactly one completion event may be recorded, got %d", completions)
	}
}

func TestVerifyCheckoutToleratesAlreadyOwnedTest(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})
	student := uuid.New()
	var testIDs []uuid.UUID
	for i := 0; i < 3; i++ {
		id := l.addTest(10_000)
		testIDs = append(testIDs, id)
		l.addCartItem(student, id)
	}

	intent, err := svc.Checkout(context.Background(), student)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// the student buys one of the carted tests on its own before the bundle
	// callback arrives
	single, err := svc.Purchase(context.Background(), student, testIDs[0])
	if err != nil {
		t.Fatalf("single purchase: %v", err)
	}
	if _, err := svc.VerifyPurchase(context.Background(), student, single.OrderRef, "pay_1", "sig-ok"); err != nil {
		t.Fatalf("verify single purchase: %v", err)
	}

	settlement, err := svc.VerifyCheckout(context.Background(), student, intent.OrderRef, "pay_2", "sig-ok")
	if err != nil {
		t.Fatalf("bundle settlement must survive an interleaved single purchase: %v", err)
	}
	if len(settlement.TestIDs) != 3 {
		t.Fatalf("settlement must still report the full bundle, got %+v", settlement)
	}
	for _, id := range testIDs {
		owned, _ := l.HasCompletedPurchase(context.Background(), student, id)
		if !owned {
			t.Fatalf("student must own every bundled test, missing %s", id)
		}
	}
	var completed int
	for _, p := range l.purchases {
		if p.Status == store.OrderStatusCompleted {
			completed++
		}
	}
	if completed != 3 {
		t.Fatalf("expected exactly three completed purchases, got %d", completed)
	}
	if len(l.items) != 0 {
		t.Fatal("cart must be cleared after settlement")
	}
}

func TestNilGatewayIsUnavailable(t *testing.T) {
	l := newLedger()
	svc := newService(l, nil)
	student := uuid.New()
	testID := l.addTest(10_000)
	l.addCartItem(student, testID)

	if _, err := svc.Purchase(context.Background(), student, testID); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if _, err := svc.Checkout(context.Background(), student); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if _, err := svc.VerifyPurchase(context.Background(), student, "order_a", "pay_1", "sig-ok"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if _, err := svc.VerifyCheckout(context.Background(), student, "order_a", "pay_1", "sig-ok"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestVerifyCheckoutSplitsUnevenTotals(t *testing.T) {
	l := newLedger()
	svc := newService(l, &fakeGateway{})
	student := uuid.New()
	for _, price := range []int64{11_111, 11_111, 11_111} {
		l.addCartItem(student, l.addTest(price))
	}

	intent, err := svc.Checkout(context.Background(), student)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := svc.VerifyCheckout(context.Background(), student, intent.OrderRef, "pay_2", "sig-ok"); err != nil {
		t.Fatalf("verify checkout: %v", err)
	}
	var sum int64
	for _, p := range l.purchases {
		sum += p.Amount
	}
	if sum != intent.Total {
		t.Fatalf("shares must sum exactly to the total: got %d, want %d", sum, intent.Total)
	}
}
