package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx operations shared by pools, connections and
// transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles the hand-written SQL used by the purchase engine.
type Queries struct {
	db DBTX
}

// New constructs Queries over the provided pool, connection or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to the transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const getTestByID = `
SELECT id, title, description, price, is_active, created_at
FROM tests
WHERE id = $1
`

func (q *Queries) GetTestByID(ctx context.Context, id uuid.UUID) (Test, error) {
	var t Test
	err := q.db.QueryRow(ctx, getTestByID, id).Scan(
		&t.ID, &t.Title, &t.Description, &t.Price, &t.IsActive, &t.CreatedAt,
	)
	return t, err
}

const listActiveTests = `
SELECT id, title, description, price, is_active, created_at
FROM tests
WHERE is_active
ORDER BY created_at DESC
`

func (q *Queries) ListActiveTests(ctx context.Context) ([]Test, error) {
	rows, err := q.db.Query(ctx, listActiveTests)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTests(rows)
}

const listTestsByIDs = `
SELECT id, title, description, price, is_active, created_at
FROM tests
WHERE id = ANY($1::uuid[])
ORDER BY created_at DESC
`

func (q *Queries) ListTestsByIDs(ctx context.Context, ids []uuid.UUID) ([]Test, error) {
	rows, err := q.db.Query(ctx, listTestsByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTests(rows)
}

func scanTests(rows pgx.Rows) ([]Test, error) {
	var out []Test
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Price, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const getCartByStudent = `
SELECT id, student_id, created_at, updated_at
FROM carts
WHERE student_id = $1
`

func (q *Queries) GetCartByStudent(ctx context.Context, studentID uuid.UUID) (Cart, error) {
	var c Cart
	err := q.db.QueryRow(ctx, getCartByStudent, studentID).Scan(
		&c.ID, &c.StudentID, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

const createCart = `
INSERT INTO carts (id, student_id)
VALUES ($1, $2)
ON CONFLICT (student_id) DO UPDATE SET student_id = EXCLUDED.student_id
RETURNING id, student_id, created_at, updated_at
`

// CreateCart inserts a cart for the student, returning the existing one if a
// concurrent request created it first.
func (q *Queries) CreateCart(ctx context.Context, studentID uuid.UUID) (Cart, error) {
	var c Cart
	err := q.db.QueryRow(ctx, createCart, uuid.New(), studentID).Scan(
		&c.ID, &c.StudentID, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

const touchCart = `
UPDATE carts SET updated_at = now() WHERE id = $1
`

func (q *Queries) TouchCart(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, touchCart, id)
	return err
}

const listCartItems = `
SELECT id, cart_id, test_id, title, price, added_at
FROM cart_items
WHERE cart_id = $1
ORDER BY added_at, id
`

func (q *Queries) ListCartItems(ctx context.Context, cartID uuid.UUID) ([]CartItem, error) {
	rows, err := q.db.Query(ctx, listCartItems, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CartItem
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ID, &it.CartID, &it.TestID, &it.Title, &it.Price, &it.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// InsertCartItemParams carries the add-time snapshot for a new line item.
type InsertCartItemParams struct {
	CartID uuid.UUID
	TestID uuid.UUID
	Title  string
	Price  int64
}

const insertCartItem = `
INSERT INTO cart_items (id, cart_id, test_id, title, price)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (cart_id, test_id) DO NOTHING
`

// InsertCartItem appends a line item if the test is not already carted.
// The ON CONFLICT clause makes concurrent adds safe; the return value
// reports whether a row was actually written.
func (q *Queries) InsertCartItem(ctx context.Context, arg InsertCartItemParams) (bool, error) {
	tag, err := q.db.Exec(ctx, insertCartItem, uuid.New(), arg.CartID, arg.TestID, arg.Title, arg.Price)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const deleteCartItem = `
DELETE FROM cart_items WHERE cart_id = $1 AND test_id = $2
`

func (q *Queries) DeleteCartItem(ctx context.Context, cartID, testID uuid.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, deleteCartItem, cartID, testID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const clearCart = `
DELETE FROM cart_items WHERE cart_id = $1
`

func (q *Queries) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	_, err := q.db.Exec(ctx, clearCart, cartID)
	return err
}

const hasCompletedPurchase = `
SELECT EXISTS (
  SELECT 1 FROM purchases
  WHERE student_id = $1 AND test_id = $2 AND status = 'completed'
)
`

func (q *Queries) HasCompletedPurchase(ctx context.Context, studentID, testID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, hasCompletedPurchase, studentID, testID).Scan(&exists)
	return exists, err
}

const listPurchasedTestIDs = `
SELECT test_id FROM purchases
WHERE student_id = $1 AND status = 'completed'
ORDER BY completed_at
`

func (q *Queries) ListPurchasedTestIDs(ctx context.Context, studentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listPurchasedTestIDs, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CreatePurchaseParams creates a pending single-test purchase tied to a
// gateway order.
type CreatePurchaseParams struct {
	StudentID       uuid.UUID
	TestID          uuid.UUID
	Amount          int64
	GatewayOrderRef string
}

const createPurchase = `
INSERT INTO purchases (id, student_id, test_id, amount, status, gateway_order_ref)
VALUES ($1, $2, $3, $4, 'pending', $5)
RETURNING id, student_id, test_id, amount, status, gateway_order_ref, gateway_payment_ref, created_at, completed_at
`

func (q *Queries) CreatePurchase(ctx context.Context, arg CreatePurchaseParams) (Purchase, error) {
	return scanPurchase(q.db.QueryRow(ctx, createPurchase,
		uuid.New(), arg.StudentID, arg.TestID, arg.Amount, arg.GatewayOrderRef))
}

// InsertCompletedPurchaseParams records one fanned-out purchase of a settled
// bundle order. The insert is a no-op (ErrNoRows) when the student already
// holds a completed purchase of the test.
type InsertCompletedPurchaseParams struct {
	StudentID         uuid.UUID
	TestID            uuid.UUID
	Amount            int64
	GatewayOrderRef   string
	GatewayPaymentRef string
	CompletedAt       time.Time
}

const insertCompletedPurchase = `
INSERT INTO purchases (id, student_id, test_id, amount, status, gateway_order_ref, gateway_payment_ref, completed_at)
VALUES ($1, $2, $3, $4, 'completed', $5, $6, $7)
ON CONFLICT (student_id, test_id) WHERE status = 'completed' DO NOTHING
RETURNING id, student_id, test_id, amount, status, gateway_order_ref, gateway_payment_ref, created_at, completed_at
`

func (q *Queries) InsertCompletedPurchase(ctx context.Context, arg InsertCompletedPurchaseParams) (Purchase, error) {
	return scanPurchase(q.db.QueryRow(ctx, insertCompletedPurchase,
		uuid.New(), arg.StudentID, arg.TestID, arg.Amount, arg.GatewayOrderRef, arg.GatewayPaymentRef, arg.CompletedAt))
}

// CompletePurchaseParams identifies the pending purchase to settle.
type CompletePurchaseParams struct {
	StudentID         uuid.UUID
	GatewayOrderRef   string
	GatewayPaymentRef string
}

const completePurchase = `
UPDATE purchases
SET status = 'completed', gateway_payment_ref = $3, completed_at = now()
WHERE student_id = $1 AND gateway_order_ref = $2 AND status = 'pending'
RETURNING id, student_id, test_id, amount, status, gateway_order_ref, gateway_payment_ref, created_at, completed_at
`

// CompletePurchase flips the matching pending purchase to completed. The
// status predicate makes the transition at-most-once under concurrent
// verification calls; pgx.ErrNoRows means no pending row matched.
func (q *Queries) CompletePurchase(ctx context.Context, arg CompletePurchaseParams) (Purchase, error) {
	return scanPurchase(q.db.QueryRow(ctx, completePurchase,
		arg.StudentID, arg.GatewayOrderRef, arg.GatewayPaymentRef))
}

const getPurchaseByOrderRef = `
SELECT id, student_id, test_id, amount, status, gateway_order_ref, gateway_payment_ref, created_at, completed_at
FROM purchases
WHERE student_id = $1 AND gateway_order_ref = $2
ORDER BY created_at
LIMIT 1
`

func (q *Queries) GetPurchaseByOrderRef(ctx context.Context, studentID uuid.UUID, orderRef string) (Purchase, error) {
	return scanPurchase(q.db.QueryRow(ctx, getPurchaseByOrderRef, studentID, orderRef))
}

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(
		&p.ID, &p.StudentID, &p.TestID, &p.Amount, &p.Status,
		&p.GatewayOrderRef, &p.GatewayPaymentRef, &p.CreatedAt, &p.CompletedAt,
	)
	return p, err
}

// CreateBundleOrderParams snapshots the cart at checkout time.
type CreateBundleOrderParams struct {
	StudentID       uuid.UUID
	TestIDs         []uuid.UUID
	Subtotal        int64
	Discount        int64
	Total           int64
	GatewayOrderRef string
}

const createBundleOrder = `
INSERT INTO bundle_orders (id, student_id, test_ids, subtotal, discount, total, status, gateway_order_ref)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
RETURNING id, student_id, test_ids, subtotal, discount, total, status, gateway_order_ref, gateway_payment_ref, created_at, completed_at
`

func (q *Queries) CreateBundleOrder(ctx context.Context, arg CreateBundleOrderParams) (BundleOrder, error) {
	return scanBundleOrder(q.db.QueryRow(ctx, createBundleOrder,
		uuid.New(), arg.StudentID, arg.TestIDs, arg.Subtotal, arg.Discount, arg.Total, arg.GatewayOrderRef))
}

// CompleteBundleOrderParams identifies the pending bundle order to settle.
type CompleteBundleOrderParams struct {
	StudentID         uuid.UUID
	GatewayOrderRef   string
	GatewayPaymentRef string
}

const completeBundleOrder = `
UPDATE bundle_orders
SET status = 'completed', gateway_payment_ref = $3, completed_at = now()
WHERE student_id = $1 AND gateway_order_ref = $2 AND status = 'pending'
RETURNING id, student_id, test_ids, subtotal, discount, total, status, gateway_order_ref, gateway_payment_ref, created_at, completed_at
`

// CompleteBundleOrder is the bundle counterpart of CompletePurchase with the
// same at-most-once guarantee.
func (q *Queries) CompleteBundleOrder(ctx context.Context, arg CompleteBundleOrderParams) (BundleOrder, error) {
	return scanBundleOrder(q.db.QueryRow(ctx, completeBundleOrder,
		arg.StudentID, arg.GatewayOrderRef, arg.GatewayPaymentRef))
}

const getBundleOrderByRef = `
SELECT id, student_id, test_ids, subtotal, discount, total, status, gateway_order_ref, gateway_payment_ref, created_at, completed_at
FROM bundle_orders
WHERE student_id = $1 AND gateway_order_ref = $2
`

func (q *Queries) GetBundleOrderByRef(ctx context.Context, studentID uuid.UUID, orderRef string) (BundleOrder, error) {
	return scanBundleOrder(q.db.QueryRow(ctx, getBundleOrderByRef, studentID, orderRef))
}

func scanBundleOrder(row pgx.Row) (BundleOrder, error) {
	var b BundleOrder
	err := row.Scan(
		&b.ID, &b.StudentID, &b.TestIDs, &b.Subtotal, &b.Discount, &b.Total,
		&b.Status, &b.GatewayOrderRef, &b.GatewayPaymentRef, &b.CreatedAt, &b.CompletedAt,
	)
	return b, err
}

// InsertDomainEventParams records a domain event.
type InsertDomainEventParams struct {
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
}

const insertDomainEvent = `
INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4)
RETURNING id, topic, aggregate_id, payload, occurred_at
`

func (q *Queries) InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	var e DomainEvent
	err := q.db.QueryRow(ctx, insertDomainEvent, uuid.New(), arg.Topic, arg.AggregateID, arg.Payload).Scan(
		&e.ID, &e.Topic, &e.AggregateID, &e.Payload, &e.OccurredAt,
	)
	return e, err
}
