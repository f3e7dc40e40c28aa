package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// OrderStatus tracks the lifecycle of purchases and bundle orders.
// Transitions are pending -> completed or pending -> failed; completed and
// failed are terminal.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Test is a published exam available for purchase. Price is stored in minor
// units (paise).
type Test struct {
	ID          uuid.UUID
	Title       string
	Description string
	Price       int64
	IsActive    bool
	CreatedAt   time.Time
}

// Cart is a student's pending selection. One cart per student, created
// lazily and cleared (never deleted) on checkout.
type Cart struct {
	ID        uuid.UUID
	StudentID uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is a line item carrying the title and price snapshotted at
// add-time. Later edits to the test do not change a carted item.
type CartItem struct {
	ID      uuid.UUID
	CartID  uuid.UUID
	TestID  uuid.UUID
	Title   string
	Price   int64
	AddedAt time.Time
}

// Purchase is the durable proof that a student owns one test. At most one
// completed purchase may exist per (student, test) pair; the database
// enforces this with a partial unique index.
type Purchase struct {
	ID                uuid.UUID
	StudentID         uuid.UUID
	TestID            uuid.UUID
	Amount            int64
	Status            OrderStatus
	GatewayOrderRef   string
	GatewayPaymentRef pgtype.Text
	CreatedAt         time.Time
	CompletedAt       pgtype.Timestamptz
}

// BundleOrder is a grouped checkout covering multiple tests at a discounted
// total. TestIDs is the cart snapshot taken when checkout was initiated.
type BundleOrder struct {
	ID                uuid.UUID
	StudentID         uuid.UUID
	TestIDs           []uuid.UUID
	Subtotal          int64
	Discount          int64
	Total             int64
	Status            OrderStatus
	GatewayOrderRef   string
	GatewayPaymentRef pgtype.Text
	CreatedAt         time.Time
	CompletedAt       pgtype.Timestamptz
}

// DomainEvent is a persisted record of something that happened in the
// purchase lifecycle.
type DomainEvent struct {
	ID          uuid.UUID
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
	OccurredAt  time.Time
}
