package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the full query surface, implemented by *Queries and by test
// stubs.
type Querier interface {
	GetTestByID(ctx context.Context, id uuid.UUID) (Test, error)
	ListActiveTests(ctx context.Context) ([]Test, error)
	ListTestsByIDs(ctx context.Context, ids []uuid.UUID) ([]Test, error)
	GetCartByStudent(ctx context.Context, studentID uuid.UUID) (Cart, error)
	CreateCart(ctx context.Context, studentID uuid.UUID) (Cart, error)
	TouchCart(ctx context.Context, id uuid.UUID) error
	ListCartItems(ctx context.Context, cartID uuid.UUID) ([]CartItem, error)
	InsertCartItem(ctx context.Context, arg InsertCartItemParams) (bool, error)
	DeleteCartItem(ctx context.Context, cartID, testID uuid.UUID) (bool, error)
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	HasCompletedPurchase(ctx context.Context, studentID, testID uuid.UUID) (bool, error)
	ListPurchasedTestIDs(ctx context.Context, studentID uuid.UUID) ([]uuid.UUID, error)
	CreatePurchase(ctx context.Context, arg CreatePurchaseParams) (Purchase, error)
	GetPurchaseByOrderRef(ctx context.Context, studentID uuid.UUID, orderRef string) (Purchase, error)
	InsertCompletedPurchase(ctx context.Context, arg InsertCompletedPurchaseParams) (Purchase, error)
	CompletePurchase(ctx context.Context, arg CompletePurchaseParams) (Purchase, error)
	CreateBundleOrder(ctx context.Context, arg CreateBundleOrderParams) (BundleOrder, error)
	CompleteBundleOrder(ctx context.Context, arg CompleteBundleOrderParams) (BundleOrder, error)
	GetBundleOrderByRef(ctx context.Context, studentID uuid.UUID, orderRef string) (BundleOrder, error)
	InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error)
}

var _ Querier = (*Queries)(nil)

// TxRunner executes a function against a transactional query surface,
// committing when it returns nil.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(Querier) error) error
}

// PoolRunner runs transactions on a pgx pool.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

// RunInTx begins a transaction, invokes fn with Queries bound to it, and
// commits. Any error rolls the transaction back.
func (r PoolRunner) RunInTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(New(nil).WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// NewPool builds a pgx pool with conservative defaults and the application
// name stamped on every connection.
func NewPool(ctx context.Context, url, appName string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = appName
	return pgxpool.NewWithConfig(ctx, cfg)
}
