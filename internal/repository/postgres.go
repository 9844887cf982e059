// Package repository содержит реализацию журнала заказов в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при повторной вставке заказа с тем же идентификатором.
	ErrOrderExists = errors.New("order already exists")
	// ErrPaymentRefInUse возвращается, если платёж уже привязан к другому заказу.
	ErrPaymentRefInUse = errors.New("payment reference already used by another order")
)

const orderColumns = `id, bundle_id, bundle_name, quantity, amount, shipping_fee,
	customer_name, customer_phone, customer_address, marketing_consent,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content,
	status, payment_ref, payment_method, created_at, paid_at`

// dbPool - часть pgxpool.Pool, которой пользуется репозиторий.
type dbPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresRepository предоставляет доступ к журналу заказов в PostgreSQL.
type PostgresRepository struct {
	pool    dbPool
	backoff func() retry.Backoff
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{pool: pool, backoff: defaultBackoff}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateOrder сохраняет новый заказ и заполняет время создания.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO orders (id, bundle_id, bundle_name, quantity, amount, shipping_fee,
				customer_name, customer_phone, customer_address, marketing_consent,
				utm_source, utm_medium, utm_campaign, utm_term, utm_content, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 RETURNING created_at`,
			o.ID, o.BundleID, o.BundleName, o.Quantity, o.Amount, o.ShippingFee,
			o.Customer.Name, o.Customer.Phone, o.Customer.Address, o.Attribution.MarketingConsent,
			nullString(o.Attribution.UTMSource), nullString(o.Attribution.UTMMedium),
			nullString(o.Attribution.UTMCampaign), nullString(o.Attribution.UTMTerm),
			nullString(o.Attribution.UTMContent), string(o.Status),
		).Scan(&o.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrderByPaymentRef ищет заказ по идентификатору платежа шлюза.
// Пока сверка не сохранила payment_ref, идентификатором платежа служит id заказа.
func (r *PostgresRepository) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE payment_ref = $1 OR id = $1
		 ORDER BY (payment_ref = $1) DESC NULLS LAST
		 LIMIT 1`,
		paymentRef,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by payment: %w", err)
	}
	return o, nil
}

// TransitionOrder атомарно переводит заказ из PENDING в целевой статус.
// Если заказ уже не в PENDING, возвращается его текущее состояние и applied = false.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, id string, t model.Transition) (*model.Order, bool, error) {
	var (
		updated *model.Order
		applied bool
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx,
			`UPDATE orders
			 SET status = $2,
			     payment_ref = COALESCE(NULLIF($3, ''), payment_ref),
			     payment_method = COALESCE(NULLIF($4, ''), payment_method),
			     paid_at = CASE WHEN $2 = $6 THEN $5 ELSE paid_at END,
			     updated_at = $5
			 WHERE id = $1 AND status = $7
			 RETURNING `+orderColumns,
			id, string(t.To), t.PaymentRef, t.PaymentMethod, t.At,
			string(model.OrderStatusPaid), string(model.OrderStatusPending),
		)

		o, err := scanOrder(row)
		if err == nil {
			updated, applied = o, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrPaymentRefInUse, t.PaymentRef)
			}
			return fmt.Errorf("update order status: %w", err)
		}

		current, err := r.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		updated, applied = current, false
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return updated, applied, nil
}

// GetStalePendingOrders возвращает заказы в PENDING, созданные раньше указанного момента.
func (r *PostgresRepository) GetStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3`,
		string(model.OrderStatusPending), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                                          model.Order
		status                                     string
		utmSource, utmMedium, utmCampaign, utmTerm *string
		utmContent, paymentRef, paymentMethod      *string
	)

	err := row.Scan(
		&o.ID, &o.BundleID, &o.BundleName, &o.Quantity, &o.Amount, &o.ShippingFee,
		&o.Customer.Name, &o.Customer.Phone, &o.Customer.Address, &o.Attribution.MarketingConsent,
		&utmSource, &utmMedium, &utmCampaign, &utmTerm, &utmContent,
		&status, &paymentRef, &paymentMethod, &o.CreatedAt, &o.PaidAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.Attribution.UTMSource = deref(utmSource)
	o.Attribution.UTMMedium = deref(utmMedium)
	o.Attribution.UTMCampaign = deref(utmCampaign)
	o.Attribution.UTMTerm = deref(utmTerm)
	o.Attribution.UTMContent = deref(utmContent)
	o.PaymentRef = deref(paymentRef)
	o.PaymentMethod = deref(paymentMethod)

	return &o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
