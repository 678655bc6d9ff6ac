package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

//go:embed schema.sql
var schema string

// ErrOptimisticLock reports a conditional stock update that matched no row
// even though the locked read said it would.
var ErrOptimisticLock = errors.New("optimistic lock conflict")

const maxTxAttempts = 3

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables when they do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in a transaction, rerunning it from scratch when InnoDB
// picks it as a deadlock victim. A rolled back attempt leaves nothing behind.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = m.runTx(ctx, fn)
		if !IsDeadlock(err) && !errors.Is(err, ErrOptimisticLock) {
			return err
		}
	}
	return err
}

func (m *MySQLAdapter) runTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) UserExists(ctx context.Context, userID int64) (bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ? LOCK IN SHARE MODE`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return true, nil
}

// GetAndReserve locks the product row, checks stock and decrements it. The
// row lock is held until the surrounding transaction ends.
func (t *mysqlTx) GetAndReserve(ctx context.Context, productID int64, quantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: reserve quantity %d", domain.ErrInvalidRequest, quantity)
	}

	var (
		price decimal.Decimal
		stock int
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT price, stock FROM products WHERE id = ? FOR UPDATE`, productID,
	).Scan(&price, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, &domain.ProductError{ProductID: productID}
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("query product: %w", err)
	}

	if stock < quantity {
		return decimal.Decimal{}, &domain.StockError{
			ProductID: productID,
			Requested: quantity,
			Available: stock,
		}
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?
		WHERE id = ? AND stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("reserve stock: %w", err)
	}

	rows, err := affectedRows(result, "reserve stock")
	if err != nil {
		return decimal.Decimal{}, err
	}
	if rows == 0 {
		return decimal.Decimal{}, ErrOptimisticLock
	}

	return price, nil
}

func (t *mysqlTx) Release(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: release quantity %d", domain.ErrInvalidRequest, quantity)
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE products SET stock = stock + ? WHERE id = ?`,
		quantity, productID,
	)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	rows, err := affectedRows(result, "release stock")
	if err != nil {
		return err
	}
	if rows == 0 {
		return &domain.ProductError{ProductID: productID}
	}
	return nil
}

func (t *mysqlTx) CreateOrder(ctx context.Context, order *domain.Order) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (user_id, status, total_amount, created_at)
		VALUES (?, ?, ?, ?)`,
		order.UserID, order.Status, order.TotalAmount, order.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	orderID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, price)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare order items: %w", err)
	}
	defer stmt.Close()

	for _, item := range order.Items {
		if _, err := stmt.ExecContext(ctx, orderID, item.ProductID, item.Quantity, item.Price); err != nil {
			return 0, fmt.Errorf("insert order item: %w", err)
		}
	}

	return orderID, nil
}

func (t *mysqlTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := scanOrderHeader(t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, status, total_amount, created_at
		FROM orders WHERE id = ? FOR UPDATE`, orderID))
	if err != nil {
		return nil, err
	}

	order.Items, err = queryOrderItems(ctx, t.tx, `
		SELECT id, order_id, product_id, '', quantity, price
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (t *mysqlTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rows, err := affectedRows(result, "update order status")
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (t *mysqlTx) DeleteOrder(ctx context.Context, orderID int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	rows, err := affectedRows(result, "delete order")
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// GetOrder reads header and items inside one read-only transaction so the
// items always belong to the header that was read.
func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := scanOrderHeader(tx.QueryRowContext(ctx, `
		SELECT id, user_id, status, total_amount, created_at
		FROM orders WHERE id = ?`, orderID))
	if err != nil {
		return nil, err
	}

	order.Items, err = queryOrderItems(ctx, tx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity, oi.price
		FROM order_items oi
		JOIN products p ON oi.product_id = p.id
		WHERE oi.order_id = ?
		ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, err
	}

	return order, tx.Commit()
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, filter port.OrderFilter) ([]domain.Order, error) {
	query := `SELECT id, user_id, status, total_amount, created_at FROM orders`
	var args []any
	if filter.UserID != nil {
		query += ` WHERE user_id = ?`
		args = append(args, *filter.UserID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrderHeader(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return orders, nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, username, email string) (int64, error) {
	result, err := m.db.ExecContext(ctx, `INSERT INTO users (username, email) VALUES (?, ?)`, username, email)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return result.LastInsertId()
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, product domain.Product) (int64, error) {
	if product.Price.IsNegative() || product.Stock < 0 {
		return 0, fmt.Errorf("%w: product price and stock must not be negative", domain.ErrInvalidRequest)
	}

	result, err := m.db.ExecContext(ctx, `
		INSERT INTO products (name, description, price, stock)
		VALUES (?, ?, ?, ?)`,
		product.Name, product.Description, product.Price, product.Stock,
	)
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return result.LastInsertId()
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var (
		p           domain.Product
		description sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, description, price, stock, created_at
		FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.Name, &description, &p.Price, &p.Stock, &p.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ProductError{ProductID: productID}
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}

	p.Description = description.String
	return &p, nil
}

func (m *MySQLAdapter) SetProductPrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: negative price", domain.ErrInvalidRequest)
	}
	return m.updateProduct(ctx, productID, `UPDATE products SET price = ? WHERE id = ?`, price)
}

func (m *MySQLAdapter) SetProductStock(ctx context.Context, productID int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: negative stock", domain.ErrInvalidRequest)
	}
	return m.updateProduct(ctx, productID, `UPDATE products SET stock = ? WHERE id = ?`, stock)
}

func (m *MySQLAdapter) updateProduct(ctx context.Context, productID int64, query string, value any) error {
	result, err := m.db.ExecContext(ctx, query, value, productID)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	// MySQL reports zero affected rows when the value is unchanged
	rows, err := affectedRows(result, "update product")
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := m.GetProduct(ctx, productID); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderHeader(row rowScanner) (*domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(&order.ID, &order.UserID, &status, &order.TotalAmount, &order.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	return &order, nil
}

func queryOrderItems(ctx context.Context, tx *sql.Tx, query string, orderID int64) ([]domain.OrderItem, error) {
	rows, err := tx.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	return items, nil
}

func affectedRows(result sql.Result, op string) (int64, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return rows, nil
}

// IsDeadlock reports whether err is an InnoDB deadlock or lock wait timeout.
func IsDeadlock(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
}

var (
	_ port.DatabaseRepository = (*MySQLAdapter)(nil)
	_ port.CatalogRepository  = (*MySQLAdapter)(nil)
)
