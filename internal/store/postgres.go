package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"billdesk/api/internal/util"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListActiveCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_number, name, address, active, created_at
		FROM customers
		WHERE active
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	items := make([]Customer, 0)
	for rows.Next() {
		var item Customer
		if err := rows.Scan(&item.ID, &item.Number, &item.Name, &item.Address, &item.Active, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	var item Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_number, name, address, active, created_at
		FROM customers
		WHERE id=$1
	`, customerID).Scan(&item.ID, &item.Number, &item.Name, &item.Address, &item.Active, &item.CreatedAt)
	if err != nil {
		return Customer{}, err
	}
	return item, nil
}

// ExistingContracts maps each source key that already produced a contract to
// that contract's id.
func (s *PostgresStore) ExistingContracts(ctx context.Context, sourceKeys []string) (map[string]string, error) {
	found := make(map[string]string)
	if len(sourceKeys) == 0 {
		return found, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_key, id
		FROM contracts
		WHERE source_key = ANY($1)
	`, sourceKeys)
	if err != nil {
		return nil, fmt.Errorf("lookup imported contracts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan imported contract: %w", err)
		}
		found[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate imported contracts: %w", err)
	}
	return found, nil
}

// CreateContract inserts the contract and its items in one transaction.
func (s *PostgresStore) CreateContract(ctx context.Context, draft ContractDraft) (Contract, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Contract{}, fmt.Errorf("begin contract tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	contract := draft.Contract
	if err := tx.QueryRowContext(ctx, `SELECT name FROM customers WHERE id=$1`, contract.CustomerID).Scan(&contract.CustomerName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contract{}, fmt.Errorf("%w: %s", ErrCustomerMissing, contract.CustomerID)
		}
		return Contract{}, fmt.Errorf("read customer: %w", err)
	}

	if contract.ID == "" {
		contract.ID = util.NewID("ctr")
	}
	var sourceKey any
	if contract.SourceKey != "" {
		sourceKey = contract.SourceKey
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO contracts (
			id, customer_id, name, contract_number, sales_order_number, start_date, end_date,
			invoicing_instructions, discount_amount, total_monthly_rate, source_key, import_session_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`,
		contract.ID, contract.CustomerID, contract.Name, contract.ContractNumber, contract.SalesOrderNumber,
		contract.StartDate, contract.EndDate, contract.InvoicingInstructions, contract.DiscountAmount,
		contract.TotalMonthlyRate, sourceKey, contract.ImportSessionID,
	).Scan(&contract.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Contract{}, ErrAlreadyImported
		}
		return Contract{}, fmt.Errorf("insert contract: %w", err)
	}

	for i, item := range draft.Items {
		productID, err := resolveProduct(ctx, tx, item, draft.AutoCreateProducts)
		if err != nil {
			return Contract{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contract_items (contract_id, product_id, item_name, monthly_rate, position)
			VALUES ($1, $2, $3, $4, $5)
		`, contract.ID, productID, item.ItemName, item.MonthlyRate, i); err != nil {
			return Contract{}, fmt.Errorf("insert contract item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Contract{}, fmt.Errorf("commit contract: %w", err)
	}
	return contract, nil
}

func resolveProduct(ctx context.Context, tx *sql.Tx, item ContractItem, autoCreate bool) (string, error) {
	if item.ProductID != "" {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id=$1`, item.ProductID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrProductMissing, item.ProductID)
		}
		if err != nil {
			return "", fmt.Errorf("read product: %w", err)
		}
		return id, nil
	}

	name := strings.TrimSpace(item.ProductName)
	if name == "" {
		name = strings.TrimSpace(item.ItemName)
	}
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE lower(name)=lower($1)`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup product: %w", err)
	}
	if !autoCreate {
		return "", fmt.Errorf("%w: %q", ErrProductMissing, name)
	}

	id = util.NewID("prd")
	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (id, name)
		VALUES ($1, $2)
		ON CONFLICT ((lower(name))) DO UPDATE SET name=products.name
		RETURNING id
	`, id, name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create product: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertCustomer(ctx context.Context, item Customer) error {
	if item.ID == "" {
		item.ID = util.NewID("cus")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, customer_number, name, address, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Number, item.Name, item.Address, item.Active)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}
