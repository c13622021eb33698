package store

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyImported is returned when a contract with the same source key
	// already exists.
	ErrAlreadyImported = errors.New("contract already imported")
	ErrCustomerMissing = errors.New("customer does not exist")
	ErrProductMissing  = errors.New("product does not exist")
)

type Customer struct {
	ID        string
	Number    string
	Name      string
	Address   string
	Active    bool
	CreatedAt time.Time
}

type Contract struct {
	ID                    string
	CustomerID            string
	CustomerName          string
	Name                  string
	ContractNumber        string
	SalesOrderNumber      string
	StartDate             *time.Time
	EndDate               *time.Time
	InvoicingInstructions string
	DiscountAmount        float64
	TotalMonthlyRate      float64
	SourceKey             string
	ImportSessionID       string
	CreatedAt             time.Time
}

type ContractItem struct {
	ProductID   string
	ProductName string
	ItemName    string
	MonthlyRate float64
}

// ContractDraft is everything needed to create one contract with its items.
// Items without a ProductID are looked up by name and, when
// AutoCreateProducts is set, created.
type ContractDraft struct {
	Contract           Contract
	Items              []ContractItem
	AutoCreateProducts bool
}
