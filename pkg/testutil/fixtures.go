package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BranchFixture represents test branch data
type BranchFixture struct {
	ID        string
	Name      string
	Code      string
	Latitude  float64
	Longitude float64
	IsActive  bool
	CreatedAt time.Time
}

// ProductFixture represents test product data
type ProductFixture struct {
	ID            string
	Name          string
	SKU           string
	Category      string
	IsPerishable  bool
	ShelfLifeDays int
	CreatedAt     time.Time
}

// BatchFixture represents test inventory batch data
type BatchFixture struct {
	ID               string
	BatchNumber      string
	ProductID        string
	BranchID         string
	QuantityReceived int
	CurrentStock     int
	UnitCost         decimal.Decimal
	ExpiryDate       *time.Time
	ReceivedDate     time.Time
	Status           string
	Version          int
}

// TransferFixture represents test transfer request data
type TransferFixture struct {
	ID             string
	TransferNumber string
	FromBranchID   string
	ToBranchID     string
	Status         string
	Priority       string
	RequestedBy    string
	CreatedAt      time.Time
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Branch creates a branch fixture with defaults
func (f *FixtureFactory) Branch(opts ...func(*BranchFixture)) BranchFixture {
	seq := f.nextSeq()

	branch := BranchFixture{
		ID:        uuid.New().String(),
		Name:      fmt.Sprintf("Branch %d", seq),
		Code:      fmt.Sprintf("BR-%03d", seq),
		Latitude:  52.52,
		Longitude: 13.405,
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(&branch)
	}

	return branch
}

// WithCoordinates sets the branch location
func WithCoordinates(lat, lon float64) func(*BranchFixture) {
	return func(b *BranchFixture) {
		b.Latitude = lat
		b.Longitude = lon
	}
}

// Product creates a product fixture with defaults
func (f *FixtureFactory) Product(opts ...func(*ProductFixture)) ProductFixture {
	seq := f.nextSeq()

	product := ProductFixture{
		ID:            uuid.New().String(),
		Name:          fmt.Sprintf("Product %d", seq),
		SKU:           fmt.Sprintf("SKU-%05d", seq),
		Category:      "produce",
		IsPerishable:  true,
		ShelfLifeDays: 7,
		CreatedAt:     time.Now(),
	}

	for _, opt := range opts {
		opt(&product)
	}

	return product
}

// WithShelfLife sets the product shelf life in days
func WithShelfLife(days int) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.IsPerishable = days > 0
		p.ShelfLifeDays = days
	}
}

// Batch creates a batch fixture with defaults. The batch is active and fully
// stocked with an expiry one week out.
func (f *FixtureFactory) Batch(productID, branchID string, opts ...func(*BatchFixture)) BatchFixture {
	seq := f.nextSeq()
	expiry := time.Now().AddDate(0, 0, 7)

	batch := BatchFixture{
		ID:               uuid.New().String(),
		BatchNumber:      fmt.Sprintf("LOT-%05d", seq),
		ProductID:        productID,
		BranchID:         branchID,
		QuantityReceived: 100,
		CurrentStock:     100,
		UnitCost:         decimal.NewFromFloat(2.50),
		ExpiryDate:       &expiry,
		ReceivedDate:     time.Now(),
		Status:           "active",
		Version:          1,
	}

	for _, opt := range opts {
		opt(&batch)
	}

	return batch
}

// WithExpiry sets the batch expiry date
func WithExpiry(expiry time.Time) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ExpiryDate = &expiry
	}
}

// WithoutExpiry marks the batch as non-perishable
func WithoutExpiry() func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ExpiryDate = nil
	}
}

// WithStock sets both received quantity and current stock
func WithStock(received, current int) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.QuantityReceived = received
		b.CurrentStock = current
	}
}

// WithBatchStatus sets the batch status
func WithBatchStatus(status string) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.Status = status
	}
}

// Transfer creates a transfer request fixture with defaults
func (f *FixtureFactory) Transfer(fromBranchID, toBranchID string, opts ...func(*TransferFixture)) TransferFixture {
	seq := f.nextSeq()

	transfer := TransferFixture{
		ID:             uuid.New().String(),
		TransferNumber: fmt.Sprintf("TR-%06d", seq),
		FromBranchID:   fromBranchID,
		ToBranchID:     toBranchID,
		Status:         "pending",
		Priority:       "normal",
		RequestedBy:    uuid.New().String(),
		CreatedAt:      time.Now(),
	}

	for _, opt := range opts {
		opt(&transfer)
	}

	return transfer
}

// WithTransferStatus sets the transfer status
func WithTransferStatus(status string) func(*TransferFixture) {
	return func(t *TransferFixture) {
		t.Status = status
	}
}

// WithPriority sets the transfer priority
func WithPriority(priority string) func(*TransferFixture) {
	return func(t *TransferFixture) {
		t.Priority = priority
	}
}
