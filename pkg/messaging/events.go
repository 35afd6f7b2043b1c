package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Batch lifecycle events
	EventBatchReceived         = "inventory.batch.received"
	EventBatchExpired          = "inventory.batch.expired"
	EventBatchDisposed         = "inventory.batch.disposed"
	EventBatchDisposalReversed = "inventory.batch.disposal_reversed"

	// Stock events
	EventStockDeducted = "inventory.stock.deducted"
	EventStockReleased = "inventory.stock.released"

	// Transfer events
	EventTransferRequested = "inventory.transfer.requested"
	EventTransferApproved  = "inventory.transfer.approved"
	EventTransferRejected  = "inventory.transfer.rejected"
	EventTransferShipped   = "inventory.transfer.shipped"
	EventTransferReceived  = "inventory.transfer.received"
	EventTransferCancelled = "inventory.transfer.cancelled"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Batch Events

// BatchReceivedEvent is published when a new batch enters a branch's ledger,
// either from a supplier receipt or an inbound transfer.
type BatchReceivedEvent struct {
	BatchID     string     `json:"batch_id"`
	BatchNumber string     `json:"batch_number"`
	ProductID   string     `json:"product_id"`
	BranchID    string     `json:"branch_id"`
	Quantity    int        `json:"quantity"`
	UnitCost    string     `json:"unit_cost"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	SourceType  string     `json:"source_type"`
	ReceivedBy  string     `json:"received_by"`
}

// BatchExpiredEvent is published when the expiry sweep marks a batch expired
type BatchExpiredEvent struct {
	BatchID     string    `json:"batch_id"`
	BatchNumber string    `json:"batch_number"`
	ProductID   string    `json:"product_id"`
	BranchID    string    `json:"branch_id"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

// BatchDisposedEvent is published when an expired batch is disposed
type BatchDisposedEvent struct {
	BatchID    string `json:"batch_id"`
	ProductID  string `json:"product_id"`
	BranchID   string `json:"branch_id"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason,omitempty"`
	DisposedBy string `json:"disposed_by"`
}

// BatchDisposalReversedEvent is published when a disposal is undone
type BatchDisposalReversedEvent struct {
	BatchID       string `json:"batch_id"`
	ProductID     string `json:"product_id"`
	BranchID      string `json:"branch_id"`
	RestoredStock int    `json:"restored_stock"`
	ReversedBy    string `json:"reversed_by"`
}

// Stock Events

// StockDeductedEvent is published after a FIFO deduction commits. Deductions
// lists the contributing batches oldest first.
type StockDeductedEvent struct {
	ProductID   string           `json:"product_id"`
	BranchID    string           `json:"branch_id"`
	Quantity    int              `json:"quantity"`
	Reason      string           `json:"reason"`
	Reference   string           `json:"reference,omitempty"`
	Deductions  []BatchDeduction `json:"deductions"`
	PerformedBy string           `json:"performed_by"`
}

// BatchDeduction is one batch's share of a deduction
type BatchDeduction struct {
	BatchID  string `json:"batch_id"`
	Quantity int    `json:"quantity"`
}

// StockReleasedEvent is published when reserved stock is returned to a batch
type StockReleasedEvent struct {
	BatchID   string `json:"batch_id"`
	ProductID string `json:"product_id"`
	BranchID  string `json:"branch_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

// Transfer Events

// TransferStatusEvent is published on every transfer status change. The event
// type distinguishes the transition.
type TransferStatusEvent struct {
	TransferID     string `json:"transfer_id"`
	TransferNumber string `json:"transfer_number"`
	FromBranchID   string `json:"from_branch_id"`
	ToBranchID     string `json:"to_branch_id"`
	FromStatus     string `json:"from_status"`
	ToStatus       string `json:"to_status"`
	ChangedBy      string `json:"changed_by"`
	Notes          string `json:"notes,omitempty"`
	ItemCount      int    `json:"item_count"`
}
