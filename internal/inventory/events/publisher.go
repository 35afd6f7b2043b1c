package events

import (
	"context"

	"github.com/freshmart/freshmart-backend/internal/inventory/repository"
	"github.com/freshmart/freshmart-backend/pkg/logger"
	"github.com/freshmart/freshmart-backend/pkg/messaging"
)

// Sink publishes raw events. Satisfied by messaging.Publisher in production
// and by testutil.MockPublisher in tests.
type Sink interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// Publisher publishes typed inventory events. Publishing is fire-and-forget:
// a broker failure is logged but never fails the calling operation.
type Publisher struct {
	sink   Sink
	logger *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(sink Sink, log *logger.Logger) *Publisher {
	return &Publisher{
		sink:   sink,
		logger: log,
	}
}

func (p *Publisher) publish(ctx context.Context, eventType string, data interface{}) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, eventType, data); err != nil {
		p.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}

// BatchReceived publishes an event for a newly received batch
func (p *Publisher) BatchReceived(ctx context.Context, batch *repository.Batch, receivedBy string) {
	p.publish(ctx, messaging.EventBatchReceived, messaging.BatchReceivedEvent{
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		ProductID:   batch.ProductID,
		BranchID:    batch.BranchID,
		Quantity:    batch.QuantityReceived,
		UnitCost:    batch.UnitCost.String(),
		ExpiryDate:  batch.ExpiryDate,
		SourceType:  batch.SourceType,
		ReceivedBy:  receivedBy,
	})
}

// BatchExpired publishes an event for a batch marked expired by the sweep
func (p *Publisher) BatchExpired(ctx context.Context, batch *repository.Batch) {
	if batch.ExpiryDate == nil {
		return
	}
	p.publish(ctx, messaging.EventBatchExpired, messaging.BatchExpiredEvent{
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		ProductID:   batch.ProductID,
		BranchID:    batch.BranchID,
		Quantity:    batch.CurrentStock,
		ExpiryDate:  *batch.ExpiryDate,
	})
}

// BatchDisposed publishes an event for a disposed batch
func (p *Publisher) BatchDisposed(ctx context.Context, batch *repository.Batch, disposedBy, reason string) {
	p.publish(ctx, messaging.EventBatchDisposed, messaging.BatchDisposedEvent{
		BatchID:    batch.ID,
		ProductID:  batch.ProductID,
		BranchID:   batch.BranchID,
		Quantity:   batch.CurrentStock,
		Reason:     reason,
		DisposedBy: disposedBy,
	})
}

// BatchDisposalReversed publishes an event for an undone disposal
func (p *Publisher) BatchDisposalReversed(ctx context.Context, batch *repository.Batch, reversedBy string) {
	p.publish(ctx, messaging.EventBatchDisposalReversed, messaging.BatchDisposalReversedEvent{
		BatchID:       batch.ID,
		ProductID:     batch.ProductID,
		BranchID:      batch.BranchID,
		RestoredStock: batch.CurrentStock,
		ReversedBy:    reversedBy,
	})
}

// StockDeducted publishes an event after a FIFO deduction commits
func (p *Publisher) StockDeducted(ctx context.Context, productID, branchID string, quantity int, reason, reference, performedBy string, deductions []messaging.BatchDeduction) {
	p.publish(ctx, messaging.EventStockDeducted, messaging.StockDeductedEvent{
		ProductID:   productID,
		BranchID:    branchID,
		Quantity:    quantity,
		Reason:      reason,
		Reference:   reference,
		Deductions:  deductions,
		PerformedBy: performedBy,
	})
}

// StockReleased publishes an event when reserved stock returns to a batch
func (p *Publisher) StockReleased(ctx context.Context, batchID, productID, branchID string, quantity int, reason string) {
	p.publish(ctx, messaging.EventStockReleased, messaging.StockReleasedEvent{
		BatchID:   batchID,
		ProductID: productID,
		BranchID:  branchID,
		Quantity:  quantity,
		Reason:    reason,
	})
}

// TransferStatusChanged publishes the event matching a transfer transition
func (p *Publisher) TransferStatusChanged(ctx context.Context, transfer *repository.TransferRequest, fromStatus, changedBy, notes string) {
	eventType := transferEventType(transfer.Status)
	if eventType == "" {
		return
	}

	p.publish(ctx, eventType, messaging.TransferStatusEvent{
		TransferID:     transfer.ID,
		TransferNumber: transfer.TransferNumber,
		FromBranchID:   transfer.FromBranchID,
		ToBranchID:     transfer.ToBranchID,
		FromStatus:     fromStatus,
		ToStatus:       transfer.Status,
		ChangedBy:      changedBy,
		Notes:          notes,
		ItemCount:      len(transfer.Items),
	})
}

func transferEventType(status string) string {
	switch status {
	case repository.TransferStatusPending:
		return messaging.EventTransferRequested
	case repository.TransferStatusApproved:
		return messaging.EventTransferApproved
	case repository.TransferStatusRejected:
		return messaging.EventTransferRejected
	case repository.TransferStatusShipped:
		return messaging.EventTransferShipped
	case repository.TransferStatusReceived:
		return messaging.EventTransferReceived
	case repository.TransferStatusCancelled:
		return messaging.EventTransferCancelled
	default:
		return ""
	}
}
