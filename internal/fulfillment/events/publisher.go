// Package events publishes fulfillment progress to the message broker.
package events

import (
	"context"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/counter"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/dispatchrx/dispatchrx-backend/pkg/messaging"
)

// Source is the event source name of the fulfillment service
const Source = "fulfillment-service"

// Broker is the publishing side of pkg/messaging
type Broker interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// Scan identifies the scan an event was produced by
type Scan struct {
	ID         string
	DocumentID string
	Operator   string
	Mode       domain.ScanMode
}

// FulfillmentEventPublisher publishes scan, cascade and completion events.
// Publishing is best effort: failures are logged and never fail the scan.
type FulfillmentEventPublisher struct {
	broker Broker
	logger *logger.Logger
}

// NewFulfillmentEventPublisher creates a publisher on the fulfillment exchange
func NewFulfillmentEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*FulfillmentEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeFulfillmentEvents, Source, log)
	if err != nil {
		return nil, err
	}
	return NewWithBroker(publisher, log), nil
}

// NewWithBroker creates a publisher on an existing broker
func NewWithBroker(broker Broker, log *logger.Logger) *FulfillmentEventPublisher {
	return &FulfillmentEventPublisher{
		broker: broker,
		logger: log,
	}
}

// PublishScanReconciled publishes an accepted single-line scan
func (p *FulfillmentEventPublisher) PublishScanReconciled(ctx context.Context, scan Scan, res domain.Result, e counter.Event) {
	if p == nil {
		return
	}

	units := e.Units
	if e.Identity != "" {
		units = 1
	}

	data := messaging.ScanReconciledEvent{
		ScanID:          scan.ID,
		DocumentID:      scan.DocumentID,
		LineItemID:      res.LineItemID,
		Mode:            string(scan.Mode),
		Identity:        e.Identity,
		Units:           units,
		PreviousScanned: res.PreviousScanned,
		NewScanned:      res.NewScanned,
		Expected:        res.Expected,
		Exceeded:        res.Exceeded,
		Operator:        scan.Operator,
	}

	if err := p.broker.Publish(ctx, messaging.EventScanReconciled, data); err != nil {
		p.logger.Error().Err(err).
			Str("document_id", scan.DocumentID).
			Str("scan_id", scan.ID).
			Msg("failed to publish scan reconciled event")
	}
}

// PublishCarrierCascaded publishes the outcome of a carrier scan
func (p *FulfillmentEventPublisher) PublishCarrierCascaded(ctx context.Context, scan Scan, res domain.CascadeResult) {
	if p == nil {
		return
	}

	data := messaging.CarrierCascadedEvent{
		ScanID:     scan.ID,
		DocumentID: scan.DocumentID,
		Label:      res.Label,
		Mode:       string(res.Mode),
		Applied:    make([]messaging.CarrierStepEvent, 0, len(res.Applied)),
		Operator:   scan.Operator,
	}
	for _, s := range res.Applied {
		data.Applied = append(data.Applied, messaging.CarrierStepEvent{
			GTIN:       s.GTIN,
			LineItemID: s.LineItemID,
			Units:      s.Units,
			NewScanned: s.NewScanned,
		})
	}
	for _, f := range res.Failed {
		data.Failed = append(data.Failed, messaging.CarrierFailureEvent{
			GTIN:   f.GTIN,
			Count:  f.Count,
			Reason: string(f.Reason),
		})
	}

	if err := p.broker.Publish(ctx, messaging.EventCarrierCascaded, data); err != nil {
		p.logger.Error().Err(err).
			Str("document_id", scan.DocumentID).
			Str("label", res.Label).
			Msg("failed to publish carrier cascaded event")
	}
}

// PublishDocumentCompleted publishes that every line reached its expected quantity
func (p *FulfillmentEventPublisher) PublishDocumentCompleted(ctx context.Context, documentID string, agg counter.Aggregate) {
	if p == nil {
		return
	}

	data := messaging.DocumentCompletedEvent{
		DocumentID:    documentID,
		TotalExpected: agg.TotalExpected,
		TotalScanned:  agg.TotalScanned,
	}

	if err := p.broker.Publish(ctx, messaging.EventDocumentCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("document_id", documentID).Msg("failed to publish document completed event")
	}
}
