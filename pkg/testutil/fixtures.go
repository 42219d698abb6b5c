package testutil

import (
	"fmt"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/google/uuid"
)

// Identifiers used across scenarios
const (
	SampleGTIN    = "08699293700258"
	SampleCode    = "01086992937002582110020832004322217280831102509178"
	SampleSerial  = "100208320043222"
	SampleCarrier = "00123456789012345675"
)

// FixtureFactory builds documents with fresh UUIDs
type FixtureFactory struct {
	seq int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

// Document builds an invoice with the given lines
func (f *FixtureFactory) Document(lines ...domain.LineItem) *domain.Document {
	f.seq++
	return &domain.Document{
		ID:     uuid.New().String(),
		Number: fmt.Sprintf("INV-%05d", f.seq),
		Kind:   domain.DocumentInvoice,
		Lines:  lines,
	}
}

// SerializedLine builds a serialized line for gtin
func (f *FixtureFactory) SerializedLine(gtin string, expected int) domain.LineItem {
	return domain.LineItem{
		ID:               uuid.New().String(),
		ProductCode:      "P-" + gtin,
		GTIN:             gtin,
		Name:             "Serialized " + gtin,
		TrackingMode:     domain.TrackingSerialized,
		ExpectedQuantity: expected,
	}
}

// DeviceLine builds a device-tracked line for gtin
func (f *FixtureFactory) DeviceLine(gtin string, expected int) domain.LineItem {
	line := f.SerializedLine(gtin, expected)
	line.ProductCode = "D-" + gtin
	line.Name = "Device " + gtin
	line.TrackingMode = domain.TrackingDevice
	return line
}

// SimpleLine builds a simple line matched by a stock code
func (f *FixtureFactory) SimpleLine(code string, expected int) domain.LineItem {
	return domain.LineItem{
		ID:               uuid.New().String(),
		ProductCode:      code,
		Name:             "Stock " + code,
		TrackingMode:     domain.TrackingSimple,
		ExpectedQuantity: expected,
	}
}
