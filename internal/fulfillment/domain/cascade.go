package domain

import "strconv"

// CascadeStep is one manifest entry applied to a line
type CascadeStep struct {
	GTIN            string `json:"gtin"`
	LineItemID      string `json:"line_item_id"`
	Units           int    `json:"units"`
	PreviousScanned int    `json:"previous_scanned"`
	NewScanned      int    `json:"new_scanned"`
	Expected        int    `json:"expected"`
}

// CascadeFailure is one manifest entry that could not be applied
type CascadeFailure struct {
	GTIN    string `json:"gtin"`
	Count   int    `json:"count"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// CascadeResult is the tagged outcome of a carrier scan
type CascadeResult struct {
	Label   string           `json:"label"`
	Mode    ScanMode         `json:"mode"`
	Applied []CascadeStep    `json:"applied"`
	Failed  []CascadeFailure `json:"failed,omitempty"`
}

// AffectedGTINs counts the distinct GTINs that were applied
func (c CascadeResult) AffectedGTINs() int {
	seen := make(map[string]struct{}, len(c.Applied))
	for _, s := range c.Applied {
		seen[s.GTIN] = struct{}{}
	}
	return len(seen)
}

// TotalUnits sums the units moved by the cascade
func (c CascadeResult) TotalUnits() int {
	total := 0
	for _, s := range c.Applied {
		total += s.Units
	}
	return total
}

// Partial reports whether some manifest entries failed
func (c CascadeResult) Partial() bool {
	return len(c.Failed) > 0
}

// Err returns a PartialCascadeFailure rejection when entries failed
func (c CascadeResult) Err() *Rejection {
	if !c.Partial() {
		return nil
	}
	return Reject(ReasonPartialCascadeFailure, "carrier %s: %d of %d entries failed",
		c.Label, len(c.Failed), len(c.Failed)+len(c.Applied)).
		With("label", c.Label).
		With("failed", strconv.Itoa(len(c.Failed)))
}
