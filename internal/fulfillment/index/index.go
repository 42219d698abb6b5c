// Package index maps normalized product identities to the line items of
// one document.
package index

import (
	"errors"
	"fmt"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/barcode"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
)

// ErrDuplicateProduct is returned when two lines share a product identity
var ErrDuplicateProduct = errors.New("duplicate product identity on document")

// DuplicateError names the shared identity and the two lines carrying it
type DuplicateError struct {
	Key    string
	First  string
	Second string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%v: %q on lines %s and %s", ErrDuplicateProduct, e.Key, e.First, e.Second)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateProduct
}

// Index is immutable after Build; rebuild it when the line list changes
type Index struct {
	byKey map[string]int
	byID  map[string]int
	lines []domain.LineItem
}

// Build indexes lines by normalized ProductCode and GTIN
func Build(lines []domain.LineItem) (*Index, error) {
	idx := &Index{
		byKey: make(map[string]int, 2*len(lines)),
		byID:  make(map[string]int, len(lines)),
		lines: make([]domain.LineItem, len(lines)),
	}
	copy(idx.lines, lines)

	for i, line := range idx.lines {
		idx.byID[line.ID] = i
		for _, key := range keys(line) {
			if j, ok := idx.byKey[key]; ok && j != i {
				return nil, &DuplicateError{Key: key, First: idx.lines[j].ID, Second: line.ID}
			}
			idx.byKey[key] = i
		}
	}
	return idx, nil
}

func keys(line domain.LineItem) []string {
	out := make([]string, 0, 2)
	if k := barcode.NormalizeGTIN(line.ProductCode); k != "" {
		out = append(out, k)
	}
	if k := barcode.NormalizeGTIN(line.GTIN); k != "" {
		out = append(out, k)
	}
	return out
}

// Lookup finds the line for a product code or GTIN in any padding
func (idx *Index) Lookup(identity string) (domain.LineItem, bool) {
	key := barcode.NormalizeGTIN(identity)
	if key == "" {
		return domain.LineItem{}, false
	}
	i, ok := idx.byKey[key]
	if !ok {
		return domain.LineItem{}, false
	}
	return idx.lines[i], true
}

// ByID finds a line by its item ID
func (idx *Index) ByID(id string) (domain.LineItem, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return domain.LineItem{}, false
	}
	return idx.lines[i], true
}

// Lines returns the indexed lines in document order
func (idx *Index) Lines() []domain.LineItem {
	out := make([]domain.LineItem, len(idx.lines))
	copy(out, idx.lines)
	return out
}

// Len is the number of indexed lines
func (idx *Index) Len() int {
	return len(idx.lines)
}
