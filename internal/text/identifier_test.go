package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIdentifiers(t *testing.T) {
	t.Run("Mixed Prefixed Identifiers", func(t *testing.T) {
		ids := ExtractIdentifiers("Order 12345, Invoice #INV-1001, PO-98765")
		assert.Contains(t, ids.OrderNumbers, "12345")
		assert.Contains(t, ids.InvoiceNumbers, "INV-1001")
		assert.Contains(t, ids.PONumbers, "98765")
	})

	t.Run("Bare Numbers And Years Ignored", func(t *testing.T) {
		ids := ExtractIdentifiers("In 2024, call extension #12345.")
		assert.True(t, ids.Empty())
	})

	t.Run("Whole Query Hash Is Order Lookup", func(t *testing.T) {
		ids := ExtractIdentifiers("#12345")
		assert.Equal(t, []string{"12345"}, ids.OrderNumbers)
		assert.Empty(t, ids.InvoiceNumbers)
	})

	t.Run("Hash Embedded In Prose Ignored", func(t *testing.T) {
		ids := ExtractIdentifiers("see ticket #12345 for details")
		assert.Empty(t, ids.OrderNumbers)
	})

	t.Run("Order Without Digit Ignored", func(t *testing.T) {
		ids := ExtractIdentifiers("an order of magnitude faster")
		assert.Empty(t, ids.OrderNumbers)
	})

	t.Run("Case Insensitive And Uppercased", func(t *testing.T) {
		ids := ExtractIdentifiers("order abc123 and invoice inv-77")
		assert.Contains(t, ids.OrderNumbers, "ABC123")
		assert.Contains(t, ids.InvoiceNumbers, "INV-77")
	})

	t.Run("Duplicates Collapsed", func(t *testing.T) {
		ids := ExtractIdentifiers("order 555 and again Order 555")
		assert.Equal(t, []string{"555"}, ids.OrderNumbers)
	})

	t.Run("UPS Tracking Number", func(t *testing.T) {
		ids := ExtractIdentifiers("where is 1Z999AA10123456784 right now")
		assert.Equal(t, []string{"1Z999AA10123456784"}, ids.TrackingNumbers)
	})

	t.Run("Long Word Is Not Tracking", func(t *testing.T) {
		ids := ExtractIdentifiers("pneumonoultramicroscopicsilicovolcanoconiosis")
		assert.Empty(t, ids.TrackingNumbers)
	})

	t.Run("Empty Query", func(t *testing.T) {
		assert.True(t, ExtractIdentifiers("").Empty())
		assert.True(t, ExtractIdentifiers("   ").Empty())
	})
}
