package corpus

import (
	"encoding/json"
	"time"
)

// SourceType identifies which system-of-record an indexed row mirrors.
type SourceType string

const (
	TypeTicket          SourceType = "ticket"
	TypeTicketComment   SourceType = "ticket_comment"
	TypeInteraction     SourceType = "interaction"
	TypeEmail           SourceType = "email"
	TypeShopifyOrder    SourceType = "shopify_order"
	TypeShopifyCustomer SourceType = "shopify_customer"
	TypeQBOCustomer     SourceType = "qbo_customer"
	TypeQBOInvoice      SourceType = "qbo_invoice"
	TypeQBOEstimate     SourceType = "qbo_estimate"
	TypeShipment        SourceType = "shipment"
)

// AllTypes lists every indexable source type in a stable order.
func AllTypes() []SourceType {
	return []SourceType{
		TypeTicket, TypeTicketComment, TypeInteraction, TypeEmail,
		TypeShopifyOrder, TypeShopifyCustomer,
		TypeQBOCustomer, TypeQBOInvoice, TypeQBOEstimate,
		TypeShipment,
	}
}

// IsValid reports whether t is a known source type.
func (t SourceType) IsValid() bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Structured reports whether documents of this type are machine-generated
// summaries that must be embedded as a single chunk. Splitting an invoice
// or order snapshot loses the line-item context that makes it retrievable.
func (t SourceType) Structured() bool {
	switch t {
	case TypeShopifyOrder, TypeShopifyCustomer, TypeQBOCustomer, TypeQBOInvoice, TypeQBOEstimate, TypeShipment:
		return true
	}
	return false
}

// Source is one indexable entity snapshot. (source_type, source_id) is unique.
// CustomerID may be null transiently while ingestion races ahead of customer
// linkage; the sweeper enforces eventual scoping.
type Source struct {
	ID         int64           `json:"id"`
	SourceType SourceType      `json:"source_type"`
	SourceID   string          `json:"source_id"`
	CustomerID *int64          `json:"customer_id"`
	Metadata   json.RawMessage `json:"metadata"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Chunk is one retrievable text unit belonging to a Source. Embedding is null
// until computed, or permanently null when the provider rejected the input.
type Chunk struct {
	ID            int64     `json:"id"`
	RagSourceID   int64     `json:"rag_source_id"`
	ChunkIndex    int       `json:"chunk_index"`
	Text          string    `json:"text"`
	Embedding     []float32 `json:"-"`
	TokenEstimate int       `json:"token_estimate"`
	CreatedAt     time.Time `json:"created_at"`
}

// NullEmbeddingStats summarizes chunks awaiting (or denied) an embedding,
// surfaced on the admin status endpoint for manual backfill.
type NullEmbeddingStats struct {
	Count  int      `json:"count"`
	Sample []string `json:"sample"`
}
