// Package backing maps each source type to its system-of-record table.
//
// The natural-key mapping here is used by both the syncers (writers) and the
// orphan sweeps (readers). Keeping it in one place is what makes orphan
// detection sound: a syncer and a sweep that disagree on id mapping would
// silently re-create or re-delete each other's rows.
package backing

import (
	"deskrag/features/corpus"
)

// Spec describes where a source type's backing records live and how to read
// them. Adding a new source type is one Spec entry plus a migration on the
// owning service's side.
type Spec struct {
	Type corpus.SourceType

	// Table is the backing table, owned by the main application.
	Table string

	// IDExpr is a SQL expression on Table yielding the text source id:
	// integer primary key cast to text for internally-owned entities,
	// external id column for marketplace/accounting records.
	IDExpr string

	// CustomerCol is the nullable customer FK column, or "" for types with
	// no customer scope of their own.
	CustomerCol string

	// ChangedCol orders the incremental change feed.
	ChangedCol string

	// Upstream keys the circuit breaker shared by types that ultimately
	// come from the same flaky system.
	Upstream string

	// TextExpr and MetaExpr build the indexable document: the text rendered
	// for chunking and the metadata snapshot stored on the rag source row.
	TextExpr string
	MetaExpr string
}

var specs = []Spec{
	{
		Type: corpus.TypeTicket, Table: "tickets", IDExpr: "id::text",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "internal",
		TextExpr: `concat_ws(E'\n\n', subject, description)`,
		MetaExpr: `jsonb_build_object('subject', subject, 'status', status, 'priority', priority)`,
	},
	{
		Type: corpus.TypeTicketComment, Table: "ticket_comments", IDExpr: "id::text",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "internal",
		TextExpr: "body",
		MetaExpr: `jsonb_build_object('ticket_id', ticket_id, 'author', author)`,
	},
	{
		Type: corpus.TypeInteraction, Table: "interactions", IDExpr: "id::text",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "internal",
		TextExpr: "notes",
		MetaExpr: `jsonb_build_object('channel', channel, 'occurred_at', occurred_at)`,
	},
	{
		Type: corpus.TypeEmail, Table: "emails", IDExpr: "id::text",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "internal",
		TextExpr: `concat_ws(E'\n\n', subject, body)`,
		MetaExpr: `jsonb_build_object('subject', subject, 'from_address', from_address, 'sent_at', sent_at)`,
	},
	{
		Type: corpus.TypeShopifyOrder, Table: "shopify_orders", IDExpr: "external_id",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "shopify",
		TextExpr: "summary",
		MetaExpr: `jsonb_build_object('order_number', order_number, 'total', total, 'financial_status', financial_status)`,
	},
	{
		Type: corpus.TypeShopifyCustomer, Table: "shopify_customers", IDExpr: "external_id",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "shopify",
		TextExpr: "summary",
		MetaExpr: `jsonb_build_object('email', email, 'orders_count', orders_count)`,
	},
	{
		Type: corpus.TypeQBOCustomer, Table: "qbo_customers", IDExpr: "qbo_id",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "qbo",
		TextExpr: "summary",
		MetaExpr: `jsonb_build_object('display_name', display_name)`,
	},
	{
		Type: corpus.TypeQBOInvoice, Table: "qbo_invoices", IDExpr: "qbo_id",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "qbo",
		TextExpr: "summary",
		MetaExpr: `jsonb_build_object('doc_number', doc_number, 'balance', balance, 'total', total)`,
	},
	{
		Type: corpus.TypeQBOEstimate, Table: "qbo_estimates", IDExpr: "qbo_id",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "qbo",
		TextExpr: "summary",
		MetaExpr: `jsonb_build_object('doc_number', doc_number, 'total', total)`,
	},
	{
		Type: corpus.TypeShipment, Table: "shipments", IDExpr: "id::text",
		CustomerCol: "customer_id", ChangedCol: "updated_at", Upstream: "carrier",
		TextExpr: "summary",
		MetaExpr: `jsonb_build_object('tracking_number', tracking_number, 'carrier', carrier, 'status', status)`,
	},
}

// Specs returns every backing spec in stable order.
func Specs() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}

// For returns the spec for a source type.
func For(t corpus.SourceType) (Spec, bool) {
	for _, s := range specs {
		if s.Type == t {
			return s, true
		}
	}
	return Spec{}, false
}
