package rediskey

import "fmt"

// Sequence keys (global convention across services)
const (
	SequencePrefix      = "seq"
	InvoiceNumberPrefix = "seq:invoice"
	IdempotencyPrefix   = "idem"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildInvoiceNumberKey returns "seq:invoice:{businessID}:{yymm}"
func BuildInvoiceNumberKey(businessID, period string) string {
	return NamespaceKey(InvoiceNumberPrefix, NamespaceKey(businessID, period))
}

// BuildEventKey returns "idem:{eventType}:{aggregateID}"
func BuildEventKey(eventType, aggregateID string) string {
	return NamespaceKey(IdempotencyPrefix, NamespaceKey(eventType, aggregateID))
}
