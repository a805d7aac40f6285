package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/flexprice/lifecycle/internal/types"
)

// Scope represents the scope of idempotency
type Scope string

const (
	ScopeSubscriptionInvoice Scope = "subscription_invoice"
	ScopeProrationCredit     Scope = "proration_credit"
	ScopeProviderInvoice     Scope = "provider_invoice"
	ScopeClosingInvoice      Scope = "closing_invoice"
)

// Generator generates idempotency keys
type Generator struct{}

// NewGenerator creates a new idempotency key generator
func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey generates an idempotency key from a scope and parameters
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	return fmt.Sprintf("%s-%s", scope, digest(scope, params, 8))
}

// ValidateKey validates if an idempotency key matches expected parameters
func (g *Generator) ValidateKey(scope Scope, params map[string]interface{}, key string) bool {
	return g.GenerateKey(scope, params) == key
}

// InvoiceID derives the invoice id for a phase and billing window. Upserting
// on it makes invoice creation idempotent.
func (g *Generator) InvoiceID(phaseID string, cycleStart, cycleEnd time.Time) string {
	return types.UUID_PREFIX_INVOICE + "_" + digest(ScopeSubscriptionInvoice, map[string]interface{}{
		"phase_id":    phaseID,
		"cycle_start": formatTime(cycleStart),
		"cycle_end":   formatTime(cycleEnd),
	}, 16)
}

// ProrationCreditID derives the id of the credit issued when invoiceID is prorated
func (g *Generator) ProrationCreditID(invoiceID string) string {
	return types.UUID_PREFIX_CREDIT + "_" + digest(ScopeProrationCredit, map[string]interface{}{
		"invoice_id": invoiceID,
	}, 16)
}

// ClosingInvoiceID derives the id of the invoice issued when a phase ends at
// endAt. It never collides with a regular cycle invoice of the same window.
func (g *Generator) ClosingInvoiceID(phaseID string, start, endAt time.Time) string {
	return types.UUID_PREFIX_INVOICE + "_" + digest(ScopeClosingInvoice, map[string]interface{}{
		"phase_id": phaseID,
		"start":    formatTime(start),
		"end":      formatTime(endAt),
	}, 16)
}

func digest(scope Scope, params map[string]interface{}, size int) string {
	// Sort params for consistent hashing
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:size])
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
