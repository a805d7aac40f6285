package idempotency

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvoiceIDIsDeterministic(t *testing.T) {
	g := NewGenerator()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 31, 23, 59, 59, 999000000, time.UTC)

	id := g.InvoiceID("phase_1", start, end)
	assert.True(t, strings.HasPrefix(id, "inv_"))
	assert.Equal(t, id, g.InvoiceID("phase_1", start, end))

	// same instant in another zone is the same cycle
	assert.Equal(t, id, g.InvoiceID("phase_1", start.In(time.FixedZone("IST", 19800)), end))

	assert.NotEqual(t, id, g.InvoiceID("phase_2", start, end))
	assert.NotEqual(t, id, g.InvoiceID("phase_1", start, end.Add(-time.Hour)))
}

func TestGenerateKey(t *testing.T) {
	g := NewGenerator()
	params := map[string]interface{}{"invoice_id": "inv_1", "attempt": 2}

	key := g.GenerateKey(ScopeProviderInvoice, params)
	assert.True(t, strings.HasPrefix(key, "provider_invoice-"))
	assert.True(t, g.ValidateKey(ScopeProviderInvoice, params, key))
	assert.False(t, g.ValidateKey(ScopeProviderInvoice, map[string]interface{}{"invoice_id": "inv_1", "attempt": 3}, key))
}

func TestClosingInvoiceID(t *testing.T) {
	g := NewGenerator()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

	id := g.ClosingInvoiceID("phase_1", start, end)
	assert.Equal(t, id, g.ClosingInvoiceID("phase_1", start, end))
	assert.NotEqual(t, id, g.InvoiceID("phase_1", start, end))
}

func TestProrationCreditID(t *testing.T) {
	g := NewGenerator()
	assert.Equal(t, g.ProrationCreditID("inv_1"), g.ProrationCreditID("inv_1"))
	assert.NotEqual(t, g.ProrationCreditID("inv_1"), g.ProrationCreditID("inv_2"))
}
