package paymentprovider

import (
	"errors"
	"testing"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestError_Retryable(t *testing.T) {
	cause := errors.New("connection reset")

	retry := NewError("finalize_invoice", cause, true)
	assert.True(t, ierr.IsRetryable(retry))
	assert.ErrorIs(t, retry, cause)
	assert.Contains(t, retry.Error(), "finalize_invoice")

	wrapped := ierr.WithError(retry).WithHint("Could not finalize invoice").Mark(ierr.ErrHTTPClient)
	assert.True(t, ierr.IsRetryable(wrapped))

	final := NewError("collect_payment", cause, false)
	assert.False(t, ierr.IsRetryable(final))
}

func TestInvoice_Item(t *testing.T) {
	inv := &Invoice{Items: []InvoiceItem{
		{ID: "ii_1", Metadata: map[string]string{MetadataItemKey: "item:a"}},
		{ID: "ii_2", Metadata: map[string]string{MetadataItemKey: "item:b"}},
	}}

	item, ok := inv.Item("item:b")
	assert.True(t, ok)
	assert.Equal(t, "ii_2", item.ID)

	_, ok = inv.Item("item:c")
	assert.False(t, ok)
}
