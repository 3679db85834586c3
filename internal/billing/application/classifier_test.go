package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		eventType string
		want      Action
	}{
		{"checkout.session.completed", ActionCheckoutCompleted},
		{"invoice.payment_succeeded", ActionInvoicePaid},
		{"customer.subscription.created", ActionSubscriptionCreated},
		{"customer.subscription.updated", ActionSubscriptionUpdated},
		{"customer.subscription.deleted", ActionSubscriptionCanceled},
		{"  invoice.payment_succeeded  ", ActionInvoicePaid},
		{"invoice.payment_failed", ActionIgnore},
		{"customer.created", ActionIgnore},
		{"charge.refunded", ActionIgnore},
		{"", ActionIgnore},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.eventType))
		})
	}
}
