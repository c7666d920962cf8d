package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
)

func validContext() *TransactionContext {
	return &TransactionContext{
		TransactionID: "txn-100",
		CustomerID:    "cust-100",
		Amount:        decimal.NewFromFloat(125.50),
		Currency:      "USD",
		Merchant:      "Acme Groceries",
		Location:      &Location{Country: "US", City: "New York", IP: "203.0.113.7"},
		Timestamp:     time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC),
	}
}

func TestTransactionContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TransactionContext)
		wantErr bool
		field   string
	}{
		{name: "valid context", mutate: func(*TransactionContext) {}},
		{name: "missing transaction id", mutate: func(tc *TransactionContext) { tc.TransactionID = "" }, wantErr: true, field: "transactionId"},
		{name: "missing customer id", mutate: func(tc *TransactionContext) { tc.CustomerID = "" }, wantErr: true, field: "customerId"},
		{name: "zero amount", mutate: func(tc *TransactionContext) { tc.Amount = decimal.Zero }, wantErr: true, field: "amount"},
		{name: "missing merchant", mutate: func(tc *TransactionContext) { tc.Merchant = "" }, wantErr: true, field: "merchant"},
		{name: "missing location", mutate: func(tc *TransactionContext) { tc.Location = nil }, wantErr: true, field: "location"},
		{name: "missing location country", mutate: func(tc *TransactionContext) { tc.Location.Country = "" }, wantErr: true, field: "location.country"},
		{name: "missing timestamp", mutate: func(tc *TransactionContext) { tc.Timestamp = time.Time{} }, wantErr: true, field: "timestamp"},
		{name: "bad ip", mutate: func(tc *TransactionContext) { tc.Location.IP = "not-an-ip" }, wantErr: true, field: "location.ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := validContext()
			tt.mutate(tc)

			err := tc.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
			assert.False(t, domainerrors.IsRetryable(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestTransactionContext_ValidateNil(t *testing.T) {
	var tc *TransactionContext
	err := tc.Validate()
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
}

func TestCustomerSnapshot_AllowsCountry(t *testing.T) {
	empty := &CustomerSnapshot{}
	assert.False(t, empty.AllowsCountry("FR"))

	restricted := &CustomerSnapshot{AllowedCountries: []string{"US", "CA"}}
	assert.True(t, restricted.AllowsCountry("us"))
	assert.False(t, restricted.AllowsCountry("FR"))
}

func TestCustomerSnapshot_Clone(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := &CustomerSnapshot{
		AllowedCountries:     []string{"US"},
		LastVerifiedLocation: &Location{Country: "US"},
		LastTransactionTime:  &last,
	}

	cp := orig.Clone()
	cp.AllowedCountries[0] = "FR"
	cp.LastVerifiedLocation.Country = "FR"

	assert.Equal(t, "US", orig.AllowedCountries[0])
	assert.Equal(t, "US", orig.LastVerifiedLocation.Country)
	assert.Nil(t, (*CustomerSnapshot)(nil).Clone())
}
