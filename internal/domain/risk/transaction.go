package risk

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of the customer account
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountDormant   AccountStatus = "DORMANT"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountClosed    AccountStatus = "CLOSED"
)

// KYCStatus is the identity verification state of the customer
type KYCStatus string

const (
	KYCVerified   KYCStatus = "VERIFIED"
	KYCPending    KYCStatus = "PENDING"
	KYCUnverified KYCStatus = "UNVERIFIED"
)

// Location identifies where a transaction originated. Coordinates are
// optional; when absent they are resolved from country and city.
type Location struct {
	Country   string   `json:"country" validate:"required,min=2,max=3"`
	City      string   `json:"city,omitempty"`
	IP        string   `json:"ip,omitempty" validate:"omitempty,ip"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// SameCountry reports whether both locations are in the same country
func (l Location) SameCountry(other Location) bool {
	return l.Country != "" && strings.EqualFold(l.Country, other.Country)
}

// CustomerSnapshot is the customer state carried with a transaction
type CustomerSnapshot struct {
	RegistrationDate            time.Time       `json:"registrationDate"`
	KYCStatus                   KYCStatus       `json:"kycStatus,omitempty"`
	AllowedCountries            []string        `json:"allowedCountries,omitempty"`
	DailyLimit                  decimal.Decimal `json:"dailyLimit"`
	AvgTransactionAmount        decimal.Decimal `json:"avgTransactionAmount"`
	AccountStatus               AccountStatus   `json:"accountStatus,omitempty"`
	FraudHistory                bool            `json:"fraudHistory"`
	FailedTransactionsLast7Days int             `json:"failedTransactionsLast7Days"`
	LastVerifiedLocation        *Location       `json:"lastVerifiedLocation,omitempty"`
	LastTransactionTime         *time.Time      `json:"lastTransactionTime,omitempty"`
}

// AllowsCountry reports whether country is on the customer's allow list.
// An empty list allows no country.
func (c *CustomerSnapshot) AllowsCountry(country string) bool {
	for _, allowed := range c.AllowedCountries {
		if strings.EqualFold(allowed, country) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the snapshot
func (c *CustomerSnapshot) Clone() *CustomerSnapshot {
	if c == nil {
		return nil
	}
	out := *c
	if c.AllowedCountries != nil {
		out.AllowedCountries = append([]string(nil), c.AllowedCountries...)
	}
	if c.LastVerifiedLocation != nil {
		loc := *c.LastVerifiedLocation
		out.LastVerifiedLocation = &loc
	}
	if c.LastTransactionTime != nil {
		ts := *c.LastTransactionTime
		out.LastTransactionTime = &ts
	}
	return &out
}

// VelocitySnapshot holds recent transaction counts for the customer
type VelocitySnapshot struct {
	TransactionsInLastHour int `json:"transactionsInLastHour" validate:"gte=0"`
	TransactionsInLastDay  int `json:"transactionsInLastDay" validate:"gte=0"`
}

// MerchantProfile is the registry record for a merchant
type MerchantProfile struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Country        string          `json:"country,omitempty"`
	ChargebackRate decimal.Decimal `json:"chargebackRate"`
	RegisteredAt   time.Time       `json:"registeredAt"`
}

// TransactionContext is everything the scorers look at for one transaction.
// MerchantCategory is the category reported with the transaction; a
// registry record in MerchantProfile takes precedence.
type TransactionContext struct {
	TransactionID    string          `json:"transactionId" validate:"required"`
	CustomerID       string          `json:"customerId" validate:"required"`
	Amount           decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency         string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Merchant         string          `json:"merchant" validate:"required"`
	MerchantCategory string          `json:"merchantCategory,omitempty"`
	Location         *Location       `json:"location" validate:"required"`
	Timestamp        time.Time       `json:"timestamp" validate:"required"`
	Channel          string          `json:"channel,omitempty"`
	Device           string          `json:"device,omitempty"`
	CorrelationID    string          `json:"correlationId,omitempty"`

	Customer        *CustomerSnapshot `json:"customerProfile,omitempty"`
	Velocity        *VelocitySnapshot `json:"velocity,omitempty"`
	MerchantProfile *MerchantProfile  `json:"merchantProfile,omitempty"`
}
