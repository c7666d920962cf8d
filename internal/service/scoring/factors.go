package scoring

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

// Amount scorer
const (
	amountMaxScore         = 38
	amountFarAboveAvg      = 30
	amountNearDailyLimit   = 20
	amountAboveAvg         = 10
	amountOffHoursBonus    = 5
	amountCrossBorderBonus = 8
)

var (
	avgMultiplier       = decimal.NewFromInt(3)
	dailyLimitThreshold = decimal.NewFromFloat(0.8)
)

// AmountScorer grades the amount against the customer's normal spend
type AmountScorer struct {
	geo Geocoder
}

// NewAmountScorer creates an amount scorer; geo resolves local time
func NewAmountScorer(geo Geocoder) AmountScorer {
	return AmountScorer{geo: geo}
}

func (AmountScorer) Factor() risk.Factor { return risk.FactorTransaction }

func (s AmountScorer) Score(tc *risk.TransactionContext) int {
	if tc == nil {
		return 0
	}

	score := 0
	if c := tc.Customer; c != nil {
		avg := c.AvgTransactionAmount
		switch {
		case avg.IsPositive() && tc.Amount.GreaterThan(avg.Mul(avgMultiplier)):
			score = amountFarAboveAvg
		case c.DailyLimit.IsPositive() && tc.Amount.GreaterThan(c.DailyLimit.Mul(dailyLimitThreshold)):
			score = amountNearDailyLimit
		case avg.IsPositive() && tc.Amount.GreaterThan(avg):
			score = amountAboveAvg
		}
	}

	if !tc.Timestamp.IsZero() && offHours(LocalTime(s.geo, tc.Location, tc.Timestamp)) {
		score += amountOffHoursBonus
	}

	if crossBorder(tc) {
		score += amountCrossBorderBonus
	}

	if score > amountMaxScore {
		score = amountMaxScore
	}
	return score
}

// offHours is true strictly before 06:00 or strictly after 22:00
func offHours(local time.Time) bool {
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())

	return sinceMidnight < 6*time.Hour || sinceMidnight > 22*time.Hour
}

func crossBorder(tc *risk.TransactionContext) bool {
	if tc.Location == nil || tc.Customer == nil || tc.Customer.LastVerifiedLocation == nil {
		return false
	}
	last := tc.Customer.LastVerifiedLocation
	return last.Country != "" && !tc.Location.SameCountry(*last)
}

// Behavior scorer
const (
	newCustomerDays  = 30
	maxFailedIn7Days = 3
	behaviorNew      = 25
	behaviorFraud    = 20
	behaviorFailures = 15
	behaviorDormant  = 12
)

// BehaviorScorer grades the customer's account history
type BehaviorScorer struct{}

func (BehaviorScorer) Factor() risk.Factor { return risk.FactorBehavior }

func (BehaviorScorer) Score(tc *risk.TransactionContext) int {
	if tc == nil || tc.Customer == nil {
		return 0
	}
	c := tc.Customer

	if !c.RegistrationDate.IsZero() && !tc.Timestamp.IsZero() {
		ageDays := int(tc.Timestamp.Sub(c.RegistrationDate) / (24 * time.Hour))
		if ageDays < newCustomerDays {
			return behaviorNew
		}
	}

	switch {
	case c.FraudHistory:
		return behaviorFraud
	case c.FailedTransactionsLast7Days > maxFailedIn7Days:
		return behaviorFailures
	case c.AccountStatus == risk.AccountDormant:
		return behaviorDormant
	}
	return 0
}

// Velocity scorer
const (
	hourlyLimit      = 20
	dailyHighLimit   = 100
	dailyMediumLimit = 50
	velocityHourly   = 20
	velocityDaily    = 15
	velocityElevated = 8
)

// VelocityScorer grades recent transaction frequency
type VelocityScorer struct{}

func (VelocityScorer) Factor() risk.Factor { return risk.FactorVelocity }

func (VelocityScorer) Score(tc *risk.TransactionContext) int {
	if tc == nil || tc.Velocity == nil {
		return 0
	}
	v := tc.Velocity

	switch {
	case v.TransactionsInLastHour > hourlyLimit:
		return velocityHourly
	case v.TransactionsInLastDay > dailyHighLimit:
		return velocityDaily
	case v.TransactionsInLastDay > dailyMediumLimit:
		return velocityElevated
	}
	return 0
}

// Geographic scorer
const (
	impossibleTravelKm    = 1000.0
	rapidTravelKm         = 500.0
	impossibleTravelHours = 1
	rapidTravelHours      = 2
	geoImpossibleTravel   = 15
	geoRapidTravel        = 12
	geoDisallowedCountry  = 10
	geoHighRiskCountry    = 8
)

// HighRiskCountries are always graded as elevated risk
var HighRiskCountries = map[string]struct{}{
	"KP": {},
	"IR": {},
	"SY": {},
	"CU": {},
}

// GeographicScorer grades travel plausibility and destination country
type GeographicScorer struct {
	geo Geocoder
}

// NewGeographicScorer creates a geographic scorer backed by geo
func NewGeographicScorer(geo Geocoder) GeographicScorer {
	return GeographicScorer{geo: geo}
}

func (GeographicScorer) Factor() risk.Factor { return risk.FactorGeographic }

func (s GeographicScorer) Score(tc *risk.TransactionContext) int {
	if tc == nil || tc.Location == nil || tc.Customer == nil {
		return 0
	}
	c := tc.Customer
	if c.LastVerifiedLocation == nil || c.LastTransactionTime == nil {
		return 0
	}

	hours := int64(tc.Timestamp.Sub(*c.LastTransactionTime) / time.Hour)
	// an unresolved pair is 0 km apart; the geocoder reports the miss
	km, _ := Distance(s.geo, *c.LastVerifiedLocation, *tc.Location)

	country := strings.ToUpper(tc.Location.Country)
	switch {
	case hours < impossibleTravelHours && km > impossibleTravelKm:
		return geoImpossibleTravel
	case km > rapidTravelKm && hours < rapidTravelHours:
		return geoRapidTravel
	case !c.AllowsCountry(country):
		return geoDisallowedCountry
	}
	if _, ok := HighRiskCountries[country]; ok {
		return geoHighRiskCountry
	}
	return 0
}

// Merchant scorer
const (
	merchantHighRisk    = 10
	merchantMediumRisk  = 6
	merchantChargebacks = 4
	merchantNew         = 3
	newMerchantDays     = 30
)

// ChargebackThreshold is the chargeback ratio at which a merchant is graded
var ChargebackThreshold = decimal.NewFromFloat(0.01)

var (
	highRiskCategories   = []string{"drugs", "weapons", "gambling", "dark_web"}
	mediumRiskCategories = []string{"cash_advance", "wire_transfer", "crypto"}
)

// MerchantScorer grades the merchant's category and track record
type MerchantScorer struct{}

func (MerchantScorer) Factor() risk.Factor { return risk.FactorMerchant }

func (MerchantScorer) Score(tc *risk.TransactionContext) int {
	if tc == nil {
		return 0
	}

	m := tc.MerchantProfile
	if m == nil && tc.MerchantCategory != "" {
		// unregistered, graded on the category it reported
		m = &risk.MerchantProfile{ID: tc.Merchant, Category: tc.MerchantCategory}
	}
	if m == nil {
		// Unregistered merchant: only the identifier is known.
		switch name := normalizeCategory(tc.Merchant); {
		case name == "":
			return 0
		case containsAny(name, highRiskCategories):
			return merchantHighRisk
		case containsAny(name, mediumRiskCategories):
			return merchantMediumRisk
		}
		return 0
	}

	category := normalizeCategory(m.Category)
	switch {
	case isOneOf(category, highRiskCategories):
		return merchantHighRisk
	case isOneOf(category, mediumRiskCategories):
		return merchantMediumRisk
	case m.ChargebackRate.GreaterThanOrEqual(ChargebackThreshold):
		return merchantChargebacks
	case !m.RegisteredAt.IsZero() && !tc.Timestamp.IsZero() &&
		tc.Timestamp.Sub(m.RegisteredAt) < newMerchantDays*24*time.Hour:
		return merchantNew
	}
	return 0
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func isOneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsAny(s string, set []string) bool {
	for _, v := range set {
		if strings.Contains(s, v) {
			return true
		}
	}
	return false
}
