package profile

// DefaultSignificanceThreshold is the score movement that must be exceeded
// for an update to be persisted when the level is unchanged.
const DefaultSignificanceThreshold = 10

// Policy decides whether a merged profile is worth persisting and
// propagating. It is the only gate on profile writes.
type Policy struct {
	Threshold int
}

// DefaultPolicy returns the standard significance policy
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultSignificanceThreshold}
}

// IsSignificant is true when there is no previous profile, when the score
// moved by more than the threshold, or when the risk level changed.
func (p Policy) IsSignificant(old, updated *Profile) bool {
	if old == nil {
		return true
	}
	if updated == nil {
		return false
	}

	delta := updated.CurrentScore - old.CurrentScore
	if delta < 0 {
		delta = -delta
	}

	return delta > p.Threshold || updated.Level != old.Level
}

// IsSignificant applies the default policy
func IsSignificant(old, updated *Profile) bool {
	return DefaultPolicy().IsSignificant(old, updated)
}
