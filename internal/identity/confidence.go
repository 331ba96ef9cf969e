package identity

import "strings"

// ConfidenceLevel buckets a continuous confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh      ConfidenceLevel = "high"
	ConfidenceMedium    ConfidenceLevel = "medium"
	ConfidenceLow       ConfidenceLevel = "low"
	ConfidenceUnmatched ConfidenceLevel = "unmatched"
)

// LevelForScore converts a confidence score to its bucket.
func LevelForScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.80:
		return ConfidenceHigh
	case score >= 0.60:
		return ConfidenceMedium
	case score >= 0.40:
		return ConfidenceLow
	default:
		return ConfidenceUnmatched
	}
}

// Method names one independent way a touchpoint can match a graph entry.
type Method string

const (
	MethodExactEmail        Method = "exact_email"
	MethodExactPhone        Method = "exact_phone"
	MethodExactUserID       Method = "exact_user_id"
	MethodTrackingIDs       Method = "tracking_ids"
	MethodDeviceFingerprint Method = "device_fingerprint"
	MethodBehavioralPattern Method = "behavioral_pattern"
	MethodProbabilistic     Method = "probabilistic"
	MethodNewCustomer       Method = "new_customer"
)

const (
	newCustomerMatchMethod = "new_customer_creation"
	maxMultiMethodBonus    = 0.15
	perMethodBonus         = 0.10
	maxMatchedScore        = 0.98
	newCustomerScore       = 1.0
)

var baseConfidence = map[Method]float64{
	MethodExactEmail:        0.95,
	MethodExactPhone:        0.90,
	MethodExactUserID:       0.92,
	MethodDeviceFingerprint: 0.78,
	MethodTrackingIDs:       0.75,
	MethodBehavioralPattern: 0.62,
	MethodProbabilistic:     0.45,
}

// BaseConfidence returns the fixed confidence attached to a method.
func BaseConfidence(method Method) float64 {
	return baseConfidence[method]
}

// Score combines fired methods: strongest base confidence plus a bounded bonus per extra method.
func Score(methods []Method) float64 {
	if len(methods) == 0 {
		return 0
	}
	strongest := 0.0
	for _, method := range methods {
		if confidence := baseConfidence[method]; confidence > strongest {
			strongest = confidence
		}
	}
	bonus := perMethodBonus * float64(len(methods)-1)
	if bonus > maxMultiMethodBonus {
		bonus = maxMultiMethodBonus
	}
	return min(strongest+bonus, maxMatchedScore)
}

// Match is the transient result of resolving one touchpoint.
type Match struct {
	CustomerID          string          `json:"customer_id"`
	ConfidenceScore     float64         `json:"confidence_score"`
	ConfidenceLevel     ConfidenceLevel `json:"confidence_level"`
	MatchingIdentifiers []Method        `json:"matching_identifiers"`
	MatchMethod         string          `json:"match_method"`
}

// NewCustomer reports whether the match minted a fresh identity.
func (m Match) NewCustomer() bool {
	return len(m.MatchingIdentifiers) == 1 && m.MatchingIdentifiers[0] == MethodNewCustomer
}

func newMatch(customerID string, methods []Method) Match {
	score := Score(methods)
	names := make([]string, 0, len(methods))
	for _, method := range methods {
		names = append(names, string(method))
	}
	return Match{
		CustomerID:          customerID,
		ConfidenceScore:     score,
		ConfidenceLevel:     LevelForScore(score),
		MatchingIdentifiers: methods,
		MatchMethod:         strings.Join(names, ", "),
	}
}

func newCustomerMatch(customerID string) Match {
	return Match{
		CustomerID:          customerID,
		ConfidenceScore:     newCustomerScore,
		ConfidenceLevel:     ConfidenceHigh,
		MatchingIdentifiers: []Method{MethodNewCustomer},
		MatchMethod:         newCustomerMatchMethod,
	}
}
