package identity

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
)

const (
	// DefaultMinConfidence is the lowest score accepted as an existing-customer match.
	DefaultMinConfidence = 0.60
	// DefaultBehavioralAgreement is the share of applicable behavioral checks that must agree.
	DefaultBehavioralAgreement = 0.60
	// DefaultProbabilisticMinSignals is the number of weak signals that must co-occur.
	DefaultProbabilisticMinSignals = 2

	businessHourStart = 9
	businessHourEnd   = 17
)

var (
	errMissingIDProvider = errors.New("identity: id provider is required")
	errInvalidThreshold  = errors.New("identity: threshold must be within [0,1]")
	errInvalidSignals    = errors.New("identity: probabilistic signals must be between 1 and 3")
)

// Config tunes the resolution engine.
type Config struct {
	MinConfidence           float64
	BehavioralAgreement     float64
	ProbabilisticMinSignals int
	BusinessLocation        *time.Location
	IDProvider              IDProvider
}

// Engine scores touchpoints against an identity graph.
type Engine struct {
	minConfidence           float64
	behavioralAgreement     float64
	probabilisticMinSignals int
	businessLocation        *time.Location
	idProvider              IDProvider
}

// NewEngine validates the configuration and applies defaults for zero values.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	minConfidence := cfg.MinConfidence
	if minConfidence == 0 {
		minConfidence = DefaultMinConfidence
	}
	agreement := cfg.BehavioralAgreement
	if agreement == 0 {
		agreement = DefaultBehavioralAgreement
	}
	if minConfidence < 0 || minConfidence > 1 || agreement < 0 || agreement > 1 {
		return nil, errInvalidThreshold
	}
	signals := cfg.ProbabilisticMinSignals
	if signals == 0 {
		signals = DefaultProbabilisticMinSignals
	}
	if signals < 1 || signals > 3 {
		return nil, errInvalidSignals
	}
	location := cfg.BusinessLocation
	if location == nil {
		location = time.UTC
	}
	return &Engine{
		minConfidence:           minConfidence,
		behavioralAgreement:     agreement,
		probabilisticMinSignals: signals,
		businessLocation:        location,
		idProvider:              cfg.IDProvider,
	}, nil
}

// FindMatches returns every candidate customer ordered by score descending, then customer id ascending.
func (e *Engine) FindMatches(tp touchpoint.Touchpoint, graph *Graph) []Match {
	if graph == nil {
		return nil
	}
	matches := make([]Match, 0)
	for customerID, entry := range graph.entries {
		methods := e.firedMethods(tp, entry)
		if len(methods) == 0 {
			continue
		}
		matches = append(matches, newMatch(customerID, methods))
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].ConfidenceScore != matches[j].ConfidenceScore {
			return matches[i].ConfidenceScore > matches[j].ConfidenceScore
		}
		return matches[i].CustomerID < matches[j].CustomerID
	})
	return matches
}

// Resolve returns the best candidate above the confidence threshold or mints a new customer.
func (e *Engine) Resolve(tp touchpoint.Touchpoint, graph *Graph) (Match, error) {
	matches := e.FindMatches(tp, graph)
	if len(matches) > 0 && matches[0].ConfidenceScore >= e.minConfidence {
		return matches[0], nil
	}
	customerID, err := e.idProvider.NewID()
	if err != nil {
		return Match{}, fmt.Errorf("identity: mint customer id: %w", err)
	}
	return newCustomerMatch(customerID), nil
}

func (e *Engine) firedMethods(tp touchpoint.Touchpoint, entry *Entry) []Method {
	methods := make([]Method, 0, 4)
	if equalPresent(tp.Email, entry.Email) {
		methods = append(methods, MethodExactEmail)
	}
	if equalPresent(tp.Phone, entry.Phone) {
		methods = append(methods, MethodExactPhone)
	}
	if equalPresent(tp.UserID, entry.UserID) {
		methods = append(methods, MethodExactUserID)
	}
	if equalPresent(tp.ClientID, entry.ClientID) ||
		containsPresent(entry.GCLIDs, tp.GCLID) ||
		containsPresent(entry.FBCLIDs, tp.FBCLID) {
		methods = append(methods, MethodTrackingIDs)
	}
	if equalPresent(tp.DeviceFingerprint, entry.DeviceFingerprint) {
		methods = append(methods, MethodDeviceFingerprint)
	}
	if e.behavioralMatch(tp, entry) {
		methods = append(methods, MethodBehavioralPattern)
	}
	if e.probabilisticMatch(tp, entry) {
		methods = append(methods, MethodProbabilistic)
	}
	return methods
}

func (e *Engine) behavioralMatch(tp touchpoint.Touchpoint, entry *Entry) bool {
	agreeing := 0
	applicable := 0

	if tp.Location != "" && entry.PrimaryLocation != "" {
		applicable++
		if tp.Location == entry.PrimaryLocation {
			agreeing++
		}
	}
	if tp.DeviceType != "" && entry.PrimaryDevice != "" {
		applicable++
		if tp.DeviceType == entry.PrimaryDevice {
			agreeing++
		}
	}
	// Timing alone never identifies anyone; it only weighs in next to a location or device check.
	if applicable > 0 && entry.CustomerType == touchpoint.CustomerTypeB2B && !tp.Timestamp.IsZero() {
		applicable++
		hour := tp.Timestamp.In(e.businessLocation).Hour()
		if hour >= businessHourStart && hour <= businessHourEnd {
			agreeing++
		}
	}

	if applicable == 0 {
		return false
	}
	return float64(agreeing)/float64(applicable) >= e.behavioralAgreement
}

func (e *Engine) probabilisticMatch(tp touchpoint.Touchpoint, entry *Entry) bool {
	signals := 0
	if containsPresent(entry.IPHashes, tp.IPHash) {
		signals++
	}
	if containsPresent(entry.UserAgentHashes, tp.UserAgentHash) {
		signals++
	}
	if containsPresent(entry.CampaignHistory, tp.CampaignID) {
		signals++
	}
	return signals >= e.probabilisticMinSignals
}

func equalPresent(value, stored string) bool {
	return value != "" && value == stored
}

func containsPresent(values []string, value string) bool {
	return value != "" && slices.Contains(values, value)
}
