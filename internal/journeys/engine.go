package journeys

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultB2CBoundary is the largest gap kept inside one B2C journey.
	DefaultB2CBoundary = 60 * 24 * time.Hour
	// DefaultB2BBoundary is the largest gap kept inside one B2B journey.
	DefaultB2BBoundary = 90 * 24 * time.Hour

	journeyIDPrefix = "journey_"
	hoursPerDay     = 24
)

var (
	// ErrUnresolvedTouchpoint indicates a touchpoint that never went through identity resolution.
	ErrUnresolvedTouchpoint = errors.New("journeys: touchpoint has no customer id")
	errInvalidBoundary      = errors.New("journeys: journey boundary must be positive")
)

// Journey is one time-bounded, ordered sequence of a customer's touchpoints.
type Journey struct {
	JourneyID           string                   `json:"journey_id"`
	CustomerID          string                   `json:"customer_id"`
	CustomerType        touchpoint.CustomerType  `json:"customer_type"`
	StartTimestamp      time.Time                `json:"start_timestamp"`
	EndTimestamp        time.Time                `json:"end_timestamp"`
	TotalTouchpoints    int                      `json:"total_touchpoints"`
	Converted           bool                     `json:"converted"`
	ConversionValue     float64                  `json:"conversion_value"`
	ConfidenceScore     float64                  `json:"confidence_score"`
	ConfidenceLevel     identity.ConfidenceLevel `json:"confidence_level"`
	Touchpoints         []touchpoint.Touchpoint  `json:"touchpoints"`
	DurationDays        int                      `json:"journey_duration_days"`
	ChannelSequence     []touchpoint.Channel     `json:"channel_sequence"`
	StageProgression    []string                 `json:"stage_progression"`
	SynergisticPatterns []string                 `json:"synergistic_patterns"`
}

// IDProvider mints journey identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7-backed journey ids.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return journeyIDPrefix + value.String(), nil
}

// Config tunes the assembly engine.
type Config struct {
	B2CBoundary      time.Duration
	B2BBoundary      time.Duration
	Patterns         []Pattern
	BusinessLocation *time.Location
	Workers          int
	IDProvider       IDProvider
}

// Engine turns identity-resolved touchpoints into journeys.
type Engine struct {
	boundaries map[touchpoint.CustomerType]time.Duration
	patterns   []Pattern
	location   *time.Location
	workers    int
	idProvider IDProvider
}

// NewEngine applies defaults for zero values and validates boundaries.
func NewEngine(cfg Config) (*Engine, error) {
	b2c := cfg.B2CBoundary
	if b2c == 0 {
		b2c = DefaultB2CBoundary
	}
	b2b := cfg.B2BBoundary
	if b2b == 0 {
		b2b = DefaultB2BBoundary
	}
	if b2c < 0 || b2b < 0 {
		return nil, errInvalidBoundary
	}
	patterns := cfg.Patterns
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	location := cfg.BusinessLocation
	if location == nil {
		location = time.UTC
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	return &Engine{
		boundaries: map[touchpoint.CustomerType]time.Duration{
			touchpoint.CustomerTypeB2C: b2c,
			touchpoint.CustomerTypeB2B: b2b,
		},
		patterns:   append([]Pattern(nil), patterns...),
		location:   location,
		workers:    workers,
		idProvider: idProvider,
	}, nil
}

// Patterns returns the synergistic pattern catalog in evaluation order.
func (e *Engine) Patterns() []Pattern {
	return append([]Pattern(nil), e.patterns...)
}

// Assemble groups touchpoints per customer, segments them by inactivity gaps and builds one
// journey per segment. Output is ordered by customer id, then start timestamp.
func (e *Engine) Assemble(ctx context.Context, touchpoints []touchpoint.Touchpoint) ([]Journey, error) {
	if len(touchpoints) == 0 {
		return []Journey{}, nil
	}

	groups := make(map[string][]touchpoint.Touchpoint)
	for _, tp := range touchpoints {
		if !tp.Resolved() {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedTouchpoint, tp.TouchpointID)
		}
		groups[tp.CustomerID] = append(groups[tp.CustomerID], tp)
	}
	customerIDs := make([]string, 0, len(groups))
	for customerID := range groups {
		customerIDs = append(customerIDs, customerID)
	}
	sort.Strings(customerIDs)

	results := make([][]Journey, len(customerIDs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)
	for index, customerID := range customerIDs {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			customerJourneys, err := e.assembleCustomer(customerID, groups[customerID])
			if err != nil {
				return err
			}
			results[index] = customerJourneys
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	assembled := make([]Journey, 0, len(customerIDs))
	for _, customerJourneys := range results {
		assembled = append(assembled, customerJourneys...)
	}
	return assembled, nil
}

func (e *Engine) assembleCustomer(customerID string, touchpoints []touchpoint.Touchpoint) ([]Journey, error) {
	sort.SliceStable(touchpoints, func(i, j int) bool {
		if !touchpoints[i].Timestamp.Equal(touchpoints[j].Timestamp) {
			return touchpoints[i].Timestamp.Before(touchpoints[j].Timestamp)
		}
		return touchpoints[i].TouchpointID < touchpoints[j].TouchpointID
	})

	customerType := ClassifyCustomerType(touchpoints, e.location)
	segments := SplitSegments(touchpoints, e.boundaries[customerType])

	customerJourneys := make([]Journey, 0, len(segments))
	for _, segment := range segments {
		journey, err := e.buildJourney(customerID, customerType, segment)
		if err != nil {
			return nil, err
		}
		customerJourneys = append(customerJourneys, journey)
	}
	return customerJourneys, nil
}

// SplitSegments partitions chronologically sorted touchpoints, opening a new segment whenever
// the gap to the previous touchpoint exceeds the boundary.
func SplitSegments(touchpoints []touchpoint.Touchpoint, boundary time.Duration) [][]touchpoint.Touchpoint {
	if len(touchpoints) == 0 {
		return nil
	}
	segments := make([][]touchpoint.Touchpoint, 0, 1)
	current := []touchpoint.Touchpoint{touchpoints[0]}
	for _, tp := range touchpoints[1:] {
		gap := tp.Timestamp.Sub(current[len(current)-1].Timestamp)
		if gap > boundary {
			segments = append(segments, current)
			current = []touchpoint.Touchpoint{tp}
			continue
		}
		current = append(current, tp)
	}
	return append(segments, current)
}

func (e *Engine) buildJourney(customerID string, customerType touchpoint.CustomerType, segment []touchpoint.Touchpoint) (Journey, error) {
	journeyID, err := e.idProvider.NewID()
	if err != nil {
		return Journey{}, fmt.Errorf("journeys: mint journey id: %w", err)
	}

	start := segment[0].Timestamp
	end := segment[len(segment)-1].Timestamp

	converted := false
	conversionValue := 0.0
	confidenceTotal := 0.0
	channels := make([]touchpoint.Channel, 0, len(segment))
	stages := make([]string, 0, len(segment))
	for _, tp := range segment {
		if tp.Converted() {
			converted = true
		}
		conversionValue += tp.ConversionValue
		confidenceTotal += tp.ResolutionConfidence
		channels = append(channels, tp.Channel)
		if tp.Stage != "" {
			stages = append(stages, tp.Stage)
		}
	}
	confidence := confidenceTotal / float64(len(segment))

	return Journey{
		JourneyID:           journeyID,
		CustomerID:          customerID,
		CustomerType:        customerType,
		StartTimestamp:      start,
		EndTimestamp:        end,
		TotalTouchpoints:    len(segment),
		Converted:           converted,
		ConversionValue:     conversionValue,
		ConfidenceScore:     confidence,
		ConfidenceLevel:     identity.LevelForScore(confidence),
		Touchpoints:         append([]touchpoint.Touchpoint(nil), segment...),
		DurationDays:        int(end.Sub(start).Hours()) / hoursPerDay,
		ChannelSequence:     channels,
		StageProgression:    stages,
		SynergisticPatterns: DetectSynergisticPatterns(channels, e.patterns),
	}, nil
}
