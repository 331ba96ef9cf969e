package journeys

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
)

const patternSeparator = " -> "

// ErrInvalidPattern indicates a synergistic pattern definition that cannot be evaluated.
var ErrInvalidPattern = errors.New("journeys: invalid synergistic pattern")

// Pattern is an ordered pair of channels whose co-occurrence signals cross-channel synergy.
type Pattern struct {
	First  touchpoint.Channel
	Second touchpoint.Channel
}

// Label renders the pattern as "first -> second".
func (p Pattern) Label() string {
	return string(p.First) + patternSeparator + string(p.Second)
}

// DefaultPatterns returns the built-in catalog.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{First: touchpoint.ChannelEvents, Second: touchpoint.ChannelOrganicSocial},
		{First: touchpoint.ChannelEmailMarketing, Second: touchpoint.ChannelContentWebsiteSEO},
		{First: touchpoint.ChannelGoogleAds, Second: touchpoint.ChannelContentWebsiteSEO},
		{First: touchpoint.ChannelFacebookAds, Second: touchpoint.ChannelAppStore},
		{First: touchpoint.ChannelLinkedInAds, Second: touchpoint.ChannelEmailMarketing},
		{First: touchpoint.ChannelEvents, Second: touchpoint.ChannelEmailMarketing},
	}
}

// ParsePattern reads "first,second" or "first -> second".
func ParsePattern(rawInput string) (Pattern, error) {
	separator := ","
	if strings.Contains(rawInput, strings.TrimSpace(patternSeparator)) {
		separator = strings.TrimSpace(patternSeparator)
	}
	parts := strings.Split(rawInput, separator)
	if len(parts) != 2 {
		return Pattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, rawInput)
	}
	first, err := touchpoint.ParseChannel(parts[0])
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	second, err := touchpoint.ParseChannel(parts[1])
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return Pattern{First: first, Second: second}, nil
}

// DetectSynergisticPatterns returns the labels of catalog patterns whose channels both appear
// in the sequence with the first channel's earliest occurrence at or before the second's.
func DetectSynergisticPatterns(sequence []touchpoint.Channel, catalog []Pattern) []string {
	firstSeen := make(map[touchpoint.Channel]int, len(sequence))
	for index, channel := range sequence {
		if _, ok := firstSeen[channel]; !ok {
			firstSeen[channel] = index
		}
	}

	detected := make([]string, 0)
	for _, pattern := range catalog {
		firstIndex, firstOK := firstSeen[pattern.First]
		secondIndex, secondOK := firstSeen[pattern.Second]
		if firstOK && secondOK && firstIndex <= secondIndex {
			detected = append(detected, pattern.Label())
		}
	}
	return detected
}
