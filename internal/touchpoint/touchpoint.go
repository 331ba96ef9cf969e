package touchpoint

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel enumerates the producers allowed to emit touchpoints.
type Channel string

const (
	ChannelGoogleAds         Channel = "google_ads"
	ChannelFacebookAds       Channel = "facebook_ads"
	ChannelEmailMarketing    Channel = "email_marketing"
	ChannelLinkedInAds       Channel = "linkedin_ads"
	ChannelEvents            Channel = "events"
	ChannelContentWebsiteSEO Channel = "content_website_seo"
	ChannelAppStore          Channel = "app_store"
	ChannelOrganicSocial     Channel = "organic_social"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidTouchpoint indicates a producer contract violation.
	ErrInvalidTouchpoint = errors.New("touchpoint: invalid touchpoint")
	// ErrUnknownChannel indicates a channel outside the enumerated set.
	ErrUnknownChannel = errors.New("touchpoint: unknown channel")
)

var knownChannels = []Channel{
	ChannelGoogleAds,
	ChannelFacebookAds,
	ChannelEmailMarketing,
	ChannelLinkedInAds,
	ChannelEvents,
	ChannelContentWebsiteSEO,
	ChannelAppStore,
	ChannelOrganicSocial,
}

// Channels returns the enumerated channels in declaration order.
func Channels() []Channel {
	return append([]Channel(nil), knownChannels...)
}

// ParseChannel validates raw input and returns a Channel.
func ParseChannel(rawInput string) (Channel, error) {
	candidate := Channel(strings.ToLower(strings.TrimSpace(rawInput)))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, rawInput)
	}
	return candidate, nil
}

// Valid reports whether the channel is one of the enumerated values.
func (c Channel) Valid() bool {
	for _, known := range knownChannels {
		if c == known {
			return true
		}
	}
	return false
}

// String returns the wire name of the channel.
func (c Channel) String() string {
	return string(c)
}

// Identifiers groups every optional field used by identity resolution.
type Identifiers struct {
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	UserID            string `json:"user_id,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
	GCLID             string `json:"gclid,omitempty"`
	FBCLID            string `json:"fbclid,omitempty"`
	LinkedInMemberID  string `json:"linkedin_member_id,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	IPHash            string `json:"ip_hash,omitempty"`
	UserAgentHash     string `json:"user_agent_hash,omitempty"`
}

// Touchpoint is one observed customer interaction on a channel.
// CustomerID and ResolutionConfidence are written once by identity resolution.
type Touchpoint struct {
	TouchpointID    string    `json:"touchpoint_id"`
	CustomerID      string    `json:"customer_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Channel         Channel   `json:"channel"`
	CampaignID      string    `json:"campaign_id,omitempty"`
	CampaignName    string    `json:"campaign_name,omitempty"`
	DeviceType      string    `json:"device_type,omitempty"`
	Location        string    `json:"location,omitempty"`
	Stage           string    `json:"stage,omitempty"`
	ConversionValue float64   `json:"conversion_value"`
	Identifiers

	ResolutionConfidence float64 `json:"resolution_confidence,omitempty"`
}

// Validate enforces the producer contract and normalizes the timestamp to UTC.
func (tp *Touchpoint) Validate() error {
	if tp == nil {
		return fmt.Errorf("%w: nil touchpoint", ErrInvalidTouchpoint)
	}
	tp.TouchpointID = strings.TrimSpace(tp.TouchpointID)
	if tp.TouchpointID == "" {
		return fmt.Errorf("%w: touchpoint_id is required", ErrInvalidTouchpoint)
	}
	if len(tp.TouchpointID) > maxIdentifierLength {
		return fmt.Errorf("%w: touchpoint_id exceeds %d characters", ErrInvalidTouchpoint, maxIdentifierLength)
	}
	if tp.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidTouchpoint)
	}
	if !tp.Channel.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidTouchpoint, ErrUnknownChannel, tp.Channel)
	}
	if tp.ConversionValue < 0 {
		return fmt.Errorf("%w: conversion_value must not be negative", ErrInvalidTouchpoint)
	}
	if tp.CustomerID != "" {
		return fmt.Errorf("%w: customer_id is assigned by identity resolution", ErrInvalidTouchpoint)
	}
	tp.Timestamp = tp.Timestamp.UTC()
	return nil
}

// Resolved reports whether identity resolution already stamped the touchpoint.
func (tp Touchpoint) Resolved() bool {
	return tp.CustomerID != ""
}

// Converted reports whether the touchpoint carries a conversion.
func (tp Touchpoint) Converted() bool {
	return tp.ConversionValue > 0
}

// CustomerType classifies the customer behind a group of touchpoints.
type CustomerType string

const (
	CustomerTypeB2B CustomerType = "B2B"
	CustomerTypeB2C CustomerType = "B2C"
)

// ParseCustomerType validates raw input and returns a CustomerType.
func ParseCustomerType(rawInput string) (CustomerType, error) {
	switch CustomerType(strings.ToUpper(strings.TrimSpace(rawInput))) {
	case CustomerTypeB2B:
		return CustomerTypeB2B, nil
	case CustomerTypeB2C:
		return CustomerTypeB2C, nil
	default:
		return "", fmt.Errorf("touchpoint: unknown customer type %q", rawInput)
	}
}
