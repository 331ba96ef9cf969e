package journeys

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
)

const (
	channelSignalWeight = 2.0
	emailSignalWeight   = 1.0
	minorSignalWeight   = 0.5

	businessDayStartHour = 9
	businessDayEndHour   = 18
	eveningEndHour       = 23
)

var consumerMailProviders = map[string]bool{
	"gmail": true, "googlemail": true, "hotmail": true, "outlook": true, "live": true, "msn": true,
	"yahoo": true, "icloud": true, "me": true, "aol": true, "proton": true, "protonmail": true, "gmx": true,
}

// ClassifyCustomerType runs a best-effort weighted vote over every touchpoint of one customer.
// Ties, including the absence of any signal, resolve to B2C.
func ClassifyCustomerType(touchpoints []touchpoint.Touchpoint, location *time.Location) touchpoint.CustomerType {
	if location == nil {
		location = time.UTC
	}
	b2bScore := 0.0
	b2cScore := 0.0

	for _, tp := range touchpoints {
		switch tp.Channel {
		case touchpoint.ChannelLinkedInAds, touchpoint.ChannelEvents:
			b2bScore += channelSignalWeight
		case touchpoint.ChannelAppStore, touchpoint.ChannelOrganicSocial:
			b2cScore += channelSignalWeight
		}

		if businessEmail(tp.Email) {
			b2bScore += emailSignalWeight
		}
		if strings.EqualFold(strings.TrimSpace(tp.DeviceType), "mobile") {
			b2cScore += minorSignalWeight
		}

		if tp.Timestamp.IsZero() {
			continue
		}
		local := tp.Timestamp.In(location)
		weekend := local.Weekday() == time.Saturday || local.Weekday() == time.Sunday
		hour := local.Hour()
		if !weekend && hour >= businessDayStartHour && hour < businessDayEndHour {
			b2bScore += minorSignalWeight
		}
		if weekend || (hour >= businessDayEndHour && hour < eveningEndHour) {
			b2cScore += minorSignalWeight
		}
	}

	if b2bScore > b2cScore {
		return touchpoint.CustomerTypeB2B
	}
	return touchpoint.CustomerTypeB2C
}

func businessEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}
	for _, tldRune := range domain[dot+1:] {
		if tldRune < 'a' || tldRune > 'z' {
			return false
		}
	}
	for _, label := range strings.Split(domain[:dot], ".") {
		if consumerMailProviders[label] {
			return false
		}
	}
	return true
}
