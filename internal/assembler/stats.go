package assembler

import (
	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
)

// GraphStats summarizes identity graph coverage and resolution outcomes.
type GraphStats struct {
	TotalCustomers                int
	ResolutionsByLevel            map[identity.ConfidenceLevel]int64
	ResolutionsByMethod           map[identity.Method]int64
	AverageIdentifiersPerCustomer float64
	EmailCoverage                 float64
	DeviceFingerprintCoverage     float64
	TrackingIDCoverage            float64
}

// GraphStats computes coverage ratios over the current graph and the resolution counters
// accumulated since startup.
func (s *Service) GraphStats() GraphStats {
	s.mu.Lock()
	entries := s.graph.Snapshot()
	stats := GraphStats{
		TotalCustomers:      len(entries),
		ResolutionsByLevel:  make(map[identity.ConfidenceLevel]int64, len(s.levelCounts)),
		ResolutionsByMethod: make(map[identity.Method]int64, len(s.methodCounts)),
	}
	for level, count := range s.levelCounts {
		stats.ResolutionsByLevel[level] = count
	}
	for method, count := range s.methodCounts {
		stats.ResolutionsByMethod[method] = count
	}
	s.mu.Unlock()

	if len(entries) == 0 {
		return stats
	}

	var identifiers, withEmail, withFingerprint, withTracking int
	for _, entry := range entries {
		count := countIdentifiers(entry)
		identifiers += count
		if entry.Email != "" {
			withEmail++
		}
		if entry.DeviceFingerprint != "" {
			withFingerprint++
		}
		if entry.ClientID != "" || len(entry.GCLIDs) > 0 || len(entry.FBCLIDs) > 0 {
			withTracking++
		}
	}
	total := float64(len(entries))
	stats.AverageIdentifiersPerCustomer = float64(identifiers) / total
	stats.EmailCoverage = float64(withEmail) / total
	stats.DeviceFingerprintCoverage = float64(withFingerprint) / total
	stats.TrackingIDCoverage = float64(withTracking) / total
	return stats
}

func countIdentifiers(entry identity.Entry) int {
	count := 0
	for _, value := range []string{
		entry.Email,
		entry.Phone,
		entry.UserID,
		entry.ClientID,
		entry.LinkedInMemberID,
		entry.DeviceFingerprint,
	} {
		if value != "" {
			count++
		}
	}
	count += len(entry.GCLIDs) + len(entry.FBCLIDs) + len(entry.IPHashes) + len(entry.UserAgentHashes)
	return count
}
