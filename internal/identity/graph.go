package identity

import (
	"slices"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
)

// Entry accumulates every identifier observed for one customer.
type Entry struct {
	CustomerID        string                  `json:"customer_id"`
	Email             string                  `json:"email,omitempty"`
	Phone             string                  `json:"phone,omitempty"`
	UserID            string                  `json:"user_id,omitempty"`
	ClientID          string                  `json:"client_id,omitempty"`
	LinkedInMemberID  string                  `json:"linkedin_member_id,omitempty"`
	DeviceFingerprint string                  `json:"device_fingerprint,omitempty"`
	PrimaryLocation   string                  `json:"primary_location,omitempty"`
	PrimaryDevice     string                  `json:"primary_device,omitempty"`
	CustomerType      touchpoint.CustomerType `json:"customer_type,omitempty"`
	GCLIDs            []string                `json:"gclids"`
	FBCLIDs           []string                `json:"fbclids"`
	IPHashes          []string                `json:"ip_hashes"`
	UserAgentHashes   []string                `json:"user_agent_hashes"`
	CampaignHistory   []string                `json:"campaign_history"`
	TouchpointCount   int64                   `json:"touchpoint_count"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

func (e *Entry) clone() Entry {
	copied := *e
	copied.GCLIDs = slices.Clone(e.GCLIDs)
	copied.FBCLIDs = slices.Clone(e.FBCLIDs)
	copied.IPHashes = slices.Clone(e.IPHashes)
	copied.UserAgentHashes = slices.Clone(e.UserAgentHashes)
	copied.CampaignHistory = slices.Clone(e.CampaignHistory)
	return copied
}

// Graph maps customer ids to their accumulated identifiers.
// Graph is not safe for concurrent use; callers serialize resolve-then-update.
type Graph struct {
	entries map[string]*Entry
}

// NewGraph returns an empty identity graph.
func NewGraph() *Graph {
	return &Graph{entries: make(map[string]*Entry)}
}

// NewGraphFromEntries restores a graph from a snapshot. Later duplicates win.
func NewGraphFromEntries(entries []Entry) *Graph {
	graph := NewGraph()
	for index := range entries {
		if entries[index].CustomerID == "" {
			continue
		}
		restored := entries[index].clone()
		graph.entries[restored.CustomerID] = &restored
	}
	return graph
}

// Len returns the number of customers in the graph.
func (g *Graph) Len() int {
	return len(g.entries)
}

// Entry returns a copy of the entry for the customer id.
func (g *Graph) Entry(customerID string) (Entry, bool) {
	entry, ok := g.entries[customerID]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Snapshot returns deep copies of every entry ordered by customer id.
func (g *Graph) Snapshot() []Entry {
	snapshot := make([]Entry, 0, len(g.entries))
	for _, entry := range g.entries {
		snapshot = append(snapshot, entry.clone())
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].CustomerID < snapshot[j].CustomerID
	})
	return snapshot
}

// Update upserts the entry for the matched customer with the touchpoint's identifiers.
func (g *Graph) Update(tp touchpoint.Touchpoint, match Match, now time.Time) {
	if match.CustomerID == "" {
		return
	}
	entry, ok := g.entries[match.CustomerID]
	if !ok {
		entry = &Entry{
			CustomerID:      match.CustomerID,
			GCLIDs:          []string{},
			FBCLIDs:         []string{},
			IPHashes:        []string{},
			UserAgentHashes: []string{},
			CampaignHistory: []string{},
			CreatedAt:       now,
		}
		g.entries[match.CustomerID] = entry
	}

	overwrite(&entry.Email, tp.Email)
	overwrite(&entry.Phone, tp.Phone)
	overwrite(&entry.UserID, tp.UserID)
	overwrite(&entry.ClientID, tp.ClientID)
	overwrite(&entry.LinkedInMemberID, tp.LinkedInMemberID)
	overwrite(&entry.DeviceFingerprint, tp.DeviceFingerprint)
	overwrite(&entry.PrimaryLocation, tp.Location)
	overwrite(&entry.PrimaryDevice, tp.DeviceType)

	entry.GCLIDs = appendIfAbsent(entry.GCLIDs, tp.GCLID)
	entry.FBCLIDs = appendIfAbsent(entry.FBCLIDs, tp.FBCLID)
	entry.IPHashes = appendIfAbsent(entry.IPHashes, tp.IPHash)
	entry.UserAgentHashes = appendIfAbsent(entry.UserAgentHashes, tp.UserAgentHash)
	entry.CampaignHistory = appendIfAbsent(entry.CampaignHistory, tp.CampaignID)

	entry.TouchpointCount++
	entry.UpdatedAt = now
}

// SetCustomerType records the latest classification for a customer.
func (g *Graph) SetCustomerType(customerID string, customerType touchpoint.CustomerType) bool {
	entry, ok := g.entries[customerID]
	if !ok {
		return false
	}
	entry.CustomerType = customerType
	return true
}

func overwrite(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func appendIfAbsent(values []string, value string) []string {
	if value == "" || slices.Contains(values, value) {
		return values
	}
	return append(values, value)
}
