package identity

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphUpdateMergesIdentifiers(t *testing.T) {
	graph := NewGraph()
	match := Match{CustomerID: "customer_1"}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	graph.Update(touchpoint.Touchpoint{
		TouchpointID: "tp-1",
		Channel:      touchpoint.ChannelGoogleAds,
		CampaignID:   "camp-1",
		Location:     "Utrecht",
		DeviceType:   "desktop",
		Identifiers: touchpoint.Identifiers{
			Email:  "first@corp.nl",
			GCLID:  "g-1",
			IPHash: "ip-1",
		},
	}, match, created)
	graph.Update(touchpoint.Touchpoint{
		TouchpointID: "tp-2",
		Channel:      touchpoint.ChannelGoogleAds,
		CampaignID:   "camp-1",
		Location:     "Rotterdam",
		Identifiers: touchpoint.Identifiers{
			Email: "second@corp.nl",
			GCLID: "g-2",
		},
	}, match, updated)
	graph.Update(touchpoint.Touchpoint{
		TouchpointID: "tp-3",
		Channel:      touchpoint.ChannelGoogleAds,
		Identifiers:  touchpoint.Identifiers{GCLID: "g-1"},
	}, match, updated)

	entry, ok := graph.Entry("customer_1")
	require.True(t, ok)
	assert.Equal(t, "second@corp.nl", entry.Email)
	assert.Equal(t, "Rotterdam", entry.PrimaryLocation)
	assert.Equal(t, "desktop", entry.PrimaryDevice)
	assert.Equal(t, []string{"g-1", "g-2"}, entry.GCLIDs)
	assert.Equal(t, []string{"ip-1"}, entry.IPHashes)
	assert.Equal(t, []string{"camp-1"}, entry.CampaignHistory)
	assert.Empty(t, entry.FBCLIDs)
	assert.Equal(t, int64(3), entry.TouchpointCount)
	assert.Equal(t, created, entry.CreatedAt)
	assert.Equal(t, updated, entry.UpdatedAt)
}

func TestGraphSnapshotIsDetached(t *testing.T) {
	graph := NewGraph()
	graph.Update(touchpoint.Touchpoint{Identifiers: touchpoint.Identifiers{GCLID: "g-1"}}, Match{CustomerID: "customer_b"}, referenceTime)
	graph.Update(touchpoint.Touchpoint{}, Match{CustomerID: "customer_a"}, referenceTime)

	snapshot := graph.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "customer_a", snapshot[0].CustomerID)
	assert.Equal(t, "customer_b", snapshot[1].CustomerID)

	snapshot[1].GCLIDs[0] = "mutated"
	entry, _ := graph.Entry("customer_b")
	assert.Equal(t, []string{"g-1"}, entry.GCLIDs)

	restored := NewGraphFromEntries(snapshot)
	assert.Equal(t, 2, restored.Len())
}

func TestGraphSetCustomerType(t *testing.T) {
	graph := NewGraph()
	assert.False(t, graph.SetCustomerType("customer_missing", touchpoint.CustomerTypeB2B))

	graph.Update(touchpoint.Touchpoint{}, Match{CustomerID: "customer_1"}, referenceTime)
	assert.True(t, graph.SetCustomerType("customer_1", touchpoint.CustomerTypeB2B))

	entry, _ := graph.Entry("customer_1")
	assert.Equal(t, touchpoint.CustomerTypeB2B, entry.CustomerType)
}

func TestGraphUpdateIgnoresEmptyCustomerID(t *testing.T) {
	graph := NewGraph()
	graph.Update(touchpoint.Touchpoint{}, Match{}, referenceTime)
	assert.Equal(t, 0, graph.Len())
}
