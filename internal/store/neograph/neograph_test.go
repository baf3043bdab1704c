package neograph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/graphcore/internal/metadata"
	"github.com/fyrsmithlabs/graphcore/internal/store"
)

func sampleRecord() store.NodeRecord {
	return store.NodeRecord{
		ID:   "sem_1a2b3c4d5e6f7a8b",
		Type: metadata.NodeTypeSemanticUnit,
		Metadata: metadata.Envelope{
			TenantID:        "tenant_a",
			InteractionID:   "int_9b2f8e4a-1c3d-4e5f-8a7b-6c5d4e3f2a1b",
			InteractionType: "email",
			Text:            "quarterly revenue grew 12%",
			AccountID:       "acc_1f2e3d4c-5b6a-4978-8695-a4b3c2d1e0f9",
			Timestamp:       "2024-01-15T10:30:00Z",
			UserID:          "u_42",
			SourceSystem:    "outlook",
		},
		Properties: map[string]any{"weight": 0.8},
	}
}

func TestNodePayloadFlattensEnvelope(t *testing.T) {
	rec := sampleRecord()
	props := nodePayload(rec)

	assert.Equal(t, rec.ID, props["node_id"])
	assert.Equal(t, metadata.NodeTypeSemanticUnit, props["node_type"])
	assert.Equal(t, "tenant_a", props["tenant_id"])
	assert.Equal(t, "quarterly revenue grew 12%", props["text"])
	assert.Equal(t, 0.8, props["weight"])
}

func TestRecordFromPropsRoundTrip(t *testing.T) {
	rec := sampleRecord()
	props := nodePayload(rec)

	got := recordFromProps(props)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Metadata.TenantID, got.Metadata.TenantID)
	assert.Equal(t, rec.Metadata.InteractionID, got.Metadata.InteractionID)
	assert.Equal(t, rec.Metadata.Timestamp, got.Metadata.Timestamp)
	assert.Equal(t, rec.Metadata.SourceSystem, got.Metadata.SourceSystem)
	assert.Equal(t, 0.8, got.Properties["weight"])

	require.Empty(t, got.Metadata.Validate())
}

func TestRecordFromPropsListFields(t *testing.T) {
	props := nodePayload(sampleRecord())
	props["interaction_ids"] = []any{"int_a", "int_b"}
	props["user_ids"] = []any{"u_1"}

	got := recordFromProps(props)

	assert.Equal(t, []string{"int_a", "int_b"}, got.Metadata.InteractionIDs)
	assert.Equal(t, []string{"u_1"}, got.Metadata.UserIDs)
}

func TestEdgeFromProps(t *testing.T) {
	props := map[string]any{
		"relationship_type": "WORKS_FOR",
		"source_id":         "ent_aaaaaaaaaaaaaaaa",
		"target_id":         "ent_bbbbbbbbbbbbbbbb",
		"tenant_id":         "tenant_a",
		"weight":            int64(3),
	}

	got := edgeFromProps(props)

	assert.Equal(t, "WORKS_FOR", got.Type)
	assert.Equal(t, "ent_aaaaaaaaaaaaaaaa", got.SourceID)
	assert.Equal(t, "ent_bbbbbbbbbbbbbbbb", got.TargetID)
	assert.Equal(t, "tenant_a", got.Metadata.TenantID)
	assert.Equal(t, int64(3), got.Properties["weight"])
}
