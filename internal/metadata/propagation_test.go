package metadata_test

import (
	"testing"

	"github.com/fyrsmithlabs/graphcore/internal/metadata"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSemanticUnit_KeepsText(t *testing.T) {
	src := validEnvelope()
	derived := metadata.ToSemanticUnit(src)
	assert.Equal(t, src, derived)
	assert.Empty(t, metadata.ValidatePropagation(derived, metadata.NodeTypeSemanticUnit))
}

func TestToEntity_DropsText(t *testing.T) {
	src := validEnvelope()
	derived := metadata.ToEntity(src)
	assert.Empty(t, derived.Text)
	assert.Equal(t, src.TenantID, derived.TenantID)
	assert.Equal(t, src.InteractionID, derived.InteractionID)
	assert.Empty(t, metadata.ValidatePropagation(derived, metadata.NodeTypeEntity))
}

func TestToRelationship_DropsText(t *testing.T) {
	derived := metadata.ToRelationship(validEnvelope())
	assert.Empty(t, derived.Text)
	assert.Empty(t, metadata.ValidatePropagation(derived, metadata.NodeTypeRelationship))
}

func TestToAttribute_SingleParent(t *testing.T) {
	src := metadata.ToEntity(validEnvelope())
	derived, err := metadata.ToAttribute([]metadata.Envelope{src})
	require.NoError(t, err)
	// One contributor keeps singular fields.
	assert.Equal(t, src.InteractionID, derived.InteractionID)
	assert.Empty(t, derived.InteractionIDs)
	assert.Equal(t, src.UserID, derived.UserID)
}

func TestToAttribute_MultipleInteractions(t *testing.T) {
	a := metadata.ToEntity(validEnvelope())
	a.Timestamp = "2024-01-20T00:00:00Z"
	b := metadata.ToEntity(validEnvelope())
	b.UserID = "u2"
	b.Timestamp = "2024-01-10T00:00:00Z"

	derived, err := metadata.ToAttribute([]metadata.Envelope{a, b})
	require.NoError(t, err)

	assert.Empty(t, derived.InteractionID)
	assert.Len(t, derived.InteractionIDs, 2)
	assert.Empty(t, derived.UserID)
	assert.ElementsMatch(t, []string{"u1", "u2"}, derived.UserIDs)
	assert.Equal(t, "2024-01-10T00:00:00Z", derived.Timestamp, "earliest timestamp wins")
}

func TestToAttribute_NoParents(t *testing.T) {
	_, err := metadata.ToAttribute(nil)
	assert.ErrorIs(t, err, metadata.ErrNoParents)
}

func TestToCommunity_SingleTenant(t *testing.T) {
	a := metadata.ToEntity(validEnvelope())
	b := metadata.ToEntity(validEnvelope())
	b.AccountID = a.AccountID
	b.UserID = "u2"

	derived, err := metadata.ToCommunity([]metadata.Envelope{a, b})
	require.NoError(t, err)

	assert.Equal(t, "t1", derived.TenantID)
	assert.Equal(t, a.AccountID, derived.AccountID, "unanimous account_id preserved")
	assert.ElementsMatch(t, []string{a.InteractionID, b.InteractionID}, derived.InteractionIDs)
	assert.ElementsMatch(t, []string{"u1", "u2"}, derived.UserIDs)
	assert.Empty(t, metadata.ValidatePropagation(derived, metadata.NodeTypeCommunity))
}

func TestToCommunity_DivergentAccounts(t *testing.T) {
	a := metadata.ToEntity(validEnvelope())
	b := metadata.ToEntity(validEnvelope()) // distinct acc_ uuid

	derived, err := metadata.ToCommunity([]metadata.Envelope{a, b})
	require.NoError(t, err)
	assert.Equal(t, "t1", derived.TenantID)
	assert.Empty(t, derived.AccountID, "non-unanimous account_id dropped")
}

func TestToCommunity_CrossTenantUsesSentinel(t *testing.T) {
	a := metadata.ToEntity(validEnvelope())
	b := metadata.ToEntity(validEnvelope())
	b.TenantID = "t2"

	derived, err := metadata.ToCommunity([]metadata.Envelope{a, b})
	require.NoError(t, err)

	assert.Equal(t, metadata.AggregatedSentinel, derived.TenantID)
	assert.Equal(t, metadata.AggregatedSentinel, derived.AccountID)
	assert.Equal(t, metadata.AggregatedSentinel, derived.InteractionID)
	assert.Empty(t, metadata.ValidatePropagation(derived, metadata.NodeTypeCommunity))
}

func TestToCommunity_MemberWithAggregateLists(t *testing.T) {
	a := metadata.ToEntity(validEnvelope())
	agg := metadata.Envelope{
		TenantID:       "t1",
		InteractionIDs: []string{"int_" + uuid.NewString(), a.InteractionID},
		UserIDs:        []string{"u9"},
	}

	derived, err := metadata.ToCommunity([]metadata.Envelope{a, agg})
	require.NoError(t, err)
	assert.Len(t, derived.InteractionIDs, 2, "plural forms merge and dedup")
	assert.ElementsMatch(t, []string{"u1", "u9"}, derived.UserIDs)
}

func TestValidatePropagation_Shapes(t *testing.T) {
	// Entity carrying text is malformed.
	e := validEnvelope()
	errs := metadata.ValidatePropagation(e, metadata.NodeTypeEntity)
	assert.NotEmpty(t, errs)

	// Community without any interaction reference is malformed.
	c := metadata.Envelope{TenantID: "t1", UserIDs: []string{"u1"}}
	errs = metadata.ValidatePropagation(c, metadata.NodeTypeCommunity)
	assert.NotEmpty(t, errs)

	// Missing tenant is malformed for every type.
	errs = metadata.ValidatePropagation(metadata.Envelope{}, metadata.NodeTypeAttribute)
	assert.NotEmpty(t, errs)
}
