package metadata_test

import (
	"testing"

	"github.com/fyrsmithlabs/graphcore/internal/metadata"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() metadata.Envelope {
	return metadata.Envelope{
		TenantID:        "t1",
		InteractionID:   "int_" + uuid.NewString(),
		InteractionType: "email",
		Text:            "x",
		AccountID:       "acc_" + uuid.NewString(),
		Timestamp:       "2024-01-15T10:30:00Z",
		UserID:          "u1",
		SourceSystem:    "outlook",
	}
}

func TestValidate_WellFormed(t *testing.T) {
	env := validEnvelope()
	assert.Empty(t, env.Validate())
}

func TestValidate_MissingFieldsNamed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*metadata.Envelope)
		want   string
	}{
		{"tenant_id", func(e *metadata.Envelope) { e.TenantID = "" }, "tenant_id cannot be empty"},
		{"interaction_id", func(e *metadata.Envelope) { e.InteractionID = "" }, "interaction_id cannot be empty"},
		{"interaction_type", func(e *metadata.Envelope) { e.InteractionType = "" }, "interaction_type cannot be empty"},
		{"text", func(e *metadata.Envelope) { e.Text = "  " }, "text cannot be empty"},
		{"account_id", func(e *metadata.Envelope) { e.AccountID = "" }, "account_id cannot be empty"},
		{"timestamp", func(e *metadata.Envelope) { e.Timestamp = "" }, "timestamp cannot be empty"},
		{"user_id", func(e *metadata.Envelope) { e.UserID = "" }, "user_id must be a non-empty string"},
		{"source_system", func(e *metadata.Envelope) { e.SourceSystem = "" }, "source_system cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(&env)
			errs := env.Validate()
			require.NotEmpty(t, errs)
			found := false
			for _, err := range errs {
				if err.Error() == tt.want {
					found = true
				}
			}
			assert.True(t, found, "expected %q among %v", tt.want, errs)
		})
	}
}

func TestValidate_InteractionIDShape(t *testing.T) {
	env := validEnvelope()
	env.InteractionID = uuid.NewString() // missing int_ prefix
	assert.NotEmpty(t, env.Validate())

	env = validEnvelope()
	env.InteractionID = "int_not-a-uuid"
	assert.NotEmpty(t, env.Validate())

	// UUIDv1 is rejected even with the right prefix.
	env = validEnvelope()
	env.InteractionID = "int_2e8e5b4e-0000-1000-8000-00805f9b34fb"
	assert.NotEmpty(t, env.Validate())
}

func TestValidate_InteractionIDCanonicalOnly(t *testing.T) {
	// Only the lowercase hyphenated spelling is accepted; anything a lenient
	// parser would also take splits one logical id across several keys.
	rejected := []string{
		"int_9B2F8E4A-1C3D-4E5F-8A7B-6C5D4E3F2A1B",          // uppercase
		"int_9b2f8e4a1c3d4e5f8a7b6c5d4e3f2a1b",              // no hyphens
		"int_urn:uuid:9b2f8e4a-1c3d-4e5f-8a7b-6c5d4e3f2a1b", // urn form
		"int_{9b2f8e4a-1c3d-4e5f-8a7b-6c5d4e3f2a1b}",        // braced
		"int_9b2f8e4a-1c3d-4e5f-ca7b-6c5d4e3f2a1b",          // variant not RFC 4122
	}
	for _, id := range rejected {
		env := validEnvelope()
		env.InteractionID = id
		assert.NotEmpty(t, env.Validate(), "expected rejection of %q", id)
	}

	env := validEnvelope()
	env.InteractionID = "int_9b2f8e4a-1c3d-4e5f-8a7b-6c5d4e3f2a1b"
	assert.Empty(t, env.Validate())
}

func TestValidate_AccountIDShape(t *testing.T) {
	env := validEnvelope()
	env.AccountID = "account-123"
	assert.NotEmpty(t, env.Validate())
}

func TestValidate_Timestamp(t *testing.T) {
	env := validEnvelope()
	env.Timestamp = "2024-01-15T10:30:00+00:00" // no trailing Z
	assert.NotEmpty(t, env.Validate())

	env = validEnvelope()
	env.Timestamp = "not-a-time"
	assert.NotEmpty(t, env.Validate())
}

func TestValidate_Enums(t *testing.T) {
	env := validEnvelope()
	env.InteractionType = "sms"
	assert.NotEmpty(t, env.Validate())

	env = validEnvelope()
	env.SourceSystem = "slack"
	assert.NotEmpty(t, env.Validate())

	for _, it := range metadata.ValidInteractionTypes {
		env := validEnvelope()
		env.InteractionType = it
		assert.Empty(t, env.Validate(), "interaction_type %q should validate", it)
	}
	for _, ss := range metadata.ValidSourceSystems {
		env := validEnvelope()
		env.SourceSystem = ss
		assert.Empty(t, env.Validate(), "source_system %q should validate", ss)
	}
}

func TestWithNodeInfo(t *testing.T) {
	env := validEnvelope()
	derived := env.WithNodeInfo("ent_0123456789abcdef", "entity")
	assert.Equal(t, "ent_0123456789abcdef", derived.NodeHashID)
	assert.Equal(t, "entity", derived.NodeType)
	assert.NotEmpty(t, derived.CreatedAt)
	// Original untouched.
	assert.Empty(t, env.NodeHashID)
}

func TestToMap_OmitsEmpty(t *testing.T) {
	env := validEnvelope()
	env.Text = ""
	m := env.ToMap()
	_, hasText := m["text"]
	assert.False(t, hasText)
	assert.Equal(t, env.TenantID, m["tenant_id"])
	assert.Equal(t, env.InteractionID, m["interaction_id"])
}
