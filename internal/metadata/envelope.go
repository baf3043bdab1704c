// Package metadata defines the required-field envelope that accompanies every
// node and edge before it may be persisted, along with the propagation rules
// that derive child envelopes from their parents.
package metadata

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AggregatedSentinel replaces tenant-scoped identity fields on records that
// legitimately span multiple tenants (cross-tenant community summaries). Such
// records are intentionally non-attributable.
const AggregatedSentinel = "AGGREGATED"

// Prefixes for externally issued identifiers.
const (
	interactionIDPrefix = "int_"
	accountIDPrefix     = "acc_"
)

// ValidInteractionTypes enumerates accepted interaction_type values.
var ValidInteractionTypes = []string{"call", "chat", "email", "voice_memo", "custom_notes"}

// ValidSourceSystems enumerates accepted source_system values.
var ValidSourceSystems = []string{"internal", "voice_memo", "custom", "outlook", "gmail"}

// Envelope is the fixed-shape metadata record required on every node and edge.
//
// The eight required fields identify the tenant, the originating interaction
// and the user behind a unit of content. Aggregated records derived from
// multiple sources carry the plural InteractionIDs/UserIDs forms instead of
// the singular fields. Lineage fields are populated by the pipeline, never by
// producers.
type Envelope struct {
	TenantID        string `json:"tenant_id"`
	InteractionID   string `json:"interaction_id,omitempty"`
	InteractionType string `json:"interaction_type"`
	Text            string `json:"text,omitempty"`
	AccountID       string `json:"account_id"`
	Timestamp       string `json:"timestamp"`
	UserID          string `json:"user_id,omitempty"`
	SourceSystem    string `json:"source_system"`

	// Aggregate forms, set only by propagation over multiple parents.
	InteractionIDs []string `json:"interaction_ids,omitempty"`
	UserIDs        []string `json:"user_ids,omitempty"`

	// Lineage fields.
	NodeHashID string `json:"node_hash_id,omitempty"`
	NodeType   string `json:"node_type,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// Validate checks every required field and returns one error per violation.
// An empty slice means the envelope may be handed to a store adapter.
func (e *Envelope) Validate() []error {
	var errs []error

	required := []struct {
		name  string
		value string
	}{
		{"tenant_id", e.TenantID},
		{"interaction_id", e.InteractionID},
		{"interaction_type", e.InteractionType},
		{"text", e.Text},
		{"account_id", e.AccountID},
		{"timestamp", e.Timestamp},
		{"source_system", e.SourceSystem},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%s cannot be empty", f.name))
		}
	}

	// user_id accepts any non-empty string; identity systems vary too much
	// for a stricter shape.
	if strings.TrimSpace(e.UserID) == "" {
		errs = append(errs, fmt.Errorf("user_id must be a non-empty string"))
	}

	if e.InteractionID != "" && !validPrefixedUUID(e.InteractionID, interactionIDPrefix) {
		errs = append(errs, fmt.Errorf("interaction_id must be UUID v4 format with %q prefix", interactionIDPrefix))
	}
	if e.AccountID != "" && !validPrefixedUUID(e.AccountID, accountIDPrefix) {
		errs = append(errs, fmt.Errorf("account_id must be UUID v4 format with %q prefix", accountIDPrefix))
	}
	if e.Timestamp != "" && !validISO8601(e.Timestamp) {
		errs = append(errs, fmt.Errorf("timestamp must be ISO8601 format with trailing Z"))
	}
	if e.InteractionType != "" && !contains(ValidInteractionTypes, e.InteractionType) {
		errs = append(errs, fmt.Errorf("interaction_type must be one of: %s", strings.Join(ValidInteractionTypes, ", ")))
	}
	if e.SourceSystem != "" && !contains(ValidSourceSystems, e.SourceSystem) {
		errs = append(errs, fmt.Errorf("source_system must be one of: %s", strings.Join(ValidSourceSystems, ", ")))
	}

	return errs
}

// WithNodeInfo returns a copy with pipeline-generated lineage fields set.
func (e Envelope) WithNodeInfo(nodeHashID, nodeType string) Envelope {
	e.NodeHashID = nodeHashID
	e.NodeType = nodeType
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return e
}

// ToMap flattens the envelope for store payloads, omitting empty fields.
// Aggregate list fields are carried as-is; stores that need flat values join
// them themselves.
func (e *Envelope) ToMap() map[string]any {
	m := make(map[string]any, 12)
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("tenant_id", e.TenantID)
	put("interaction_id", e.InteractionID)
	put("interaction_type", e.InteractionType)
	put("text", e.Text)
	put("account_id", e.AccountID)
	put("timestamp", e.Timestamp)
	put("user_id", e.UserID)
	put("source_system", e.SourceSystem)
	put("node_hash_id", e.NodeHashID)
	put("node_type", e.NodeType)
	put("created_at", e.CreatedAt)
	if len(e.InteractionIDs) > 0 {
		m["interaction_ids"] = append([]string(nil), e.InteractionIDs...)
	}
	if len(e.UserIDs) > 0 {
		m["user_ids"] = append([]string(nil), e.UserIDs...)
	}
	return m
}

// uuid4Pattern accepts only the canonical lowercase hyphenated UUIDv4 form,
// including the RFC 4122 variant nibble. Parser-level leniency (uppercase,
// urn: prefixes, missing hyphens) would let the same logical id land under
// several spellings.
var uuid4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// validPrefixedUUID checks prefix + canonical UUIDv4 shape. Sentinel-valued
// fields on aggregated records never reach this check because Validate is
// only applied to producer-supplied envelopes.
func validPrefixedUUID(value, prefix string) bool {
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	return uuid4Pattern.MatchString(value[len(prefix):])
}

// validISO8601 requires a literal trailing Z and a parseable RFC3339 instant.
func validISO8601(ts string) bool {
	if !strings.HasSuffix(ts, "Z") {
		return false
	}
	_, err := time.Parse(time.RFC3339, ts)
	return err == nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
