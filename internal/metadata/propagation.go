package metadata

import (
	"errors"
	"fmt"
	"sort"
)

// Node types recognized by propagation validation.
const (
	NodeTypeSemanticUnit = "semantic_unit"
	NodeTypeEntity       = "entity"
	NodeTypeRelationship = "relationship"
	NodeTypeAttribute    = "attribute"
	NodeTypeCommunity    = "community"
)

// ErrNoParents is returned when a derived envelope is requested with no
// contributing parents.
var ErrNoParents = errors.New("cannot derive envelope without parent metadata")

// ToSemanticUnit derives a text unit's envelope from its source document.
// Text units keep the full envelope including text.
func ToSemanticUnit(source Envelope) Envelope {
	return source
}

// ToEntity derives an entity's envelope from its source unit. Entities carry
// no free text of their own.
func ToEntity(source Envelope) Envelope {
	source.Text = ""
	return source
}

// ToRelationship derives a relationship's envelope from its source unit.
func ToRelationship(source Envelope) Envelope {
	source.Text = ""
	return source
}

// ToAttribute derives an attribute's envelope from the entities it describes.
// The first entity's envelope is the base. When contributors carry more than
// one distinct interaction_id the singular field is replaced by a deduplicated
// interaction_ids list (same for user_id), and the earliest contributor
// timestamp always wins.
func ToAttribute(parents []Envelope) (Envelope, error) {
	if len(parents) == 0 {
		return Envelope{}, fmt.Errorf("%w: attribute", ErrNoParents)
	}

	result := parents[0]

	interactionIDs := collectUnique(parents, func(e Envelope) (string, []string) {
		return e.InteractionID, e.InteractionIDs
	})
	userIDs := collectUnique(parents, func(e Envelope) (string, []string) {
		return e.UserID, e.UserIDs
	})

	earliest := result.Timestamp
	for _, p := range parents {
		if p.Timestamp != "" && (earliest == "" || p.Timestamp < earliest) {
			earliest = p.Timestamp
		}
	}

	if len(interactionIDs) > 1 {
		result.InteractionIDs = interactionIDs
		result.InteractionID = ""
	}
	if len(userIDs) > 1 {
		result.UserIDs = userIDs
		result.UserID = ""
	}
	if earliest != "" {
		result.Timestamp = earliest
	}
	return result, nil
}

// ToCommunity derives a community summary's envelope from its members.
//
// When every member belongs to one tenant, that tenant is preserved along with
// account_id when it is unanimous, and interaction/user id unions are built.
// Members spanning more than one tenant do not fail: the identity fields are
// set to the AGGREGATED sentinel instead, deliberately trading per-tenant
// attribution for the ability to summarize across tenants.
func ToCommunity(members []Envelope) (Envelope, error) {
	if len(members) == 0 {
		return Envelope{}, fmt.Errorf("%w: community", ErrNoParents)
	}

	tenants := map[string]bool{}
	for _, m := range members {
		if m.TenantID != "" {
			tenants[m.TenantID] = true
		}
	}

	result := Envelope{
		InteractionIDs: collectUnique(members, func(e Envelope) (string, []string) {
			return e.InteractionID, e.InteractionIDs
		}),
		UserIDs: collectUnique(members, func(e Envelope) (string, []string) {
			return e.UserID, e.UserIDs
		}),
	}

	if len(tenants) > 1 {
		result.TenantID = AggregatedSentinel
		result.AccountID = AggregatedSentinel
		result.InteractionID = AggregatedSentinel
		result.InteractionIDs = nil
		return result, nil
	}

	result.TenantID = members[0].TenantID

	accounts := map[string]bool{}
	for _, m := range members {
		if m.AccountID != "" {
			accounts[m.AccountID] = true
		}
	}
	if len(accounts) == 1 {
		for a := range accounts {
			result.AccountID = a
		}
	}
	return result, nil
}

// ValidatePropagation enforces the per-node-type envelope shape after
// derivation.
func ValidatePropagation(e Envelope, nodeType string) []error {
	var errs []error

	if e.TenantID == "" {
		errs = append(errs, fmt.Errorf("%s must have tenant_id", nodeType))
	}

	switch nodeType {
	case NodeTypeSemanticUnit:
		if e.Text == "" {
			errs = append(errs, fmt.Errorf("semantic_unit must have text"))
		}
		for _, f := range [...]struct{ name, value string }{
			{"interaction_id", e.InteractionID},
			{"interaction_type", e.InteractionType},
			{"account_id", e.AccountID},
			{"timestamp", e.Timestamp},
			{"user_id", e.UserID},
			{"source_system", e.SourceSystem},
		} {
			if f.value == "" {
				errs = append(errs, fmt.Errorf("semantic_unit must have %s", f.name))
			}
		}

	case NodeTypeEntity, NodeTypeRelationship:
		if e.Text != "" {
			errs = append(errs, fmt.Errorf("%s should not contain text field", nodeType))
		}

	case NodeTypeCommunity:
		if e.InteractionID == "" && len(e.InteractionIDs) == 0 {
			errs = append(errs, fmt.Errorf("community must have interaction_id or interaction_ids"))
		}
		if e.UserID == "" && len(e.UserIDs) == 0 {
			errs = append(errs, fmt.Errorf("community must have user_id or user_ids"))
		}
	}

	return errs
}

// collectUnique gathers the singular and plural forms of a field across
// envelopes into one sorted, deduplicated list.
func collectUnique(envs []Envelope, pick func(Envelope) (string, []string)) []string {
	seen := map[string]bool{}
	for _, e := range envs {
		single, plural := pick(e)
		if single != "" {
			seen[single] = true
		}
		for _, v := range plural {
			if v != "" {
				seen[v] = true
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
