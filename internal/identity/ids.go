// Package identity generates deterministic content-addressed identifiers
// for every node kind in the knowledge graph.
//
// All generators are pure functions: the same inputs always produce the same
// id, the tenant is always part of the hashed content so identical content
// under different tenants never collides, and components that are semantically
// unordered (relationship endpoints, community members) are sorted before
// hashing so permuting them does not change the id. Nothing here touches the
// network or takes a lock.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Known id prefixes, one per node kind.
const (
	PrefixDocument     = "doc"
	PrefixSemanticUnit = "sem"
	PrefixEntity       = "ent"
	PrefixRelationship = "rel"
	PrefixAttribute    = "attr"
	PrefixCommunity    = "comm"
)

// hashWidth is the number of lowercase-hex characters kept from the digest.
const hashWidth = 16

// componentSeparator joins canonicalized components before hashing.
const componentSeparator = "|"

// ErrMissingComponent is returned when a required id component is empty.
var ErrMissingComponent = errors.New("missing required id component")

var validPrefixes = map[string]bool{
	PrefixDocument:     true,
	PrefixSemanticUnit: true,
	PrefixEntity:       true,
	PrefixRelationship: true,
	PrefixAttribute:    true,
	PrefixCommunity:    true,
}

// computeHash canonicalizes components and returns the truncated digest.
// The leading component is the primary one and keeps its position; the
// remaining components are sorted so their order never affects the id.
func computeHash(components []string) string {
	canonical := components
	if len(components) > 1 {
		canonical = make([]string, len(components))
		copy(canonical, components)
		sort.Strings(canonical[1:])
	}
	sum := sha256.Sum256([]byte(strings.Join(canonical, componentSeparator)))
	return hex.EncodeToString(sum[:])[:hashWidth]
}

// requireComponents fails fast when any required component is empty.
func requireComponents(names []string, values []string) error {
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s", ErrMissingComponent, names[i])
		}
	}
	return nil
}

// GenerateDocumentID derives a document id from its envelope identity fields.
func GenerateDocumentID(interactionID, tenantID, timestamp string) (string, error) {
	if err := requireComponents(
		[]string{"interaction_id", "tenant_id", "timestamp"},
		[]string{interactionID, tenantID, timestamp},
	); err != nil {
		return "", err
	}
	return PrefixDocument + "_" + computeHash([]string{interactionID, tenantID, timestamp}), nil
}

// GenerateSemanticUnitID derives an id for a text unit extracted from a
// document chunk. The chunk index disambiguates repeated text within a
// document.
func GenerateSemanticUnitID(text, tenantID, docID string, chunkIndex int) (string, error) {
	if err := requireComponents(
		[]string{"text", "tenant_id", "doc_id"},
		[]string{text, tenantID, docID},
	); err != nil {
		return "", err
	}
	components := []string{text, tenantID, docID, strconv.Itoa(chunkIndex)}
	return PrefixSemanticUnit + "_" + computeHash(components), nil
}

// GenerateEntityID derives an id for an extracted entity. Name and type are
// normalized so "John Smith"/"PERSON" and "john smith"/"person" dedup to the
// same node within a tenant.
func GenerateEntityID(entityName, entityType, tenantID string) (string, error) {
	if err := requireComponents(
		[]string{"entity_name", "entity_type", "tenant_id"},
		[]string{entityName, entityType, tenantID},
	); err != nil {
		return "", err
	}
	components := []string{
		strings.ToLower(strings.TrimSpace(entityName)),
		strings.ToLower(entityType),
		tenantID,
	}
	return PrefixEntity + "_" + computeHash(components), nil
}

// GenerateRelationshipID derives an id for a relationship between two
// entities. Endpoints are sorted first, so the id is symmetric in source and
// target.
func GenerateRelationshipID(sourceID, targetID, relationshipType, tenantID string) (string, error) {
	if err := requireComponents(
		[]string{"source_id", "target_id", "relationship_type", "tenant_id"},
		[]string{sourceID, targetID, relationshipType, tenantID},
	); err != nil {
		return "", err
	}
	lo, hi := sourceID, targetID
	if hi < lo {
		lo, hi = hi, lo
	}
	components := []string{lo, hi, strings.ToLower(relationshipType), tenantID}
	return PrefixRelationship + "_" + computeHash(components), nil
}

// GenerateAttributeID derives an id for an attribute attached to an entity.
func GenerateAttributeID(entityID, attributeName, tenantID string) (string, error) {
	if err := requireComponents(
		[]string{"entity_id", "attribute_name", "tenant_id"},
		[]string{entityID, attributeName, tenantID},
	); err != nil {
		return "", err
	}
	components := []string{entityID, strings.ToLower(attributeName), tenantID}
	return PrefixAttribute + "_" + computeHash(components), nil
}

// GenerateCommunityID derives an id for a community of entities at a given
// summarization level. Member order does not matter.
func GenerateCommunityID(memberEntityIDs []string, tenantID string, level int) (string, error) {
	if len(memberEntityIDs) == 0 {
		return "", fmt.Errorf("%w: member_entity_ids", ErrMissingComponent)
	}
	if err := requireComponents([]string{"tenant_id"}, []string{tenantID}); err != nil {
		return "", err
	}
	members := make([]string, len(memberEntityIDs))
	copy(members, memberEntityIDs)
	sort.Strings(members)
	components := []string{strings.Join(members, ","), tenantID, strconv.Itoa(level)}
	return PrefixCommunity + "_" + computeHash(components), nil
}

// ValidateIDFormat reports whether id has a known prefix followed by a
// fixed-width lowercase-hex hash.
func ValidateIDFormat(id string) bool {
	prefix, hash, ok := strings.Cut(id, "_")
	if !ok || !validPrefixes[prefix] {
		return false
	}
	if len(hash) != hashWidth {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
