package fedauth

import (
	"fmt"
	"strings"
)

// Local attribute names an attribute mapping may target. Email is required;
// the rest are optional.
const (
	AttrEmail       = "email"
	AttrDisplayName = "display_name"
	AttrRole        = "role"
)

// defaultAttributeMapping is used when an organization configures no
// mapping of its own. It matches the standard OIDC claim names.
var defaultAttributeMapping = map[string]string{
	AttrEmail:       "email",
	AttrDisplayName: "name",
}

// mapClaims projects provider claims onto an Identity using the
// organization's attribute mapping (local field → claim name). Missing
// email is a provisioning failure; other unmapped fields are skipped.
func mapClaims(claims map[string]any, mapping map[string]string, defaultRole string) (Identity, error) {
	if len(mapping) == 0 {
		mapping = defaultAttributeMapping
	}

	identity := Identity{
		Subject:    claimString(claims, "sub"),
		Attributes: make(map[string]string),
	}

	for local, claimName := range mapping {
		value := claimString(claims, claimName)
		if value == "" {
			continue
		}
		switch local {
		case AttrEmail:
			identity.Email = value
		case AttrDisplayName:
			identity.DisplayName = value
		case AttrRole:
			identity.Role = value
		default:
			identity.Attributes[local] = value
		}
	}

	if identity.Email == "" {
		claimName := mapping[AttrEmail]
		if claimName == "" {
			claimName = "email"
		}
		return Identity{}, fmt.Errorf("required attribute %q missing: provider returned no %q claim", AttrEmail, claimName)
	}
	identity.Email = strings.ToLower(identity.Email)

	if identity.Role == "" {
		identity.Role = defaultRole
	}

	return identity, nil
}

// claimString extracts a claim as a string, tolerating the few non-string
// shapes providers use for identity claims.
func claimString(claims map[string]any, name string) string {
	if name == "" {
		return ""
	}
	switch v := claims[name].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		return ""
	}
}

// mergeClaims overlays userinfo claims on ID token claims. Userinfo wins on
// conflicts: it is the fresher source.
func mergeClaims(idToken, userinfo map[string]any) map[string]any {
	merged := make(map[string]any, len(idToken)+len(userinfo))
	for k, v := range idToken {
		merged[k] = v
	}
	for k, v := range userinfo {
		merged[k] = v
	}
	return merged
}
