package tenant

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RolePrefix is prepended to every derived warehouse role name.
const RolePrefix = "TENANT_"

// ShortIDLength is the fixed truncation length used for per-tenant schema names.
// 8 hex characters give 2^32 values; with tenant counts in the thousands the
// collision probability stays negligible.
const ShortIDLength = 8

// RoleName derives the warehouse role for a tenant: the full UUID uppercased
// with dashes normalized to underscores. The mapping is pure and injective,
// so two tenants can never share a role.
func RoleName(id uuid.UUID) string {
	return RolePrefix + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "_"))
}

// ShortID returns the first 8 hexadecimal characters of a UUID, uppercased,
// with dashes stripped. Used for schema and group naming where a full UUID
// would be unwieldy.
func ShortID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return strings.ToUpper(hex[:ShortIDLength])
}

// SchemaName derives the per-tenant target schema for a data connector:
// `<source>_<SHORTID>`. The name is part of the external contract and must
// never change once a connector has been created against it.
func SchemaName(source string, id uuid.UUID) string {
	return source + "_" + ShortID(id)
}

// GroupName builds a human-readable connector group label from the company
// name plus a short tenant suffix to keep names unique and traceable.
func GroupName(companyName string, id uuid.UUID) string {
	return strings.TrimSpace(companyName) + "_" + ShortID(id)
}

// ValidateIdentifier enforces the allow-list for names spliced into
// administrative warehouse statements. Derived names always pass; anything
// else arriving here indicates corrupted input and is rejected before a
// single statement is issued.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier is empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("identifier %q exceeds 255 characters", name)
	}
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return fmt.Errorf("identifier %q contains disallowed character %q", name, r)
		}
	}
	return nil
}
