package importer

import (
	"strings"

	"github.com/mapforge/server/internal/tabular"
)

// ColumnMapping associates semantic roles with column headers of an
// imported file. Empty fields mean the role is unmapped. Exactly one role
// may claim a given header; NameColumn is effectively required, since rows
// without a name are discarded downstream.
type ColumnMapping struct {
	NameColumn        string `json:"name_column,omitempty"`
	AddressColumn     string `json:"address_column,omitempty"`
	DescriptionColumn string `json:"description_column,omitempty"`
	CategoryColumn    string `json:"category_column,omitempty"`
	LatitudeColumn    string `json:"latitude_column,omitempty"`
	LongitudeColumn   string `json:"longitude_column,omitempty"`
	TypeColumn        string `json:"type_column,omitempty"`
}

// columnRole pairs a semantic role with its header synonyms. Long synonyms
// match as substrings ("Street Address" matches "address"); short tokens
// like "lat" or "y" match only exactly, to avoid false hits inside
// unrelated words.
type columnRole struct {
	assign   func(*ColumnMapping, string)
	synonyms []string
}

// classifierRoles is ordered: earlier roles claim headers first, and a
// claimed header is never reconsidered for a later role.
var classifierRoles = []columnRole{
	{
		assign:   func(m *ColumnMapping, h string) { m.NameColumn = h },
		synonyms: []string{"name", "title", "place", "location", "site", "venue", "business"},
	},
	{
		assign:   func(m *ColumnMapping, h string) { m.AddressColumn = h },
		synonyms: []string{"address", "location", "street", "addr", "full_address", "complete_address"},
	},
	{
		assign:   func(m *ColumnMapping, h string) { m.DescriptionColumn = h },
		synonyms: []string{"description", "desc", "notes", "note", "details", "info", "comment"},
	},
	{
		assign:   func(m *ColumnMapping, h string) { m.CategoryColumn = h },
		synonyms: []string{"category", "kind", "group", "tag", "classification"},
	},
	{
		assign:   func(m *ColumnMapping, h string) { m.LatitudeColumn = h },
		synonyms: []string{"latitude", "lat", "y"},
	},
	{
		assign:   func(m *ColumnMapping, h string) { m.LongitudeColumn = h },
		synonyms: []string{"longitude", "lng", "lon", "long", "x"},
	},
	{
		assign:   func(m *ColumnMapping, h string) { m.TypeColumn = h },
		synonyms: []string{"shape", "shape_type", "zone_type", "type", "geometry"},
	},
}

// SuggestColumnMapping inspects the headers of the parsed rows and proposes
// a best-effort mapping from semantic roles to columns. First matching
// header wins per role. If nothing matches the name role, the first header
// is used so the normalizer always has a (possibly wrong) name source. The
// suggestion is advisory: callers may override any field before
// normalization.
func SuggestColumnMapping(rows []tabular.Row) ColumnMapping {
	var mapping ColumnMapping
	if len(rows) == 0 {
		return mapping
	}

	headers := rows[0].Headers()
	claimed := make(map[string]bool, len(headers))

	for _, role := range classifierRoles {
		for _, header := range headers {
			if claimed[header] {
				continue
			}
			if headerMatches(header, role.synonyms) {
				role.assign(&mapping, header)
				claimed[header] = true
				break
			}
		}
	}

	if mapping.NameColumn == "" && len(headers) > 0 {
		mapping.NameColumn = headers[0]
	}

	return mapping
}

// headerMatches tests a header name case-insensitively against a synonym
// set. Synonyms longer than three characters also match as substrings.
func headerMatches(header string, synonyms []string) bool {
	lower := strings.ToLower(strings.TrimSpace(header))
	for _, syn := range synonyms {
		if lower == syn {
			return true
		}
		if len(syn) > 3 && strings.Contains(lower, syn) {
			return true
		}
	}
	return false
}
