package normalize

import (
	"fmt"
	"strings"
)

// CodeMapper translates source codes into the shared dimension vocabulary.
// Matching is case-insensitive.
type CodeMapper struct {
	tables map[string]map[string]string
}

// NewCodeMapper builds a mapper from per-dimension code lists.
func NewCodeMapper(codes map[string]map[string]string) *CodeMapper {
	m := &CodeMapper{tables: make(map[string]map[string]string, len(codes))}

	for dim, table := range codes {
		t := make(map[string]string, len(table))
		for from, to := range table {
			t[strings.ToLower(strings.TrimSpace(from))] = to
		}

		m.tables[strings.ToLower(dim)] = t
	}

	return m
}

// Has reports whether dim has a code list.
func (m *CodeMapper) Has(dim string) bool {
	_, ok := m.tables[strings.ToLower(dim)]
	return ok
}

// Map returns the shared value for code. Dimensions without a code list
// pass the code through; unknown codes of mapped dimensions fail with
// ErrUnmappedCode.
func (m *CodeMapper) Map(dim, code string) (string, error) {
	table, ok := m.tables[strings.ToLower(dim)]
	if !ok {
		return strings.TrimSpace(code), nil
	}

	if v, ok := table[strings.ToLower(strings.TrimSpace(code))]; ok {
		return v, nil
	}

	return "", fmt.Errorf("%w: %s=%q", ErrUnmappedCode, dim, code)
}
