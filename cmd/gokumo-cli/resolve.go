package main

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// normalizeName folds case and treats runs of spaces, dashes and underscores as one separator.
func normalizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	var matches []string
	for label, id := range options {
		if normalizeName(label) == needle {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		available := make([]string, 0, len(options))
		for label := range options {
			available = append(available, label)
		}
		sort.Strings(available)
		return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%s %q is ambiguous: %s", kind, input, strings.Join(matches, ", "))
	}
}
