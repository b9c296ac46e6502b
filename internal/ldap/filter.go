package ldap

import (
	"encoding/hex"
	"regexp"
	"strings"
)

// Filter is a search filter flattened to its equality assertions, keyed by
// lower case attribute name. Boolean structure is discarded.
type Filter map[string][]string

var assertionRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*=`)

// FlattenFilter collects every attr=value assertion of an LDAP filter string.
// Assertion values are unescaped per RFC 4515, so binary values such as
// objectGUID come back as raw bytes. Presence and substring assertions are
// skipped, as are >=, <= and ~= comparisons.
//
// Input:  "(&(objectclass=person)(objectclass=user)(samaccountname=jack))"
// Output: {"objectclass": {"person", "user"}, "samaccountname": {"jack"}}
func FlattenFilter(filter string) Filter {
	out := Filter{}

	parts := strings.FieldsFunc(filter, func(r rune) bool {
		return r == '(' || r == ')'
	})

	for _, part := range parts {
		if !assertionRegex.MatchString(part) {
			continue
		}

		key, raw, _ := strings.Cut(part, "=")
		if strings.Contains(raw, "*") {
			continue
		}

		key = strings.ToLower(key)
		out[key] = append(out[key], unescapeFilterValue(raw))
	}

	return out
}

// First returns the first value asserted for key.
func (f Filter) First(key string) (string, bool) {
	values, ok := f[strings.ToLower(key)]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Has reports whether key is present in the filter.
func (f Filter) Has(key string) bool {
	_, ok := f[strings.ToLower(key)]
	return ok
}

// HasValue reports whether any value asserted for key equals value, ignoring case.
func (f Filter) HasValue(key, value string) bool {
	for _, v := range f[strings.ToLower(key)] {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// unescapeFilterValue decodes \XX escapes into raw bytes. A backslash not
// followed by two hex digits escapes the next character.
func unescapeFilterValue(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))

	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i == len(value)-1 {
			b.WriteByte(c)
			continue
		}

		if i+2 < len(value) {
			if decoded, err := hex.DecodeString(value[i+1 : i+3]); err == nil {
				b.Write(decoded)
				i += 2
				continue
			}
		}

		b.WriteByte(value[i+1])
		i++
	}

	return b.String()
}
