package util

import "strings"

// NormalizeEmail trims the address and lowercases its domain part.
func NormalizeEmail(raw string) string {
	s := strings.TrimSpace(raw)
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return s
	}

	return s[:at] + "@" + strings.ToLower(s[at+1:])
}

// NormalizeRecipients normalizes every address and drops blanks and duplicates,
// keeping the first occurrence. Duplicates are compared case-insensitively.
func NormalizeRecipients(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		s := NormalizeEmail(r)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
