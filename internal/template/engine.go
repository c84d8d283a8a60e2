// Package template personalizes message bodies for a recipient.
package template

import (
	"regexp"
	"strings"

	"github.com/JimiYounger/connect-sub001/internal/model"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Render substitutes {{placeholders}} in content. Recipient name and email
// placeholders always resolve, organizational ones only when the recipient has
// a value, custom variables by exact key. Anything left unresolved is removed.
func Render(content string, r model.Recipient, vars map[string]*string) string {
	values := map[string]string{
		"firstName": r.FirstName,
		"lastName":  r.LastName,
		"fullName":  r.FullName(),
		"email":     r.Email,
	}

	optional := map[string]*string{
		"roleType": r.RoleType,
		"team":     r.Team,
		"area":     r.Area,
		"region":   r.Region,
	}
	for k, v := range optional {
		if v != nil {
			values[k] = *v
		}
	}

	for k, v := range vars {
		if _, builtin := values[k]; builtin {
			continue
		}
		if v == nil {
			values[k] = ""
			continue
		}
		values[k] = *v
	}

	out := placeholder.ReplaceAllStringFunc(content, func(tok string) string {
		key := strings.TrimSpace(placeholder.FindStringSubmatch(tok)[1])
		return values[key]
	})
	return stripTokens(out)
}

// stripTokens deletes tokens until none remain. Substituted values may carry
// tokens of their own and nested braces reassemble after a pass.
func stripTokens(s string) string {
	for {
		next := placeholder.ReplaceAllString(s, "")
		if next == s {
			return s
		}
		s = next
	}
}

// Placeholders lists the distinct keys referenced by content in order of
// first appearance.
func Placeholders(content string) []string {
	var keys []string
	seen := map[string]struct{}{}
	for _, m := range placeholder.FindAllStringSubmatch(content, -1) {
		k := strings.TrimSpace(m[1])
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Vars converts a plain string map into the nullable form Render takes.
func Vars(m map[string]string) map[string]*string {
	if m == nil {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = &v
	}
	return out
}
