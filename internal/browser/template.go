package browser

import "strings"

// Expand replaces every {key} in tmpl with the value returned by lookup.
// Keys that lookup does not know expand to the empty string. A '{' without
// a closing brace is copied as is.
func Expand(tmpl string, lookup func(key string) (string, bool)) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		key := tmpl[i+1 : i+1+end]
		if strings.ContainsRune(key, '{') {
			b.WriteByte('{')
			i++
			continue
		}
		if v, ok := lookup(strings.TrimSpace(key)); ok {
			b.WriteString(v)
		}
		i += end + 2
	}
	return b.String()
}

// IsTemplate reports whether s contains a {key} placeholder.
func IsTemplate(s string) bool {
	open := strings.IndexByte(s, '{')
	return open >= 0 && strings.IndexByte(s[open:], '}') > 1
}
