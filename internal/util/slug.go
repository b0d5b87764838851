package util

import "strings"

// Slugify lowercases a name and keeps only letters, digits and hyphens.
// Runs of other characters collapse into a single hyphen.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == 'á':
			b.WriteRune('a')
			lastHyphen = false
		case r == 'é':
			b.WriteRune('e')
			lastHyphen = false
		case r == 'í':
			b.WriteRune('i')
			lastHyphen = false
		case r == 'ó':
			b.WriteRune('o')
			lastHyphen = false
		case r == 'ú', r == 'ü':
			b.WriteRune('u')
			lastHyphen = false
		case r == 'ñ':
			b.WriteRune('n')
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
