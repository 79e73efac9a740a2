package sanitize

import "regexp"

// Plain email addresses (case-insensitive)
var reEmail = regexp.MustCompile(`(?i)[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}`)

// Common phone shapes: +34 6xx..., (xxx) xxx-xxxx, 6xxxxxxxx, etc.
// Only digits, spaces, minus, dot, parentheses and plus are allowed,
// minimum 9 digits total so short figures survive.
var rePhone = regexp.MustCompile(`\+?\d[\d\s\-\.\(\)]{7,}\d`)

// Spanish national ID (DNI/NIE): 8 digits + letter, or X/Y/Z prefix.
var reDNI = regexp.MustCompile(`(?i)\b[XYZ]?\d{7,8}[A-Z]\b`)

// RedactPII masks emails, phone numbers and national IDs in free text.
// Applied to consultation previews before lawyers without an assignment
// can read them.
func RedactPII(s string) string {
	if s == "" {
		return s
	}
	s = reEmail.ReplaceAllString(s, "[email oculto]")
	s = rePhone.ReplaceAllString(s, "[teléfono oculto]")
	s = reDNI.ReplaceAllString(s, "[documento oculto]")
	return s
}

// Summary truncates text for listings, cutting at a word boundary.
// Counts runes, not bytes, so accented text never ends mid-character.
func Summary(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	i := max
	for i > 0 && runes[i] != ' ' {
		i--
	}
	if i <= 0 {
		i = max
	}
	return string(runes[:i]) + "…"
}
