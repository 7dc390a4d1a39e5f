package articulation

// objectCandidates returns every top-level {...} span in s, in order. Braces
// inside JSON strings are ignored. Scanning bytes is safe because UTF-8 never
// reuses the ASCII delimiters inside multi-byte sequences.
func objectCandidates(s string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case b == '}' && depth > 0:
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}
