package ot

// Apply applies op to content and returns the resulting text. Position is
// clamped into [0, len(content)] and a delete's end is clamped into
// [position, len(content)]; Apply never panics or produces an out-of-bounds
// result.
func Apply(content string, op Operation) string {
	runes := []rune(content)
	op = op.Normalize()
	pos := clamp(op.Position, 0, len(runes))

	switch op.Kind {
	case Insert:
		ins := []rune(op.Content)
		out := make([]rune, 0, len(runes)+len(ins))
		out = append(out, runes[:pos]...)
		out = append(out, ins...)
		out = append(out, runes[pos:]...)
		return string(out)

	case Delete:
		end := clamp(pos+op.Length, pos, len(runes))
		out := make([]rune, 0, len(runes)-(end-pos))
		out = append(out, runes[:pos]...)
		out = append(out, runes[end:]...)
		return string(out)

	default: // Retain
		return content
	}
}

// Validate reports whether op is applicable to content of the given
// (rune) length: Position must lie in [0, contentLength], and a delete's
// span must not run past the end of the content.
func Validate(op Operation, contentLength int) bool {
	op = op.Normalize()
	if op.Position < 0 || op.Position > contentLength {
		return false
	}
	if op.Kind == Delete && op.Position+op.Length > contentLength {
		return false
	}
	return true
}
