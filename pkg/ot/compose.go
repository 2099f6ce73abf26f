package ot

// Compose folds a sequence of sequential operations (each based on the
// previous one's result) into a shorter, equivalent sequence: consecutive
// inserts that abut (the first's end position equals the second's start)
// merge into one insert, and consecutive deletes at the same position
// merge into one delete. Non-mergeable operations are appended verbatim.
// Compose is not commutative — callers must pass operations in application
// order.
func Compose(ops []Operation) []Operation {
	composed := make([]Operation, 0, len(ops))

	for _, raw := range ops {
		op := raw.Normalize()
		if len(composed) == 0 {
			composed = append(composed, op)
			continue
		}

		last := composed[len(composed)-1]
		switch {
		case last.Kind == Insert && op.Kind == Insert &&
			last.Position+runeLen(last.Content) == op.Position:
			last.Content += op.Content
			last.Length = runeLen(last.Content)
			composed[len(composed)-1] = last

		case last.Kind == Delete && op.Kind == Delete && last.Position == op.Position:
			last.Content += op.Content
			last.Length += op.Length
			composed[len(composed)-1] = last

		default:
			composed = append(composed, op)
		}
	}

	return composed
}

// Invert returns the inverse of op: an insert's inverse deletes the span it
// inserted; a delete's inverse re-inserts the text it captured in Content
// (which must be populated — the hub captures it at apply time, see
// DESIGN.md Open Question 3); a retain's inverse is itself.
func Invert(op Operation) Operation {
	op = op.Normalize()
	switch op.Kind {
	case Insert:
		return Operation{
			Kind:     Delete,
			Position: op.Position,
			Content:  op.Content,
			Length:   runeLen(op.Content),
		}
	case Delete:
		return Operation{
			Kind:     Insert,
			Position: op.Position,
			Content:  op.Content,
			Length:   runeLen(op.Content),
		}
	default:
		return op
	}
}
