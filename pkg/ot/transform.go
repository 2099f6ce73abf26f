package ot

// Transform reconciles two concurrent operations a and b, both based on the
// same document state, and returns (a', b') such that applying a then b'
// yields the same text as applying b then a' (convergence).
//
// Unknown combinations (anything involving Retain) are returned unchanged:
// a Retain never touches content, so there is nothing to reconcile.
func Transform(a, b Operation) (Operation, Operation) {
	a = a.Normalize()
	b = b.Normalize()

	switch {
	case a.Kind == Insert && b.Kind == Insert:
		return transformInsertInsert(a, b)
	case a.Kind == Delete && b.Kind == Delete:
		return transformDeleteDelete(a, b)
	case a.Kind == Insert && b.Kind == Delete:
		return transformInsertDelete(a, b)
	case a.Kind == Delete && b.Kind == Insert:
		bp, ap := transformInsertDelete(b, a)
		return ap, bp
	default:
		return a, b
	}
}

// transformInsertInsert: ties break in favor of a shifting b rightward —
// a's site wins the prefix when both insert at the same position.
func transformInsertInsert(a, b Operation) (Operation, Operation) {
	if a.Position <= b.Position {
		b.Position += runeLen(a.Content)
		return a, b
	}
	a.Position += runeLen(b.Content)
	return a, b
}

// transformDeleteDelete: each side removes only the span the other has not
// already removed.
func transformDeleteDelete(a, b Operation) (Operation, Operation) {
	aEnd := a.Position + a.Length
	bEnd := b.Position + b.Length

	switch {
	case aEnd <= b.Position:
		b.Position = maxInt(0, b.Position-a.Length)
		return a, b
	case bEnd <= a.Position:
		a.Position = maxInt(0, a.Position-b.Length)
		return a, b
	default:
		overlap := maxInt(0, minInt(aEnd, bEnd)-maxInt(a.Position, b.Position))
		if a.Position < b.Position {
			a.Length = b.Position - a.Position
			b.Position = a.Position
			b.Length = maxInt(0, b.Length-overlap)
		} else {
			b.Length = a.Position - b.Position
			a.Position = b.Position
			a.Length = maxInt(0, a.Length-overlap)
		}
		return a, b
	}
}

// transformInsertDelete transforms an insert i against a delete d.
func transformInsertDelete(i, d Operation) (Operation, Operation) {
	dEnd := d.Position + d.Length

	switch {
	case i.Position <= d.Position:
		d.Position += runeLen(i.Content)
		return i, d
	case i.Position >= dEnd:
		i.Position = maxInt(0, i.Position-d.Length)
		return i, d
	default:
		// Insert lands inside the delete region: the insertion is
		// preserved at the delete's start, and the delete grows to
		// subsume it on replay in the other ordering.
		i.Position = d.Position
		d.Length += runeLen(i.Content)
		return i, d
	}
}
