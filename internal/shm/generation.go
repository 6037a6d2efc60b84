package shm

// The generation register packs two things: the low 31 bits are a
// monotonically increasing epoch, bumped by the driver whenever an endpoint's
// client is reassigned or reconfigured, and the high bit marks "endpoint has
// an active client".

const generationActiveBit uint32 = 1 << 31

// GenerationNumber extracts the epoch from a generation value.
func GenerationNumber(g uint32) uint32 {
	return g &^ generationActiveBit
}

// GenerationIsActive reports whether the generation's active bit is set.
func GenerationIsActive(g uint32) bool {
	return g&generationActiveBit != 0
}

// MakeGeneration builds a generation value from an epoch and an active flag.
// Used by the driver side (and the loopback driver in tests).
func MakeGeneration(number uint32, active bool) uint32 {
	g := number &^ generationActiveBit
	if active {
		g |= generationActiveBit
	}
	return g
}
