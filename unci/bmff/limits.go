package bmff

// Limits bounds the work a single parse may perform on untrusted input.
// A nil *Limits disables every check; that mode exists for stress
// testing, not production use. Zero-valued fields disable their own
// check only.
//
// A Limits value is read-only during parsing and may be shared across
// concurrent parses of different inputs.
type Limits struct {
	// MaxBoxDepth bounds container nesting.
	MaxBoxDepth int

	// MaxAllocation bounds the cumulative bytes a parse may allocate
	// for box payloads and size-driven tables.
	MaxAllocation int64

	// MaxTiles bounds the tile column x row product declared by an
	// uncompressed-frame config box.
	MaxTiles uint64

	// MaxComponents bounds declared component counts.
	MaxComponents uint32

	// MaxPatternPixels bounds the cell count of sensor pattern boxes.
	MaxPatternPixels uint32
}

// DefaultLimits returns the limits used by NewReader.
func DefaultLimits() *Limits {
	return &Limits{
		MaxBoxDepth:      32,
		MaxAllocation:    512 << 20,
		MaxTiles:         4096,
		MaxComponents:    256,
		MaxPatternPixels: 256,
	}
}

func (l *Limits) allowDepth(depth int) bool {
	return l == nil || l.MaxBoxDepth <= 0 || depth <= l.MaxBoxDepth
}

// checkTiles validates a tile grid before any multiplication-derived
// allocation. Each factor is a 32-bit wire value plus one, so the
// product of two maximal factors wraps a uint64; the ceiling test uses
// division instead of multiplying.
func (l *Limits) checkTiles(cols, rows uint64) error {
	if l == nil {
		return nil
	}
	if rows > 0 && cols > 0xFFFFFFFF/rows {
		return invalidf(SubLimitExceeded, "%d x %d tiles overflow the tile count", cols, rows)
	}
	if l.MaxTiles > 0 && cols*rows > l.MaxTiles {
		return invalidf(SubLimitExceeded, "%d x %d tiles exceed the security limit of %d", cols, rows, l.MaxTiles)
	}
	return nil
}

func (l *Limits) checkComponents(count uint32) error {
	if l == nil || l.MaxComponents == 0 || count <= l.MaxComponents {
		return nil
	}
	return invalidf(SubLimitExceeded, "%d components exceed the security limit of %d", count, l.MaxComponents)
}

func (l *Limits) checkPatternPixels(count uint32) error {
	if l == nil || l.MaxPatternPixels == 0 || count <= l.MaxPatternPixels {
		return nil
	}
	return invalidf(SubLimitExceeded, "%d pattern pixels exceed the security limit of %d", count, l.MaxPatternPixels)
}

// allocHint caps a wire-declared element count to a sane initial slice
// capacity. The slice grows to the true count as elements decode, so a
// hostile count cannot claim memory up front even when limits are
// disabled; with limits enabled the allocation budget was already
// charged for the full count.
func allocHint(n uint64) int {
	const max = 1 << 16
	if n > max {
		return max
	}
	return int(n)
}

// allocCounter tracks cumulative allocation for one parse. It is owned
// by the top-level Reader and shared down into nested box readers.
type allocCounter struct {
	used int64
}

// reserve accounts n bytes against the allocation ceiling. It must be
// called before the allocation it covers.
func (c *allocCounter) reserve(n int64, l *Limits) error {
	if c == nil || l == nil || l.MaxAllocation <= 0 {
		return nil
	}
	if n < 0 || c.used+n < 0 || c.used+n > l.MaxAllocation {
		return limitf("allocating %d bytes exceeds the remaining allocation budget (%d of %d used)", n, c.used, l.MaxAllocation)
	}
	c.used += n
	return nil
}
