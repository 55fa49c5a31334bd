package unci

// IDMode selects how an IDCreator hands out identifiers across
// namespaces.
type IDMode int

const (
	// IDModePerNamespace runs an independent counter per namespace, so
	// the first item, the first track, and the first entity group all
	// get ID 1.
	IDModePerNamespace IDMode = iota

	// IDModeUnified draws every namespace from one shared counter,
	// making IDs unique across the whole file.
	IDModeUnified
)

// Namespace identifies the kind of structure an ID is minted for.
type Namespace int

const (
	NamespaceItem Namespace = iota
	NamespaceTrack
	NamespaceEntityGroup
)

// IDCreator mints the numeric identifiers used for items, tracks and
// entity groups. IDs start at 1; 0 is never issued.
type IDCreator struct {
	mode IDMode
	next [3]uint32 // indexed by Namespace; only next[0] used when unified
}

// NewIDCreator returns an IDCreator in the given mode.
func NewIDCreator(mode IDMode) *IDCreator {
	c := &IDCreator{mode: mode}
	for i := range c.next {
		c.next[i] = 1
	}
	return c
}

// Mode reports the creator's allocation mode.
func (c *IDCreator) Mode() IDMode { return c.mode }

// NewID returns the next identifier for the namespace. Exhausting the
// 32-bit ID space is a usage error; the creator never wraps back to
// reissuing IDs.
func (c *IDCreator) NewID(ns Namespace) (uint32, error) {
	if ns < NamespaceItem || ns > NamespaceEntityGroup {
		return 0, usagef("unknown ID namespace %d", ns)
	}
	slot := int(ns)
	if c.mode == IDModeUnified {
		slot = 0
	}
	id := c.next[slot]
	if id == 0 {
		return 0, usagef("ID namespace exhausted")
	}
	c.next[slot] = id + 1
	return id, nil
}
