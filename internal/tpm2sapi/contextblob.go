package tpm2sapi

// ContextBlob is the broker's Go representation of a TPMS_CONTEXT: the
// opaque saved state of a transient object or session, round-tripped
// through ContextSave/ContextLoad without being interpreted.
type ContextBlob struct {
	Sequence    uint64
	SavedHandle uint32
	Hierarchy   uint32
	Blob        []byte
}
