package memory

// Canary values stamped into reclaimable storage. Allocation stamps
// CanaryLive; Reclaim implementations must overwrite it with CanaryPoison
// before the storage becomes reusable, so that a late dereference trips an
// assert instead of silently reading recycled memory.
const (
	CanaryLive   uint64 = 0xFEEDFACECAFEBEEF
	CanaryPoison uint64 = 0xDEADDEADDEADDEAD
)

// Node is a unit of storage managed by the Reclaimer. Ownership transfers
// to the Reclaimer the moment the node is retired; the structure that
// unlinked it must not touch it afterwards.
type Node interface {
	// RetireEpoch reports the global epoch at which the node was retired.
	RetireEpoch() uint64
	SetRetireEpoch(uint64)

	// Reclaim poisons the storage and returns it to its owner for reuse.
	// Called by Collect once no pinned thread can still observe the node.
	Reclaim()
}
