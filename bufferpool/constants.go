package bufferpool

// BlockID identifies a block, persistent or anonymous. Values below
// MaxPersistentID are persistent (owned by a blockio.Manager); values at or
// above it are anonymous, minted by BufferManager itself.
type BlockID uint64

const (
	// BlockSize is the on-disk payload size of a persistent block.
	BlockSize = 4096

	// BlockHeaderSize is the bookkeeping overhead reserved ahead of every
	// resident buffer (page LSN, checksum, etc. in a fuller storage stack;
	// here purely an accounting constant, matching spec.md section 6).
	BlockHeaderSize = 8

	// BlockAllocSize is the total bytes charged against the budget for one
	// persistent block slot.
	BlockAllocSize = BlockSize + BlockHeaderSize

	// MaxPersistentID is the threshold separating persistent ids (below) from
	// anonymous ids (at or above).
	MaxPersistentID BlockID = 1 << 62
)
