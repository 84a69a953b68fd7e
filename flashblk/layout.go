package flashblk

import (
	"github.com/pkg/errors"

	"github.com/keks/flashfs"
)

// Layout is the static partition of a flash region into a header group and
// a data group. Both groups are ordered; the order is the rotation order in
// which blocks are taken into use.
type Layout struct {
	// BaseAddress is where the region starts in the address space of the
	// flash controller. Devices are addressed relative to the region; only
	// adapters that talk to the controller, like flashdev.Funcs, add it.
	BaseAddress uint32
	SectorSize  uint32

	HeaderBlocks []flashfs.BlockID
	DataBlocks   []flashfs.BlockID
}

// Validate checks the partition for structural problems.
func (l Layout) Validate() error {
	if l.SectorSize == 0 {
		return errors.New("flashblk: sector size must not be zero")
	}

	if len(l.HeaderBlocks) < 2 {
		return errors.Errorf("flashblk: need at least 2 header blocks, got %d", len(l.HeaderBlocks))
	}

	if len(l.DataBlocks) < 2 {
		return errors.Errorf("flashblk: need at least 2 data blocks, got %d", len(l.DataBlocks))
	}

	seen := make(map[flashfs.BlockID]bool)
	for _, id := range l.Blocks() {
		if seen[id] {
			return errors.Errorf("flashblk: block %d is configured twice", id)
		}
		seen[id] = true

		if uint64(l.BaseAddress)+uint64(id+1)*uint64(l.SectorSize) > 1<<32 {
			return errors.Errorf("flashblk: block %d lies beyond the 32 bit address space", id)
		}
	}

	return nil
}

// Blocks lists every configured block, header group first.
func (l Layout) Blocks() []flashfs.BlockID {
	ids := make([]flashfs.BlockID, 0, len(l.HeaderBlocks)+len(l.DataBlocks))
	ids = append(ids, l.HeaderBlocks...)
	return append(ids, l.DataBlocks...)
}

// Block returns a view of physical block id on dev.
func (l Layout) Block(dev flashfs.Device, id flashfs.BlockID) *Block {
	return newBlock(dev, l.SectorSize, id)
}

// Open returns views of the header group and of the data group, in
// rotation order.
func (l Layout) Open(dev flashfs.Device) (header, data []*Block) {
	for _, id := range l.HeaderBlocks {
		header = append(header, l.Block(dev, id))
	}
	for _, id := range l.DataBlocks {
		data = append(data, l.Block(dev, id))
	}
	return header, data
}

// Locate returns the index within the data group of the block holding the
// range [addr, addr+n).
func (l Layout) Locate(addr, n uint32) (int, bool) {
	for i, id := range l.DataBlocks {
		blk := Block{addr: uint32(id) * l.SectorSize, size: int(l.SectorSize)}
		if blk.Contains(addr, n) {
			return i, true
		}
	}
	return 0, false
}
