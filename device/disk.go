package device

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-blocktree/common"
	"github.com/mit-pdos/go-blocktree/util"
)

const (
	diskMagic uint64 = 0x626c6b7472656531 // "blktree1"

	DISKHDR   = common.Bnum(0)
	DISKSTART = common.Bnum(1)
)

var _ Device = (*DiskDevice)(nil)

// DiskDevice lays an append-only device over a fixed-size goose disk.
//
// Disk block DISKHDR records how many device blocks are in use; device block
// n is stored at disk block DISKSTART+n. The header is rewritten (followed by
// a barrier) on every Push and Pop, so the device size survives a reopen.
type DiskDevice struct {
	d         disk.Disk
	numBlocks uint64
}

// NewDiskDevice attaches to d, recovering the device from its header or
// initializing a zeroed disk.
func NewDiskDevice(d disk.Disk) (*DiskDevice, error) {
	if d.Size() < DISKSTART {
		return nil, fmt.Errorf("disk of %d blocks has no room for a header: %w",
			d.Size(), ErrBadHeader)
	}
	dec := marshal.NewDec(d.Read(DISKHDR))
	magic := dec.GetInt()
	n := dec.GetInt()
	dd := &DiskDevice{d: d}
	switch {
	case magic == 0 && n == 0:
		dd.writeHdr()
	case magic != diskMagic:
		return nil, fmt.Errorf("magic %#x: %w", magic, ErrBadHeader)
	case n > d.Size()-DISKSTART:
		return nil, fmt.Errorf("%d blocks on a disk of %d: %w",
			n, d.Size(), ErrBadHeader)
	default:
		dd.numBlocks = n
	}
	util.DPrintf(1, "NewDiskDevice: %d of %d blocks used\n",
		dd.numBlocks, d.Size()-DISKSTART)
	return dd, nil
}

func (dd *DiskDevice) hdr() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(diskMagic)
	enc.PutInt(dd.numBlocks)
	return enc.Finish()
}

func (dd *DiskDevice) writeHdr() {
	dd.d.Write(DISKHDR, dd.hdr())
	dd.d.Barrier()
}

func (dd *DiskDevice) BlockSize() uint64 {
	return disk.BlockSize
}

func (dd *DiskDevice) NumBlocks() uint64 {
	return dd.numBlocks
}

func (dd *DiskDevice) GetBlock(n common.Bnum) (Block, error) {
	checkBounds(dd, "read", n)
	return dd.d.Read(DISKSTART + n), nil
}

func (dd *DiskDevice) Push(b Block) error {
	checkSized(dd, b)
	if DISKSTART+dd.numBlocks >= dd.d.Size() {
		return ErrFull
	}
	dd.d.Write(DISKSTART+dd.numBlocks, b)
	dd.numBlocks++
	dd.writeHdr()
	return nil
}

func (dd *DiskDevice) Pop() error {
	if dd.numBlocks == 0 {
		panic("popping empty block device")
	}
	dd.numBlocks--
	dd.writeHdr()
	return nil
}

func (dd *DiskDevice) Replace(n common.Bnum, b Block) error {
	checkSized(dd, b)
	checkBounds(dd, "write", n)
	dd.d.Write(DISKSTART+n, b)
	dd.d.Barrier()
	return nil
}
