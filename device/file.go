package device

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-blocktree/common"
	"github.com/mit-pdos/go-blocktree/util"
)

var _ Device = (*FileDevice)(nil)

// FileDevice stores blocks back to back in a regular file. The file length
// is always NumBlocks()*BlockSize().
//
// Push syncs the file before returning, so a pushed block is durable; Replace
// does not, and needs a Sync to be made durable.
type FileDevice struct {
	fd        int
	blockSize uint64
	numBlocks uint64
}

// OpenFileDevice opens (or creates) the block file at path. An existing
// file's blocks are kept.
func OpenFileDevice(path string, blockSize uint64) (*FileDevice, error) {
	checkBlockSize(blockSize)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if uint64(stat.Size)%blockSize != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: size %d is not a multiple of %d: %w",
			path, stat.Size, blockSize, ErrBadHeader)
	}
	d := &FileDevice{
		fd:        fd,
		blockSize: blockSize,
		numBlocks: uint64(stat.Size) / blockSize,
	}
	util.DPrintf(1, "OpenFileDevice: %s with %d blocks\n", path, d.numBlocks)
	return d, nil
}

func (d *FileDevice) BlockSize() uint64 {
	return d.blockSize
}

func (d *FileDevice) NumBlocks() uint64 {
	return d.numBlocks
}

func (d *FileDevice) GetBlock(n common.Bnum) (Block, error) {
	checkBounds(d, "read", n)
	buf := make(Block, d.blockSize)
	m, err := unix.Pread(d.fd, buf, int64(n*d.blockSize))
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", n, err)
	}
	if uint64(m) != d.blockSize {
		return nil, fmt.Errorf("read block %d: %d of %d bytes: %w",
			n, m, d.blockSize, io.ErrUnexpectedEOF)
	}
	util.DPrintf(10, "read: %v\n", n)
	return buf, nil
}

func (d *FileDevice) pwrite(n common.Bnum, b Block) error {
	m, err := unix.Pwrite(d.fd, b, int64(n*d.blockSize))
	if err != nil {
		return fmt.Errorf("write block %d: %w", n, err)
	}
	if m != len(b) {
		return fmt.Errorf("write block %d: %d of %d bytes: %w",
			n, m, len(b), io.ErrShortWrite)
	}
	return nil
}

func (d *FileDevice) Push(b Block) error {
	checkSized(d, b)
	err := d.pwrite(d.numBlocks, b)
	if err == nil {
		err = d.Sync()
	}
	if err != nil {
		// drop whatever part of the block reached the file
		terr := unix.Ftruncate(d.fd, int64(d.numBlocks*d.blockSize))
		if terr != nil {
			return fmt.Errorf("%w (truncate after failed push: %v)", err, terr)
		}
		return err
	}
	d.numBlocks++
	return nil
}

func (d *FileDevice) Pop() error {
	if d.numBlocks == 0 {
		panic("popping empty block device")
	}
	err := unix.Ftruncate(d.fd, int64((d.numBlocks-1)*d.blockSize))
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	d.numBlocks--
	return nil
}

func (d *FileDevice) Replace(n common.Bnum, b Block) error {
	checkSized(d, b)
	checkBounds(d, "write", n)
	return d.pwrite(n, b)
}

// Sync ensures pushed and replaced blocks are persisted.
//
// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
// disk barrier (that needs fcntl F_FULLFSYNC).
func (d *FileDevice) Sync() error {
	err := unix.Fsync(d.fd)
	if err != nil {
		return fmt.Errorf("file sync failed: %w", err)
	}
	return nil
}

// Close releases the file descriptor and makes the device unusable.
func (d *FileDevice) Close() error {
	return unix.Close(d.fd)
}
