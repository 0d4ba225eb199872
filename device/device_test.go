package device

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"
)

func mkBlock(bs uint64, b byte) Block {
	block := make(Block, bs)
	for i := range block {
		block[i] = b
	}
	return block
}

// testDevice runs the contract checks shared by all devices; d must start
// empty.
func testDevice(t *testing.T, d Device) {
	assert := assert.New(t)
	bs := d.BlockSize()
	assert.Equal(uint64(0), d.NumBlocks())

	for i := byte(0); i < 4; i++ {
		require.NoError(t, d.Push(mkBlock(bs, i)))
	}
	assert.Equal(uint64(4), d.NumBlocks())
	for i := byte(0); i < 4; i++ {
		b, err := d.GetBlock(uint64(i))
		require.NoError(t, err)
		assert.Equal(mkBlock(bs, i), b, "block %d", i)
	}

	require.NoError(t, d.Replace(1, mkBlock(bs, 9)))
	b, err := d.GetBlock(1)
	require.NoError(t, err)
	assert.Equal(mkBlock(bs, 9), b)

	require.NoError(t, d.Pop())
	assert.Equal(uint64(3), d.NumBlocks())
	require.NoError(t, d.Push(mkBlock(bs, 7)))
	b, err = d.GetBlock(3)
	require.NoError(t, err)
	assert.Equal(mkBlock(bs, 7), b, "push after pop reuses the address")

	assert.Panics(func() { d.GetBlock(4) }, "read past the end")
	assert.Panics(func() { d.Replace(4, mkBlock(bs, 0)) }, "replace past the end")
	assert.Panics(func() { d.Push(make(Block, bs-1)) }, "short block")
}

func TestMemDevice(t *testing.T) {
	testDevice(t, NewMemDevice(32))
}

func TestMemDevicePopEmpty(t *testing.T) {
	d := NewMemDevice(8)
	assert.Panics(t, func() { d.Pop() })
}

func TestBadBlockSize(t *testing.T) {
	assert := assert.New(t)
	assert.Panics(func() { NewMemDevice(0) })
	assert.Panics(func() { NewMemDevice(4) }, "too small for any data")
	assert.Panics(func() { NewMemDevice(100) })
	assert.NotPanics(func() { NewMemDevice(8) })
}

func tempFile(t *testing.T) string {
	dir, err := ioutil.TempDir("", "blocktree")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "blocks")
}

func TestFileDevice(t *testing.T) {
	path := tempFile(t)
	d, err := OpenFileDevice(path, 64)
	require.NoError(t, err)
	testDevice(t, d)
	require.NoError(t, d.Sync())
	require.NoError(t, d.Close())

	d, err = OpenFileDevice(path, 64)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, uint64(4), d.NumBlocks(), "reopen should recover size")
	b, err := d.GetBlock(3)
	require.NoError(t, err)
	assert.Equal(t, mkBlock(64, 7), b)
}

func TestFileDeviceShortRead(t *testing.T) {
	path := tempFile(t)
	d, err := OpenFileDevice(path, 64)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Push(mkBlock(64, 1)))
	require.NoError(t, d.Push(mkBlock(64, 2)))

	// another process truncates the file under the device
	require.NoError(t, os.Truncate(path, 64+10))
	_, err = d.GetBlock(1)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, err = d.GetBlock(0)
	assert.NoError(t, err)
}

func TestFileDeviceFailedPush(t *testing.T) {
	path := tempFile(t)
	d, err := OpenFileDevice(path, 64)
	require.NoError(t, err)
	require.NoError(t, d.Push(mkBlock(64, 1)))
	require.NoError(t, d.Close())

	err = d.Push(mkBlock(64, 2))
	assert.ErrorIs(t, err, unix.EBADF)
	assert.Equal(t, uint64(1), d.NumBlocks(), "failed push leaves the size alone")
}

func TestFileDeviceBadSize(t *testing.T) {
	path := tempFile(t)
	require.NoError(t, ioutil.WriteFile(path, make([]byte, 100), 0666))
	_, err := OpenFileDevice(path, 64)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestDiskDevice(t *testing.T) {
	dd, err := NewDiskDevice(disk.NewMemDisk(10))
	require.NoError(t, err)
	testDevice(t, dd)
}

func TestDiskDeviceRecover(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(10)
	dd, err := NewDiskDevice(d)
	require.NoError(t, err)
	require.NoError(t, dd.Push(mkBlock(disk.BlockSize, 1)))
	require.NoError(t, dd.Push(mkBlock(disk.BlockSize, 2)))

	dd, err = NewDiskDevice(d)
	require.NoError(t, err)
	assert.Equal(uint64(2), dd.NumBlocks())
	b, err := dd.GetBlock(1)
	require.NoError(t, err)
	assert.Equal(mkBlock(disk.BlockSize, 2), b)
}

func TestDiskDeviceFull(t *testing.T) {
	dd, err := NewDiskDevice(disk.NewMemDisk(3))
	require.NoError(t, err)
	require.NoError(t, dd.Push(mkBlock(disk.BlockSize, 1)))
	require.NoError(t, dd.Push(mkBlock(disk.BlockSize, 2)))
	err = dd.Push(mkBlock(disk.BlockSize, 3))
	assert.Equal(t, ErrFull, err)
	assert.Equal(t, uint64(2), dd.NumBlocks())
}

func TestDiskDeviceBadMagic(t *testing.T) {
	d := disk.NewMemDisk(4)
	d.Write(DISKHDR, mkBlock(disk.BlockSize, 0xff))
	_, err := NewDiskDevice(d)
	assert.ErrorIs(t, err, ErrBadHeader)
}
