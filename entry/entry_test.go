package entry

import (
	"bytes"
	"io"
	"io/ioutil"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-blocktree/device"
	"github.com/mit-pdos/go-blocktree/seq"
)

func data(sz int) []byte {
	d := make([]byte, sz)
	rand.Read(d)
	return d
}

func writeEntries(t *testing.T, dev device.Device, entries [][]byte) uint64 {
	sw := seq.NewWriter(dev)
	w := NewWriter(sw)
	for _, e := range entries {
		w.Write(e)
		require.NoError(t, w.CompleteEntry())
	}
	w.Close()
	first, _, err := sw.Finish()
	require.NoError(t, err)
	return first
}

func TestEntryRoundTrip(t *testing.T) {
	entries := [][]byte{
		[]byte("hello"),
		{},
		data(1),
		data(300),
		data(65535),
		[]byte("world"),
	}
	for _, bs := range []uint64{8, 32, 4096} {
		dev := device.NewMemDevice(bs)
		first := writeEntries(t, dev, entries)

		r := NewReader(seq.NewReader(dev, first))
		for i, e := range entries {
			ok, err := r.Enter()
			require.NoError(t, err)
			require.True(t, ok, "entry %d", i)
			assert.Equal(t, uint64(len(e)), r.Len())
			got, err := ioutil.ReadAll(r)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(e, got), "bs %d entry %d", bs, i)
		}
		ok, err := r.Enter()
		require.NoError(t, err)
		assert.False(t, ok, "no more entries")
	}
}

func TestEntrySize(t *testing.T) {
	assert.Equal(t, uint64(2), Size(0))
	assert.Equal(t, uint64(7), Size(5))
}

func TestSkipPartialEntry(t *testing.T) {
	dev := device.NewMemDevice(16)
	first := writeEntries(t, dev, [][]byte{
		[]byte("first entry"), []byte("second"), []byte("third"),
	})
	r := NewReader(seq.NewReader(dev, first))

	ok, err := r.Enter()
	require.NoError(t, err)
	require.True(t, ok)
	buf := make([]byte, 3)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "fir", string(buf[:n]))

	ok, err = r.Enter()
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.Enter()
	require.NoError(t, err)
	require.True(t, ok, "second entry skipped without reading")
	got, err := r.ReadEntry()
	require.NoError(t, err)
	assert.Equal(t, "third", string(got))
}

func TestReadStopsAtBoundary(t *testing.T) {
	dev := device.NewMemDevice(32)
	first := writeEntries(t, dev, [][]byte{[]byte("ab"), []byte("cd")})
	r := NewReader(seq.NewReader(dev, first))
	_, err := r.Enter()
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:n]))
	n, err = r.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestTooLarge(t *testing.T) {
	dev := device.NewMemDevice(4096)
	sw := seq.NewWriter(dev)
	w := NewWriter(sw)
	w.Write(data(65536))
	err := w.CompleteEntry()
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NotPanics(t, w.Close, "oversized record is dropped")
	assert.Equal(t, uint64(0), sw.Len())
}

func TestMisuse(t *testing.T) {
	assert.Panics(t, func() {
		w := NewWriter(&bytes.Buffer{})
		w.Write([]byte("x"))
		w.Close()
	}, "unflushed record")

	r := NewReader(bytes.NewReader(nil))
	assert.Panics(t, func() { r.Read(make([]byte, 1)) }, "read before enter")
}

func TestTruncated(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{5}))
	_, err := r.Enter()
	assert.ErrorIs(t, err, ErrTruncated)

	r = NewReader(bytes.NewReader([]byte{5, 0, 'a', 'b'}))
	ok, err := r.Enter()
	require.NoError(t, err)
	require.True(t, ok)
	_, err = r.ReadEntry()
	assert.ErrorIs(t, err, ErrTruncated)
}
