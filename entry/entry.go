// Package entry frames discrete records inside a byte stream.
//
// Each record is a 2-byte little-endian length followed by that many bytes.
// The end of the records is the end of the underlying stream.
package entry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/mit-pdos/go-blocktree/common"
	"github.com/mit-pdos/go-blocktree/util"
)

var (
	// ErrTooLarge is returned for a record longer than MAXENTRYLEN bytes.
	ErrTooLarge = errors.New("entry: record exceeds 65535 bytes")
	// ErrTruncated means the stream ended inside a record.
	ErrTruncated = errors.New("entry: truncated record")
)

// Size is the framed size of a record with an n-byte payload.
func Size(n uint64) uint64 {
	return n + common.ENTLENSZ
}

var _ io.Writer = (*Writer)(nil)

// Writer buffers one record at a time and emits it on CompleteEntry.
type Writer struct {
	w   io.Writer
	buf []byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends p to the current record.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// CompleteEntry writes out the current record and starts a new one.
//
// A record over MAXENTRYLEN bytes is dropped and reported as ErrTooLarge.
func (w *Writer) CompleteEntry() error {
	n := uint64(len(w.buf))
	if n > common.MAXENTRYLEN {
		w.buf = w.buf[:0]
		return fmt.Errorf("%d bytes: %w", n, ErrTooLarge)
	}
	var hdr [common.ENTLENSZ]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(n))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close checks that every record was completed. It does not close the
// underlying writer.
func (w *Writer) Close() {
	if len(w.buf) != 0 {
		panic(fmt.Sprintf("entry: %d bytes written without CompleteEntry",
			len(w.buf)))
	}
}

var _ io.Reader = (*Reader)(nil)

// Reader walks the records of a stream in order.
//
// Call Enter to move to the next record, then Read it; any part of a record
// left unread is skipped by the following Enter.
type Reader struct {
	r       io.Reader
	entered bool
	len     uint64
	off     uint64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Enter positions the reader at the next record, reporting false once the
// stream has no more records.
func (r *Reader) Enter() (bool, error) {
	if r.entered {
		if _, err := io.Copy(ioutil.Discard, r); err != nil {
			return false, err
		}
	}
	var hdr [common.ENTLENSZ]byte
	_, err := io.ReadFull(r.r, hdr[:])
	if err == io.EOF {
		r.entered = false
		return false, nil
	}
	if err == io.ErrUnexpectedEOF {
		r.entered = false
		return false, fmt.Errorf("length prefix: %w", ErrTruncated)
	}
	if err != nil {
		return false, err
	}
	r.entered = true
	r.len = uint64(binary.LittleEndian.Uint16(hdr[:]))
	r.off = 0
	return true, nil
}

// Len is the payload length of the current record.
func (r *Reader) Len() uint64 {
	if !r.entered {
		panic("entry: Len before Enter")
	}
	return r.len
}

// Read reads from the current record, returning io.EOF at its end.
func (r *Reader) Read(p []byte) (int, error) {
	if !r.entered {
		panic("entry: Read before Enter")
	}
	left := r.len - r.off
	if left == 0 {
		return 0, io.EOF
	}
	n := util.Min(left, uint64(len(p)))
	m, err := r.r.Read(p[:n])
	r.off += uint64(m)
	if err == io.EOF {
		if r.off < r.len {
			return m, fmt.Errorf("%d of %d bytes: %w", r.off, r.len, ErrTruncated)
		}
		err = nil
	}
	return m, err
}

// ReadEntry returns the whole payload of the current record.
func (r *Reader) ReadEntry() ([]byte, error) {
	buf := make([]byte, r.Len()-r.off)
	_, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return nil, fmt.Errorf("%d of %d bytes: %w", r.off, r.len, ErrTruncated)
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}
