// Package bif reads and writes Roku BIF thumbnail indexes: a 64-byte
// header, a frame table of {timestamp, offset} pairs, and the JPEG
// payloads packed behind it. The table makes single-thumbnail reads
// cheap: two table entries bound the image bytes exactly, so a scrub
// preview never loads the whole file.
package bif

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/renameio/v2"
)

// On-disk layout. All integers are little-endian.
const (
	HeaderSize = 64
	entrySize  = 8

	// Version is the only format revision written or accepted.
	Version = 0

	// Frame timestamps are stored in milliseconds.
	timestampMultiplier = 1000

	// MaxImageBytes caps a single thumbnail; a larger span means the
	// frame table is lying.
	MaxImageBytes = 10 << 20
)

var magic = [4]byte{0x89, 0x42, 0x49, 0x46}

// ErrFrameOutOfRange reports a frame index past the table.
var ErrFrameOutOfRange = errors.New("bif: frame index out of range")

// Frame is one thumbnail with its position on the timeline.
type Frame struct {
	TimestampMs int32
	Image       []byte
}

// Index is a decoded BIF file.
type Index struct {
	Frames []Frame
}

// Info summarizes an index from its header and frame table alone; no
// image payload is read.
type Info struct {
	FrameCount int
	IntervalMs int64 // spacing of the first two frames, 0 for single-frame indexes
	SizeBytes  int64
}

// Encode writes idx to w. Frames are sorted by timestamp first and
// offsets laid out sequentially behind the frame table, so the produced
// file is byte-deterministic for a given frame set.
func Encode(w io.Writer, idx *Index) error {
	if len(idx.Frames) == 0 {
		return fmt.Errorf("bif: refusing to encode an empty index")
	}
	slices.SortStableFunc(idx.Frames, func(a, b Frame) int {
		return cmp.Compare(a.TimestampMs, b.TimestampMs)
	})

	header := make([]byte, HeaderSize)
	copy(header, magic[:])
	binary.LittleEndian.PutUint32(header[4:], uint32(Version))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(idx.Frames)))
	binary.LittleEndian.PutUint32(header[12:], uint32(timestampMultiplier))
	if _, err := w.Write(header); err != nil {
		return err
	}

	offset := int64(HeaderSize) + int64(entrySize)*int64(len(idx.Frames))
	table := make([]byte, entrySize*len(idx.Frames))
	for i, f := range idx.Frames {
		if offset > math.MaxInt32 {
			return fmt.Errorf("bif: index exceeds 32-bit offset addressing at frame %d", i)
		}
		binary.LittleEndian.PutUint32(table[i*entrySize:], uint32(f.TimestampMs))
		binary.LittleEndian.PutUint32(table[i*entrySize+4:], uint32(offset))
		offset += int64(len(f.Image))
	}
	if _, err := w.Write(table); err != nil {
		return err
	}
	for _, f := range idx.Frames {
		if _, err := w.Write(f.Image); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses a whole index: header, frame table, then every image
// span in order. Image lengths are derived from adjacent offsets, the
// last one running to the end of the file.
func Decode(r io.ReaderAt, size int64) (*Index, error) {
	count, err := readHeader(r, size)
	if err != nil {
		return nil, err
	}
	table, err := readTable(r, count)
	if err != nil {
		return nil, err
	}

	idx := &Index{Frames: make([]Frame, count)}
	for i := 0; i < count; i++ {
		start, end, err := frameSpan(table, i, size)
		if err != nil {
			return nil, err
		}
		img := make([]byte, end-start)
		if _, err := r.ReadAt(img, start); err != nil {
			return nil, fmt.Errorf("bif: read frame %d: %w", i, err)
		}
		idx.Frames[i] = Frame{TimestampMs: table[i].timestampMs, Image: img}
	}
	return idx, nil
}

// DecodeFrame reads a single thumbnail in O(1) disk accesses: the
// header, the two table entries bounding the frame, then exactly the
// image bytes.
func DecodeFrame(r io.ReaderAt, size int64, frameIndex int) ([]byte, int32, error) {
	count, err := readHeader(r, size)
	if err != nil {
		return nil, 0, err
	}
	if frameIndex < 0 || frameIndex >= count {
		return nil, 0, fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, frameIndex, count)
	}

	// Read this entry plus the next one when there is one; the pair
	// bounds the image span.
	pair := make([]byte, entrySize)
	if frameIndex < count-1 {
		pair = make([]byte, 2*entrySize)
	}
	if _, err := r.ReadAt(pair, int64(HeaderSize)+int64(entrySize)*int64(frameIndex)); err != nil {
		return nil, 0, fmt.Errorf("bif: read frame table: %w", err)
	}

	timestampMs := int32(binary.LittleEndian.Uint32(pair[0:]))
	start := int64(binary.LittleEndian.Uint32(pair[4:]))
	end := size
	if len(pair) == 2*entrySize {
		end = int64(binary.LittleEndian.Uint32(pair[12:]))
	}
	if err := validateSpan(start, end, int64(HeaderSize)+int64(entrySize)*int64(count), size, frameIndex); err != nil {
		return nil, 0, err
	}

	img := make([]byte, end-start)
	if _, err := r.ReadAt(img, start); err != nil {
		return nil, 0, fmt.Errorf("bif: read frame %d: %w", frameIndex, err)
	}
	return img, timestampMs, nil
}

// DecodeInfo summarizes an index without touching image payloads.
func DecodeInfo(r io.ReaderAt, size int64) (*Info, error) {
	count, err := readHeader(r, size)
	if err != nil {
		return nil, err
	}
	info := &Info{FrameCount: count, SizeBytes: size}
	if count >= 2 {
		pair := make([]byte, 2*entrySize)
		if _, err := r.ReadAt(pair, HeaderSize); err != nil {
			return nil, fmt.Errorf("bif: read frame table: %w", err)
		}
		first := int32(binary.LittleEndian.Uint32(pair[0:]))
		second := int32(binary.LittleEndian.Uint32(pair[8:]))
		info.IntervalMs = int64(second - first)
	}
	return info, nil
}

type tableEntry struct {
	timestampMs int32
	offset      int64
}

func readHeader(r io.ReaderAt, size int64) (frameCount int, err error) {
	if size < HeaderSize {
		return 0, fmt.Errorf("bif: file of %d bytes is smaller than the header", size)
	}
	header := make([]byte, HeaderSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return 0, fmt.Errorf("bif: read header: %w", err)
	}
	if [4]byte(header[:4]) != magic {
		return 0, fmt.Errorf("bif: bad magic % x", header[:4])
	}
	if v := int32(binary.LittleEndian.Uint32(header[4:])); v != Version {
		return 0, fmt.Errorf("bif: unsupported version %d", v)
	}
	count := int32(binary.LittleEndian.Uint32(header[8:]))
	if count <= 0 {
		return 0, fmt.Errorf("bif: frame count %d", count)
	}
	if int64(HeaderSize)+int64(entrySize)*int64(count) > size {
		return 0, fmt.Errorf("bif: frame table for %d frames overruns the %d byte file", count, size)
	}
	return int(count), nil
}

func readTable(r io.ReaderAt, count int) ([]tableEntry, error) {
	raw := make([]byte, entrySize*count)
	if _, err := r.ReadAt(raw, HeaderSize); err != nil {
		return nil, fmt.Errorf("bif: read frame table: %w", err)
	}
	table := make([]tableEntry, count)
	for i := range table {
		table[i] = tableEntry{
			timestampMs: int32(binary.LittleEndian.Uint32(raw[i*entrySize:])),
			offset:      int64(binary.LittleEndian.Uint32(raw[i*entrySize+4:])),
		}
	}
	return table, nil
}

func frameSpan(table []tableEntry, i int, size int64) (start, end int64, err error) {
	start = table[i].offset
	end = size
	if i < len(table)-1 {
		end = table[i+1].offset
	}
	tableEnd := int64(HeaderSize) + int64(entrySize)*int64(len(table))
	if err := validateSpan(start, end, tableEnd, size, i); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func validateSpan(start, end, tableEnd, size int64, i int) error {
	switch {
	case start < tableEnd || start > size:
		return fmt.Errorf("bif: frame %d offset %d outside payload region [%d, %d]", i, start, tableEnd, size)
	case end < start || end > size:
		return fmt.Errorf("bif: frame %d span [%d, %d) is not a forward range inside the file", i, start, end)
	case end-start > MaxImageBytes:
		return fmt.Errorf("bif: frame %d spans %d bytes, over the %d limit", i, end-start, MaxImageBytes)
	}
	return nil
}

// Store places index files in the sharded media tree next to the item's
// artwork: <root>/<id[0:2]>/<id>/index/index.bif, with index-N.bif for
// parts beyond the first.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Path is where the index for one part of an item lives. The id must be
// at least two bytes; every caller holds a uuid.
func (s *Store) Path(metadataItemID string, partIndex int) string {
	name := "index.bif"
	if partIndex > 0 {
		name = fmt.Sprintf("index-%d.bif", partIndex)
	}
	return filepath.Join(s.root, metadataItemID[:2], metadataItemID, "index", name)
}

func (s *Store) pathFor(metadataItemID string, partIndex int) (string, error) {
	if len(metadataItemID) < 2 {
		return "", fmt.Errorf("bif: item id %q too short for the sharded tree", metadataItemID)
	}
	return s.Path(metadataItemID, partIndex), nil
}

// Write lands the encoded index atomically so a concurrent reader never
// observes a partial file.
func (s *Store) Write(metadataItemID string, partIndex int, idx *Index) error {
	path, err := s.pathFor(metadataItemID, partIndex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	w := bufio.NewWriter(pending)
	if err := Encode(w, idx); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// ReadAll loads and validates the whole index.
func (s *Store) ReadAll(metadataItemID string, partIndex int) (*Index, error) {
	var idx *Index
	err := s.withFile(metadataItemID, partIndex, func(f *os.File, size int64) error {
		var err error
		idx, err = Decode(f, size)
		return err
	})
	return idx, err
}

// ReadFrame returns one image and its timestamp without loading the
// rest of the index.
func (s *Store) ReadFrame(metadataItemID string, partIndex, frameIndex int) (img []byte, timestampMs int32, err error) {
	err = s.withFile(metadataItemID, partIndex, func(f *os.File, size int64) error {
		var err error
		img, timestampMs, err = DecodeFrame(f, size, frameIndex)
		return err
	})
	return img, timestampMs, err
}

// Stat summarizes an index from its header and table alone.
func (s *Store) Stat(metadataItemID string, partIndex int) (*Info, error) {
	var info *Info
	err := s.withFile(metadataItemID, partIndex, func(f *os.File, size int64) error {
		var err error
		info, err = DecodeInfo(f, size)
		return err
	})
	return info, err
}

// Remove deletes every part index of an item along with its directory.
// Missing files are fine; there may never have been an index.
func (s *Store) Remove(metadataItemID string) error {
	if len(metadataItemID) < 2 {
		return nil
	}
	dir := filepath.Join(s.root, metadataItemID[:2], metadataItemID, "index")
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) withFile(metadataItemID string, partIndex int, fn func(f *os.File, size int64) error) error {
	path, err := s.pathFor(metadataItemID, partIndex)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return fn(f, st.Size())
}
