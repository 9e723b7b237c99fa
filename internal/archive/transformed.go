package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
)

// transformedMagic opens every transformed file.
var transformedMagic = []byte("GSTF\x01")

// maxFrameSize bounds a single framed slice.
const maxFrameSize = 256 << 20

const (
	fieldHeaderFileID      protowire.Number = 1
	fieldHeaderSampleNames protowire.Number = 2
	fieldHeaderBucketSize  protowire.Number = 3
	fieldHeaderFileName    protowire.Number = 4
)

// Header describes the file a transformed stream was produced from.
type Header struct {
	FileID      int
	FileName    string
	SampleNames []string
	BucketSize  keys.BucketSize
}

// TransformedWriter writes a transformed file: a header followed by
// length-prefixed slices.
type TransformedWriter struct {
	w      *bufio.Writer
	header Header
	n      int
}

// NewTransformedWriter writes the header to w.
func NewTransformedWriter(w io.Writer, h Header) (*TransformedWriter, error) {
	if err := h.BucketSize.Validate(); err != nil {
		return nil, err
	}
	tw := &TransformedWriter{w: bufio.NewWriter(w), header: h}
	if _, err := tw.w.Write(transformedMagic); err != nil {
		return nil, err
	}
	if err := tw.writeFrame(appendHeader(nil, h)); err != nil {
		return nil, err
	}
	return tw, nil
}

// WriteSlice appends one slice. Slices must be aligned to the header's
// bucket size.
func (tw *TransformedWriter) WriteSlice(s *Slice) error {
	if s.Start != tw.header.BucketSize.AlignDown(s.Start) {
		return genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("archive: slice start %d is not aligned to %d", s.Start, tw.header.BucketSize))
	}
	data, err := MarshalSlice(s)
	if err != nil {
		return err
	}
	tw.n++
	return tw.writeFrame(data)
}

// Count returns the number of slices written so far.
func (tw *TransformedWriter) Count() int { return tw.n }

// Close flushes buffered frames. It does not close the underlying writer.
func (tw *TransformedWriter) Close() error {
	return tw.w.Flush()
}

func (tw *TransformedWriter) writeFrame(data []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	if _, err := tw.w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := tw.w.Write(data)
	return err
}

// TransformedReader reads a stream written by TransformedWriter.
type TransformedReader struct {
	r      *bufio.Reader
	Header Header
}

// NewTransformedReader reads and validates the header of r.
func NewTransformedReader(r io.Reader) (*TransformedReader, error) {
	tr := &TransformedReader{r: bufio.NewReader(r)}
	magic := make([]byte, len(transformedMagic))
	if _, err := io.ReadFull(tr.r, magic); err != nil || !bytes.Equal(magic, transformedMagic) {
		return nil, genoerrors.NewCorruptSliceError("archive: not a transformed file", err)
	}
	frame, err := tr.readFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, genoerrors.NewCorruptSliceError("archive: missing transformed header", err)
	}
	if tr.Header, err = parseHeader(frame); err != nil {
		return nil, genoerrors.NewCorruptSliceError("archive: malformed transformed header", err)
	}
	if err := tr.Header.BucketSize.Validate(); err != nil {
		return nil, genoerrors.NewCorruptSliceError("archive: malformed transformed header", err)
	}
	return tr, nil
}

// Next returns the next slice, or io.EOF after the last one.
func (tr *TransformedReader) Next() (*Slice, error) {
	frame, err := tr.readFrame()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, genoerrors.NewCorruptSliceError("archive: truncated transformed file", err)
	}
	return UnmarshalSlice(frame)
}

func (tr *TransformedReader) readFrame() ([]byte, error) {
	size, err := binary.ReadUvarint(tr.r)
	if err != nil {
		return nil, err
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(tr.r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

func appendHeader(b []byte, h Header) []byte {
	b = appendVarint(b, fieldHeaderFileID, uint64(h.FileID))
	for _, name := range h.SampleNames {
		b = protowire.AppendTag(b, fieldHeaderSampleNames, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	b = appendVarint(b, fieldHeaderBucketSize, uint64(h.BucketSize))
	return appendString(b, fieldHeaderFileName, h.FileName)
}

func parseHeader(raw []byte) (Header, error) {
	var h Header
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldHeaderFileID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			h.FileID = int(v)
			return n, nil
		case num == fieldHeaderBucketSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			h.BucketSize = keys.BucketSize(v)
			return n, nil
		case num == fieldHeaderSampleNames && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			h.SampleNames = append(h.SampleNames, v)
			return n, nil
		case num == fieldHeaderFileName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			h.FileName = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return h, err
}
