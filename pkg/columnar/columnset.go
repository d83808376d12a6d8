package columnar

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"crdt/internal/leb128"
)

// DeflateThreshold is the column-body size above which a column is
// eligible for DEFLATE compression (spec.md §4.2: "typically 256
// bytes").
const DeflateThreshold = 256

// EncodeColumnSet frames a set of (ColumnSpec, bytes) pairs the way
// spec.md's RawColumns appears in a chunk body: each entry is
// (packed spec : uint32 LE is avoided in favor of uvarint, matching
// this module's all-LEB128 wire convention) length-prefixed bytes,
// columns emitted in canonical order. A body over DeflateThreshold is
// DEFLATE-compressed, and its spec's deflate flag set, only when the
// compressed form is smaller; otherwise it is written uncompressed.
func EncodeColumnSet(cols []RawColumn) ([]byte, error) {
	sorted := append([]RawColumn(nil), cols...)
	SortColumns(sorted)

	var out []byte
	for _, c := range sorted {
		body := c.Data
		spec := c.Spec
		if len(body) > DeflateThreshold {
			compressed, err := deflateBytes(body)
			if err != nil {
				return nil, errors.Wrap(err, "columnar: deflate column body")
			}
			if len(compressed) < len(body) {
				body = compressed
				spec = spec.WithDeflate()
			}
		}
		out = leb128.PutUvarint(out, uint64(spec))
		out = leb128.PutBytes(out, body)
	}
	return out, nil
}

// DecodeColumnSet reverses EncodeColumnSet, inflating any
// deflate-flagged column and validating canonical order.
func DecodeColumnSet(data []byte) ([]RawColumn, error) {
	var cols []RawColumn
	pos := 0
	for pos < len(data) {
		specWord, n, err := leb128.GetUvarint(data[pos:])
		if err != nil {
			return nil, errors.Wrap(err, "columnar: column spec")
		}
		pos += n
		body, n, err := leb128.GetBytes(data[pos:])
		if err != nil {
			return nil, errors.Wrap(err, "columnar: column body")
		}
		pos += n

		spec := ColumnSpec(specWord)
		if spec.Deflate() {
			inflated, err := inflateBytes(body)
			if err != nil {
				return nil, errors.Wrap(err, "columnar: inflate column body")
			}
			body = inflated
		}
		cols = append(cols, RawColumn{Spec: spec, Data: body})
	}
	if err := ValidateOrder(cols); err != nil {
		return nil, err
	}
	return cols, nil
}

func deflateBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflateBytes(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindColumn returns the RawColumn with the given spec's (id, type),
// ignoring the deflate flag, or ok=false if absent.
func FindColumn(cols []RawColumn, id uint16, typ ColType) (RawColumn, bool) {
	for _, c := range cols {
		if c.Spec.ID() == id && c.Spec.Type() == typ {
			return c, true
		}
	}
	return RawColumn{}, false
}
