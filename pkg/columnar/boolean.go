package columnar

import (
	"github.com/pkg/errors"

	"crdt/internal/leb128"
)

// EncodeBoolean packs a bitmap as a sequence of unsigned LEB128
// run-lengths alternating false/true, starting with false (spec.md
// §4.2). A leading true run is represented by an explicit zero-length
// false run.
func EncodeBoolean(bits []bool) []byte {
	var buf []byte
	if len(bits) == 0 {
		return buf
	}
	cur := false
	runLen := uint64(0)
	for _, b := range bits {
		if b == cur {
			runLen++
			continue
		}
		buf = leb128.PutUvarint(buf, runLen)
		cur = b
		runLen = 1
	}
	buf = leb128.PutUvarint(buf, runLen)
	return buf
}

// DecodeBoolean reverses EncodeBoolean.
func DecodeBoolean(data []byte) ([]bool, error) {
	var out []bool
	cur := false
	pos := 0
	for pos < len(data) {
		runLen, n, err := leb128.GetUvarint(data[pos:])
		if err != nil {
			return nil, errors.Wrap(err, "columnar: boolean run")
		}
		pos += n
		for k := uint64(0); k < runLen; k++ {
			out = append(out, cur)
		}
		cur = !cur
	}
	return out, nil
}
