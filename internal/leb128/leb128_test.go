package leb128

import "testing"

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1, ^uint64(0)}
	for _, v := range cases {
		buf := PutUvarint(nil, v)
		if len(buf) != UvarintLen(v) {
			t.Fatalf("UvarintLen(%d) = %d, encoded %d bytes", v, UvarintLen(v), len(buf))
		}
		got, n, err := GetUvarint(buf)
		if err != nil {
			t.Fatalf("GetUvarint(%d): %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip %d: got %d consumed %d want len %d", v, got, n, len(buf))
		}
	}
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 127, -127, 1 << 40, -(1 << 40), 1<<63 - 1, -(1 << 62)}
	for _, v := range cases {
		buf := PutVarint(nil, v)
		if len(buf) != VarintLen(v) {
			t.Fatalf("VarintLen(%d) = %d, encoded %d bytes", v, VarintLen(v), len(buf))
		}
		got, n, err := GetVarint(buf)
		if err != nil {
			t.Fatalf("GetVarint(%d): %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip %d: got %d consumed %d", v, got, n)
		}
	}
}

func TestGetUvarintTruncated(t *testing.T) {
	if _, _, err := GetUvarint([]byte{0x80, 0x80}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, _, err := GetUvarint(nil); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated on empty input, got %v", err)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	in := []byte("hello, crdt")
	buf := PutBytes(nil, in)
	out, n, err := GetBytes(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) || string(out) != string(in) {
		t.Fatalf("got %q consumed %d want %q consumed %d", out, n, in, len(buf))
	}
}

func TestStringRoundTrip(t *testing.T) {
	buf := PutString(nil, "")
	buf = PutString(buf, "abc")
	s1, n1, err := GetString(buf)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != "" {
		t.Fatalf("expected empty string, got %q", s1)
	}
	s2, n2, err := GetString(buf[n1:])
	if err != nil {
		t.Fatal(err)
	}
	if s2 != "abc" || n1+n2 != len(buf) {
		t.Fatalf("got %q, consumed %d+%d want %d", s2, n1, n2, len(buf))
	}
}
