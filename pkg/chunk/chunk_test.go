package chunk

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte("hello, change body")
	wire, hash := Encode(TypeChange, body)

	c, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if c.Type != TypeChange {
		t.Fatalf("type = %v, want Change", c.Type)
	}
	if string(c.Body) != string(body) {
		t.Fatalf("body mismatch")
	}
	if c.Hash != hash {
		t.Fatalf("hash mismatch: %x != %x", c.Hash, hash)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	wire, _ := Encode(TypeChange, []byte("x"))
	wire[0] ^= 0xff
	if _, err := Decode(wire); err == nil {
		t.Fatal("expected error on corrupted magic")
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	wire, _ := Encode(TypeChange, []byte("x"))
	wire[10] ^= 0xff // corrupt body byte after header (magic 4, checksum 4, type 1, length 1)
	if _, err := Decode(wire); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestDeflateInflateRoundTrip(t *testing.T) {
	body := make([]byte, 2000)
	for i := range body {
		body[i] = byte(i % 13)
	}
	compressed, err := Deflate(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(compressed) >= len(body) {
		t.Fatalf("expected compression to shrink repetitive data: %d >= %d", len(compressed), len(body))
	}
	out, err := Inflate(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(body) {
		t.Fatal("inflate mismatch")
	}
}

func TestHashStableAcrossEncodes(t *testing.T) {
	body := []byte("deterministic")
	_, h1 := Encode(TypeChange, body)
	_, h2 := Encode(TypeChange, body)
	if h1 != h2 {
		t.Fatal("expected identical hash for identical input")
	}
}
