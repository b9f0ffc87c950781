package crc16

import "testing"

func TestChecksum_KnownVector(t *testing.T) {
	// CRC-16/CCITT-FALSE("123456789") == 0x29B1, the standard check value
	// for this polynomial/init/no-reflection combination.
	got := Checksum([]byte("123456789"))
	if got != 0x29B1 {
		t.Fatalf("Checksum(123456789) = %#04x, want 0x29b1", got)
	}
}

func TestChecksum_Empty(t *testing.T) {
	if got := Checksum(nil); got != initial {
		t.Fatalf("Checksum(nil) = %#04x, want %#04x", got, initial)
	}
}

func TestDigest_IncrementalMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := Checksum(data)

	d := New()
	for i := 0; i < len(data); i += 7 {
		end := i + 7
		if end > len(data) {
			end = len(data)
		}
		_, _ = d.Write(data[i:end])
	}
	if got := d.Sum16(); got != want {
		t.Fatalf("incremental Sum16() = %#04x, want %#04x", got, want)
	}
}

func TestAppendBigEndian(t *testing.T) {
	dst := AppendBigEndian([]byte{0xAA}, 0x1234)
	want := []byte{0xAA, 0x12, 0x34}
	if len(dst) != len(want) {
		t.Fatalf("len = %d, want %d", len(dst), len(want))
	}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("byte %d = %#02x, want %#02x", i, dst[i], want[i])
		}
	}
}
