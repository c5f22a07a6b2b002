package serializer

import (
	"encoding/binary"
	"testing"
)

func TestBytesSerializerRoundTrip(t *testing.T) {
	s := BytesSerializer{}
	buf := s.Encode(nil, []byte("hello"))
	buf = s.Encode(buf, []byte("world")) // two values back to back

	v1, n1, err := s.Decode(buf)
	if err != nil {
		t.Fatalf("Decode 1: %v", err)
	}
	if string(v1) != "hello" {
		t.Fatalf("v1 = %q", v1)
	}
	v2, _, err := s.Decode(buf[n1:])
	if err != nil {
		t.Fatalf("Decode 2: %v", err)
	}
	if string(v2) != "world" {
		t.Fatalf("v2 = %q", v2)
	}
}

func TestInt64SerializerOrderPreserved(t *testing.T) {
	s := Int64Serializer{}
	values := []int64{-100, -1, 0, 1, 100, 1 << 40, -(1 << 40)}
	for i := 0; i < len(values); i++ {
		for j := 0; j < len(values); j++ {
			a, b := values[i], values[j]
			encA := s.Encode(nil, a)
			encB := s.Encode(nil, b)

			wantCmp := s.Compare(a, b)
			gotCmp := compareBytes(encA, encB)
			if sign(wantCmp) != sign(gotCmp) {
				t.Fatalf("order mismatch for %d vs %d: numeric=%d byte=%d", a, b, wantCmp, gotCmp)
			}

			decoded, n, err := s.Decode(encA)
			if err != nil || n != 8 || decoded != a {
				t.Fatalf("round trip failed for %d: decoded=%d n=%d err=%v", a, decoded, n, err)
			}
		}
	}
}

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

type bsonRecord struct {
	Key   int64
	Value string
}

func TestBSONSerializerRoundTrip(t *testing.T) {
	s := NewBSONSerializer[bsonRecord]("record", func(r bsonRecord) []byte {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(r.Key))
		return buf[:]
	})

	rec := bsonRecord{Key: 42, Value: "hi"}
	buf := s.Encode(nil, rec)

	decoded, n, err := s.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("n = %d, want %d", n, len(buf))
	}
	if decoded.Key != 42 || decoded.Value != "hi" {
		t.Fatalf("decoded = %+v", decoded)
	}

	other := bsonRecord{Key: 43, Value: "lo"}
	if s.Compare(rec, other) >= 0 {
		t.Fatalf("expected rec < other")
	}
}
