package bulkload

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/google/uuid"

	"mvccstore/src/dberrors"
	"mvccstore/src/serializer"
)

// writeRun spills one chunk's sorted, deduplicated entries to a fresh
// temp file in tempDir (os.TempDir if empty), using the length-prefixed
// layout Phase 1 and Phase 2 both read and write:
//
//	{ keyLen,key, nbValues, {valueLen,value}×nbValues } × entries
func writeRun[K any, V any](tempDir string, keySer serializer.Serializer[K], valSer serializer.Serializer[V], entries []chunkEntry[K, V]) (string, error) {
	f, err := os.CreateTemp(tempDir, "bulkload-run-"+uuid.NewString()+"-*.dat")
	if err != nil {
		return "", dberrors.WrapIO(err, "create bulk load run file")
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 64*1024)
	for _, e := range entries {
		if err := writeEntry(w, keySer, valSer, e.key, e.values); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", dberrors.WrapIO(err, "flush bulk load run file %s", f.Name())
	}
	return f.Name(), nil
}

func writeEntry[K any, V any](w *bufio.Writer, keySer serializer.Serializer[K], valSer serializer.Serializer[V], key K, values []V) error {
	if err := writeLenPrefixed(w, keySer.Encode(nil, key)); err != nil {
		return err
	}
	if err := writeInt32(w, int32(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := writeLenPrefixed(w, valSer.Encode(nil, v)); err != nil {
			return err
		}
	}
	return nil
}

func writeInt32(w *bufio.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	if err != nil {
		return dberrors.WrapIO(err, "write bulk load run file")
	}
	return nil
}

func writeLenPrefixed(w *bufio.Writer, b []byte) error {
	if err := writeInt32(w, int32(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return dberrors.WrapIO(err, "write bulk load run file")
	}
	return nil
}

// runReader streams entries back out of a run file written by writeRun,
// one (key, values) tuple at a time, in the order they were written.
type runReader[K any, V any] struct {
	f      *os.File
	r      *bufio.Reader
	keySer serializer.Serializer[K]
	valSer serializer.Serializer[V]
}

func openRun[K any, V any](path string, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (*runReader[K, V], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dberrors.WrapIO(err, "open bulk load run file %s", path)
	}
	return &runReader[K, V]{f: f, r: bufio.NewReaderSize(f, 64*1024), keySer: keySer, valSer: valSer}, nil
}

// next reads one entry, returning ok=false at a clean end of file.
func (rr *runReader[K, V]) next() (key K, values []V, ok bool, err error) {
	keyBytes, err := readLenPrefixed(rr.r)
	if err == io.EOF {
		return key, nil, false, nil
	}
	if err != nil {
		return key, nil, false, dberrors.WrapIO(err, "read bulk load run file")
	}
	key, _, err = rr.keySer.Decode(keyBytes)
	if err != nil {
		return key, nil, false, err
	}

	nb, err := readInt32(rr.r)
	if err != nil {
		return key, nil, false, dberrors.WrapIO(err, "read bulk load run file")
	}
	values = make([]V, 0, nb)
	for i := int32(0); i < nb; i++ {
		raw, err := readLenPrefixed(rr.r)
		if err != nil {
			return key, nil, false, dberrors.WrapIO(err, "read bulk load run file")
		}
		v, _, err := rr.valSer.Decode(raw)
		if err != nil {
			return key, nil, false, err
		}
		values = append(values, v)
	}
	return key, values, true, nil
}

func (rr *runReader[K, V]) close() error {
	return rr.f.Close()
}

func readInt32(r *bufio.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func readLenPrefixed(r *bufio.Reader) ([]byte, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
