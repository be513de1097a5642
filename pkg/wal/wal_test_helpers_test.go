// pkg/wal/wal_test_helpers_test.go
package wal

// memFile is a tiny in-memory stand-in for *internal/iofile.File used
// by this package's tests, avoiding a dependency on the real file
// façade for pure format-level round-trip tests.
type memFile struct {
	data []byte
}

func (m *memFile) Read(dst []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(dst, m.data[off:])
	return n, nil
}

func (m *memFile) Write(src []byte, off int64) (int, error) {
	end := off + int64(len(src))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:end], src)
	return len(src), nil
}

func (m *memFile) Size() (int64, error) {
	return int64(len(m.data)), nil
}
