// internal/iofile/segment.go
package iofile

// Segment is a shared memory mapping of a region of a File, visible
// across every process that maps the same file. It is the primitive the
// WAL index (pkg/walidx) builds its shared header and off-heap table on.
type Segment struct {
	Data   []byte
	offset int64
	size   int64
	impl   segmentImpl
}

// Sync flushes the mapped region's dirty pages to disk.
func (s *Segment) Sync() error {
	return s.impl.sync(s.Data)
}

// Close unmaps the region. The underlying File is not closed.
func (s *Segment) Close() error {
	return s.impl.close(s.Data)
}
