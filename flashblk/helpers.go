package flashblk

import "io"

type funcWriter func([]byte) (int, error)

func (w funcWriter) Write(data []byte) (int, error) {
	return w(data)
}

// WriterAt returns a writer that writes sequentially to wa, starting at off.
func WriterAt(wa io.WriterAt, off int64) io.Writer {
	return funcWriter(func(data []byte) (int, error) {
		n, err := wa.WriteAt(data, off)
		off += int64(n)
		return n, err
	})
}

// ReaderAt returns a reader that reads sequentially from ra, starting at off.
func ReaderAt(ra io.ReaderAt, off int64) io.Reader {
	return funcReader(func(data []byte) (int, error) {
		n, err := ra.ReadAt(data, off)
		off += int64(n)
		return n, err
	})
}

type funcReader func([]byte) (int, error)

func (r funcReader) Read(buf []byte) (int, error) {
	return r(buf)
}
