// Package pointtrace records every point played by the simulated DAC in a
// NumPy .npy file of dtype <i4 and shape (N, 5), columns x, y, r, g, b.
//
// Points are handed over through a buffered channel and written by a
// background goroutine, so Observe never waits on the disk. The header is
// rewritten with the current row count at every flush, which keeps the file
// readable while the simulator runs.
package pointtrace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lasergo/edsim/packets"
)

const (
	headerLen = 128 // fixed .npy header size, a multiple of 64
	rowSize   = 5 * 4
)

// Writer appends point rows to a .npy file asynchronously.
type Writer struct {
	file          *os.File
	writer        *bufio.Writer
	rows          chan []byte
	flushNow      chan struct{}
	flushComplete chan struct{}
	flushInterval time.Duration

	nrows   int // owned by writeLoop until Close returns
	err     error
	dropped atomic.Int64
}

// Create truncates or creates filename and starts the background writer.
// depth is the number of batches that may be queued before Observe starts
// dropping points.
func Create(filename string, depth int, flushInterval time.Duration) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("could not create point trace: %w", err)
	}
	w := &Writer{
		file:          f,
		writer:        bufio.NewWriter(f),
		rows:          make(chan []byte, depth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
	}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(headerLen, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not seek past point trace header: %w", err)
	}
	go w.writeLoop()
	return w, nil
}

// Observe queues a copy of pts. If the queue is full the batch is dropped
// and counted, so the caller is never blocked.
func (w *Writer) Observe(pts []packets.Point) {
	b := make([]byte, 0, len(pts)*rowSize)
	for _, p := range pts {
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(p.X)))
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(p.Y)))
		b = binary.LittleEndian.AppendUint32(b, uint32(p.R))
		b = binary.LittleEndian.AppendUint32(b, uint32(p.G))
		b = binary.LittleEndian.AppendUint32(b, uint32(p.B))
	}
	select {
	case w.rows <- b:
	default:
		w.dropped.Add(int64(len(pts)))
	}
}

// Dropped returns the number of points that could not be queued.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Flush writes everything queued so far and refreshes the header.
func (w *Writer) Flush() {
	w.flushNow <- struct{}{}
	<-w.flushComplete
}

// Close flushes the remaining rows, writes the final header and closes the
// file. Observe must not be called after Close.
func (w *Writer) Close() (rows int, err error) {
	close(w.flushNow)
	<-w.flushComplete
	if err := w.file.Close(); err != nil && w.err == nil {
		w.err = err
	}
	return w.nrows, w.err
}

func (w *Writer) writeLoop() {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case b := <-w.rows:
			w.write(b)

		case _, ok := <-w.flushNow:
			w.flush()
			w.flushComplete <- struct{}{}
			if !ok {
				return
			}

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.writer.Write(b); err != nil {
		w.err = fmt.Errorf("could not write point trace: %w", err)
		return
	}
	w.nrows += len(b) / rowSize
}

// flush empties the queue, flushes the buffered writer and rewrites the header.
func (w *Writer) flush() {
	for {
		select {
		case b := <-w.rows:
			w.write(b)
		default:
			if w.err != nil {
				return
			}
			if err := w.writer.Flush(); err != nil {
				w.err = fmt.Errorf("could not flush point trace: %w", err)
				return
			}
			if err := w.writeHeader(); err != nil {
				w.err = err
			}
			return
		}
	}
}

// writeHeader writes a version 1.0 .npy header padded to headerLen bytes.
func (w *Writer) writeHeader() error {
	const preamble = "\x93NUMPY\x01\x00"
	dict := fmt.Sprintf("{'descr': '<i4', 'fortran_order': False, 'shape': (%d, 5), }", w.nrows)
	pad := headerLen - len(preamble) - 2 - len(dict) - 1
	if pad < 0 {
		return fmt.Errorf("point trace header too long (%d rows)", w.nrows)
	}

	hdr := make([]byte, 0, headerLen)
	hdr = append(hdr, preamble...)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(headerLen-len(preamble)-2))
	hdr = append(hdr, dict...)
	hdr = append(hdr, strings.Repeat(" ", pad)...)
	hdr = append(hdr, '\n')
	if _, err := w.file.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("could not write point trace header: %w", err)
	}
	return nil
}
