// Package tracewriter implements the trace writer (C6): the two-file
// per-thread binary format of §6.2/§6.3, written append-only during a
// session with placeholder-first headers finalized at close, plus the
// reader/recovery surface §8's round-trip and footer-absent-recovery
// properties require. Grounded on the teacher's
// kernel/threads/sab/epoch_allocator.go (crc32.ChecksumIEEE over a
// committed region as an integrity tag) and the general write-temp-then-
// finalize shape kernel/utils/graceful.go uses for orderly teardown.
package tracewriter

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/inos-systems/tracecore/internal/obs"
	"github.com/inos-systems/tracecore/internal/wire"
)

// State is the per-thread writer's lifecycle (§4.6): Open -> Writing ->
// Finalizing -> Closed.
type State int

const (
	StateOpen State = iota
	StateWriting
	StateFinalizing
	StateClosed
)

// ThreadWriter owns one thread's index.atf and (lazily) detail.atf.
type ThreadWriter struct {
	threadDir string
	threadID  uint32
	arch      uint8
	os        uint8
	state     State

	indexFile  *os.File
	indexCRC   crc32HashAppender
	indexCount uint32
	indexBytes uint64
	timeStart  uint64
	timeEnd    uint64

	detailFile      *os.File
	detailCRC       crc32HashAppender
	detailCount     uint64
	detailBytes     uint64
	indexSeqStart   uint64
	indexSeqEnd     uint64
	timeStartDetail uint64
	timeEndDetail   uint64

	writeErrors uint64
}

// crc32HashAppender is the running IEEE checksum over everything
// successfully appended so far — the footer writes its sum() at close,
// matching §9's resolution of the open "which polynomial" question.
type crc32HashAppender struct {
	h uint32
}

func (c *crc32HashAppender) write(b []byte) { c.h = crc32.Update(c.h, crc32.IEEETable, b) }
func (c *crc32HashAppender) sum() uint32    { return c.h }

func newThreadWriter(root string, threadID uint32, arch, osTag uint8) (*ThreadWriter, error) {
	dir := filepath.Join(root, fmt.Sprintf("thread_%d", threadID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, obs.Wrap(obs.KindWriteError, "create thread directory", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "index.atf"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, obs.Wrap(obs.KindWriteError, "create index.atf", err)
	}
	// The placeholder already carries the magic and events offset, so a
	// reader can recover the records of a file that was never finalized.
	placeholder := make([]byte, wire.IndexFileHeaderSize)
	wire.IndexFileHeader{
		Endian: wire.EndianLittle, Version: wire.CurrentVersion, Arch: arch, OS: osTag,
		ThreadID: threadID, ClockType: wire.ClockMonotonic,
		EventSize: wire.IndexRecordSize, EventsOffset: wire.IndexFileHeaderSize,
	}.Encode(placeholder)
	if _, err := writeFull(f, placeholder); err != nil {
		f.Close()
		return nil, obs.Wrap(obs.KindWriteError, "placeholder index header", err)
	}
	return &ThreadWriter{
		threadDir: dir,
		threadID:  threadID,
		arch:      arch,
		os:        osTag,
		state:     StateWriting,
		indexFile: f,
	}, nil
}

// writeFull retries a short write (the §4.6 "partial writes on EINTR retry
// the remainder" contract) until it either completes or hits a hard error.
func writeFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteIndexBatch appends a batch of whole 32-byte IndexRecords already in
// their on-wire encoding (the drain scheduler hands this writer the raw
// bytes read straight out of a ring). On a write error the counters are
// bumped and writing continues with the next batch — per §7, the writer
// never fails the agent and never buffers a failed record for retry.
func (w *ThreadWriter) WriteIndexBatch(buf []byte, count int) error {
	if count == 0 {
		return nil
	}
	n, err := writeFull(w.indexFile, buf)
	whole := (n / wire.IndexRecordSize) * wire.IndexRecordSize
	if whole > 0 {
		w.indexCRC.write(buf[:whole])
		w.indexBytes += uint64(whole)
		records := whole / wire.IndexRecordSize
		w.indexCount += uint32(records)
		for i := 0; i < records; i++ {
			rec := wire.DecodeIndexRecord(buf[i*wire.IndexRecordSize : (i+1)*wire.IndexRecordSize])
			if w.timeStart == 0 || rec.TimestampNs < w.timeStart {
				w.timeStart = rec.TimestampNs
			}
			if rec.TimestampNs > w.timeEnd {
				w.timeEnd = rec.TimestampNs
			}
		}
	}
	if err != nil {
		atomic.AddUint64(&w.writeErrors, 1)
		return obs.Wrap(obs.KindWriteError, "index batch write", err)
	}
	return nil
}

func (w *ThreadWriter) ensureDetailFile() error {
	if w.detailFile != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(w.threadDir, "detail.atf"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	placeholder := make([]byte, wire.DetailFileHeaderSize)
	wire.DetailFileHeader{
		Endian: wire.EndianLittle, Version: wire.CurrentVersion, Arch: w.arch, OS: w.os,
		ThreadID: w.threadID, EventsOffset: wire.DetailFileHeaderSize,
	}.Encode(placeholder)
	if _, err := writeFull(f, placeholder); err != nil {
		f.Close()
		return err
	}
	w.detailFile = f
	w.indexSeqStart = ^uint64(0)
	return nil
}

// WriteDetailBatch appends a batch of count fixed-size ring slots, each
// holding a length-prefixed DetailRecord (header.TotalLength <= slotSize);
// only the record's real bytes — not the ring slot's full padding — are
// written to detail.atf, per §6.3.
func (w *ThreadWriter) WriteDetailBatch(buf []byte, count, slotSize int) error {
	if count == 0 {
		return nil
	}
	if err := w.ensureDetailFile(); err != nil {
		atomic.AddUint64(&w.writeErrors, 1)
		return obs.Wrap(obs.KindWriteError, "open detail.atf", err)
	}

	var firstErr error
	for i := 0; i < count; i++ {
		slot := buf[i*slotSize : (i+1)*slotSize]
		header := wire.DecodeDetailHeader(slot[:wire.DetailHeaderSize])
		total := int(header.TotalLength)
		if total < wire.DetailHeaderSize || total > slotSize {
			atomic.AddUint64(&w.writeErrors, 1)
			continue // corrupt slot: skip, don't buffer for retry (§7)
		}
		record := slot[:total]
		n, err := writeFull(w.detailFile, record)
		if n > 0 {
			w.detailCRC.write(record[:n])
			w.detailBytes += uint64(n)
		}
		if err != nil {
			atomic.AddUint64(&w.writeErrors, 1)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.detailCount++
		if uint64(header.IndexSeq) < w.indexSeqStart {
			w.indexSeqStart = uint64(header.IndexSeq)
		}
		if uint64(header.IndexSeq) > w.indexSeqEnd {
			w.indexSeqEnd = uint64(header.IndexSeq)
		}
		if w.timeStartDetail == 0 || header.TimestampNs < w.timeStartDetail {
			w.timeStartDetail = header.TimestampNs
		}
		if header.TimestampNs > w.timeEndDetail {
			w.timeEndDetail = header.TimestampNs
		}
	}
	if firstErr != nil {
		return obs.Wrap(obs.KindWriteError, "detail batch write", firstErr)
	}
	return nil
}

func (w *ThreadWriter) WriteErrors() uint64 { return atomic.LoadUint64(&w.writeErrors) }
func (w *ThreadWriter) EventCount() uint32  { return w.indexCount }
func (w *ThreadWriter) State() State        { return w.state }

// Close finalizes both files: rewrites the placeholder header with real
// counts/offsets, appends the footer, fsyncs, and transitions to Closed.
func (w *ThreadWriter) Close() error {
	if w.state == StateClosed {
		return nil
	}
	w.state = StateFinalizing

	footerOffset := uint64(wire.IndexFileHeaderSize) + w.indexBytes
	var flags uint32
	if w.detailFile != nil {
		flags |= wire.FlagHasDetail
	}
	header := wire.IndexFileHeader{
		Endian: wire.EndianLittle, Version: wire.CurrentVersion, Arch: w.arch, OS: w.os,
		Flags: flags, ThreadID: w.threadID, ClockType: wire.ClockMonotonic,
		EventSize: wire.IndexRecordSize, EventCount: w.indexCount,
		EventsOffset: wire.IndexFileHeaderSize, FooterOffset: footerOffset,
		TimeStartNs: w.timeStart, TimeEndNs: w.timeEnd,
	}
	hbuf := make([]byte, wire.IndexFileHeaderSize)
	header.Encode(hbuf)
	if _, err := w.indexFile.WriteAt(hbuf, 0); err != nil {
		atomic.AddUint64(&w.writeErrors, 1)
	}

	footer := wire.IndexFileFooter{
		Checksum: w.indexCRC.sum(), EventCount: uint64(w.indexCount),
		TimeStartNs: w.timeStart, TimeEndNs: w.timeEnd, BytesWritten: w.indexBytes,
	}
	fbuf := make([]byte, wire.IndexFileFooterSize)
	footer.Encode(fbuf)
	if _, err := writeFull(w.indexFile, fbuf); err != nil {
		atomic.AddUint64(&w.writeErrors, 1)
	}
	w.indexFile.Sync()
	w.indexFile.Close()

	if w.detailFile != nil {
		if w.indexSeqStart == ^uint64(0) {
			w.indexSeqStart = 0
		}
		dheader := wire.DetailFileHeader{
			Endian: wire.EndianLittle, Version: wire.CurrentVersion, Arch: w.arch, OS: w.os,
			ThreadID: w.threadID, EventsOffset: wire.DetailFileHeaderSize,
			EventCount: w.detailCount, BytesLength: w.detailBytes,
			IndexSeqStart: w.indexSeqStart, IndexSeqEnd: w.indexSeqEnd,
		}
		dbuf := make([]byte, wire.DetailFileHeaderSize)
		dheader.Encode(dbuf)
		if _, err := w.detailFile.WriteAt(dbuf, 0); err != nil {
			atomic.AddUint64(&w.writeErrors, 1)
		}

		dfooter := wire.DetailFileFooter{
			Checksum: w.detailCRC.sum(), EventCount: w.detailCount,
			BytesLength: w.detailBytes, TimeStartNs: w.timeStartDetail, TimeEndNs: w.timeEndDetail,
		}
		dfbuf := make([]byte, wire.DetailFileFooterSize)
		dfooter.Encode(dfbuf)
		if _, err := writeFull(w.detailFile, dfbuf); err != nil {
			atomic.AddUint64(&w.writeErrors, 1)
		}
		w.detailFile.Sync()
		w.detailFile.Close()
	}

	w.state = StateClosed
	return nil
}
