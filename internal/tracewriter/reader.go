package tracewriter

import (
	"fmt"
	"hash/crc32"
	"os"

	"github.com/inos-systems/tracecore/internal/wire"
)

// OpenIndexFile parses an index.atf: header, then either a checksum-valid
// footer or, failing that, a scan back to the last whole-record boundary
// (§8's "footer-absent recovery" property). Recovered reports whether the
// footer was missing, truncated, or failed its checksum.
func OpenIndexFile(path string) (records []wire.IndexRecord, recovered bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if len(data) < wire.IndexFileHeaderSize {
		return nil, false, fmt.Errorf("tracewriter: index file shorter than header")
	}
	header, ok := wire.DecodeIndexFileHeader(data[:wire.IndexFileHeaderSize])
	if !ok {
		return nil, false, fmt.Errorf("tracewriter: bad index file magic")
	}

	eventsStart := int(header.EventsOffset)
	eventsEnd := 0
	if header.FooterOffset > 0 && int(header.FooterOffset)+wire.IndexFileFooterSize <= len(data) {
		footer, ok := wire.DecodeIndexFileFooter(data[int(header.FooterOffset) : int(header.FooterOffset)+wire.IndexFileFooterSize])
		if ok {
			sum := crc32.ChecksumIEEE(data[eventsStart:int(header.FooterOffset)])
			if sum == footer.Checksum {
				eventsEnd = int(header.FooterOffset)
			}
		}
	}
	if eventsEnd == 0 {
		recovered = true
		usable := len(data) - eventsStart
		whole := (usable / wire.IndexRecordSize) * wire.IndexRecordSize
		eventsEnd = eventsStart + whole
	}

	for off := eventsStart; off+wire.IndexRecordSize <= eventsEnd; off += wire.IndexRecordSize {
		records = append(records, wire.DecodeIndexRecord(data[off:off+wire.IndexRecordSize]))
	}
	return records, recovered, nil
}

// OpenDetailFile parses a detail.atf the same way: header, checksummed
// footer if present and valid, else a scan of whole length-prefixed
// records up to the first one that would overrun the file.
func OpenDetailFile(path string) (records []wire.DetailRecord, recovered bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if len(data) < wire.DetailFileHeaderSize {
		return nil, false, fmt.Errorf("tracewriter: detail file shorter than header")
	}
	header, ok := wire.DecodeDetailFileHeader(data[:wire.DetailFileHeaderSize])
	if !ok {
		return nil, false, fmt.Errorf("tracewriter: bad detail file magic")
	}

	eventsStart := int(header.EventsOffset)
	eventsEnd := 0
	if len(data) >= eventsStart+wire.DetailFileFooterSize {
		maybeFooterOff := len(data) - wire.DetailFileFooterSize
		if maybeFooterOff >= eventsStart {
			footer, ok := wire.DecodeDetailFileFooter(data[maybeFooterOff:])
			if ok {
				sum := crc32.ChecksumIEEE(data[eventsStart:maybeFooterOff])
				if sum == footer.Checksum {
					eventsEnd = maybeFooterOff
				}
			}
		}
	}
	if eventsEnd == 0 {
		recovered = true
		eventsEnd = len(data)
	}

	off := eventsStart
	for off+wire.DetailHeaderSize <= eventsEnd {
		h := wire.DecodeDetailHeader(data[off : off+wire.DetailHeaderSize])
		total := int(h.TotalLength)
		if total < wire.DetailHeaderSize || off+total > eventsEnd {
			recovered = true
			break
		}
		records = append(records, wire.DecodeDetailRecord(data[off:off+total]))
		off += total
	}
	return records, recovered, nil
}
