// This file defines the two-file on-disk format (§6.2, §6.3): fixed 64-byte
// headers and footers bracketing the index and detail event regions. The
// field layouts follow spec.md field-for-field; where the named reserved
// byte counts don't sum to the stated 64-byte total (the index footer
// lists 28 reserved bytes against a 64-byte total that only allows 24),
// this implementation trusts the stated total size and trims reserved to
// match, the same correction applied to the detail header's reserved
// field (4 listed, 8 needed) — see DESIGN.md.
package wire

import "encoding/binary"

const (
	IndexFileHeaderSize = 64
	IndexFileFooterSize = 64
	DetailFileHeaderSize = 64
	DetailFileFooterSize = 64

	IndexMagic       = "ATI2"
	IndexFooterMagic = "2ITA"
	DetailMagic      = "ATD2"
	DetailFooterMagic = "2DTA"

	// ArchFlag values (§6.2).
	ArchX86_64 uint8 = 1
	ArchARM64  uint8 = 2

	// OSFlag values.
	OSLinux   uint8 = 1
	OSDarwin  uint8 = 2
	OSWindows uint8 = 3

	// ClockType values.
	ClockMonotonic uint8 = 1

	// FlagHasDetail is bit 0 of an index header's flags field.
	FlagHasDetail uint32 = 1 << 0

	CurrentVersion uint8 = 1
	EndianLittle   uint8 = 1
)

// IndexFileHeader is index.atf's 64-byte leading header.
type IndexFileHeader struct {
	Endian       uint8
	Version      uint8
	Arch         uint8
	OS           uint8
	Flags        uint32
	ThreadID     uint32
	ClockType    uint8
	EventSize    uint32
	EventCount   uint32
	EventsOffset uint64
	FooterOffset uint64
	TimeStartNs  uint64
	TimeEndNs    uint64
}

func (h IndexFileHeader) Encode(buf []byte) {
	_ = buf[:IndexFileHeaderSize]
	copy(buf[0:4], IndexMagic)
	buf[4] = h.Endian
	buf[5] = h.Version
	buf[6] = h.Arch
	buf[7] = h.OS
	binary.LittleEndian.PutUint32(buf[8:12], h.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], h.ThreadID)
	buf[16] = h.ClockType
	// buf[17:24] reserved
	binary.LittleEndian.PutUint32(buf[24:28], h.EventSize)
	binary.LittleEndian.PutUint32(buf[28:32], h.EventCount)
	binary.LittleEndian.PutUint64(buf[32:40], h.EventsOffset)
	binary.LittleEndian.PutUint64(buf[40:48], h.FooterOffset)
	binary.LittleEndian.PutUint64(buf[48:56], h.TimeStartNs)
	binary.LittleEndian.PutUint64(buf[56:64], h.TimeEndNs)
}

func DecodeIndexFileHeader(buf []byte) (IndexFileHeader, bool) {
	_ = buf[:IndexFileHeaderSize]
	if string(buf[0:4]) != IndexMagic {
		return IndexFileHeader{}, false
	}
	return IndexFileHeader{
		Endian:       buf[4],
		Version:      buf[5],
		Arch:         buf[6],
		OS:           buf[7],
		Flags:        binary.LittleEndian.Uint32(buf[8:12]),
		ThreadID:     binary.LittleEndian.Uint32(buf[12:16]),
		ClockType:    buf[16],
		EventSize:    binary.LittleEndian.Uint32(buf[24:28]),
		EventCount:   binary.LittleEndian.Uint32(buf[28:32]),
		EventsOffset: binary.LittleEndian.Uint64(buf[32:40]),
		FooterOffset: binary.LittleEndian.Uint64(buf[40:48]),
		TimeStartNs:  binary.LittleEndian.Uint64(buf[48:56]),
		TimeEndNs:    binary.LittleEndian.Uint64(buf[56:64]),
	}, true
}

// IndexFileFooter is index.atf's 64-byte trailing commit marker.
type IndexFileFooter struct {
	Checksum     uint32
	EventCount   uint64
	TimeStartNs  uint64
	TimeEndNs    uint64
	BytesWritten uint64
}

func (f IndexFileFooter) Encode(buf []byte) {
	_ = buf[:IndexFileFooterSize]
	copy(buf[0:4], IndexFooterMagic)
	binary.LittleEndian.PutUint32(buf[4:8], f.Checksum)
	binary.LittleEndian.PutUint64(buf[8:16], f.EventCount)
	binary.LittleEndian.PutUint64(buf[16:24], f.TimeStartNs)
	binary.LittleEndian.PutUint64(buf[24:32], f.TimeEndNs)
	binary.LittleEndian.PutUint64(buf[32:40], f.BytesWritten)
	// buf[40:64] reserved
}

func DecodeIndexFileFooter(buf []byte) (IndexFileFooter, bool) {
	_ = buf[:IndexFileFooterSize]
	if string(buf[0:4]) != IndexFooterMagic {
		return IndexFileFooter{}, false
	}
	return IndexFileFooter{
		Checksum:     binary.LittleEndian.Uint32(buf[4:8]),
		EventCount:   binary.LittleEndian.Uint64(buf[8:16]),
		TimeStartNs:  binary.LittleEndian.Uint64(buf[16:24]),
		TimeEndNs:    binary.LittleEndian.Uint64(buf[24:32]),
		BytesWritten: binary.LittleEndian.Uint64(buf[32:40]),
	}, true
}

// DetailFileHeader is detail.atf's 64-byte leading header.
type DetailFileHeader struct {
	Endian        uint8
	Version       uint8
	Arch          uint8
	OS            uint8
	Flags         uint32
	ThreadID      uint32
	EventsOffset  uint64
	EventCount    uint64
	BytesLength   uint64
	IndexSeqStart uint64
	IndexSeqEnd   uint64
}

func (h DetailFileHeader) Encode(buf []byte) {
	_ = buf[:DetailFileHeaderSize]
	copy(buf[0:4], DetailMagic)
	buf[4] = h.Endian
	buf[5] = h.Version
	buf[6] = h.Arch
	buf[7] = h.OS
	binary.LittleEndian.PutUint32(buf[8:12], h.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], h.ThreadID)
	// buf[16:24] reserved
	binary.LittleEndian.PutUint64(buf[24:32], h.EventsOffset)
	binary.LittleEndian.PutUint64(buf[32:40], h.EventCount)
	binary.LittleEndian.PutUint64(buf[40:48], h.BytesLength)
	binary.LittleEndian.PutUint64(buf[48:56], h.IndexSeqStart)
	binary.LittleEndian.PutUint64(buf[56:64], h.IndexSeqEnd)
}

func DecodeDetailFileHeader(buf []byte) (DetailFileHeader, bool) {
	_ = buf[:DetailFileHeaderSize]
	if string(buf[0:4]) != DetailMagic {
		return DetailFileHeader{}, false
	}
	return DetailFileHeader{
		Endian:        buf[4],
		Version:       buf[5],
		Arch:          buf[6],
		OS:            buf[7],
		Flags:         binary.LittleEndian.Uint32(buf[8:12]),
		ThreadID:      binary.LittleEndian.Uint32(buf[12:16]),
		EventsOffset:  binary.LittleEndian.Uint64(buf[24:32]),
		EventCount:    binary.LittleEndian.Uint64(buf[32:40]),
		BytesLength:   binary.LittleEndian.Uint64(buf[40:48]),
		IndexSeqStart: binary.LittleEndian.Uint64(buf[48:56]),
		IndexSeqEnd:   binary.LittleEndian.Uint64(buf[56:64]),
	}, true
}

// DetailFileFooter is detail.atf's 64-byte trailing commit marker.
type DetailFileFooter struct {
	Checksum    uint32
	EventCount  uint64
	BytesLength uint64
	TimeStartNs uint64
	TimeEndNs   uint64
}

func (f DetailFileFooter) Encode(buf []byte) {
	_ = buf[:DetailFileFooterSize]
	copy(buf[0:4], DetailFooterMagic)
	binary.LittleEndian.PutUint32(buf[4:8], f.Checksum)
	binary.LittleEndian.PutUint64(buf[8:16], f.EventCount)
	binary.LittleEndian.PutUint64(buf[16:24], f.BytesLength)
	binary.LittleEndian.PutUint64(buf[24:32], f.TimeStartNs)
	binary.LittleEndian.PutUint64(buf[32:40], f.TimeEndNs)
	// buf[40:64] reserved
}

func DecodeDetailFileFooter(buf []byte) (DetailFileFooter, bool) {
	_ = buf[:DetailFileFooterSize]
	if string(buf[0:4]) != DetailFooterMagic {
		return DetailFileFooter{}, false
	}
	return DetailFileFooter{
		Checksum:    binary.LittleEndian.Uint32(buf[4:8]),
		EventCount:  binary.LittleEndian.Uint64(buf[8:16]),
		BytesLength: binary.LittleEndian.Uint64(buf[16:24]),
		TimeStartNs: binary.LittleEndian.Uint64(buf[24:32]),
		TimeEndNs:   binary.LittleEndian.Uint64(buf[32:40]),
	}, true
}
