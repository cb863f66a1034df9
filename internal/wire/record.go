// Package wire defines the on-wire/on-disk record layouts shared by the
// ring transport and the trace writer: IndexRecord (§3, fixed 32 bytes) and
// DetailRecord (24-byte header plus a variable payload).
package wire

import "encoding/binary"

const (
	IndexRecordSize  = 32
	DetailHeaderSize = 24

	EventKindCall      uint32 = 1
	EventKindReturn    uint32 = 2
	EventKindException uint32 = 3

	// DetailSeqSentinel marks an IndexRecord with no paired detail record.
	DetailSeqSentinel uint32 = 0xFFFFFFFF
)

// IndexRecord is the always-captured, always-persisted call/return record.
type IndexRecord struct {
	TimestampNs uint64
	FunctionID  uint64 // module_id<<32 | symbol_index
	ThreadID    uint32
	EventKind   uint32
	CallDepth   uint32
	DetailSeq   uint32
}

func (r IndexRecord) Encode(buf []byte) {
	_ = buf[:IndexRecordSize]
	binary.LittleEndian.PutUint64(buf[0:8], r.TimestampNs)
	binary.LittleEndian.PutUint64(buf[8:16], r.FunctionID)
	binary.LittleEndian.PutUint32(buf[16:20], r.ThreadID)
	binary.LittleEndian.PutUint32(buf[20:24], r.EventKind)
	binary.LittleEndian.PutUint32(buf[24:28], r.CallDepth)
	binary.LittleEndian.PutUint32(buf[28:32], r.DetailSeq)
}

func DecodeIndexRecord(buf []byte) IndexRecord {
	_ = buf[:IndexRecordSize]
	return IndexRecord{
		TimestampNs: binary.LittleEndian.Uint64(buf[0:8]),
		FunctionID:  binary.LittleEndian.Uint64(buf[8:16]),
		ThreadID:    binary.LittleEndian.Uint32(buf[16:20]),
		EventKind:   binary.LittleEndian.Uint32(buf[20:24]),
		CallDepth:   binary.LittleEndian.Uint32(buf[24:28]),
		DetailSeq:   binary.LittleEndian.Uint32(buf[28:32]),
	}
}

// FunctionID packs a module id and symbol index the way the hooker does
// before handing the core a record.
func FunctionID(moduleID uint32, symbolIndex uint32) uint64 {
	return uint64(moduleID)<<32 | uint64(symbolIndex)
}

// DetailHeader is the fixed prefix of a DetailRecord; it is followed by
// 0..max_payload bytes of register/stack-snapshot data.
type DetailHeader struct {
	TotalLength uint32 // header + payload
	EventType   uint16
	Flags       uint16
	IndexSeq    uint32
	ThreadID    uint32
	TimestampNs uint64
}

func (h DetailHeader) Encode(buf []byte) {
	_ = buf[:DetailHeaderSize]
	binary.LittleEndian.PutUint32(buf[0:4], h.TotalLength)
	binary.LittleEndian.PutUint16(buf[4:6], h.EventType)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.IndexSeq)
	binary.LittleEndian.PutUint32(buf[12:16], h.ThreadID)
	binary.LittleEndian.PutUint64(buf[16:24], h.TimestampNs)
}

func DecodeDetailHeader(buf []byte) DetailHeader {
	_ = buf[:DetailHeaderSize]
	return DetailHeader{
		TotalLength: binary.LittleEndian.Uint32(buf[0:4]),
		EventType:   binary.LittleEndian.Uint16(buf[4:6]),
		Flags:       binary.LittleEndian.Uint16(buf[6:8]),
		IndexSeq:    binary.LittleEndian.Uint32(buf[8:12]),
		ThreadID:    binary.LittleEndian.Uint32(buf[12:16]),
		TimestampNs: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// DetailRecord is a decoded detail record: header plus payload bytes
// (registers followed by a shallow stack snapshot).
type DetailRecord struct {
	Header  DetailHeader
	Payload []byte
}

func (d DetailRecord) Encode(buf []byte) {
	d.Header.Encode(buf[:DetailHeaderSize])
	copy(buf[DetailHeaderSize:], d.Payload)
}

func DecodeDetailRecord(buf []byte) DetailRecord {
	h := DecodeDetailHeader(buf)
	payload := make([]byte, int(h.TotalLength)-DetailHeaderSize)
	copy(payload, buf[DetailHeaderSize:h.TotalLength])
	return DetailRecord{Header: h, Payload: payload}
}
