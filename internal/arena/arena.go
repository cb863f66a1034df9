// Package arena implements the shared arena (C1): a named, fixed-size byte
// region mapped by both agent and collector with a deterministic
// sub-layout and offset-only cross-process addressing (§4.1). It is
// grounded on the teacher's kernel/threads/sab package: layout.go's
// region-table approach and hal_native.go's mmap-backed
// SharedMemoryProvider, rebuilt here over golang.org/x/sys/unix instead of
// the teacher's raw syscall package.
package arena

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/inos-systems/tracecore/internal/config"
	"github.com/inos-systems/tracecore/internal/obs"
)

const (
	// Magic is "ATFD" per §6.5.
	Magic uint32 = 0x41544644
	// Version is the arena control-interface version per §6.5.
	Version uint32 = 2

	// ControlHeaderSize: magic(4) + version(4) + arena_size(8) +
	// registry_offset(8) + rings_offset(8) + flags(8) = 40.
	ControlHeaderSize = 40
)

// ControlHeader is the first region of the arena (§4.1).
type ControlHeader struct {
	Magic          uint32
	Version        uint32
	ArenaSize      uint64
	RegistryOffset uint64
	RingsOffset    uint64
	Flags          uint64
}

func (h ControlHeader) encode(buf []byte) {
	_ = buf[:ControlHeaderSize]
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.ArenaSize)
	binary.LittleEndian.PutUint64(buf[16:24], h.RegistryOffset)
	binary.LittleEndian.PutUint64(buf[24:32], h.RingsOffset)
	binary.LittleEndian.PutUint64(buf[32:40], h.Flags)
}

func decodeControlHeader(buf []byte) ControlHeader {
	_ = buf[:ControlHeaderSize]
	return ControlHeader{
		Magic:          binary.LittleEndian.Uint32(buf[0:4]),
		Version:        binary.LittleEndian.Uint32(buf[4:8]),
		ArenaSize:      binary.LittleEndian.Uint64(buf[8:16]),
		RegistryOffset: binary.LittleEndian.Uint64(buf[16:24]),
		RingsOffset:    binary.LittleEndian.Uint64(buf[24:32]),
		Flags:          binary.LittleEndian.Uint64(buf[32:40]),
	}
}

// Arena is a memory-mapped, file-backed shared byte region.
type Arena struct {
	path   string
	file   *os.File
	data   []byte
	size   uint64
	Layout Layout
}

// DefaultPath returns /dev/shm/<name> when /dev/shm exists, falling back to
// a temp-dir path otherwise — the same fallback the teacher's
// DefaultSharedMemoryPath uses.
func DefaultPath(name string) string {
	if _, err := os.Stat("/dev/shm"); err == nil {
		return "/dev/shm/" + name
	}
	return os.TempDir() + "/" + name
}

// Create allocates and zero-initializes the arena: collector-only, per
// §3's "arena layout is initialized exactly once, by the collector" and
// §4.1's create() operation.
func Create(path string, cfg config.Config) (*Arena, error) {
	layout := NewLayout(cfg)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, obs.Wrap(obs.KindArenaMismatch, "create arena file", err)
	}
	if err := f.Truncate(int64(layout.TotalSize)); err != nil {
		f.Close()
		return nil, obs.Wrap(obs.KindArenaMismatch, "truncate arena file", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(layout.TotalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, obs.Wrap(obs.KindArenaMismatch, "mmap arena file", err)
	}

	h := ControlHeader{
		Magic:          Magic,
		Version:        Version,
		ArenaSize:      layout.TotalSize,
		RegistryOffset: layout.RegistryOffset,
		RingsOffset:    layout.RingsOffset,
	}
	h.encode(data[0:ControlHeaderSize])

	return &Arena{path: path, file: f, data: data, size: layout.TotalSize, Layout: layout}, nil
}

// Open maps an existing arena and validates its control header: agent-side,
// per §4.1's open() operation. Fails with a KindArenaMismatch error if
// magic, version, or size disagree.
func Open(path string, cfg config.Config) (*Arena, error) {
	expected := NewLayout(cfg)

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, obs.Wrap(obs.KindArenaMismatch, "open arena file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, obs.Wrap(obs.KindArenaMismatch, "stat arena file", err)
	}
	if uint64(info.Size()) != expected.TotalSize {
		f.Close()
		return nil, obs.New(obs.KindArenaMismatch, fmt.Sprintf("arena size mismatch: file=%d expected=%d", info.Size(), expected.TotalSize))
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(expected.TotalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, obs.Wrap(obs.KindArenaMismatch, "mmap arena file", err)
	}

	h := decodeControlHeader(data[0:ControlHeaderSize])
	if h.Magic != Magic || h.Version != Version {
		unix.Munmap(data)
		f.Close()
		return nil, obs.New(obs.KindArenaMismatch, "arena magic/version mismatch")
	}
	if h.ArenaSize != expected.TotalSize {
		unix.Munmap(data)
		f.Close()
		return nil, obs.New(obs.KindArenaMismatch, "arena size field mismatch")
	}

	return &Arena{path: path, file: f, data: data, size: expected.TotalSize, Layout: expected}, nil
}

func (a *Arena) Header() ControlHeader { return decodeControlHeader(a.data[0:ControlHeaderSize]) }

func (a *Arena) Size() uint64 { return a.size }

// Slice resolves an offset to a byte view into the arena; this is the Go
// realization of §4.1's resolve(offset) helper (Go slices are
// process-local views, not stored pointers, so the "never store a resolved
// pointer" invariant of §9 is upheld by construction — every caller holds
// only the offset and re-resolves on each access).
func (a *Arena) Slice(offset, length uint64) []byte {
	if offset+length > a.size {
		panic(fmt.Sprintf("arena: out-of-bounds slice offset=%d length=%d size=%d", offset, length, a.size))
	}
	return a.data[offset : offset+length]
}

func (a *Arena) Close() error {
	var err error
	if a.data != nil {
		if e := unix.Munmap(a.data); e != nil {
			err = e
		}
		a.data = nil
	}
	if a.file != nil {
		if e := a.file.Close(); e != nil && err == nil {
			err = e
		}
		a.file = nil
	}
	return err
}
