package tracewriter

import (
	"os"
	"sync"

	"github.com/inos-systems/tracecore/internal/obs"
)

// Session owns every thread's ThreadWriter for one collector session,
// rooted at <sessiondir>/pid_<pid>/ (the session-timestamp and pid
// components are the caller's concern — manifest/session wiring lives in
// package collector).
type Session struct {
	mu      sync.Mutex
	root    string
	arch    uint8
	osTag   uint8
	writers map[uint32]*ThreadWriter
}

func NewSession(dir string, arch, osTag uint8) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, obs.Wrap(obs.KindWriteError, "create session directory", err)
	}
	return &Session{root: dir, arch: arch, osTag: osTag, writers: make(map[uint32]*ThreadWriter)}, nil
}

func (s *Session) threadWriter(threadID uint32) (*ThreadWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.writers[threadID]; ok {
		return w, nil
	}
	w, err := newThreadWriter(s.root, threadID, s.arch, s.osTag)
	if err != nil {
		return nil, err
	}
	s.writers[threadID] = w
	return w, nil
}

// WriteIndexBatch and WriteDetailBatch are the drain.Writer interface this
// Session implements for package drain.
func (s *Session) WriteIndexBatch(threadID uint32, buf []byte, count int) error {
	w, err := s.threadWriter(threadID)
	if err != nil {
		return err
	}
	return w.WriteIndexBatch(buf, count)
}

func (s *Session) WriteDetailBatch(threadID uint32, buf []byte, count, slotSize int) error {
	w, err := s.threadWriter(threadID)
	if err != nil {
		return err
	}
	return w.WriteDetailBatch(buf, count, slotSize)
}

// CloseThread finalizes one thread's files; called by the drainer after a
// thread's final drain (§4.5).
func (s *Session) CloseThread(threadID uint32) error {
	s.mu.Lock()
	w, ok := s.writers[threadID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return w.Close()
}

// CloseAll finalizes every still-open thread writer, for session shutdown
// (§4.6's Finalizing -> Closed transition).
func (s *Session) CloseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, w := range s.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats aggregates every thread's counters for the session manifest.
type Stats struct {
	Threads         []uint32
	EventCountTotal uint64
	WriteErrors     uint64
	TimeStartNs     uint64
	TimeEndNs       uint64
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for tid, w := range s.writers {
		st.Threads = append(st.Threads, tid)
		st.EventCountTotal += uint64(w.EventCount())
		st.WriteErrors += w.WriteErrors()
		if st.TimeStartNs == 0 || (w.timeStart != 0 && w.timeStart < st.TimeStartNs) {
			st.TimeStartNs = w.timeStart
		}
		if w.timeEnd > st.TimeEndNs {
			st.TimeEndNs = w.timeEnd
		}
	}
	return st
}
