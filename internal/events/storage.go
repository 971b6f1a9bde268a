package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

const (
	openSuffix    = ".events"
	sealedSuffix  = ".events.ready"
	corruptSuffix = ".events.corrupt"

	// MaxEventSize caps one encoded event, newline included.
	MaxEventSize = 4 << 20
)

var (
	// ErrEmptySegment is returned when sealing a segment without events.
	ErrEmptySegment = errors.New("events: current segment is empty")
	// ErrStorageClosed is returned by writes after Close.
	ErrStorageClosed = errors.New("events: storage is closed")
	// ErrEventTooLarge is returned by Append for events above MaxEventSize.
	ErrEventTooLarge = errors.New("events: event exceeds maximum size")
	// ErrUnreadableSegment is returned by ReadEvents when a segment holds a
	// line no reader can buffer. Such a segment will never upload.
	ErrUnreadableSegment = errors.New("events: segment is unreadable")
)

// Segment identifies one storage file.
type Segment struct {
	Seq    uint64
	Path   string
	Sealed bool
}

// FileStorage is an append-only log split into segment files. Exactly one
// segment is open for appends; sealed segments are renamed with a ".ready"
// suffix so a crash leaves an unambiguous record of what may be uploaded.
// Events are stored as newline-delimited JSON.
type FileStorage struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	current Segment
	file    *os.File
	count   int
	size    int64
	closed  bool
}

// OpenFileStorage opens dir, creating it if needed. Stray open segments left
// by an earlier crash are sealed (or removed when empty); the newest open
// segment keeps receiving appends.
func OpenFileStorage(dir string, logger *slog.Logger) (*FileStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event directory: %w", err)
	}

	s := &FileStorage{dir: dir, logger: logger}

	open, sealed, err := s.scan()
	if err != nil {
		return nil, err
	}

	var maxSeq uint64
	for _, seg := range sealed {
		maxSeq = max(maxSeq, seg.Seq)
	}

	var resume *Segment
	if len(open) > 0 {
		last := open[len(open)-1]
		resume = &last
		for _, stray := range open[:len(open)-1] {
			if err := s.sealStray(stray); err != nil {
				return nil, err
			}
		}
		maxSeq = max(maxSeq, last.Seq)
	}

	if resume != nil {
		if err := s.openSegment(*resume); err != nil {
			return nil, err
		}
	} else {
		if err := s.openSegment(s.segment(maxSeq+1, false)); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Dir returns the storage directory.
func (s *FileStorage) Dir() string { return s.dir }

func (s *FileStorage) segment(seq uint64, sealed bool) Segment {
	suffix := openSuffix
	if sealed {
		suffix = sealedSuffix
	}
	return Segment{
		Seq:    seq,
		Path:   filepath.Join(s.dir, fmt.Sprintf("%020d%s", seq, suffix)),
		Sealed: sealed,
	}
}

// scan lists open and sealed segments, each sorted by sequence.
func (s *FileStorage) scan() (open, sealed []Segment, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read event directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var base string
		var isSealed bool
		switch {
		case strings.HasSuffix(name, sealedSuffix):
			base, isSealed = strings.TrimSuffix(name, sealedSuffix), true
		case strings.HasSuffix(name, openSuffix):
			base = strings.TrimSuffix(name, openSuffix)
		default:
			continue
		}
		seq, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		seg := s.segment(seq, isSealed)
		if isSealed {
			sealed = append(sealed, seg)
		} else {
			open = append(open, seg)
		}
	}

	bySeq := func(a, b Segment) int { return compareSeq(a.Seq, b.Seq) }
	slices.SortFunc(open, bySeq)
	slices.SortFunc(sealed, bySeq)
	return open, sealed, nil
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (s *FileStorage) sealStray(seg Segment) error {
	n, err := countLines(seg.Path)
	if err != nil {
		return err
	}
	if n == 0 {
		return os.Remove(seg.Path)
	}
	s.logger.Info("sealing segment left open by a previous run", slog.Uint64("segment", seg.Seq))
	return os.Rename(seg.Path, s.segment(seg.Seq, true).Path)
}

// openSegment opens seg for appends. A partial last line left by a crash is
// cut off, so the next append starts on a line of its own.
func (s *FileStorage) openSegment(seg Segment) error {
	data, err := os.ReadFile(seg.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read segment: %w", err)
	}
	size := int64(bytes.LastIndexByte(data, '\n') + 1)
	if size < int64(len(data)) {
		s.logger.Warn("dropping torn tail of segment",
			slog.Uint64("segment", seg.Seq),
			slog.Int64("bytes", int64(len(data))-size),
		)
		if err := os.Truncate(seg.Path, size); err != nil {
			return fmt.Errorf("failed to repair segment: %w", err)
		}
	}

	f, err := os.OpenFile(seg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}
	s.current = seg
	s.file = f
	s.count = bytes.Count(data[:size], []byte{'\n'})
	s.size = size
	return nil
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read segment: %w", err)
	}
	return bytes.Count(data, []byte{'\n'}), nil
}

// Append writes e to the open segment.
func (s *FileStorage) Append(e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	line = append(line, '\n')
	if len(line) > MaxEventSize {
		return fmt.Errorf("%w: %d bytes", ErrEventTooLarge, len(line))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStorageClosed
	}
	if _, err := s.file.Write(line); err != nil {
		// Roll back a partial write so it cannot merge with the next line.
		if truncErr := s.file.Truncate(s.size); truncErr != nil {
			s.logger.Error("failed to roll back partial append",
				slog.Uint64("segment", s.current.Seq),
				slog.String("error", truncErr.Error()),
			)
		}
		return fmt.Errorf("failed to append event: %w", err)
	}
	s.count++
	s.size += int64(len(line))
	return nil
}

// Current returns the open segment and how many events it holds.
func (s *FileStorage) Current() (Segment, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.count
}

// Seal renames the open segment to its ready name and opens a fresh one.
// Appends and sealing share the mutex, so no append can land in a segment
// after it has been handed off.
func (s *FileStorage) Seal() (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Segment{}, ErrStorageClosed
	}
	if s.count == 0 {
		return Segment{}, ErrEmptySegment
	}

	if err := s.file.Sync(); err != nil {
		return Segment{}, fmt.Errorf("failed to sync segment: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return Segment{}, fmt.Errorf("failed to close segment: %w", err)
	}

	sealed := s.segment(s.current.Seq, true)
	if err := os.Rename(s.current.Path, sealed.Path); err != nil {
		// Keep appending to the same file rather than losing the handle.
		if reopenErr := s.openSegment(s.current); reopenErr != nil {
			s.closed = true
			return Segment{}, errors.Join(err, reopenErr)
		}
		return Segment{}, fmt.Errorf("failed to seal segment: %w", err)
	}

	if err := s.openSegment(s.segment(s.current.Seq+1, false)); err != nil {
		s.closed = true
		return Segment{}, err
	}
	return sealed, nil
}

// SealedSegments lists segments awaiting upload, oldest first.
func (s *FileStorage) SealedSegments() ([]Segment, error) {
	_, sealed, err := s.scan()
	return sealed, err
}

// ReadEvents returns the events of seg in insertion order. Lines that fail to
// decode, such as a torn final write, are skipped.
func (s *FileStorage) ReadEvents(seg Segment) ([]Event, error) {
	f, err := os.Open(seg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxEventSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			s.logger.Warn("skipping malformed event",
				slog.Uint64("segment", seg.Seq),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: %w", ErrUnreadableSegment, err)
		}
		return nil, fmt.Errorf("failed to read segment: %w", err)
	}
	return out, nil
}

// Quarantine moves a sealed segment aside so upload passes stop listing it.
// The file is kept for inspection.
func (s *FileStorage) Quarantine(seg Segment) (string, error) {
	if !seg.Sealed {
		return "", fmt.Errorf("events: refusing to quarantine open segment %d", seg.Seq)
	}
	target := filepath.Join(s.dir, fmt.Sprintf("%020d%s", seg.Seq, corruptSuffix))
	if err := os.Rename(seg.Path, target); err != nil {
		return "", fmt.Errorf("failed to quarantine segment: %w", err)
	}
	return target, nil
}

// Delete removes a sealed segment. Open segments cannot be deleted.
func (s *FileStorage) Delete(seg Segment) error {
	if !seg.Sealed {
		return fmt.Errorf("events: refusing to delete open segment %d", seg.Seq)
	}
	if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	return nil
}

// Close releases the open segment. Sealed segments stay readable.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
