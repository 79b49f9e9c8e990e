package eventstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// fileStore is a durable, append-only segment log. Records are
// length-prefixed and fsynced before Put returns. A separate cursor
// file records the byte offset of the last acknowledged record, so a
// restart replays whatever pack was in flight when the process died —
// the same crash-safety shape as the teacher's FlushToFile temp-then-
// rename writer, applied to a log instead of a snapshot.
type fileStore struct {
	mu         sync.Mutex
	dir        string
	logPath    string
	cursorPath string

	f          *os.File // append handle
	readOffset int64    // offset of the next unread record (== last acked)
	length     int      // unread record count, maintained incrementally

	pending    [][]byte
	pendingEnd int64
	packSize   int
}

func newFileStore(config map[string]any) (Store, error) {
	dir, _ := config["dir"].(string)
	if dir == "" {
		dir = "./gwcore-events"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventstore: create dir: %w", err)
	}

	packSize := defaultPackSize
	if v, ok := config["packSize"].(float64); ok && v > 0 {
		packSize = int(v)
	}

	s := &fileStore{
		dir:        dir,
		logPath:    filepath.Join(dir, "events.log"),
		cursorPath: filepath.Join(dir, "cursor"),
		packSize:   packSize,
	}

	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open log: %w", err)
	}
	s.f = f

	cursor, err := readCursor(s.cursorPath)
	if err != nil {
		return nil, err
	}
	s.readOffset = cursor

	n, err := countRecords(s.logPath, cursor)
	if err != nil {
		return nil, err
	}
	s.length = n

	return s, nil
}

func init() {
	Register("file", newFileStore)
}

func readCursor(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("eventstore: read cursor: %w", err)
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func writeCursor(path string, offset int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "cursor-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatInt(offset, 10)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// countRecords scans the log from startOffset, counting length-prefixed
// records, so Len() is accurate after a restart without replaying them.
func countRecords(path string, startOffset int64) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
		return 0, err
	}
	r := bufio.NewReader(f)
	count := 0
	for {
		if _, err := readRecord(r); err != nil {
			if err == io.EOF {
				break
			}
			return count, nil // truncated tail record: stop counting, don't fail startup
		}
		count++
	}
	return count, nil
}

func readRecord(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

func (s *fileStore) Put(ctx context.Context, record []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(record)))

	if _, err := s.f.Write(lenBuf[:]); err != nil {
		return false
	}
	if _, err := s.f.Write(record); err != nil {
		return false
	}
	if err := s.f.Sync(); err != nil {
		return false
	}
	s.length++
	return true
}

func (s *fileStore) GetEventPack(ctx context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		return s.pending, nil
	}

	f, err := os.Open(s.logPath)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open log for read: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(s.readOffset, io.SeekStart); err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)

	var pack [][]byte
	offset := s.readOffset
	for len(pack) < s.packSize {
		rec, err := readRecord(r)
		if err != nil {
			break
		}
		pack = append(pack, rec)
		offset += int64(4 + len(rec))
	}

	if len(pack) == 0 {
		return nil, nil
	}
	s.pending = pack
	s.pendingEnd = offset
	return pack, nil
}

func (s *fileStore) EventPackProcessingDone(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	if err := writeCursor(s.cursorPath, s.pendingEnd); err != nil {
		return fmt.Errorf("eventstore: advance cursor: %w", err)
	}
	s.readOffset = s.pendingEnd
	s.length -= len(s.pending)
	s.pending = nil
	return nil
}

func (s *fileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

func (s *fileStore) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
