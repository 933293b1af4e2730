package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"jobsync/internal/domain"
)

// FileStore keeps run history as one JSON object per line, appended to a
// single file. Only terminal records are written; Begin is a no-op, so a
// file-backed deployment has no orphan detection. Reads scan the whole
// file, which is fine for the volumes a daily schedule produces.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Begin is a no-op: the file backend records outcomes only.
func (s *FileStore) Begin(ctx context.Context, run domain.Run) error {
	return nil
}

// Append writes one terminal run record as a JSONL line.
func (s *FileStore) Append(ctx context.Context, run domain.Run) error {
	line, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Latest returns the most recently appended run record.
// The second return is false when the history is empty.
func (s *FileStore) Latest(ctx context.Context) (domain.Run, bool, error) {
	runs, err := s.readAll()
	if err != nil {
		return domain.Run{}, false, err
	}
	if len(runs) == 0 {
		return domain.Run{}, false, nil
	}
	return runs[len(runs)-1], true, nil
}

// List returns run records newest first, paginated by limit and offset.
func (s *FileStore) List(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	runs, err := s.readAll()
	if err != nil {
		return nil, err
	}

	// Reverse to newest first.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}

	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

// Get returns a single run record by ID.
func (s *FileStore) Get(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	runs, err := s.readAll()
	if err != nil {
		return domain.Run{}, err
	}
	for _, run := range runs {
		if run.ID == id {
			return run, nil
		}
	}
	return domain.Run{}, ErrRunNotFound
}

func (s *FileStore) readAll() ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var runs []domain.Run
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var run domain.Run
		if err := json.Unmarshal(sc.Bytes(), &run); err != nil {
			// A torn final line from a crash is skipped, not fatal.
			continue
		}
		runs = append(runs, run)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return runs, nil
}
