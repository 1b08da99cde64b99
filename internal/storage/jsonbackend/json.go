package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/FranksOps/primp/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// maxLine bounds a single archived exchange; bodies are base64 in the line.
const maxLine = 64 << 20

type jsonBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New opens (or creates) an NDJSON archive, one exchange per line.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return &jsonBackend{file: f}, nil
}

func (b *jsonBackend) Save(ctx context.Context, ex *storage.Exchange) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *jsonBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Exchange, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer func() { _, _ = b.file.Seek(0, io.SeekEnd) }()

	scanner := bufio.NewScanner(b.file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var rows []*storage.Exchange
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ex storage.Exchange
		if err := json.Unmarshal(raw, &ex); err != nil {
			return nil, fmt.Errorf("context: line %d: %w", line, err)
		}
		if filter.Matches(&ex) {
			rows = append(rows, &ex)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return filter.Page(rows), nil
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
