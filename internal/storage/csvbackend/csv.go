package csvbackend

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/primp/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// header is the column order of the archive.
var header = []string{
	"id",
	"url",
	"final_url",
	"method",
	"profile",
	"status_code",
	"proto",
	"headers_json",
	"body_base64",
	"duration_ms",
	"detected_bot",
	"detection_src",
	"created_at",
	"error",
}

// New opens (or creates) a CSV archive. A header row is written to new files.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("context: %w", err)
	}
	if info.Size() == 0 {
		if err := writeRecord(f, header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &csvBackend{file: f}, nil
}

func writeRecord(w io.Writer, record []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *csvBackend) Save(ctx context.Context, ex *storage.Exchange) error {
	headersJSON, err := json.Marshal(ex.Headers)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	record := []string{
		ex.ID,
		ex.URL,
		ex.FinalURL,
		ex.Method,
		ex.Profile,
		strconv.Itoa(ex.StatusCode),
		ex.Proto,
		string(headersJSON),
		base64.StdEncoding.EncodeToString(ex.Body),
		strconv.FormatInt(ex.Duration.Milliseconds(), 10),
		strconv.FormatBool(ex.DetectedBot),
		ex.DetectionSrc,
		ex.CreatedAt.Format(time.RFC3339Nano),
		ex.Error,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return writeRecord(b.file, record)
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Exchange, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer func() { _, _ = b.file.Seek(0, io.SeekEnd) }()

	r := csv.NewReader(b.file)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*storage.Exchange{}, nil
		}
		return nil, fmt.Errorf("context: %w", err)
	}

	var rows []*storage.Exchange
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		if len(record) != len(header) {
			continue // malformed row
		}

		ex := parseRecord(record)
		if filter.Matches(ex) {
			rows = append(rows, ex)
		}
	}
	return filter.Page(rows), nil
}

func parseRecord(record []string) *storage.Exchange {
	status, _ := strconv.Atoi(record[5])
	var headers map[string][]string
	if err := json.Unmarshal([]byte(record[7]), &headers); err != nil {
		headers = map[string][]string{}
	}
	body, _ := base64.StdEncoding.DecodeString(record[8])
	durationMs, _ := strconv.ParseInt(record[9], 10, 64)
	detected, _ := strconv.ParseBool(record[10])
	createdAt, _ := time.Parse(time.RFC3339Nano, record[12])

	return &storage.Exchange{
		ID:           record[0],
		URL:          record[1],
		FinalURL:     record[2],
		Method:       record[3],
		Profile:      record[4],
		StatusCode:   status,
		Proto:        record[6],
		Headers:      headers,
		Body:         body,
		Duration:     time.Duration(durationMs) * time.Millisecond,
		DetectedBot:  detected,
		DetectionSrc: record[11],
		CreatedAt:    createdAt,
		Error:        record[13],
	}
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
