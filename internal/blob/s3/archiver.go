package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// multipartThreshold switches uploads to the transfer manager.
const multipartThreshold = 8 * 1024 * 1024

// Archiver is a domain.StateSink that buffers every state update and uploads
// the buffer as one JSONL object per flush, partitioned by UTC day:
//
//	<prefix>/state/2026-05-01/20260501T121500.000000000Z.jsonl
//
// Archives are never read back by the bot.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending []domain.StateUpdate
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(writer domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// PublishState buffers the update. It never blocks on the network.
func (a *Archiver) PublishState(_ context.Context, u domain.StateUpdate) error {
	a.mu.Lock()
	a.pending = append(a.pending, u)
	a.mu.Unlock()
	return nil
}

// Pending reports how many updates await upload.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run flushes every interval until ctx is done. The final flush belongs to
// the caller's shutdown path.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil {
				a.logger.WarnContext(ctx, "archive flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush uploads everything buffered so far and returns the object key, or ""
// when there was nothing to upload. On failure the updates are put back in
// front of anything buffered since, so the next flush retries them.
func (a *Archiver) Flush(ctx context.Context) (string, error) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()
	if len(batch) == 0 {
		return "", nil
	}

	key := a.objectKey(a.now().UTC())
	if err := a.upload(ctx, key, batch); err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return "", err
	}
	a.logger.InfoContext(ctx, "state archived",
		slog.String("key", key),
		slog.Int("updates", len(batch)),
	)
	return key, nil
}

func (a *Archiver) upload(ctx context.Context, key string, batch []domain.StateUpdate) error {
	buf, err := marshalJSONL(batch)
	if err != nil {
		return domain.Malformed(fmt.Errorf("s3blob: archive marshal: %w", err))
	}
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson")
}

func (a *Archiver) objectKey(at time.Time) string {
	return path.Join(a.prefix, "state", at.Format("2006-01-02"), at.Format("20060102T150405.000000000Z")+".jsonl")
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.StateSink = (*Archiver)(nil)
