// Package debuglog is an append-only forensic timeline of pipeline events,
// stored in pebble and indexed by message and by conversation.
package debuglog

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultBufferSize = 1024
	defaultQueryLimit = 200
	maxQueryLimit     = 1000
)

type Options struct {
	Path       string
	BufferSize int
	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS vfs.FS
}

type request struct {
	entry domain.DebugLogEntry
	flush chan struct{}
}

type Store struct {
	db     *pebble.DB
	logger *zap.Logger

	mu       sync.RWMutex
	closed   bool
	requests chan request
	done     chan struct{}
	seq      atomic.Uint64
}

func Open(opts Options, logger *zap.Logger) (*Store, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	db, err := pebble.Open(opts.Path, &pebble.Options{FS: opts.FS})
	if err != nil {
		return nil, fmt.Errorf("opening debug log at %s: %w", opts.Path, err)
	}

	s := &Store{
		db:       db,
		logger:   logger.Named("debuglog"),
		requests: make(chan request, opts.BufferSize),
		done:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// LogEvent queues entry for writing and never blocks. When the buffer is
// full the entry is dropped.
func (s *Store) LogEvent(entry domain.DebugLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.requests <- request{entry: entry}:
	default:
		metrics.DebugLogDropped.Inc()
		s.logger.Warn("Debug log buffer full, dropping entry",
			zap.String("event", entry.Event),
			zap.Stringer("messageID", entry.MessageID))
	}
}

// Flush waits until every entry queued before the call has been written.
func (s *Store) Flush(ctx context.Context) error {
	ch := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.requests <- request{flush: ch}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) run() {
	defer close(s.done)
	for req := range s.requests {
		if req.flush != nil {
			close(req.flush)
			continue
		}
		if err := s.write(req.entry); err != nil {
			s.logger.Warn("Failed to write debug log entry",
				zap.String("event", req.entry.Event),
				zap.Error(err))
		}
	}
}

func (s *Store) write(entry domain.DebugLogEntry) error {
	value, err := sonic.Marshal(entry)
	if err != nil {
		return err
	}

	suffix := fmt.Sprintf("%020d-%010d", entry.CreatedAt.UnixNano(), s.seq.Add(1))
	batch := s.db.NewBatch()
	defer batch.Close()

	if entry.MessageID != uuid.Nil {
		if err := batch.Set(messageKey(entry.MessageID, suffix), value, nil); err != nil {
			return err
		}
	}
	if entry.ConversationID != uuid.Nil {
		if err := batch.Set(conversationKey(entry.ConversationID, suffix), value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.NoSync)
}

func messageKey(id uuid.UUID, suffix string) []byte {
	return []byte("msg:" + id.String() + ":" + suffix)
}

func conversationKey(id uuid.UUID, suffix string) []byte {
	return []byte("conv:" + id.String() + ":" + suffix)
}

// GetMessageTimeline returns every entry for the message in write order.
func (s *Store) GetMessageTimeline(_ context.Context, messageID uuid.UUID) ([]domain.DebugLogEntry, error) {
	return s.scan(messageKey(messageID, ""), domain.DebugLogFilter{Limit: maxQueryLimit})
}

// GetConversationLogs returns the most recent matching entries in write order.
func (s *Store) GetConversationLogs(_ context.Context, conversationID uuid.UUID, filter domain.DebugLogFilter) ([]domain.DebugLogEntry, error) {
	return s.scan(conversationKey(conversationID, ""), filter)
}

func (s *Store) scan(prefix []byte, filter domain.DebugLogFilter) ([]domain.DebugLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	limit = min(limit, maxQueryLimit)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []domain.DebugLogEntry
	for ok := iter.Last(); ok && len(entries) < limit; ok = iter.Prev() {
		var entry domain.DebugLogEntry
		if err := sonic.Unmarshal(bytes.Clone(iter.Value()), &entry); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", iter.Key(), err)
		}
		if filter.Event != "" && entry.Event != filter.Event {
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Close drains queued entries and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.requests)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}
