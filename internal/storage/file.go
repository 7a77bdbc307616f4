package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"pushstream/pkg/logx"
)

// fileStore keeps state in two plain files:
//   - <path>_last_timestamp: the watermark as a decimal number
//   - <path>_messages:       the ledger, one line per delivered event
//
// The watermark file is replaced atomically (tmp + rename).
type fileStore struct {
	log logx.Logger
	loc *time.Location

	mu sync.Mutex

	watermarkPath string
	ledgerFile    *os.File
	ledger        *bufio.Writer
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	prefix := strings.TrimSpace(cfg.Path)
	if prefix == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return nil, err
	}

	lf, err := os.OpenFile(prefix+"_messages", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	log.Debug("file store opened", logx.String("prefix", prefix))
	return &fileStore{
		log:           log,
		loc:           loc,
		watermarkPath: prefix + "_last_timestamp",
		ledgerFile:    lf,
		ledger:        bufio.NewWriter(lf),
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgerFile == nil {
		return nil
	}
	err1 := s.ledger.Flush()
	err2 := s.ledgerFile.Close()
	s.ledgerFile = nil
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) LoadWatermark(ctx context.Context) (float64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.watermarkPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return 0, nil
	}
	ts, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", s.watermarkPath, err)
	}
	return ts, nil
}

func (s *fileStore) SaveWatermark(ctx context.Context, ts float64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.watermarkPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(formatTimestamp(ts)), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.watermarkPath)
}

func (s *fileStore) AppendLedger(ctx context.Context, e LedgerEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgerFile == nil {
		return errors.New("ledger file closed")
	}
	if _, err := s.ledger.WriteString(e.Line(s.loc) + "\n"); err != nil {
		return err
	}
	return s.ledger.Flush()
}
