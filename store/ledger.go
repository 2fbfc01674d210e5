package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger is an append-only list of keys (one per line) recording work that
// has already been done, e.g. shards that were materialised. A torn final
// line after a crash is ignored on the next open.
type Ledger struct {
	mu   sync.RWMutex
	file *os.File
	seen map[string]struct{}
}

func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	seen := make(map[string]struct{})

	if f, err := os.Open(path); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if key := strings.TrimSpace(sc.Text()); key != "" {
				seen[key] = struct{}{}
			}
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{file: f, seen: seen}, nil
}

func (l *Ledger) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[key]
	return ok
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}

// Mark records keys and fsyncs once. Known and empty keys are skipped.
func (l *Ledger) Mark(keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("ledger is closed")
	}

	added := 0
	for _, k := range keys {
		if k == "" || strings.ContainsRune(k, '\n') {
			continue
		}
		if _, ok := l.seen[k]; ok {
			continue
		}
		if _, err := l.file.WriteString(k + "\n"); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
		l.seen[k] = struct{}{}
		added++
	}
	if added == 0 {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
