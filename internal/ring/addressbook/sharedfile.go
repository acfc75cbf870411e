package addressbook

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// SharedFileProvider reads one address per line from a file that any
// node in the cluster may append to, the shared-filesystem flavor of
// Provider. When Addresses returns an error (the file cannot be opened
// and no earlier read succeeded, or a read fails part-way), the caller
// retries every RetryInterval.
type SharedFileProvider struct {
	path string

	mu       sync.Mutex
	lastGood []string
}

var _ Provider = (*SharedFileProvider)(nil)

// NewSharedFile returns a SharedFileProvider reading from path.
func NewSharedFile(path string) *SharedFileProvider {
	return &SharedFileProvider{path: path}
}

// Addresses reads and parses path. When the file cannot be opened, the
// last successfully read list is returned instead of an error, since a
// shared file being briefly unavailable (e.g. concurrent writer) should
// not stall every member's join attempt.
func (p *SharedFileProvider) Addresses(_ context.Context) ([]string, error) {
	f, err := os.Open(p.path)
	if err != nil {
		p.mu.Lock()
		cached := append([]string(nil), p.lastGood...)
		p.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("addressbook: open shared file %q: %w", p.path, err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("addressbook: read shared file %q: %w", p.path, err)
	}

	p.mu.Lock()
	p.lastGood = out
	p.mu.Unlock()
	return out, nil
}

// Register implements addressbook.Registrar, skipping the write when
// addr is already listed.
func (p *SharedFileProvider) Register(ctx context.Context, addr string) error {
	current, err := p.Addresses(ctx)
	if err == nil {
		for _, a := range current {
			if a == addr {
				return nil
			}
		}
	}
	return p.Append(addr)
}

// Append adds addr as a new line in the shared file, used by a node to
// publish its own endpoint for others to discover.
func (p *SharedFileProvider) Append(addr string) error {
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("addressbook: append shared file %q: %w", p.path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\n", addr)
	return err
}

// CleanStale rewrites the shared file keeping only entries present in
// live, the coordinator-only periodic prune named by the
// ipFinderCleanFrequency configuration option.
func (p *SharedFileProvider) CleanStale(live []string) error {
	liveSet := make(map[string]struct{}, len(live))
	for _, a := range live {
		liveSet[a] = struct{}{}
	}

	current, err := p.Addresses(context.Background())
	if err != nil {
		return err
	}
	kept := current[:0]
	for _, a := range current {
		if _, ok := liveSet[a]; ok {
			kept = append(kept, a)
		}
	}

	tmp := p.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("addressbook: write shared file %q: %w", tmp, err)
	}
	for _, a := range kept {
		if _, err := fmt.Fprintf(f, "%s\n", a); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// RetryInterval is the fixed backoff used by callers retrying a failed
// contact with any provider.
const RetryInterval = 2000 * time.Millisecond
