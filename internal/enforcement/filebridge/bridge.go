// Package filebridge implements enforcement.Adapter by exchanging files with
// a privileged OS helper. The bridge writes the desired policy to a JSON file
// and tails a JSON-lines log the helper appends an entry to each time the
// user opens a blocked app.
package filebridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/zjrosen/deepfocus/internal/enforcement"
	"github.com/zjrosen/deepfocus/internal/log"
)

// DefaultDebounce coalesces bursts of writes to the attempts log.
const DefaultDebounce = 50 * time.Millisecond

// Policy is the document the helper reads.
type Policy struct {
	Blocked   bool      `json:"blocked"`
	Apps      []string  `json:"apps"`
	UpdatedAt time.Time `json:"updated_at"`
}

// attemptLine is one entry in the helper's attempts log.
type attemptLine struct {
	AppID     string    `json:"app_id"`
	Timestamp time.Time `json:"ts"`
}

// Config holds bridge file locations.
type Config struct {
	PolicyPath   string
	AttemptsPath string
	Debounce     time.Duration
}

// Bridge is a file-based enforcement.Adapter.
type Bridge struct {
	cfg Config
	now func() time.Time
	mu  sync.Mutex
}

// New creates a bridge. An empty PolicyPath makes every call fail with
// KindPlatformUnsupported.
func New(cfg Config) *Bridge {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Bridge{cfg: cfg, now: time.Now}
}

var _ enforcement.Adapter = (*Bridge)(nil)

// Block writes a blocking policy for appIDs. Writing the same set again is a
// no-op.
func (b *Bridge) Block(ctx context.Context, appIDs []string) error {
	apps := slices.Clone(appIDs)
	slices.Sort(apps)
	return b.apply(ctx, "block", Policy{Blocked: true, Apps: slices.Compact(apps)})
}

// Unblock writes a policy with nothing blocked.
func (b *Bridge) Unblock(ctx context.Context) error {
	return b.apply(ctx, "unblock", Policy{Blocked: false, Apps: []string{}})
}

func (b *Bridge) apply(ctx context.Context, op string, want Policy) error {
	if b.cfg.PolicyPath == "" {
		return enforcement.NewError(op, enforcement.KindPlatformUnsupported, errors.New("no policy path configured"))
	}
	if err := ctx.Err(); err != nil {
		return enforcement.NewError(op, enforcement.KindTimeout, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.readPolicy()
	if err == nil && current.Blocked == want.Blocked && slices.Equal(current.Apps, want.Apps) {
		return nil
	}

	want.UpdatedAt = b.now().UTC()
	data, err := json.MarshalIndent(want, "", "  ")
	if err != nil {
		return enforcement.NewError(op, enforcement.KindUnknown, err)
	}
	if err := writeAtomic(b.cfg.PolicyPath, data); err != nil {
		return enforcement.NewError(op, classify(err), err)
	}
	log.Debug(log.CatEnforce, "policy written", "op", op, "apps", len(want.Apps), "path", b.cfg.PolicyPath)
	return nil
}

// ReadPolicy returns the policy currently on disk.
func (b *Bridge) ReadPolicy() (Policy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readPolicy()
}

func (b *Bridge) readPolicy() (Policy, error) {
	var p Policy
	data, err := os.ReadFile(b.cfg.PolicyPath)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decoding policy: %w", err)
	}
	return p, nil
}

// writeAtomic writes data to a temp file in the same directory and renames it
// over path, so the helper never reads a partial policy.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".policy-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func classify(err error) enforcement.Kind {
	if errors.Is(err, os.ErrPermission) {
		return enforcement.KindPermissionDenied
	}
	return enforcement.KindUnknown
}

// SubscribeAttempts tails the attempts log and calls fn for each new entry
// until ctx is done. Entries already in the file when the subscription starts
// are skipped.
func (b *Bridge) SubscribeAttempts(ctx context.Context, fn func(enforcement.Attempt)) error {
	if b.cfg.AttemptsPath == "" {
		return enforcement.NewError("subscribe", enforcement.KindPlatformUnsupported, errors.New("no attempts path configured"))
	}
	if err := os.MkdirAll(filepath.Dir(b.cfg.AttemptsPath), 0o700); err != nil {
		return enforcement.NewError("subscribe", classify(err), err)
	}

	w, err := newWatcher(b.cfg.AttemptsPath, b.cfg.Debounce)
	if err != nil {
		return enforcement.NewError("subscribe", enforcement.KindUnknown, err)
	}

	t := &tail{path: b.cfg.AttemptsPath, emit: fn}
	t.skipExisting()

	changes, err := w.start()
	if err != nil {
		return enforcement.NewError("subscribe", classify(err), err)
	}

	go func() {
		defer func() { _ = w.stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				t.read()
			}
		}
	}()
	return nil
}

// tail reads complete lines appended to a file since the last read.
type tail struct {
	path    string
	offset  int64
	partial []byte
	emit    func(enforcement.Attempt)
}

func (t *tail) skipExisting() {
	if info, err := os.Stat(t.path); err == nil {
		t.offset = info.Size()
	}
}

func (t *tail) read() {
	f, err := os.Open(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn(log.CatEnforce, "opening attempts log", "path", t.path, "error", err)
		}
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		log.Warn(log.CatEnforce, "stat attempts log", "path", t.path, "error", err)
		return
	}
	if info.Size() < t.offset {
		// Truncated or rotated by the helper.
		t.offset = 0
		t.partial = nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		log.Warn(log.CatEnforce, "seeking attempts log", "path", t.path, "error", err)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		log.Warn(log.CatEnforce, "reading attempts log", "path", t.path, "error", err)
		return
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		t.partial = buf
		return
	}
	t.partial = slices.Clone(buf[last+1:])

	scanner := bufio.NewScanner(bytes.NewReader(buf[:last+1]))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry attemptLine
		if err := json.Unmarshal(line, &entry); err != nil || entry.AppID == "" {
			log.Warn(log.CatEnforce, "skipping malformed attempt line", "line", string(line))
			continue
		}
		t.emit(enforcement.Attempt{AppID: entry.AppID, Timestamp: entry.Timestamp})
	}
}
