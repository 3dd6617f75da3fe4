// Package counter allocates globally unique, strictly increasing recording
// identifiers and persists the next value after every allocation.
package counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ent0n29/voxcollect/internal/reliability"
)

// DefaultBase is the first id handed out when no prior state exists.
const DefaultBase int64 = 100010

type state struct {
	VoiceNumber *int64 `json:"voice_number"`
}

// Counter is a single-writer allocator. All reads and writes of the backing
// file go through its mutex.
type Counter struct {
	mu   sync.Mutex
	path string
	next int64
}

// Open recovers the counter from path, or starts at base when the file does
// not exist yet. A present but unreadable file is an error: falling back to
// base there could reissue ids.
func Open(path string, base int64) (*Counter, error) {
	if base <= 0 {
		base = DefaultBase
	}
	c := &Counter{path: path, next: base}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read counter %s: %w", path, err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode counter %s: %w", path, err)
	}
	if st.VoiceNumber == nil {
		return nil, fmt.Errorf("decode counter %s: missing voice_number", path)
	}
	if *st.VoiceNumber > c.next {
		c.next = *st.VoiceNumber
	}
	return c, nil
}

// Next returns the current value and persists its successor before
// returning. If persisting fails the id is not handed out.
func (c *Counter) Next(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	if err := c.persist(id + 1); err != nil {
		return 0, reliability.Storage("persist voice counter", err)
	}
	c.next = id + 1
	return id, nil
}

// Raise moves the counter forward to at least floor. It never moves it back.
func (c *Counter) Raise(floor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if floor <= c.next {
		return nil
	}
	if err := c.persist(floor); err != nil {
		return reliability.Storage("persist voice counter", err)
	}
	c.next = floor
	return nil
}

// Peek returns the value the next call to Next will hand out.
func (c *Counter) Peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// persist rewrites the file through a temp file and rename so a crash never
// leaves a truncated record behind.
func (c *Counter) persist(next int64) error {
	data, err := json.Marshal(state{VoiceNumber: &next})
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".voice_counter-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
