package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/sirupsen/logrus"
)

type dispatchRecord struct {
	cmd         Command
	startedAt   time.Time
	completedAt time.Time
}

// recordingController records every command and fails the entities listed
// in failFor
type recordingController struct {
	mu      sync.Mutex
	calls   []dispatchRecord
	failFor map[string]bool
	latency time.Duration
}

func newRecordingController() *recordingController {
	return &recordingController{failFor: make(map[string]bool)}
}

func (c *recordingController) Dispatch(ctx context.Context, cmd Command) error {
	started := time.Now()
	if c.latency > 0 {
		time.Sleep(c.latency)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, dispatchRecord{cmd: cmd, startedAt: started, completedAt: time.Now()})
	if c.failFor[cmd.EntityID] {
		return errors.New("device unreachable")
	}
	return nil
}

func (c *recordingController) records() []dispatchRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]dispatchRecord, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *recordingController) entities() []string {
	var ids []string
	for _, r := range c.records() {
		ids = append(ids, r.cmd.EntityID)
	}
	return ids
}

type staticStates map[string]string

func (s staticStates) CurrentState(id string) (string, bool) {
	v, ok := s[id]
	return v, ok
}

type staticPresence struct {
	mu   sync.Mutex
	home bool
}

func (p *staticPresence) AnyoneHome() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.home
}

func (p *staticPresence) set(home bool) {
	p.mu.Lock()
	p.home = home
	p.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestStore(t *testing.T) *rules.Store {
	t.Helper()
	return rules.NewStore(rules.NewMemoryPersistence(), quietLogger(),
		rules.WithDefaults(func(rules.IDGenerator, time.Time) *rules.Snapshot {
			return &rules.Snapshot{}
		}),
	)
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
