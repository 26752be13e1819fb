package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"stakan-guard/internal/modules/mute"
)

type countingJobs struct {
	mu       sync.Mutex
	sweeps   int
	prunes   int
	cleanups int
	before   time.Time
}

func (c *countingJobs) Sweep(context.Context) (mute.SweepReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps++
	if c.sweeps == 2 {
		return mute.SweepReport{Failed: 1}, errors.New("role revoke failed")
	}
	return mute.SweepReport{Released: 1}, nil
}

func (c *countingJobs) Prune(time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prunes++
	return 1
}

func (c *countingJobs) CleanupAuditLogs(_ context.Context, before time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups++
	c.before = before
	return 3, nil
}

func (c *countingJobs) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweeps, c.prunes, c.cleanups
}

func TestSchedulerRunsJobs(t *testing.T) {
	jobs := &countingJobs{}
	scheduler := NewScheduler(SchedulerConfig{
		SweepInterval:     5 * time.Millisecond,
		PruneInterval:     5 * time.Millisecond,
		RetentionInterval: time.Hour,
		Retention:         30 * 24 * time.Hour,
	}, jobs, jobs, jobs, zap.NewNop())

	scheduler.Start()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sweeps, prunes, cleanups := jobs.counts()
		if sweeps >= 3 && prunes >= 2 && cleanups == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not run: sweeps=%d prunes=%d cleanups=%d", sweeps, prunes, cleanups)
		}
		time.Sleep(5 * time.Millisecond)
	}
	scheduler.Stop()
	scheduler.Stop()

	sweeps, _, cleanups := jobs.counts()
	time.Sleep(20 * time.Millisecond)
	if after, _, _ := jobs.counts(); after != sweeps {
		t.Fatalf("sweep ran after stop: %d then %d", sweeps, after)
	}
	if cleanups != 1 {
		t.Fatalf("retention runs once at start with an hourly interval, got %d", cleanups)
	}
	if age := time.Since(jobs.before); age < 30*24*time.Hour || age > 30*24*time.Hour+time.Minute {
		t.Fatalf("unexpected retention cutoff %s ago", age)
	}
}

func TestSchedulerSkipsRetentionWhenDisabled(t *testing.T) {
	jobs := &countingJobs{}
	scheduler := NewScheduler(SchedulerConfig{SweepInterval: time.Hour}, jobs, nil, jobs, zap.NewNop())
	scheduler.Start()
	deadline := time.Now().Add(time.Second)
	for {
		if sweeps, _, _ := jobs.counts(); sweeps == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("startup sweep did not run")
		}
		time.Sleep(time.Millisecond)
	}
	scheduler.Stop()

	if _, prunes, cleanups := jobs.counts(); prunes != 0 || cleanups != 0 {
		t.Fatalf("expected no prune or cleanup, got %d %d", prunes, cleanups)
	}
}
