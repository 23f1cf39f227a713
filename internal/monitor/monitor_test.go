package monitor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/autorunner/internal/automation"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestStartUpdateGetStop(t *testing.T) {
	t.Parallel()

	table := NewTable(&stubClock{now: time.Unix(1000, 0)})
	table.Start("t1", automation.StatusRunning)

	snap, ok := table.Get("t1")
	if !ok {
		t.Fatal("Get() after Start should find entry")
	}
	if snap.Status != automation.StatusRunning || len(snap.History) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}

	table.Update(automation.Task{ID: "t1", Status: automation.StatusRunning, TotalPagesVisited: 3})
	snap, _ = table.Get("t1")
	if len(snap.History) != 1 || snap.History[0].PagesVisited != 3 {
		t.Fatalf("history = %+v", snap.History)
	}
	if !snap.LastUpdate.After(snap.StartTime) {
		t.Fatalf("LastUpdate %v not after StartTime %v", snap.LastUpdate, snap.StartTime)
	}

	table.Stop("t1")
	if _, ok := table.Get("t1"); ok {
		t.Fatal("Get() after Stop should report not monitored")
	}
	if table.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d", table.ActiveCount())
	}
}

func TestUpdateUnmonitoredIsNoop(t *testing.T) {
	t.Parallel()

	table := NewTable(&stubClock{})
	table.Update(automation.Task{ID: "ghost", Status: automation.StatusRunning})
	if _, ok := table.Get("ghost"); ok {
		t.Fatal("Update must not create entries")
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	table := NewTable(&stubClock{})
	table.Start("t1", automation.StatusRunning)
	for i := range 25 {
		table.Update(automation.Task{ID: "t1", Status: automation.StatusRunning, TotalPagesVisited: i})
	}
	snap, _ := table.Get("t1")
	if len(snap.History) != historyLimit {
		t.Fatalf("history length = %d, want %d", len(snap.History), historyLimit)
	}
	if snap.History[historyLimit-1].PagesVisited != 24 {
		t.Fatalf("history tail = %+v", snap.History[historyLimit-1])
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	table := NewTable(&stubClock{})
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i%4)
			table.Start(id, automation.StatusRunning)
			table.Update(automation.Task{ID: id, Status: automation.StatusRunning})
			table.Get(id)
			table.Stop(id)
		}(i)
	}
	wg.Wait()
	// At most one entry per id means everything started here is stopped.
	if table.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d after all stops", table.ActiveCount())
	}
}
