package rpcrouter

import (
	"testing"
	"time"
)

func TestScheduleTableDrainsOnlyDueEntries(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := &ScheduleTable{now: func() time.Time { return fixed }}

	table.Schedule(-1*time.Second, "restart", nil) // already due
	table.Schedule(1*time.Hour, "reboot", nil)      // not due yet

	due := table.DrainDue()
	if len(due) != 1 || due[0].Method != "restart" {
		t.Fatalf("expected only restart to be due, got %+v", due)
	}

	remaining := table.DrainDue()
	if len(remaining) != 0 {
		t.Fatalf("expected restart to be removed after draining, got %+v", remaining)
	}

	table.now = func() time.Time { return fixed.Add(2 * time.Hour) }
	due = table.DrainDue()
	if len(due) != 1 || due[0].Method != "reboot" {
		t.Fatalf("expected reboot to become due, got %+v", due)
	}
}
