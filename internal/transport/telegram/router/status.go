package router

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const statusMaxEntries = 10

func (r *Router) handleStatus(ctx context.Context, req *Request) error {
	return r.sendPlain(ctx, req, r.statusText())
}

func (r *Router) statusText() string {
	var b strings.Builder
	b.WriteString("📊 Mila status\n")

	if r.deps.Scheduler != nil {
		s := r.deps.Scheduler.Snapshot()
		state := "stopped"
		if s.Running {
			state = "running"
		}
		fmt.Fprintf(&b, "\n⏰ Scheduler: %s, %d entries, %d in flight, %d fired (tz %s, missed=%s)\n",
			state, len(s.Entries), s.InFlight, s.Fired, s.Timezone, s.MissedPolicy)
		for i, e := range s.Entries {
			if i == statusMaxEntries {
				fmt.Fprintf(&b, "  … %d more\n", len(s.Entries)-i)
				break
			}
			next := "-"
			if !e.Next.IsZero() {
				next = e.Next.UTC().Format("2006-01-02 15:04 UTC")
			}
			fmt.Fprintf(&b, "  • %s [%s] %s, next %s\n", e.ID, e.State, e.Schedule, next)
		}
	}

	if r.deps.Engine != nil {
		e := r.deps.Engine.Snapshot()
		fmt.Fprintf(&b, "\n⚙️ Engine: %d workers, queue %d/%d, in flight %d, skipped %d, dropped %d\n",
			e.Workers, e.QueueLen, e.QueueCap, e.InFlight, e.Skipped, e.DroppedQueueFull+e.DroppedStale)
		if n := len(e.History); n > 0 {
			last := e.History[n-1]
			res := "ok"
			if last.Error != "" {
				res = last.Error
			}
			fmt.Fprintf(&b, "  last: %s in %s (%s)\n", last.Name, last.Duration.Round(time.Millisecond), res)
		}
	}

	if sups := r.deps.Supervisors.Snapshots(); len(sups) > 0 {
		b.WriteString("\n🧵 Supervisors:\n")
		for _, s := range sups {
			line := fmt.Sprintf("  • %s: %d active", s.Name, s.Snapshot.Active)
			if s.Snapshot.FirstError != "" {
				line += ", error: " + s.Snapshot.FirstError
			}
			b.WriteString(line + "\n")
		}
	}

	fmt.Fprintf(&b, "\n💬 Pending conversation steps: %d", r.modes.len())
	return b.String()
}
