// Package reconcile computes the displayed message sequence of a
// conversation from the persisted list and the optimistic buffer.
//
// While provisional messages exist the persisted list never overwrites what
// is shown; the display is the last committed list plus the provisional
// entries. A refresh that is consistent with the provisional entries having
// been saved retires them (the buffer is cleared and the current display is
// committed as is); the following refresh then replaces the display with the
// persisted list. Entries are never matched by content.
package reconcile

import (
	"slices"
	"time"

	"github.com/comigor/jarvis-chat/internal/buffer"
	"github.com/comigor/jarvis-chat/internal/message"
)

// Options tunes retirement.
type Options struct {
	// RetireAfter retires settled provisional entries this old on the next
	// refresh even when the persisted list does not account for them. Zero
	// disables the timeout path.
	RetireAfter time.Duration
	Now         func() time.Time
}

// Reconciler is not safe for concurrent use.
type Reconciler struct {
	opts      Options
	committed []message.Message
	baseline  int
}

// New returns a Reconciler with nothing committed.
func New(opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{opts: opts}
}

// Reset forgets everything, used when the active conversation changes.
func (r *Reconciler) Reset() {
	r.committed = nil
	r.baseline = 0
}

// Refresh merges a freshly fetched persisted list. It reports whether the
// provisional entries were retired by this call, in which case buf has been
// cleared.
func (r *Reconciler) Refresh(persisted []message.Message, buf *buffer.Buffer) bool {
	if buf.Len() == 0 {
		r.committed = normalize(persisted)
		r.baseline = len(persisted)
		return false
	}
	if !r.retirable(persisted, buf.Snapshot()) {
		return false
	}
	r.committed = r.View(buf)
	r.baseline = len(persisted)
	buf.ClearAll()
	return true
}

// View returns the ordered, de-duplicated sequence to display, without
// system messages.
func (r *Reconciler) View(buf *buffer.Buffer) []message.Message {
	merged := slices.Clone(r.committed)
	if buf != nil {
		merged = append(merged, buf.Snapshot()...)
	}
	return normalize(merged)
}

// retirable requires every entry to be settled and no storage write to be
// outstanding or failed for a pendingUser entry.
func (r *Reconciler) retirable(persisted, provisional []message.Message) bool {
	for _, m := range provisional {
		if !m.Settled() || m.Failed {
			return false
		}
		if m.Provisional == message.KindPendingUser && !m.Acked {
			return false
		}
	}
	return r.expired(provisional) || r.accountedFor(persisted, provisional)
}

// accountedFor reports whether the persisted list grew by at least the
// number of provisional entries and ends with the same roles in order.
func (r *Reconciler) accountedFor(persisted, provisional []message.Message) bool {
	if len(persisted) < r.baseline+len(provisional) {
		return false
	}
	tail := persisted[len(persisted)-len(provisional):]
	for i, m := range provisional {
		if tail[i].Role != m.Role {
			return false
		}
	}
	return true
}

func (r *Reconciler) expired(provisional []message.Message) bool {
	if r.opts.RetireAfter <= 0 {
		return false
	}
	now := r.opts.Now()
	for _, m := range provisional {
		if now.Sub(m.CreatedAt) < r.opts.RetireAfter {
			return false
		}
	}
	return true
}

// normalize drops system messages and repeated persisted ids, then sorts by
// creation time keeping arrival order for ties.
func normalize(in []message.Message) []message.Message {
	seen := make(map[message.PersistedID]struct{}, len(in))
	out := make([]message.Message, 0, len(in))
	for _, m := range in {
		if m.Role == message.RoleSystem {
			continue
		}
		switch id := m.ID.(type) {
		case message.PersistedID:
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		case message.ProvisionalID:
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b message.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}
