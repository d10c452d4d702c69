package library

// tracker maps per-phase completion onto the single 0..100 scale shown to
// players. Reported values only ever move forward, so a late or repeated
// report from an already-finished phase can never walk the bar backwards.
type tracker struct {
	emit func(int)
	last int
}

func newTracker(emit func(int)) *tracker {
	return &tracker{emit: emit, last: -1}
}

// report clamps pct to [0, 100] and forwards it if it advances the bar.
func (t *tracker) report(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= t.last {
		return
	}
	t.last = pct
	if t.emit != nil {
		t.emit(pct)
	}
}

// phase converts done-of-total completion inside one phase to the overall
// scale. A phase with nothing to do jumps straight to its upper bound.
func (t *tracker) phase(lo, hi, done, total int) {
	if total <= 0 {
		t.report(hi)
		return
	}
	if done > total {
		done = total
	}
	t.report(lo + (hi-lo)*done/total)
}
