package hyperanf

import (
	"fmt"
	"slices"
	"sync/atomic"

	anferrors "github.com/tamirms/hyperanf/errors"
)

// scanPhase is the shared state of the scan phase of one iteration.
type scanPhase struct {
	strategy
	granularity int
	// limit is the number of tasks positions: nodes, or check-list entries
	// in a local iteration.
	limit     int
	checkList []int
	cursor    atomic.Int64

	modified  atomic.Int64
	unwritten atomic.Int64
	arcs      atomic.Int64
}

// scan claims ranges of nodes until none is left, merging into each node's
// counter the counters of its modified successors. New values go to the
// update log (offline) or to the result array (memory mode).
func (a *Approximator) scan(w *worker, sc *scanPhase) error {
	var modified, unwritten, arcs int64
	defer func() {
		sc.modified.Add(modified)
		sc.unwritten.Add(unwritten)
		sc.arcs.Add(arcs)
	}()

	st := sc.strategy
	offline := a.cfg.offline
	track := a.track
	gran := int64(sc.granularity)

	for {
		start := sc.cursor.Add(gran) - gran
		if start >= int64(sc.limit) {
			break
		}
		end := int(min(int64(sc.limit), start+gran))

		for i := int(start); i < end; i++ {
			node := i
			if st.local {
				node = sc.checkList[i]
			}

			if st.systolic && !st.local && !track.shouldCheck(node) {
				// The counter cannot change, but the result array may hold
				// a value older than the live one.
				if !offline {
					if track.isModified(node) {
						a.counters.Transfer(a.results, node, w.t)
					} else {
						unwritten++
					}
				}
				continue
			}

			a.counters.Load(node, w.t)
			copy(w.prev, w.t)
			merged := false
			it := a.g.Successors(node)
			for s := it.Next(); s != -1; s = it.Next() {
				arcs++
				if uint(s) >= uint(a.n) {
					return fmt.Errorf("%w: successor %d of node %d", anferrors.ErrNodeOutOfRange, s, node)
				}
				// Self-loops and unmodified successors cannot contribute; local
				// iterations do not track modified counters.
				if s != node && (st.local || track.isModified(s)) {
					merged = true
					a.counters.Load(s, w.u)
					w.bw.Max(w.t, w.u)
				}
			}
			changed := merged && !slices.Equal(w.prev, w.t)

			if changed {
				if st.preLocal {
					track.markLocalNext(node)
				} else if !offline {
					track.markModifiedNext(node)
				}
				track.invalidate(node)
				if st.systolic {
					it := a.gt.Successors(node)
					for p := it.Next(); p != -1; p = it.Next() {
						if uint(p) >= uint(a.n) {
							return fmt.Errorf("%w: predecessor %d of node %d", anferrors.ErrNodeOutOfRange, p, node)
						}
						if st.preLocal {
							track.markLocalNext(p)
						} else {
							track.markNextCheck(p)
						}
					}
				}
				modified++
			}

			if offline {
				if changed {
					if err := w.buf.append(node, w.t); err != nil {
						return err
					}
				} else {
					unwritten++
				}
				continue
			}
			// An unchanged counter whose value was not new either is
			// already in the result array.
			if changed || st.local || track.isModified(node) {
				a.results.Store(node, w.t)
			} else {
				unwritten++
			}
		}
	}

	if offline {
		return w.buf.flush()
	}
	return nil
}

// replay stores the counters of the claimed update-log batches into the
// live array and marks them modified.
func (a *Approximator) replay(w *worker, r *logReplay, preLocal bool) error {
	for {
		payload, ok, err := r.claim()
		if err != nil || !ok {
			return err
		}
		records := len(payload) / a.ulog.recordSize
		for i := 0; i < records; i++ {
			node := r.record(payload, i, w.t)
			a.counters.Store(node, w.t)
			if !preLocal {
				a.track.markModified(node)
			}
		}
	}
}
