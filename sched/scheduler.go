// Package sched wires the tree, histogram, overload detector, allocation
// map, and rebalancer (spec.md components A-F) into the two operations the
// rest of the system calls: Route and Finish. Everything that mutates
// shared state runs behind a single coarse mutex (spec.md section 5), the
// same "one big lock, no per-node locking" posture the teacher's own
// cluster map and LRU xaction take rather than a finer-grained scheme.
package sched

import (
	"sync"

	"github.com/golang/glog"

	"github.com/globalsched/scheduler/cmn"
	"github.com/globalsched/scheduler/histogram"
	"github.com/globalsched/scheduler/overload"
	"github.com/globalsched/scheduler/placement"
	"github.com/globalsched/scheduler/rebalance"
	"github.com/globalsched/scheduler/tree"
)

// Scheduler is the process-wide instance of the routing system. Callers
// (transport, cmd/loadgen) should treat it as a singleton built once at
// startup from cmn.GCO's active config.
type Scheduler struct {
	mu sync.Mutex

	cfg *cmn.Config

	tr         *tree.Tree
	alloc      *placement.AllocationMap
	hist       *histogram.Histogram
	overload   *overload.Detector
	rebalancer *rebalance.Rebalancer

	totalRequests int64
}

// New builds a Scheduler for cfg.NumWorkers workers, all state cold.
func New(cfg *cmn.Config) *Scheduler {
	alloc := placement.NewAllocationMap(cfg.NumWorkers)
	hist := histogram.New(int64(cfg.Window), cfg.NumWorkers, alloc)
	det := overload.New(int64(cfg.Window))

	return &Scheduler{
		cfg:      cfg,
		tr:       tree.New(cfg.NumWorkers),
		alloc:    alloc,
		hist:     hist,
		overload: det,
		rebalancer: &rebalance.Rebalancer{
			Histogram:         hist,
			Allocation:        alloc,
			Overload:          det,
			NumWorkers:        cfg.NumWorkers,
			HighLoadThreshold: cfg.HighLoadThreshold,
		},
	}
}

func (s *Scheduler) validateWorker(w *tree.WorkerId) error {
	if w == nil {
		return nil
	}
	if int(*w) < 0 || int(*w) >= s.cfg.NumWorkers {
		return cmn.NewInvalidInputError("unknown worker id %d", *w)
	}
	return nil
}

// Route implements spec.md's route(tokens, request_id, preferred_worker):
// it inserts tokens into the prefix tree, applies the resulting split to
// the histogram and overload detector's node identities, makes the
// placement decision, records the popularity event, and (if configured)
// runs one rebalance pass and one eviction check. It returns the chosen
// worker and the request id actually used (generated if the caller left it
// empty).
func (s *Scheduler) Route(seq tree.TokenSeq, requestID string, preferredWorker *tree.WorkerId) (tree.WorkerId, string, error) {
	if requestID == "" {
		requestID = cmn.GenRequestID()
	}
	if len(seq) == 0 {
		return 0, requestID, cmn.NewInvalidInputError("token sequence must not be empty")
	}
	if err := s.validateWorker(preferredWorker); err != nil {
		return 0, requestID, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := cmn.Now().UnixNano()

	splits := tree.SplitMap{}
	leaf := s.tr.Insert(seq, now, splits)
	s.applySplits(splits)

	decision := s.alloc.Decide(leaf, preferredWorker, s.hist, requestID)
	s.alloc.PropagateAllocationUpwards(leaf, decision.Workers)
	s.tr.UpdateAllocatedSize(leaf, decision.Chosen)
	s.tr.IncrementRef(leaf, decision.Chosen)

	important := leaf.ImportantAncestor()
	s.hist.Update(now, important, leaf)

	s.totalRequests++
	if s.cfg.EnableRebalancing && s.totalRequests >= s.cfg.RebalanceMinTotalLoad {
		s.rebalancer.Run(now)
	}
	if s.cfg.EnableEviction {
		s.maybeEvict(decision.Chosen)
	}

	glog.V(3).Infof("route request=%s leaf=%d tokens=%d worker=%d", requestID, leaf.ID, leaf.NumTokens, decision.Chosen)
	return decision.Chosen, requestID, nil
}

// Finish implements spec.md's finish(tokens, request_id, worker, ttft,
// output_len): it releases the in-flight reference taken by Route and
// records the TTFT sample the overload detector uses.
func (s *Scheduler) Finish(seq tree.TokenSeq, requestID string, worker tree.WorkerId, ttft float64, outputLen int) error {
	if len(seq) == 0 {
		return cmn.NewInvalidInputError("token sequence must not be empty")
	}
	w := worker
	if err := s.validateWorker(&w); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	leaf := s.tr.Find(seq)
	if leaf == nil {
		return cmn.NewInvalidInputError("finish: no tracked node for the given token sequence")
	}

	s.tr.RemoveCompleted(seq, worker)

	now := cmn.Now().UnixNano()
	important := leaf.ImportantAncestor()
	s.overload.AddDataPoint(now, important, worker, ttft)

	glog.V(3).Infof("finish request=%s leaf=%d worker=%d ttft=%.4f output_len=%d", requestID, leaf.ID, worker, ttft, outputLen)
	return nil
}

// applySplits propagates every split produced by one Insert call to the
// histogram and overload detector, whose important-node identity must
// follow the allocation map's rename (spec.md 4.D).
func (s *Scheduler) applySplits(splits tree.SplitMap) {
	if len(splits) == 0 {
		return
	}
	renames := s.alloc.HandleSplit(splits)
	for _, rn := range renames {
		s.hist.Rename(rn.Old, rn.New)
		for w := 0; w < s.cfg.NumWorkers; w++ {
			s.overload.Rename(rn.Old, rn.New, tree.WorkerId(w))
		}
	}
}

// maybeEvict runs the tree's LRU eviction for w once its allocated size
// exceeds the configured per-worker capacity. Every evicted node has w
// dropped from its own allocation map entry; only large nodes also have it
// dropped from their descendants (spec.md 4.G, mirroring the original's
// evict_callback).
func (s *Scheduler) maybeEvict(w tree.WorkerId) {
	over := s.tr.AllocatedSize(w) - s.cfg.PerWorkerCapacityTokens
	if over <= 0 {
		return
	}
	freed := s.tr.Evict(w, over, func(n *tree.Node, worker tree.WorkerId) {
		if n.IsLarge() {
			s.alloc.RemoveWorkerRecursive(n, worker)
		} else if ws := s.alloc.Get(n); ws != nil {
			delete(ws, worker)
		}
	})
	glog.V(2).Infof("evict worker=%d freed=%d requested=%d", w, freed, over)
}
