package hdmr

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

type Evaler interface {
	// Eval evaluates each point using m and returns the points, in the
	// order given, with their values set.  If any evaluation fails the
	// returned error is a *ModelEvaluationError naming every failed point;
	// the values of failed or unevaluated points are left nil.
	Eval(ctx context.Context, m Model, points ...Point) (results []Point, err error)
}

type SerialEvaler struct {
	// ContinueOnErr evaluates the remaining points after a failure so that
	// every failing point is reported.
	ContinueOnErr bool
}

func (ev SerialEvaler) Eval(ctx context.Context, m Model, points ...Point) (results []Point, err error) {
	results = make([]Point, len(points))
	errs := make([]error, len(points))
	for i, p := range points {
		results[i] = NewPoint(p.pos)
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		results[i].Val, errs[i] = evaluate(ctx, m, p.Pos())
		if errs[i] != nil {
			results[i].Val = nil
			if !ev.ContinueOnErr {
				break
			}
		}
	}
	for i := range results {
		if results[i].pos == nil {
			results[i] = NewPoint(points[i].pos)
		}
	}
	return results, collectErrors(points, errs)
}

// evaluate runs m at x, reporting a panic in the model as an error.
func evaluate(ctx context.Context, m Model, x []float64) (val []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("model panicked: %v", r)
		}
	}()
	return m.Evaluate(ctx, x)
}

// ParallelEvaler evaluates the points of a batch concurrently.  At most
// MaxGoroutines evaluations run at once; zero means no limit.
type ParallelEvaler struct {
	MaxGoroutines int
}

func (ev ParallelEvaler) Eval(ctx context.Context, m Model, points ...Point) (results []Point, err error) {
	results = make([]Point, len(points))
	errs := make([]error, len(points))

	p := pool.New().WithContext(ctx)
	if ev.MaxGoroutines > 0 {
		p = p.WithMaxGoroutines(ev.MaxGoroutines)
	}
	for i := range points {
		results[i] = NewPoint(points[i].pos)
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			val, err := evaluate(ctx, m, results[i].Pos())
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i].Val = val
			return nil
		})
	}
	_ = p.Wait()
	return results, collectErrors(points, errs)
}

// Store holds model responses keyed by point hash.
type Store interface {
	Load(key [sha1.Size]byte) (val []float64, ok bool, err error)
	Save(key [sha1.Size]byte, val []float64) error
}

type memStore map[[sha1.Size]byte][]float64

func (m memStore) Load(key [sha1.Size]byte) ([]float64, bool, error) {
	val, ok := m[key]
	return val, ok, nil
}

func (m memStore) Save(key [sha1.Size]byte, val []float64) error {
	m[key] = val
	return nil
}

// CacheEvaler remembers the value of every successfully evaluated point and
// only passes points it has not seen before to the wrapped Evaler.
type CacheEvaler struct {
	ev    Evaler
	mu    sync.Mutex
	store Store
	hits  int
}

// NewCacheEvaler returns a CacheEvaler that keeps responses in memory.
func NewCacheEvaler(ev Evaler) *CacheEvaler { return NewStoreEvaler(ev, memStore{}) }

// NewStoreEvaler returns a CacheEvaler backed by store, which may outlive the
// run so that a later run reuses its responses.
func NewStoreEvaler(ev Evaler, store Store) *CacheEvaler {
	if ev == nil {
		ev = SerialEvaler{}
	}
	return &CacheEvaler{ev: ev, store: store}
}

func (ev *CacheEvaler) Eval(ctx context.Context, m Model, points ...Point) (results []Point, err error) {
	results = make([]Point, len(points))
	fromnew := make([]int, 0, len(points))
	newp := make([]Point, 0, len(points))

	ev.mu.Lock()
	for i, p := range points {
		results[i] = NewPoint(p.pos)
		val, ok, err := ev.store.Load(p.Hash())
		if err != nil {
			ev.mu.Unlock()
			return nil, fmt.Errorf("hdmr: cache load: %w", err)
		}
		if ok {
			results[i].Val = append([]float64{}, val...)
			ev.hits++
		} else {
			fromnew = append(fromnew, i)
			newp = append(newp, p)
		}
	}
	ev.mu.Unlock()

	if len(newp) == 0 {
		return results, nil
	}

	newresults, err := ev.ev.Eval(ctx, m, newp...)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	var serr error
	for i, p := range newresults {
		if p.Val == nil {
			continue
		}
		if e := ev.store.Save(p.Hash(), append([]float64{}, p.Val...)); e != nil && serr == nil {
			serr = fmt.Errorf("hdmr: cache save: %w", e)
		}
		results[fromnew[i]].Val = p.Val
	}

	// report failures against the caller's batch positions
	if mee, ok := err.(*ModelEvaluationError); ok {
		for i := range mee.Failures {
			mee.Failures[i].Index = fromnew[mee.Failures[i].Index]
		}
	}
	if err == nil {
		err = serr
	}
	return results, err
}

// Hits returns the number of points served from the cache.
func (ev *CacheEvaler) Hits() int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.hits
}
