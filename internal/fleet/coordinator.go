// Package fleet runs per-vehicle analyses concurrently and joins the results.
package fleet

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-trajectory-analytics/internal/models"
)

// DefaultWorkers bounds concurrent history fetches when none is configured
const DefaultWorkers = 8

// HistoryProvider loads one vehicle's raw position history
type HistoryProvider interface {
	History(ctx context.Context, q models.HistoryQuery) ([]models.PositionSample, error)
}

// Request selects the vehicles and time range of a fan-out
type Request struct {
	VehicleIDs []string
	From       time.Time
	To         time.Time
	MaxPoints  int
}

// Failure records a vehicle whose history could not be loaded
type Failure struct {
	VehicleID string `json:"vehicle_id"`
	Error     string `json:"error"`
}

// Result is the joined output of a fan-out. Items holds every vehicle's
// output in request order; failed vehicles contribute nothing.
type Result[T any] struct {
	Items    []T       `json:"items"`
	Vehicles int       `json:"vehicles"`
	Failures []Failure `json:"failures,omitempty"`
}

// Coordinator fans history fetches out over a bounded worker pool
type Coordinator struct {
	history HistoryProvider
	workers int

	// Logf records per-vehicle failures. Defaults to log.Printf.
	Logf func(format string, v ...interface{})
}

// NewCoordinator returns a coordinator running at most workers fetches at a
// time. Non-positive values fall back to DefaultWorkers.
func NewCoordinator(history HistoryProvider, workers int) *Coordinator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Coordinator{
		history: history,
		workers: workers,
		Logf:    log.Printf,
	}
}

// Workers returns the configured concurrency bound
func (c *Coordinator) Workers() int {
	return c.workers
}

// FanOut loads every vehicle's history concurrently, applies analyze to each
// and waits for all of them before merging. A vehicle whose fetch fails
// contributes an empty result and is listed in Failures; it never fails the
// whole request. The only error returned is the caller's context error.
func FanOut[T any](ctx context.Context, c *Coordinator, req Request, analyze func(vehicleID string, samples []models.PositionSample) []T) (Result[T], error) {
	ids := dedupe(req.VehicleIDs)
	if len(ids) == 0 {
		return Result[T]{Items: []T{}}, nil
	}

	perVehicle := make([][]T, len(ids))
	errs := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, id := range ids {
		i, id := i, id // per-iteration copies (go 1.21 loop semantics)
		g.Go(func() error {
			samples, err := c.history.History(gctx, models.HistoryQuery{
				VehicleID: id,
				From:      req.From,
				To:        req.To,
				MaxPoints: req.MaxPoints,
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			perVehicle[i] = analyze(id, samples)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result[T]{}, err
	}

	res := Result[T]{Items: []T{}, Vehicles: len(ids)}
	for i, id := range ids {
		if errs[i] != nil {
			c.logf("fleet: history for %s failed: %v", id, errs[i])
			res.Failures = append(res.Failures, Failure{VehicleID: id, Error: errs[i].Error()})
			continue
		}
		res.Items = append(res.Items, perVehicle[i]...)
	}
	return res, nil
}

func (c *Coordinator) logf(format string, v ...interface{}) {
	if c.Logf != nil {
		c.Logf(format, v...)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ErrSuperseded is returned when a newer request for the same target has
// started while a fan-out was in flight. Its results were discarded.
var ErrSuperseded = errors.New("request superseded by a newer one")

// Generations tracks the latest request per target. Starting a request
// cancels the previous one for the same target, and results of any request
// that is no longer current are dropped.
type Generations struct {
	mu      sync.Mutex
	seq     uint64
	current map[string]*generation
}

type generation struct {
	id     uint64
	cancel context.CancelFunc
}

// Ticket identifies one request generation for a target
type Ticket struct {
	g      *Generations
	target string
	id     uint64
}

// NewGenerations returns an empty generation tracker
func NewGenerations() *Generations {
	return &Generations{current: make(map[string]*generation)}
}

// Begin starts a new generation for target, cancelling any in-flight one.
// The returned context is cancelled when a newer generation begins or when
// Done is called on the ticket.
func (g *Generations) Begin(ctx context.Context, target string) (context.Context, Ticket) {
	ctx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.current[target]; ok {
		prev.cancel()
	}
	g.seq++
	g.current[target] = &generation{id: g.seq, cancel: cancel}
	return ctx, Ticket{g: g, target: target, id: g.seq}
}

// Current reports whether the ticket still belongs to the newest generation
func (t Ticket) Current() bool {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	gen, ok := t.g.current[t.target]
	return ok && gen.id == t.id
}

// Done releases the ticket. The target's entry is removed only when the
// ticket is still current, so a superseded request never clears a newer one.
func (t Ticket) Done() {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	gen, ok := t.g.current[t.target]
	if !ok || gen.id != t.id {
		return
	}
	gen.cancel()
	delete(t.g.current, t.target)
}

// ID returns the generation number of the ticket. Numbers only grow.
func (t Ticket) ID() uint64 {
	return t.id
}

// FanOutLatest runs FanOut under a new generation for target. When another
// request for the same target begins before this one completes, the stale
// results are dropped and ErrSuperseded is returned.
func FanOutLatest[T any](ctx context.Context, c *Coordinator, gens *Generations, target string, req Request, analyze func(vehicleID string, samples []models.PositionSample) []T) (Result[T], error) {
	gctx, ticket := gens.Begin(ctx, target)
	defer ticket.Done()

	res, err := FanOut(gctx, c, req, analyze)
	if !ticket.Current() {
		return Result[T]{}, ErrSuperseded
	}
	if err != nil {
		return Result[T]{}, err
	}
	return res, nil
}
