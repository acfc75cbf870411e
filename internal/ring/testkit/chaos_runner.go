package testkit

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ringmesh/internal/support/check"
)

const defaultChaosMaxEvents = 4096

// ChaosOperation mutates a Scenario for one chaos step.
type ChaosOperation struct {
	Name   string
	Weight int
	Run    func(s *Scenario, rng *rand.Rand) (string, error)
}

// ChaosInvariant verifies a post-step invariant.
type ChaosInvariant struct {
	Name  string
	Check func(s *Scenario) error
}

// ChaosEvent records one executed step for replay/debugging.
type ChaosEvent struct {
	Step              int
	Seed              int64
	Timestamp         time.Time
	Operation         string
	Detail            string
	OperationError    string
	InvariantFailures []string
}

// ChaosRunnerConfig configures a ChaosRunner.
type ChaosRunnerConfig struct {
	Seed       int64
	MaxEvents  int
	Operations []ChaosOperation
	Invariants []ChaosInvariant
}

// ChaosRunner executes reproducible chaos steps over a Scenario and
// checks every registered invariant after each one.
type ChaosRunner struct {
	mu         sync.Mutex
	scenario   *Scenario
	rng        *rand.Rand
	seed       int64
	step       int
	maxEvents  int
	operations []ChaosOperation
	invariants []ChaosInvariant
	events     []ChaosEvent
}

func NewChaosRunner(s *Scenario, cfg ChaosRunnerConfig) (*ChaosRunner, error) {
	check.Assert(s != nil, "NewChaosRunner: scenario must not be nil")
	if s == nil {
		return nil, fmt.Errorf("scenario is required")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}

	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultChaosMaxEvents
	}

	ops := cfg.Operations
	if len(ops) == 0 {
		ops = DefaultChaosOperations()
	}
	for _, op := range ops {
		if strings.TrimSpace(op.Name) == "" {
			return nil, fmt.Errorf("chaos operation name is required")
		}
		if op.Run == nil {
			return nil, fmt.Errorf("chaos operation %q run func is required", op.Name)
		}
	}

	invariants := cfg.Invariants
	if len(invariants) == 0 {
		invariants = DefaultChaosInvariants()
	}

	return &ChaosRunner{
		scenario:   s,
		rng:        rand.New(rand.NewSource(seed)),
		seed:       seed,
		maxEvents:  maxEvents,
		operations: append([]ChaosOperation(nil), ops...),
		invariants: append([]ChaosInvariant(nil), invariants...),
		events:     make([]ChaosEvent, 0, min(maxEvents, 128)),
	}, nil
}

func (r *ChaosRunner) Seed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seed
}

func (r *ChaosRunner) ReplayLog() []ChaosEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChaosEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Step executes one randomly chosen operation and checks every
// registered invariant, returning an error if either the operation or
// an invariant failed.
func (r *ChaosRunner) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	op, err := chooseChaosOperation(r.rng, r.operations)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.step++
	step := r.step
	seed := r.seed
	r.mu.Unlock()

	detail, opErr := op.Run(r.scenario, r.rng)
	invFailures := r.checkInvariants()

	event := ChaosEvent{
		Step:              step,
		Seed:              seed,
		Timestamp:         time.Unix(0, 0).Add(time.Duration(step)), // deterministic, not wall-clock
		Operation:         op.Name,
		Detail:            detail,
		InvariantFailures: invFailures,
	}
	if opErr != nil {
		event.OperationError = opErr.Error()
	}
	r.appendEvent(event)

	if opErr != nil {
		return fmt.Errorf("chaos step %d op %q: %w", step, op.Name, opErr)
	}
	if len(invFailures) > 0 {
		return fmt.Errorf("chaos step %d invariant failures: %s", step, strings.Join(invFailures, "; "))
	}
	return nil
}

// Run executes steps sequential chaos steps, stopping at the first
// failure.
func (r *ChaosRunner) Run(ctx context.Context, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be > 0")
	}
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *ChaosRunner) checkInvariants() []string {
	r.mu.Lock()
	invariants := append([]ChaosInvariant(nil), r.invariants...)
	r.mu.Unlock()

	failures := make([]string, 0)
	for _, inv := range invariants {
		if err := inv.Check(r.scenario); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", inv.Name, err))
		}
	}
	sort.Strings(failures)
	return failures
}

func (r *ChaosRunner) appendEvent(event ChaosEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) > r.maxEvents {
		r.events = r.events[len(r.events)-r.maxEvents:]
	}
}

func chooseChaosOperation(rng *rand.Rand, ops []ChaosOperation) (ChaosOperation, error) {
	total := 0
	for _, op := range ops {
		w := op.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return ChaosOperation{}, fmt.Errorf("no chaos operations registered")
	}
	pick := rng.Intn(total)
	for _, op := range ops {
		w := op.Weight
		if w <= 0 {
			w = 1
		}
		if pick < w {
			return op, nil
		}
		pick -= w
	}
	return ChaosOperation{}, fmt.Errorf("failed to choose chaos operation")
}

// DefaultChaosOperations drives join/leave/custom-event over a Scenario.
func DefaultChaosOperations() []ChaosOperation {
	return []ChaosOperation{
		{
			Name:   "join",
			Weight: 3,
			Run: func(s *Scenario, rng *rand.Rand) (string, error) {
				id, err := uuid.NewRandomFromReader(rng)
				if err != nil {
					return "", err
				}
				snap := s.Join(id)
				return fmt.Sprintf("joined %s at version %d", id, snap.Version), nil
			},
		},
		{
			Name:   "leave",
			Weight: 2,
			Run: func(s *Scenario, rng *rand.Rand) (string, error) {
				members := s.Members()
				if len(members) == 0 {
					return "skip: no members", nil
				}
				id := members[rng.Intn(len(members))]
				s.Leave(id)
				return fmt.Sprintf("left %s", id), nil
			},
		},
		{
			Name:   "custom_event",
			Weight: 2,
			Run: func(s *Scenario, rng *rand.Rand) (string, error) {
				if len(s.Members()) == 0 {
					return "skip: no members", nil
				}
				s.CustomEvent()
				return "custom event delivered", nil
			},
		},
	}
}

// DefaultChaosInvariants checks the single-coordinator and
// no-ghost-membership invariants after every step.
func DefaultChaosInvariants() []ChaosInvariant {
	return []ChaosInvariant{
		{Name: "single_coordinator", Check: (*Scenario).CheckSingleCoordinator},
		{Name: "no_ghost_membership", Check: (*Scenario).CheckNoGhostMembership},
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
