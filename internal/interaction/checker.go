package interaction

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pilltrail/pilltrail/internal/metrics"
)

// State describes what the checker is currently doing.
type State string

const (
	StateIdle     State = "idle"
	StateChecking State = "checking"
)

// Update is published to subscribers whenever a check completes and
// replaces the active result set.
type Update struct {
	Interactions []Interaction `json:"interactions"`
	HasActive    bool          `json:"has_active"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Checker evaluates the active medication set for drug-drug
// interactions. Each check runs a fast known-pairs pass and then an
// external classification pass; per-medication lookup failures degrade
// that medication, never the whole check.
//
// Checks supersede each other: starting a new check invalidates any
// in-flight one, and a superseded check publishes nothing.
type Checker struct {
	pairs      *KnownPairs
	classifier Classifier
	logger     *zap.Logger
	timeout    time.Duration

	mu         sync.Mutex
	generation uint64
	state      State
	active     []Interaction
	checkedAt  time.Time
	subs       map[int]chan Update
	nextSubID  int
}

// NewChecker creates an interaction checker. classifier may be nil,
// in which case only the known-pairs pass runs.
func NewChecker(pairs *KnownPairs, classifier Classifier, timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Checker{
		pairs:      pairs,
		classifier: classifier,
		logger:     logger,
		timeout:    timeout,
		state:      StateIdle,
		subs:       make(map[int]chan Update),
	}
}

// State returns the current checker state.
func (c *Checker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CheckInteractions starts an asynchronous check over the given
// medication names. It returns immediately; results land via the
// snapshot accessors and Subscribe. An empty set clears the active
// results synchronously.
func (c *Checker) CheckInteractions(names []string) {
	c.mu.Lock()
	c.generation++
	gen := c.generation

	if len(names) == 0 {
		c.active = nil
		c.state = StateIdle
		c.checkedAt = time.Now()
		update := Update{HasActive: false, CheckedAt: c.checkedAt}
		c.broadcastLocked(update)
		c.mu.Unlock()
		return
	}

	c.state = StateChecking
	c.mu.Unlock()

	go c.run(gen, names)
}

// CheckNow runs a check synchronously and returns the published
// result set, or nil if a newer check superseded this one.
func (c *Checker) CheckNow(ctx context.Context, names []string) []Interaction {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state = StateChecking
	c.mu.Unlock()

	found := c.evaluate(ctx, names)
	return c.publish(gen, found)
}

func (c *Checker) run(gen uint64, names []string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	found := c.evaluate(ctx, names)
	c.publish(gen, found)
}

// evaluate runs both detection passes and returns the deduplicated,
// sorted result set.
func (c *Checker) evaluate(ctx context.Context, names []string) []Interaction {
	var found []Interaction

	// Known-pairs pass: every unordered pair in the set.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if entry, ok := c.pairs.Lookup(names[i], names[j]); ok {
				found = append(found, entry)
			}
		}
	}

	// External pass: contraindication relations from the
	// classification service. Lookup failures skip that medication.
	if c.classifier != nil {
		for _, name := range names {
			resp, err := c.classifier.LookupClasses(ctx, name)
			if err != nil {
				metrics.RecordLookupFailure()
				c.logger.Warn("classification lookup failed",
					zap.String("medication", name),
					zap.Error(err))
				continue
			}
			for _, rel := range resp.Relations {
				if rel.RelationType != RelationContraindicate {
					continue
				}
				found = append(found, Interaction{
					Drug1:       name,
					Drug2:       rel.RelatedConceptName,
					Severity:    SeverityModerate,
					Description: fmt.Sprintf("%s is contraindicated with %s per drug classification data.", name, rel.RelatedConceptName),
					Source:      "lookup",
				})
			}
		}
	}

	return dedupe(found)
}

// dedupe collapses interactions sharing an unordered pair identity,
// keeping the first occurrence. The known-pairs pass runs first, so
// curated entries win over lookup entries for the same pair.
func dedupe(found []Interaction) []Interaction {
	seen := make(map[string]struct{}, len(found))
	out := make([]Interaction, 0, len(found))
	for _, in := range found {
		key := in.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return MoreSevere(out[i].Severity, out[j].Severity)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// publish installs the result set if gen is still the latest check.
func (c *Checker) publish(gen uint64, found []Interaction) []Interaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		c.logger.Debug("interaction check superseded", zap.Uint64("generation", gen))
		return nil
	}

	c.active = found
	c.state = StateIdle
	c.checkedAt = time.Now()
	c.broadcastLocked(Update{
		Interactions: append([]Interaction(nil), found...),
		HasActive:    len(found) > 0,
		CheckedAt:    c.checkedAt,
	})
	return found
}

func (c *Checker) broadcastLocked(update Update) {
	for _, ch := range c.subs {
		select {
		case ch <- update:
		default:
			// slow subscriber, drop rather than block the checker
		}
	}
}

// Subscribe registers for completed-check updates. The returned cancel
// func removes the subscription and closes the channel.
func (c *Checker) Subscribe() (<-chan Update, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Update, 8)
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// ActiveInteractions returns a copy of the current result set.
func (c *Checker) ActiveInteractions() []Interaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Interaction(nil), c.active...)
}

// HasActiveInteractions reports whether the latest completed check
// found any interactions.
func (c *Checker) HasActiveInteractions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active) > 0
}

// InteractionsFor returns the active interactions involving the given
// medication name.
func (c *Checker) InteractionsFor(name string) []Interaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Interaction
	for _, in := range c.active {
		if in.Involves(name) {
			out = append(out, in)
		}
	}
	return out
}

// HighestSeverityFor returns the worst severity among the active
// interactions involving the given medication.
func (c *Checker) HighestSeverityFor(name string) (Severity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best Severity
	hit := false
	for _, in := range c.active {
		if !in.Involves(name) {
			continue
		}
		if !hit || MoreSevere(in.Severity, best) {
			best = in.Severity
			hit = true
		}
	}
	return best, hit
}

// DrugProfile assembles display information for a single drug from
// its classification relations. A failed or empty lookup yields a
// placeholder profile rather than an error.
func (c *Checker) DrugProfile(ctx context.Context, name string) DrugProfile {
	profile := DrugProfile{Name: name}

	if c.classifier == nil {
		return placeholderProfile(name)
	}

	resp, err := c.classifier.LookupClasses(ctx, name)
	if err != nil {
		metrics.RecordLookupFailure()
		c.logger.Warn("drug profile lookup failed",
			zap.String("medication", name),
			zap.Error(err))
		return placeholderProfile(name)
	}

	for _, rel := range resp.Relations {
		switch rel.RelationType {
		case RelationMayTreat:
			profile.Uses = append(profile.Uses, rel.RelatedConceptName)
		case RelationSideEffect:
			profile.SideEffects = append(profile.SideEffects, rel.RelatedConceptName)
		}
	}
	if len(profile.Uses) == 0 && len(profile.SideEffects) == 0 {
		return placeholderProfile(name)
	}
	return profile
}

func placeholderProfile(name string) DrugProfile {
	display := strings.TrimSpace(name)
	return DrugProfile{
		Name:        display,
		Uses:        []string{fmt.Sprintf("No classification data available for %s. Consult your pharmacist or prescribing information.", display)},
		SideEffects: []string{"Refer to the package insert for side effect information."},
		Placeholder: true,
	}
}
