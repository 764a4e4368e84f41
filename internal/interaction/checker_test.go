package interaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pilltrail/pilltrail/internal/metrics"
)

// fakeClassifier serves canned responses and can block to let tests
// control check ordering.
type fakeClassifier struct {
	mu        sync.Mutex
	responses map[string]*ClassResponse
	errs      map[string]error
	gate      chan struct{}
	gated     map[string]bool // names held at the gate; empty means all
}

func (f *fakeClassifier) LookupClasses(ctx context.Context, drugName string) (*ClassResponse, error) {
	if f.gate != nil && (len(f.gated) == 0 || f.gated[drugName]) {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[drugName]; ok {
		return nil, err
	}
	if resp, ok := f.responses[drugName]; ok {
		return resp, nil
	}
	return &ClassResponse{DrugName: drugName}, nil
}

func newTestChecker(t *testing.T, classifier Classifier) *Checker {
	t.Helper()
	pairs, err := DefaultKnownPairs()
	require.NoError(t, err)
	return NewChecker(pairs, classifier, 5*time.Second, zap.NewNop())
}

func TestCheckNowFindsKnownPair(t *testing.T) {
	checker := newTestChecker(t, nil)

	found := checker.CheckNow(context.Background(), []string{"Warfarin", "Aspirin"})

	require.Len(t, found, 1)
	assert.Equal(t, SeverityMajor, found[0].Severity)
	assert.Equal(t, "known-pairs", found[0].Source)
	assert.True(t, found[0].Involves("warfarin"))
	assert.True(t, found[0].Involves("ASPIRIN"))
	assert.Equal(t, StateIdle, checker.State())
}

func TestCheckNowIsDeterministic(t *testing.T) {
	checker := newTestChecker(t, nil)
	names := []string{"Warfarin", "Aspirin", "Ibuprofen", "Sertraline"}

	first := checker.CheckNow(context.Background(), names)
	second := checker.CheckNow(context.Background(), names)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestCheckNowDedupesKnownAndLookupEntries(t *testing.T) {
	classifier := &fakeClassifier{
		responses: map[string]*ClassResponse{
			"Warfarin": {
				DrugName: "Warfarin",
				Relations: []ClassRelation{
					{RelatedConceptName: "aspirin", RelationType: RelationContraindicate},
				},
			},
		},
	}
	checker := newTestChecker(t, classifier)

	found := checker.CheckNow(context.Background(), []string{"Warfarin", "Aspirin"})

	require.Len(t, found, 1)
	// curated entry wins over the lookup entry for the same pair
	assert.Equal(t, "known-pairs", found[0].Source)
	assert.Equal(t, SeverityMajor, found[0].Severity)
}

func TestCheckNowToleratesPerMedicationLookupFailure(t *testing.T) {
	classifier := &fakeClassifier{
		errs: map[string]error{"Warfarin": errors.New("service down")},
		responses: map[string]*ClassResponse{
			"Metformin": {
				DrugName: "Metformin",
				Relations: []ClassRelation{
					{RelatedConceptName: "Iodinated Contrast Agents", RelationType: RelationContraindicate},
				},
			},
		},
	}
	checker := newTestChecker(t, classifier)

	failuresBefore := metrics.CurrentSnapshot().LookupFailures
	found := checker.CheckNow(context.Background(), []string{"Warfarin", "Aspirin", "Metformin"})

	// the known pair and Metformin's lookup hit both survive the
	// failed Warfarin lookup
	require.Len(t, found, 2)
	assert.Equal(t, SeverityMajor, found[0].Severity)
	assert.Equal(t, "lookup", found[1].Source)
	assert.Equal(t, failuresBefore+1, metrics.CurrentSnapshot().LookupFailures)
}

func TestSupersededCheckPublishesNothing(t *testing.T) {
	gate := make(chan struct{})
	classifier := &fakeClassifier{
		gate:  gate,
		gated: map[string]bool{"Levothyroxine": true},
	}
	checker := newTestChecker(t, classifier)

	firstResult := make(chan []Interaction, 1)
	go func() {
		firstResult <- checker.CheckNow(context.Background(), []string{"Levothyroxine", "Calcium"})
	}()

	// wait until the first check is blocked inside the classifier
	require.Eventually(t, func() bool {
		return checker.State() == StateChecking
	}, time.Second, 5*time.Millisecond)

	second := checker.CheckNow(context.Background(), []string{"Warfarin", "Aspirin"})
	require.Len(t, second, 1)

	close(gate)

	// the first check resolves after the second took over, so it
	// returns nil and the second's results stay active
	assert.Nil(t, <-firstResult)
	active := checker.ActiveInteractions()
	require.Len(t, active, 1)
	assert.Equal(t, "Warfarin", active[0].Drug1)
}

func TestNewCheckSupersedesInFlightAsyncCheck(t *testing.T) {
	gate := make(chan struct{})
	classifier := &fakeClassifier{
		gate:  gate,
		gated: map[string]bool{"Levothyroxine": true},
	}
	checker := newTestChecker(t, classifier)

	updates, cancel := checker.Subscribe()
	defer cancel()

	checker.CheckInteractions([]string{"Levothyroxine", "Calcium"})
	require.Eventually(t, func() bool {
		return checker.State() == StateChecking
	}, time.Second, 5*time.Millisecond)

	// the second check replaces the first before it can finish
	second := checker.CheckNow(context.Background(), []string{"Warfarin", "Aspirin"})
	require.Len(t, second, 1)

	close(gate)

	// only the second check's result is ever published
	update := <-updates
	require.Len(t, update.Interactions, 1)
	assert.Equal(t, SeverityMajor, update.Interactions[0].Severity)

	select {
	case extra, ok := <-updates:
		if ok {
			t.Fatalf("unexpected extra update: %+v", extra)
		}
	case <-time.After(50 * time.Millisecond):
	}

	active := checker.ActiveInteractions()
	require.Len(t, active, 1)
	assert.True(t, active[0].Involves("Warfarin"))
}

func TestEmptyMedicationSetClearsResults(t *testing.T) {
	checker := newTestChecker(t, nil)

	checker.CheckNow(context.Background(), []string{"Warfarin", "Aspirin"})
	require.True(t, checker.HasActiveInteractions())

	checker.CheckInteractions(nil)

	assert.False(t, checker.HasActiveInteractions())
	assert.Empty(t, checker.ActiveInteractions())
	assert.Equal(t, StateIdle, checker.State())
}

func TestInteractionsForAndHighestSeverity(t *testing.T) {
	checker := newTestChecker(t, nil)

	checker.CheckNow(context.Background(), []string{"Warfarin", "Aspirin", "Acetaminophen", "Metformin"})

	warfarin := checker.InteractionsFor("warfarin")
	require.Len(t, warfarin, 2)

	worst, ok := checker.HighestSeverityFor("Warfarin")
	require.True(t, ok)
	assert.Equal(t, SeverityMajor, worst)

	worst, ok = checker.HighestSeverityFor("Acetaminophen")
	require.True(t, ok)
	assert.Equal(t, SeverityModerate, worst)

	_, ok = checker.HighestSeverityFor("Metformin")
	assert.False(t, ok)
}

func TestResultsSortedBySeverityThenPair(t *testing.T) {
	checker := newTestChecker(t, nil)

	found := checker.CheckNow(context.Background(),
		[]string{"Warfarin", "Aspirin", "Acetaminophen", "Levothyroxine", "Calcium"})

	require.Len(t, found, 3)
	assert.Equal(t, SeverityMajor, found[0].Severity)
	assert.Equal(t, SeverityModerate, found[1].Severity)
	assert.Equal(t, SeverityMinor, found[2].Severity)
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	checker := newTestChecker(t, nil)

	updates, cancel := checker.Subscribe()
	cancel()

	_, ok := <-updates
	assert.False(t, ok)
}

func TestDrugProfileFromRelations(t *testing.T) {
	classifier := &fakeClassifier{
		responses: map[string]*ClassResponse{
			"Lisinopril": {
				DrugName: "Lisinopril",
				Relations: []ClassRelation{
					{RelatedConceptName: "Hypertension", RelationType: RelationMayTreat},
					{RelatedConceptName: "Heart Failure", RelationType: RelationMayTreat},
					{RelatedConceptName: "Cough", RelationType: RelationSideEffect},
				},
			},
		},
	}
	checker := newTestChecker(t, classifier)

	profile := checker.DrugProfile(context.Background(), "Lisinopril")

	assert.False(t, profile.Placeholder)
	assert.Equal(t, []string{"Hypertension", "Heart Failure"}, profile.Uses)
	assert.Equal(t, []string{"Cough"}, profile.SideEffects)
}

func TestDrugProfilePlaceholderOnLookupFailure(t *testing.T) {
	classifier := &fakeClassifier{
		errs: map[string]error{"Obscurol": errors.New("not found")},
	}
	checker := newTestChecker(t, classifier)

	profile := checker.DrugProfile(context.Background(), "Obscurol")

	assert.True(t, profile.Placeholder)
	assert.NotEmpty(t, profile.Uses)
	assert.NotEmpty(t, profile.SideEffects)
}
