package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/model"
)

type fakePump struct {
	doses []float64
	name  string
	order *[]string // shared call log across pumps, if set
}

func (p *fakePump) DoseML(ctx context.Context, ml float64, source string) (float64, error) {
	p.doses = append(p.doses, ml)
	if p.order != nil {
		*p.order = append(*p.order, p.name)
	}
	return ml, nil
}

type noopPolicy struct{}

func (noopPolicy) Key() string { return "noop" }
func (noopPolicy) Decide(s State) model.AutomationEvent { return model.NoEvent("noop") }

func TestExecuteIOActionUpdatesThroughputAndFraction(t *testing.T) {
	media, alt, waste := &fakePump{}, &fakePump{}, &fakePump{}
	store := &MemoryThroughputStore{}
	c := NewController(noopPolicy{}, 0, media, alt, waste, DefaultVialVolumeML, store, nil, nil)

	require.NoError(t, c.ExecuteIOAction(context.Background(), 1.25, 0.01, 1.26))

	got := store.Load()
	require.InDelta(t, 1.25, got.MediaML, 1e-9)
	require.InDelta(t, 0.01, got.AltMediaML, 1e-9)
	require.InDelta(t, 0.000714, got.AltMediaFraction, 1e-5)
}

func TestExecuteIOActionSequencesWasteBeforeMedia(t *testing.T) {
	var order []string
	media := &fakePump{name: "media", order: &order}
	alt := &fakePump{name: "alt_media", order: &order}
	waste := &fakePump{name: "waste", order: &order}
	c := NewController(noopPolicy{}, 0, media, alt, waste, DefaultVialVolumeML, nil, nil, nil)

	require.NoError(t, c.ExecuteIOAction(context.Background(), 0.5, 0, 0.5))
	require.NotEmpty(t, waste.doses)
	require.NotEmpty(t, media.doses)
	require.Equal(t, []string{"waste", "media"}, order)
}

func TestExecuteIOActionChunksLargeVolumes(t *testing.T) {
	media := &fakePump{}
	c := NewController(noopPolicy{}, 0, media, &fakePump{}, &fakePump{}, DefaultVialVolumeML, nil, nil, nil)

	require.NoError(t, c.ExecuteIOAction(context.Background(), 2.0, 0, 0))
	require.Len(t, media.doses, 4) // 0.6+0.6+0.6+0.2
	var total float64
	for _, d := range media.doses {
		require.LessOrEqual(t, d, MaxChunkML+1e-9)
		total += d
	}
	require.InDelta(t, 2.0, total, 1e-9)
}

func TestRunOnceExecutesExactlyOnceForZeroPeriod(t *testing.T) {
	var events []model.AutomationEvent
	c := NewController(noopPolicy{}, 0, nil, nil, nil, DefaultVialVolumeML, nil, func(e model.AutomationEvent) {
		events = append(events, e)
	}, nil)

	c.Run(context.Background())
	require.Len(t, events, 1)
	require.Equal(t, model.EventNoEvent, events[0].Kind)
}

func TestRegistryBuildsRegisteredPolicy(t *testing.T) {
	r := NewRegistry()
	r.Register("noop", func(settings map[string]string) (Policy, error) {
		return noopPolicy{}, nil
	})

	p, err := r.Build("noop", nil)
	require.NoError(t, err)
	require.Equal(t, "noop", p.Key())
}

func TestRegistryUnknownKeyErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("missing", nil)
	require.Error(t, err)
}

func TestExecuteEmitsStaleNoEventWhenDataNeverArrives(t *testing.T) {
	origPoll := staleGuardPoll
	staleGuardPoll = time.Millisecond
	defer func() { staleGuardPoll = origPoll }()

	c := NewController(noopPolicy{}, 40*time.Millisecond, nil, nil, nil, DefaultVialVolumeML, nil, nil, nil)
	// never call UpdateOD/UpdateGrowthRate: MostStaleTime stays zero,
	// so elapsed is always far beyond the period immediately.
	ev := c.Execute(context.Background())
	require.Equal(t, model.EventNoEvent, ev.Kind)
}
