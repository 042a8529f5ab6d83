package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
)

// Fixture is a seeded project with one recording, one species and one
// completed segmentation.
type Fixture struct {
	Store        datastore.Store
	Project      *entities.Project
	Recording    *entities.Recording
	Species      *entities.Species
	Calls        []entities.Call // ordered by short name
	Segmentation *entities.Segmentation
	Segments     []entities.Segment
}

// Seed describes the fixture to create. Zero values get sensible defaults.
type Seed struct {
	GroupID    uint
	UserID     uint
	AudioPath  string // relative to the media root
	Duration   float64
	SampleRate int
	CallNames  []string
	Intervals  []datastore.Interval
}

func (s *Seed) defaults() {
	if s.GroupID == 0 {
		s.GroupID = 1
	}
	if s.UserID == 0 {
		s.UserID = 7
	}
	if s.AudioPath == "" {
		s.AudioPath = "recordings/test.wav"
	}
	if s.Duration == 0 {
		s.Duration = 10
	}
	if s.SampleRate == 0 {
		s.SampleRate = 250000
	}
	if s.CallNames == nil {
		s.CallNames = []string{"FM", "CF", "QCF"}
	}
}

// SeedFixture creates the rows described by seed in store.
func SeedFixture(t testing.TB, store datastore.Store, seed Seed) *Fixture {
	t.Helper()
	seed.defaults()
	ctx := context.Background()

	f := &Fixture{Store: store}

	f.Project = &entities.Project{Name: "Test project", GroupID: seed.GroupID}
	require.NoError(t, store.CreateProject(ctx, f.Project))

	groupID := seed.GroupID
	f.Species = &entities.Species{Name: "Myotis testus", GroupID: &groupID}
	require.NoError(t, store.CreateSpecies(ctx, f.Species, seed.CallNames))

	calls, err := store.ListCalls(ctx, f.Species.ID)
	require.NoError(t, err)
	f.Calls = calls

	f.Recording = &entities.Recording{
		Name:       "test recording",
		AudioPath:  seed.AudioPath,
		SampleRate: seed.SampleRate,
		Duration:   seed.Duration,
		Channels:   1,
		GroupID:    seed.GroupID,
		SpeciesID:  &f.Species.ID,
		ProjectID:  &f.Project.ID,
		CreatedBy:  seed.UserID,
	}
	require.NoError(t, store.CreateRecording(ctx, f.Recording))

	f.Segmentation = &entities.Segmentation{
		Name:        "manual",
		RecordingID: f.Recording.ID,
		Status:      entities.StatusCompleted,
		Progress:    100,
		CreatedBy:   seed.UserID,
	}
	require.NoError(t, store.CreateSegmentation(ctx, f.Segmentation))

	if len(seed.Intervals) > 0 {
		_, err := store.ReplaceSegments(ctx, f.Segmentation.ID, seed.Intervals)
		require.NoError(t, err)
		f.Segments, err = store.ListSegments(ctx, f.Segmentation.ID)
		require.NoError(t, err)
	}
	return f
}

// CallID returns the ID of the call with the given short name.
func (f *Fixture) CallID(t testing.TB, shortName string) uint {
	t.Helper()
	for _, c := range f.Calls {
		if c.ShortName == shortName {
			return c.ID
		}
	}
	require.Failf(t, "unknown call", "no call %q in fixture", shortName)
	return 0
}

// EvenIntervals returns n non-overlapping intervals of length seconds
// starting at start and spaced gap seconds apart.
func EvenIntervals(n int, start, length, gap float64) []datastore.Interval {
	out := make([]datastore.Interval, n)
	for i := range out {
		on := start + float64(i)*(length+gap)
		out[i] = datastore.Interval{Onset: on, Offset: on + length}
	}
	return out
}
