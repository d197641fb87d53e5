package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"planter-backend/internal/apperr"
	"planter-backend/internal/irrigation"
	"planter-backend/internal/model"
	"planter-backend/internal/parse"
	"planter-backend/internal/plotlock"
	"planter-backend/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]int
}

func (n *recordingNotifier) NotifyArmed(_ int64, _ string, pumps []int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, pumps)
}

func (n *recordingNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fixture struct {
	svc      *Service
	store    store.Store
	plot     *model.Plot
	clock    *fakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()

	user := &model.User{UUID: "u-1", Name: "tim", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, user))
	plot := &model.Plot{UserID: user.ID, Name: "bed", APIKey: "key-1"}
	require.NoError(t, s.CreatePlot(ctx, plot, &model.IrrigationSettings{UpdateInterval: 600, Limit1: 20, Limit2: 30}))

	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	svc := NewService(s, plotlock.New(), Options{
		MergeWindow: time.Hour,
		Policy:      irrigation.Policy{Gate: 12 * time.Hour},
		Now:         clock.Now,
	}, zap.NewNop(), nil, notifier)

	return &fixture{svc: svc, store: s, plot: plot, clock: clock, notifier: notifier}
}

// wet returns values that never arm a pump under the fixture limits.
func wet(seed int) parse.Values {
	var v parse.Values
	for i := range v {
		v[i] = seed + i
	}
	v[parse.SoilMoist1] = 80
	v[parse.SoilMoist2] = 80
	return v
}

func TestIngest_MergesWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.IngestTelemetry(ctx, "key-1", wet(1))
	require.NoError(t, err)
	assert.False(t, first.Merged)

	f.clock.Advance(40 * time.Minute)
	second, err := f.svc.IngestTelemetry(ctx, "key-1", wet(100))
	require.NoError(t, err)
	assert.True(t, second.Merged)
	assert.Equal(t, first.ReadingID, second.ReadingID)

	rows, err := f.store.ListReadings(ctx, f.plot.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, wet(100), rows[0].Values())
	assert.True(t, rows[0].Timestamp.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)), "creation timestamp is preserved")
	assert.True(t, rows[0].LatestUpdate.Equal(f.clock.Now()))
}

func TestIngest_AppendsAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IngestTelemetry(ctx, "key-1", wet(1))
	require.NoError(t, err)

	f.clock.Advance(61 * time.Minute)
	res, err := f.svc.IngestTelemetry(ctx, "key-1", wet(2))
	require.NoError(t, err)
	assert.False(t, res.Merged)

	rows, err := f.store.ListReadings(ctx, f.plot.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, wet(2), rows[0].Values())
	assert.Equal(t, wet(1), rows[1].Values())
}

func TestIngest_ExactlyOneHourStartsNewRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IngestTelemetry(ctx, "key-1", wet(1))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	res, err := f.svc.IngestTelemetry(ctx, "key-1", wet(2))
	require.NoError(t, err)
	assert.False(t, res.Merged)
}

func TestIngest_UnknownKeyAndPlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IngestTelemetry(ctx, "nope", wet(1))
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.svc.Ingest(ctx, f.plot.ID+1, wet(1))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestIngest_PolicyArmsDryPump(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := wet(1)
	v[parse.SoilMoist1] = 10
	res, err := f.svc.IngestTelemetry(ctx, "key-1", v)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.ArmedPumps)

	settings, err := f.store.FindSettings(ctx, f.plot.ID)
	require.NoError(t, err)
	assert.True(t, settings.Trigger1)
	assert.False(t, settings.Trigger2)
	assert.Equal(t, 1, f.notifier.Calls())

	plot, err := f.store.FindPlotByID(ctx, f.plot.ID)
	require.NoError(t, err)
	require.NotNil(t, plot.LastIrrigationAt)
	assert.True(t, plot.LastIrrigationAt.Equal(f.clock.Now()))
}

func TestIngest_PolicyLeavesWetPump(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := wet(1)
	v[parse.SoilMoist1] = 30
	res, err := f.svc.IngestTelemetry(ctx, "key-1", v)
	require.NoError(t, err)
	assert.Empty(t, res.ArmedPumps)

	settings, err := f.store.FindSettings(ctx, f.plot.ID)
	require.NoError(t, err)
	assert.False(t, settings.Trigger1)
	assert.Zero(t, f.notifier.Calls())

	// the gate restarts even though nothing fired
	plot, err := f.store.FindPlotByID(ctx, f.plot.ID)
	require.NoError(t, err)
	assert.NotNil(t, plot.LastIrrigationAt)
}

func TestIngest_GateSuppressesRearming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dry := wet(1)
	dry[parse.SoilMoist1] = 5

	_, err := f.svc.IngestTelemetry(ctx, "key-1", dry)
	require.NoError(t, err)

	// the device consumes the trigger
	settings, err := f.store.FindSettings(ctx, f.plot.ID)
	require.NoError(t, err)
	settings.Trigger1 = false
	require.NoError(t, f.store.UpdateSettings(ctx, settings))

	f.clock.Advance(6 * time.Hour)
	res, err := f.svc.IngestTelemetry(ctx, "key-1", dry)
	require.NoError(t, err)
	assert.Empty(t, res.ArmedPumps)

	f.clock.Advance(6 * time.Hour)
	res, err = f.svc.IngestTelemetry(ctx, "key-1", dry)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.ArmedPumps)
	assert.Equal(t, 2, f.notifier.Calls())
}

func TestIngest_ConcurrentPushesArmOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dry := wet(1)
	dry[parse.SoilMoist2] = 1

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.IngestTelemetry(ctx, "key-1", dry)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := f.store.ListReadings(ctx, f.plot.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, f.notifier.Calls())
}

func TestCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Current(ctx, f.plot.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.IngestTelemetry(ctx, "key-1", wet(7))
	require.NoError(t, err)

	got, err := f.svc.Current(ctx, f.plot.ID)
	require.NoError(t, err)
	assert.Equal(t, wet(7), got.Values())

	_, err = f.svc.Current(ctx, f.plot.ID+10)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
