package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
)

// memoryStore keeps every table in process memory. It backs the "memory"
// database driver and the core tests.
type memoryStore struct {
	mu sync.Mutex

	nextUserID    int64
	nextPlotID    int64
	nextReadingID int64

	users    map[int64]model.User
	plots    map[int64]model.Plot
	readings map[int64][]model.SensorReading // per plot, insertion order
	settings map[int64]model.IrrigationSettings
	subs     map[string]model.PushSubscription
	subPlots map[string][]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		users:    make(map[int64]model.User),
		plots:    make(map[int64]model.Plot),
		readings: make(map[int64][]model.SensorReading),
		settings: make(map[int64]model.IrrigationSettings),
		subs:     make(map[string]model.PushSubscription),
		subPlots: make(map[string][]int64),
	}
}

func (m *memoryStore) CreateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Name == user.Name || u.UUID == user.UUID {
			return apperr.Storage(nil, "user %q already exists", user.Name)
		}
	}
	m.nextUserID++
	user.ID = m.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.users[user.ID] = *user
	return nil
}

func (m *memoryStore) FindUserByName(_ context.Context, name string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Name == name {
			return &u, nil
		}
	}
	return nil, apperr.NotFound("user %q not found", name)
}

func (m *memoryStore) FindUserByUUID(_ context.Context, uuid string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.UUID == uuid {
			return &u, nil
		}
	}
	return nil, apperr.NotFound("user %s not found", uuid)
}

func (m *memoryStore) CreatePlot(_ context.Context, plot *model.Plot, settings *model.IrrigationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.plots {
		if p.APIKey == plot.APIKey {
			return apperr.Storage(nil, "api key already in use")
		}
	}
	m.nextPlotID++
	plot.ID = m.nextPlotID
	if plot.CreatedAt.IsZero() {
		plot.CreatedAt = time.Now().UTC()
	}
	settings.PlotID = plot.ID
	m.plots[plot.ID] = *plot
	m.settings[plot.ID] = *settings
	return nil
}

func (m *memoryStore) ListPlotsForUser(_ context.Context, userID int64) ([]model.Plot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var plots []model.Plot
	for _, p := range m.plots {
		if p.UserID == userID {
			plots = append(plots, p)
		}
	}
	sort.Slice(plots, func(i, j int) bool { return plots[i].ID < plots[j].ID })
	return plots, nil
}

func (m *memoryStore) FindPlotByID(_ context.Context, plotID int64) (*model.Plot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plots[plotID]
	if !ok {
		return nil, apperr.NotFound("plot %d not found", plotID)
	}
	return &p, nil
}

func (m *memoryStore) FindPlotByAPIKey(_ context.Context, apiKey string) (*model.Plot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.plots {
		if p.APIKey == apiKey {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("no plot for api key")
}

func (m *memoryStore) LockPlot(ctx context.Context, plotID int64) (*model.Plot, error) {
	return m.FindPlotByID(ctx, plotID)
}

func (m *memoryStore) UpdatePlotLastIrrigation(_ context.Context, plotID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plots[plotID]
	if !ok {
		return apperr.NotFound("plot %d not found", plotID)
	}
	p.LastIrrigationAt = &at
	m.plots[plotID] = p
	return nil
}

func (m *memoryStore) FindCurrentReading(_ context.Context, plotID int64) (*model.SensorReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.readings[plotID]
	if len(rows) == 0 {
		return nil, apperr.NotFound("plot %d has no readings", plotID)
	}
	current := rows[0]
	for _, r := range rows[1:] {
		if !r.Timestamp.Before(current.Timestamp) {
			current = r
		}
	}
	return &current, nil
}

func (m *memoryStore) AppendReading(_ context.Context, reading *model.SensorReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextReadingID++
	reading.ID = m.nextReadingID
	m.readings[reading.PlotID] = append(m.readings[reading.PlotID], *reading)
	return nil
}

func (m *memoryStore) UpdateReading(_ context.Context, reading *model.SensorReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.readings[reading.PlotID]
	for i := range rows {
		if rows[i].ID == reading.ID {
			rows[i] = *reading
			return nil
		}
	}
	return apperr.NotFound("reading %d not found", reading.ID)
}

func (m *memoryStore) ListReadings(_ context.Context, plotID int64, since time.Time) ([]model.SensorReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.SensorReading
	for _, r := range m.readings[plotID] {
		if since.IsZero() || r.Timestamp.After(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (m *memoryStore) FindSettings(_ context.Context, plotID int64) (*model.IrrigationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[plotID]
	if !ok {
		return nil, apperr.NotFound("settings for plot %d not found", plotID)
	}
	return &s, nil
}

func (m *memoryStore) UpdateSettings(_ context.Context, settings *model.IrrigationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settings[settings.PlotID]; !ok {
		return apperr.NotFound("settings for plot %d not found", settings.PlotID)
	}
	m.settings[settings.PlotID] = *settings
	return nil
}

func (m *memoryStore) PutSubscription(_ context.Context, sub *model.PushSubscription, plotIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.subs[sub.Endpoint]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	stored := *sub
	stored.Plots = nil
	m.subs[sub.Endpoint] = stored

	var ids []int64
	for _, id := range plotIDs {
		if _, ok := m.plots[id]; ok {
			ids = append(ids, id)
		}
	}
	m.subPlots[sub.Endpoint] = ids
	return nil
}

func (m *memoryStore) DeleteSubscription(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subs, endpoint)
	delete(m.subPlots, endpoint)
	return nil
}

func (m *memoryStore) FindSubscription(_ context.Context, endpoint string) (*model.PushSubscription, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[endpoint]
	if !ok {
		return nil, nil, apperr.NotFound("subscription not found")
	}
	ids := append([]int64(nil), m.subPlots[endpoint]...)
	return &sub, ids, nil
}

func (m *memoryStore) ListSubscriptionsForPlot(_ context.Context, plotID int64) ([]model.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.PushSubscription
	for endpoint, ids := range m.subPlots {
		for _, id := range ids {
			if id == plotID {
				out = append(out, m.subs[endpoint])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

// Transaction runs fn against an undo log and reverts its writes if fn fails.
// Writes are visible to other callers before commit; callers serialise per plot with plotlock.
func (m *memoryStore) Transaction(_ context.Context, fn func(tx Store) error) error {
	tx := &memoryTx{memoryStore: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memoryTx records how to revert each write made through it.
type memoryTx struct {
	*memoryStore
	undo []func()
}

func (tx *memoryTx) rollback() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) record(err error, undo func()) error {
	if err == nil {
		tx.undo = append(tx.undo, undo)
	}
	return err
}

// Transaction joins the enclosing transaction.
func (tx *memoryTx) Transaction(_ context.Context, fn func(tx Store) error) error {
	return fn(tx)
}

func (tx *memoryTx) CreateUser(ctx context.Context, user *model.User) error {
	return tx.record(tx.memoryStore.CreateUser(ctx, user), func() { delete(tx.users, user.ID) })
}

func (tx *memoryTx) CreatePlot(ctx context.Context, plot *model.Plot, settings *model.IrrigationSettings) error {
	return tx.record(tx.memoryStore.CreatePlot(ctx, plot, settings), func() {
		delete(tx.plots, plot.ID)
		delete(tx.settings, plot.ID)
	})
}

func (tx *memoryTx) UpdatePlotLastIrrigation(ctx context.Context, plotID int64, at time.Time) error {
	tx.mu.Lock()
	prev, ok := tx.plots[plotID]
	tx.mu.Unlock()
	return tx.record(tx.memoryStore.UpdatePlotLastIrrigation(ctx, plotID, at), func() {
		if ok {
			tx.plots[plotID] = prev
		}
	})
}

func (tx *memoryTx) AppendReading(ctx context.Context, reading *model.SensorReading) error {
	return tx.record(tx.memoryStore.AppendReading(ctx, reading), func() {
		rows := tx.readings[reading.PlotID]
		for i := range rows {
			if rows[i].ID == reading.ID {
				tx.readings[reading.PlotID] = append(rows[:i:i], rows[i+1:]...)
				return
			}
		}
	})
}

func (tx *memoryTx) UpdateReading(ctx context.Context, reading *model.SensorReading) error {
	var prev model.SensorReading
	tx.mu.Lock()
	for _, r := range tx.readings[reading.PlotID] {
		if r.ID == reading.ID {
			prev = r
		}
	}
	tx.mu.Unlock()
	return tx.record(tx.memoryStore.UpdateReading(ctx, reading), func() {
		rows := tx.readings[prev.PlotID]
		for i := range rows {
			if rows[i].ID == prev.ID {
				rows[i] = prev
			}
		}
	})
}

func (tx *memoryTx) UpdateSettings(ctx context.Context, settings *model.IrrigationSettings) error {
	tx.mu.Lock()
	prev, ok := tx.settings[settings.PlotID]
	tx.mu.Unlock()
	return tx.record(tx.memoryStore.UpdateSettings(ctx, settings), func() {
		if ok {
			tx.settings[settings.PlotID] = prev
		}
	})
}

func (tx *memoryTx) PutSubscription(ctx context.Context, sub *model.PushSubscription, plotIDs []int64) error {
	restore := tx.saveSubscription(sub.Endpoint)
	return tx.record(tx.memoryStore.PutSubscription(ctx, sub, plotIDs), restore)
}

func (tx *memoryTx) DeleteSubscription(ctx context.Context, endpoint string) error {
	restore := tx.saveSubscription(endpoint)
	return tx.record(tx.memoryStore.DeleteSubscription(ctx, endpoint), restore)
}

func (tx *memoryTx) saveSubscription(endpoint string) func() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	sub, ok := tx.subs[endpoint]
	ids := append([]int64(nil), tx.subPlots[endpoint]...)
	return func() {
		if !ok {
			delete(tx.subs, endpoint)
			delete(tx.subPlots, endpoint)
			return
		}
		tx.subs[endpoint] = sub
		tx.subPlots[endpoint] = ids
	}
}

func (m *memoryStore) Ping(context.Context) error { return nil }
