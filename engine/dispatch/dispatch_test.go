package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

type fakeEnvDispatcher struct {
	name     string
	startups int
	fail     bool
}

func (f *fakeEnvDispatcher) Name() string { return f.name }

func (f *fakeEnvDispatcher) Startup(ctx context.Context, event *engine.AgentStartupEvent, info *model.DispatchInfo) error {
	f.startups++
	if f.fail {
		return assert.AnError
	}
	return nil
}

func (f *fakeEnvDispatcher) Shutdown(ctx context.Context, event *engine.AgentShutdownEvent, info *model.DispatchInfo) error {
	return nil
}

type fakeQuota struct {
	mu      sync.Mutex
	allow   bool
	running int
}

func (f *fakeQuota) CheckJobQuota(event *engine.AgentStartupEvent) bool { return f.allow }

func (f *fakeQuota) InsertRunningJob(event *engine.AgentStartupEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running++
}

func (f *fakeQuota) DeleteRunningJob(projectID, pipelineID, buildID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running--
}

func startupEvent() *engine.AgentStartupEvent {
	return &engine.AgentStartupEvent{
		EventHead: engine.EventHead{
			ProjectID:  "p1",
			PipelineID: "pl1",
			BuildID:    "b1",
		},
		ContainerID:  "c1",
		DispatchType: "FAKE",
		ExecuteCount: 1,
	}
}

func TestRegistry_PickByType(t *testing.T) {
	fake := &fakeEnvDispatcher{name: "FAKE"}
	registry := NewRegistry(nil, engine.NewGlogPrinter(), fake)

	d, err := registry.Pick(&model.DispatchInfo{Type: "FAKE"})
	require.NoError(t, err)
	assert.Equal(t, "FAKE", d.Name())

	_, err = registry.Pick(&model.DispatchInfo{Type: "DOCKER"})
	assert.ErrorIs(t, err, engine.ErrDispatcherNotFound)

	_, err = registry.Pick(nil)
	assert.ErrorIs(t, err, engine.ErrDispatcherNotFound)
}

func TestRegistry_QuotaRejection(t *testing.T) {
	fake := &fakeEnvDispatcher{name: "FAKE"}
	quota := &fakeQuota{allow: false}
	registry := NewRegistry(quota, engine.NewGlogPrinter(), fake)

	err := registry.Startup(context.Background(), startupEvent(), &model.DispatchInfo{Type: "FAKE"})
	assert.ErrorIs(t, err, engine.ErrQuotaExceeded)
	assert.Zero(t, fake.startups)
}

func TestRegistry_StartupFailureReleasesQuota(t *testing.T) {
	fake := &fakeEnvDispatcher{name: "FAKE", fail: true}
	quota := &fakeQuota{allow: true}
	registry := NewRegistry(quota, engine.NewGlogPrinter(), fake)

	err := registry.Startup(context.Background(), startupEvent(), &model.DispatchInfo{Type: "FAKE"})
	assert.Error(t, err)
	assert.Equal(t, 1, fake.startups)
	assert.Zero(t, quota.running)
}

func TestRegistry_StartupSuccessKeepsQuota(t *testing.T) {
	fake := &fakeEnvDispatcher{name: "FAKE"}
	quota := &fakeQuota{allow: true}
	registry := NewRegistry(quota, engine.NewGlogPrinter(), fake)

	require.NoError(t, registry.Startup(context.Background(), startupEvent(), &model.DispatchInfo{Type: "FAKE"}))
	assert.Equal(t, 1, quota.running)
}

type recordingBus struct {
	events []engine.Event
}

func (r *recordingBus) Dispatch(events ...engine.Event) error {
	r.events = append(r.events, events...)
	return nil
}

func TestBuildLessDispatcher_TurnsStartupIntoEvent(t *testing.T) {
	bus := &recordingBus{}
	d := NewBuildLessDispatcher(bus)

	require.NoError(t, d.Startup(context.Background(), startupEvent(), &model.DispatchInfo{Type: DispatchTypeBuildLess}))
	require.Len(t, bus.events, 1)
	startup, ok := bus.events[0].(*engine.BuildLessStartupEvent)
	require.True(t, ok)
	assert.Equal(t, "c1", startup.ContainerID)
}

func TestDecodeKubeEnv(t *testing.T) {
	env, err := decodeKubeEnv(&model.DispatchInfo{
		Type: DispatchTypeKubernetes,
		Value: map[string]interface{}{
			"image":     "golang:1.21",
			"namespace": "ci",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "golang:1.21", env.Image)
	assert.Equal(t, "ci", env.Namespace)
	assert.Equal(t, 3600, env.LiveTimeSeconds)

	_, err = decodeKubeEnv(&model.DispatchInfo{Type: DispatchTypeKubernetes})
	assert.Error(t, err)
}
