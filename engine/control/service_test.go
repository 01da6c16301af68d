package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

func latestEvent[E engine.Event](t *testing.T, bus *recordingDispatcher, topic string) E {
	t.Helper()
	events := bus.byTopic(topic)
	require.NotEmpty(t, events, "期待topic %s 上有事件", topic)
	matched, ok := events[len(events)-1].(E)
	require.True(t, ok, "事件类型不匹配 %s", topic)
	return matched
}

func TestStartBuildEnqueues(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL",
		simpleModel(), map[string]string{"branch": "master"})
	require.NoError(t, err)
	require.NotEmpty(t, buildID)

	build, err := env.dao.GetBuild(buildID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusQueue, build.Status)
	assert.Equal(t, 1, build.BuildNum)
	assert.Equal(t, 1, build.ExecuteCount)

	value, err := env.dao.GetVariable(buildID, "branch")
	require.NoError(t, err)
	assert.Equal(t, "master", value)

	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	assert.Equal(t, engine.ActionStart, start.ActionType)
	latestEvent[*engine.BuildMonitorEvent](t, env.bus, engine.TopicBuildMonitor)
}

func TestStartBuildQueueFull(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()
	_, err := env.dao.GetOrCreateSummary("p1", "pipe-1")
	require.NoError(t, err)
	require.NoError(t, env.dao.UpdateRunLock("pipe-1", 0, 1))

	_, err = env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", simpleModel(), nil)
	require.NoError(t, err)
	_, err = env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", simpleModel(), nil)
	assert.ErrorIs(t, err, engine.ErrQueueFull)
}

// 一条Stage一个Job一个任务的流水线从启动事件一路推到构建成功
func TestNormalRunScenario(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", simpleModel(), nil)
	require.NoError(t, err)

	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))
	build, err := env.dao.GetBuild(buildID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, build.Status)

	tasks, err := env.dao.ListContainerTasks(buildID, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, engine.StatusQueue, tasks[0].Status)

	stageEvent := latestEvent[*engine.StageEvent](t, env.bus, engine.TopicBuildStage)
	assert.Equal(t, "stage-1", stageEvent.StageID)
	require.NoError(t, env.controls.stageCtl.Handle(ctx, stageEvent))

	containerEvent := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	require.NoError(t, env.controls.container.Handle(ctx, containerEvent))
	task, err := env.dao.GetTask(buildID, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, task.Status)
	container, err := env.dao.GetContainer(buildID, "c1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, container.Status)

	// 执行方回报成功后Job收尾
	env.bus.reset()
	require.NoError(t, env.controls.Build.CompleteTask(ctx, buildID, "e1", engine.StatusSucceed, "", 0, ""))
	refresh := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	require.NoError(t, env.controls.container.Handle(ctx, refresh))
	container, err = env.dao.GetContainer(buildID, "c1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceed, container.Status)

	stageRefresh := latestEvent[*engine.StageEvent](t, env.bus, engine.TopicBuildStage)
	require.NoError(t, env.controls.stageCtl.Handle(ctx, stageRefresh))
	stage, err := env.dao.GetStage(buildID, "stage-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceed, stage.Status)

	finish := latestEvent[*engine.BuildFinishEvent](t, env.bus, engine.TopicBuildFinish)
	assert.Equal(t, engine.StatusSucceed, finish.Status)
	require.NoError(t, env.controls.finish.Handle(ctx, finish))
	build, err = env.dao.GetBuild(buildID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceed, build.Status)

	summary, err := env.dao.GetOrCreateSummary("p1", "pipe-1")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RunningCount)
	assert.Equal(t, 1, summary.FinishCount)
}

// 人工审核任务：命令链先挂REVIEWING，审核通过后继续推进
func TestManualReviewScenario(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := simpleModel(&model.Element{Kind: model.ElementManualReview, ID: "r1", Name: "审核", ReviewUsers: []string{"admin"}})
	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", m, nil)
	require.NoError(t, err)

	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))
	stageEvent := latestEvent[*engine.StageEvent](t, env.bus, engine.TopicBuildStage)
	require.NoError(t, env.controls.stageCtl.Handle(ctx, stageEvent))
	containerEvent := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	require.NoError(t, env.controls.container.Handle(ctx, containerEvent))

	task, err := env.dao.GetTask(buildID, "r1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusReviewing, task.Status)

	env.bus.reset()
	require.NoError(t, env.controls.Build.ReviewTask(ctx, buildID, "r1", "boss", engine.ManualReviewProcess))
	refresh := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	require.NoError(t, env.controls.container.Handle(ctx, refresh))

	task, err = env.dao.GetTask(buildID, "r1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusReviewProcessed, task.Status)
	assert.Equal(t, "boss", task.Approver)
}

func TestReviewTaskRejectedWhenNotReviewing(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", simpleModel(), nil)
	require.NoError(t, err)
	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))

	err = env.controls.Build.ReviewTask(ctx, buildID, "e1", "boss", engine.ManualReviewProcess)
	assert.ErrorIs(t, err, engine.ErrTaskNotReviewing)
}
