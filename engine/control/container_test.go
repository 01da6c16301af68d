package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/quality"
)

// 启动到Job事件可处理的公共铺垫，返回buildID
func startBuildWithModel(t *testing.T, env *testEnv, m *model.Model) string {
	t.Helper()
	ctx := context.Background()
	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", m, nil)
	require.NoError(t, err)
	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))
	stageEvent := latestEvent[*engine.StageEvent](t, env.bus, engine.TopicBuildStage)
	require.NoError(t, env.controls.stageCtl.Handle(ctx, stageEvent))
	return buildID
}

// 控制选项禁用的Job整体跳过并通知Stage刷新
func TestContainerSkippedWhenDisabled(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := simpleModel()
	m.Stages[1].Containers[0].JobControlOption = &model.JobControlOption{Enable: false}
	buildID := startBuildWithModel(t, env, m)

	containerEvent := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	env.bus.reset()
	require.NoError(t, env.controls.container.Handle(ctx, containerEvent))

	container, err := env.dao.GetContainer(buildID, "c1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSkip, container.Status)
	assert.NotEmpty(t, env.printer.lines)

	refresh := latestEvent[*engine.StageEvent](t, env.bus, engine.TopicBuildStage)
	assert.Equal(t, engine.ActionRefresh, refresh.ActionType)
}

// 自定义变量条件不满足的Job跳过
func TestContainerSkippedOnVariableMismatch(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := simpleModel()
	m.Stages[1].Containers[0].JobControlOption = &model.JobControlOption{
		Enable:       true,
		RunCondition: model.JobRunCustomVariableMatch,
		CustomVariables: []*model.KV{
			{Key: "branch", Value: "release"},
		},
	}
	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", m,
		map[string]string{"branch": "master"})
	require.NoError(t, err)
	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))
	stageEvent := latestEvent[*engine.StageEvent](t, env.bus, engine.TopicBuildStage)
	require.NoError(t, env.controls.stageCtl.Handle(ctx, stageEvent))
	containerEvent := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)

	require.NoError(t, env.controls.container.Handle(ctx, containerEvent))

	container, err := env.dao.GetContainer(buildID, "c1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSkip, container.Status)
}

// 依赖Job未完成时本Job转依赖等待并延迟重投
func TestContainerWaitsForDependency(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := simpleModel()
	m.Stages[1].Containers = append(m.Stages[1].Containers, &model.Container{
		Kind: model.ContainerNormal,
		ID:   "c2",
		JobControlOption: &model.JobControlOption{
			Enable:               true,
			DependOnContainerIDs: []string{"c1"},
		},
		Elements: []*model.Element{{Kind: model.ElementNormal, ID: "e2", Name: "after"}},
	})
	buildID := startBuildWithModel(t, env, m)

	var c2Event *engine.ContainerEvent
	for _, e := range env.bus.byTopic(engine.TopicBuildContainer) {
		if ce := e.(*engine.ContainerEvent); ce.ContainerID == "c2" {
			c2Event = ce
		}
	}
	require.NotNil(t, c2Event)
	env.bus.reset()

	require.NoError(t, env.controls.container.Handle(ctx, c2Event))

	container, err := env.dao.GetContainer(buildID, "c2")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusDependentWaiting, container.Status)
	// 延迟重投自己，等依赖出结果
	retry := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	assert.Equal(t, "c2", retry.ContainerID)
	assert.Greater(t, retry.DelayMills, int64(0))

	// 依赖成功后重投的事件把Job从等待态拉起来
	require.NoError(t, env.dao.UpdateContainerStatus(buildID, "c1", engine.StatusSucceed))
	require.NoError(t, env.controls.container.Handle(ctx, retry))
	container, err = env.dao.GetContainer(buildID, "c2")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, container.Status)
	task, err := env.dao.GetTask(buildID, "e2")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, task.Status)
}

// 依赖Job未成功时本Job直接跳过
func TestContainerSkippedWhenDependencyFailed(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := simpleModel()
	m.Stages[1].Containers = append(m.Stages[1].Containers, &model.Container{
		Kind: model.ContainerNormal,
		ID:   "c2",
		JobControlOption: &model.JobControlOption{
			Enable:               true,
			DependOnContainerIDs: []string{"c1"},
		},
		Elements: []*model.Element{{Kind: model.ElementNormal, ID: "e2", Name: "after"}},
	})
	buildID := startBuildWithModel(t, env, m)
	require.NoError(t, env.dao.UpdateContainerStatus(buildID, "c1", engine.StatusFailed))

	var c2Event *engine.ContainerEvent
	for _, e := range env.bus.byTopic(engine.TopicBuildContainer) {
		if ce := e.(*engine.ContainerEvent); ce.ContainerID == "c2" {
			c2Event = ce
		}
	}
	require.NotNil(t, c2Event)

	require.NoError(t, env.controls.container.Handle(ctx, c2Event))

	container, err := env.dao.GetContainer(buildID, "c2")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSkip, container.Status)
}

// 暂停中的任务让整个Job按兵不动
func TestContainerBreaksOnPausedTask(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	buildID := startBuildWithModel(t, env, simpleModel())
	require.NoError(t, env.dao.UpdateTaskStatus(buildID, "e1", engine.StatusPause, ""))
	containerEvent := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	env.bus.reset()

	require.NoError(t, env.controls.container.Handle(ctx, containerEvent))

	container, err := env.dao.GetContainer(buildID, "c1")
	require.NoError(t, err)
	assert.False(t, container.Status.IsFinish())
	assert.Empty(t, env.bus.events)
	assert.NotEmpty(t, env.printer.lines)
}

type fakeRuleService struct {
	result *quality.CheckResult
}

func (f *fakeRuleService) Check(ctx context.Context, request *quality.CheckRequest) (*quality.CheckResult, error) {
	return f.result, nil
}

// 默认规则服务放行：红线任务两轮事件内通过并放行后续任务
func TestQualityGatePassesUnderDefaultRules(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := simpleModel(
		&model.Element{Kind: model.ElementQualityGateIn, ID: "q1", Name: "gate"},
		&model.Element{Kind: model.ElementNormal, ID: "e1", Name: "echo"},
	)
	buildID := startBuildWithModel(t, env, m)

	// 第一轮：红线任务挂审核，规则结论写进任务参数
	containerEvent := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	require.NoError(t, env.controls.container.Handle(ctx, containerEvent))
	task, err := env.dao.GetTask(buildID, "q1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusReviewing, task.Status)

	// 第二轮：按结论收口成功
	containerEvent = latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	require.NoError(t, env.controls.container.Handle(ctx, containerEvent))
	task, err = env.dao.GetTask(buildID, "q1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceed, task.Status)

	// 第三轮：后续任务正常启动
	containerEvent = latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	require.NoError(t, env.controls.container.Handle(ctx, containerEvent))
	task, err = env.dao.GetTask(buildID, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, task.Status)
}

// 红线失败且failEnd：任务落红线失败，Job整体失败且后续任务不执行
func TestQualityGateFailEndFailsJob(t *testing.T) {
	env := newTestEnv(t, Collaborators{
		Rules: &fakeRuleService{result: &quality.CheckResult{
			Success:       false,
			MetadataReady: true,
			FailEnd:       true,
			RuleDescriptions: []quality.RuleDescription{
				{RuleName: "coverage", Message: "覆盖率不足", Pass: false},
			},
		}},
	})
	ctx := context.Background()

	m := simpleModel(
		&model.Element{Kind: model.ElementQualityGateIn, ID: "q1", Name: "gate"},
		&model.Element{Kind: model.ElementNormal, ID: "e1", Name: "echo"},
	)
	buildID := startBuildWithModel(t, env, m)

	for round := 0; round < 3; round++ {
		containerEvent := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
		require.NoError(t, env.controls.container.Handle(ctx, containerEvent))
	}

	task, err := env.dao.GetTask(buildID, "q1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusQualityCheckFail, task.Status)
	next, err := env.dao.GetTask(buildID, "e1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusUnexec, next.Status)
	container, err := env.dao.GetContainer(buildID, "c1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, container.Status)
	assert.NotEmpty(t, env.printer.redLines)
}

// 同名互斥组下第二个Job排队等待而不是并行
func TestContainerMutexQueuesSecondJob(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	group := &model.MutexGroup{
		Enable:         true,
		MutexGroupName: "deploy-{{.branch}}",
		QueueEnable:    true,
		Queue:          5,
		Timeout:        600,
	}
	m := simpleModel()
	m.Stages[1].Containers[0].MutexGroup = group
	m.Stages[1].Containers = append(m.Stages[1].Containers, &model.Container{
		Kind:       model.ContainerNormal,
		ID:         "c2",
		MutexGroup: group,
		Elements:   []*model.Element{{Kind: model.ElementNormal, ID: "e2", Name: "again"}},
	})
	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", m,
		map[string]string{"branch": "master"})
	require.NoError(t, err)
	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))
	stageEvent := latestEvent[*engine.StageEvent](t, env.bus, engine.TopicBuildStage)
	require.NoError(t, env.controls.stageCtl.Handle(ctx, stageEvent))

	events := env.bus.byTopic(engine.TopicBuildContainer)
	require.Len(t, events, 2)
	var c1Event, c2Event *engine.ContainerEvent
	for _, e := range events {
		ce := e.(*engine.ContainerEvent)
		if ce.ContainerID == "c1" {
			c1Event = ce
		} else {
			c2Event = ce
		}
	}
	require.NoError(t, env.controls.container.Handle(ctx, c1Event))
	c1, err := env.dao.GetContainer(buildID, "c1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRunning, c1.Status)

	env.bus.reset()
	require.NoError(t, env.controls.container.Handle(ctx, c2Event))
	c2, err := env.dao.GetContainer(buildID, "c2")
	require.NoError(t, err)
	// 拿不到锁的Job不推进，延迟重投
	assert.True(t, c2.Status.IsReadyToRun())
	retry := latestEvent[*engine.ContainerEvent](t, env.bus, engine.TopicBuildContainer)
	assert.Equal(t, "c2", retry.ContainerID)
	assert.Greater(t, retry.DelayMills, int64(0))
}
