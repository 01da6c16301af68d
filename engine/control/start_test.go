package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/control/command"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

// 并发策略拒绝时，排队中的构建带结构化错误出局
func TestStartInterceptedByRunLock(t *testing.T) {
	runLock := &fakeRunLock{resp: &engine.Response{
		Status:  1,
		Message: "已有运行中的构建",
		Data:    engine.StatusCanceled,
	}}
	env := newTestEnv(t, Collaborators{RunLock: runLock})
	ctx := context.Background()

	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", simpleModel(), nil)
	require.NoError(t, err)
	// 造出"已有运行中构建"的汇总现场
	require.NoError(t, env.dao.EnqueueBuildSummary("pipe-1", "other", "admin"))
	require.NoError(t, env.dao.StartBuildSummary("pipe-1", "other"))

	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))

	build, err := env.dao.GetBuild(buildID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCanceled, build.Status)
	assert.Equal(t, engine.ErrorCodeUserBuildIntercept, build.ErrorCode)
	assert.NotEmpty(t, env.printer.redLines)

	finish := latestEvent[*engine.BuildFinishEvent](t, env.bus, engine.TopicBuildFinish)
	assert.Equal(t, engine.StatusCanceled, finish.Status)
}

// 策略说稍候时，瞬态的QUEUE_CACHE放回持久的QUEUE
func TestStartDeferredByRunLock(t *testing.T) {
	runLock := &fakeRunLock{resp: &engine.Response{
		Status: 1,
		Data:   engine.StatusQueue,
	}}
	env := newTestEnv(t, Collaborators{RunLock: runLock})
	ctx := context.Background()

	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", simpleModel(), nil)
	require.NoError(t, err)
	require.NoError(t, env.dao.UpdateBuildStatus(buildID, engine.StatusQueueCache))
	require.NoError(t, env.dao.EnqueueBuildSummary("pipe-1", "other", "admin"))
	require.NoError(t, env.dao.StartBuildSummary("pipe-1", "other"))

	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))

	build, err := env.dao.GetBuild(buildID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusQueue, build.Status)
}

// 只有触发Stage的退化模型直接广播结束
func TestStartDegenerateModel(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := &model.Model{
		Name: "trigger-only",
		Stages: []*model.Stage{
			{ID: "stage-trigger", Containers: []*model.Container{
				{Kind: model.ContainerTrigger, ID: "0", Elements: []*model.Element{
					{Kind: model.ElementManualTrigger, ID: "T-1"},
				}},
			}},
		},
	}
	_, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", m, nil)
	require.NoError(t, err)
	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))

	finish := latestEvent[*engine.BuildFinishEvent](t, env.bus, engine.TopicBuildFinish)
	assert.Equal(t, engine.StatusSucceed, finish.Status)
	assert.Empty(t, env.bus.byTopic(engine.TopicBuildStage))
}

// 有编译环境的Job建记录时合成开机任务占住首位
func TestStartCreatesStartVMTask(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := simpleModel()
	m.Stages[1].Containers[0] = &model.Container{
		Kind: model.ContainerVMBuild,
		ID:   "c1",
		DispatchType: &model.DispatchInfo{
			Type:  "KUBERNETES",
			Value: map[string]interface{}{"image": "golang:1.21"},
		},
		Elements: []*model.Element{{Kind: model.ElementNormal, ID: "e1", Name: "build"}},
	}
	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", m, nil)
	require.NoError(t, err)
	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))

	tasks, err := env.dao.ListContainerTasks(buildID, "c1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, command.StartVMTaskID("c1"), tasks[0].TaskId)
	assert.Equal(t, command.TaskTypeStartVM, tasks[0].TaskType)
	assert.Equal(t, 1, tasks[0].TaskSeq)
	assert.Equal(t, "e1", tasks[1].TaskId)

	container, err := env.dao.GetContainer(buildID, "c1")
	require.NoError(t, err)
	conditions, err := model.ParseContainerConditions(container.Conditions)
	require.NoError(t, err)
	require.NotNil(t, conditions.DispatchType)
	assert.Equal(t, "KUBERNETES", conditions.DispatchType.Type)
}

// 触发Stage整体记成功，运行期遍历不会再碰它
func TestStartMarksTriggerStageSucceed(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", simpleModel(), nil)
	require.NoError(t, err)
	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))

	stage, err := env.dao.GetStage(buildID, "stage-trigger")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceed, stage.Status)
	container, err := env.dao.GetContainer(buildID, "0")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceed, container.Status)
}

// 启动快照合并声明参数与触发实参：实参优先，缺省值只补没给的键
func TestStartMergesStartupParams(t *testing.T) {
	env := newTestEnv(t, Collaborators{})
	ctx := context.Background()

	m := simpleModel()
	m.Stages[0].Containers[0].Params = []*model.BuildFormProperty{
		{ID: "branch", DefaultValue: "master"},
		{ID: "flavor", DefaultValue: "debug"},
	}
	buildID, err := env.controls.Build.StartBuild(ctx, "p1", "pipe-1", "admin", "MANUAL", m,
		map[string]string{"branch": "release"})
	require.NoError(t, err)
	start := latestEvent[*engine.BuildStartEvent](t, env.bus, engine.TopicBuildStart)
	require.NoError(t, env.controls.start.Handle(ctx, start))

	variables, err := env.dao.GetAllVariable(buildID)
	require.NoError(t, err)
	assert.Equal(t, "release", variables["branch"])
	assert.Equal(t, "debug", variables["flavor"])
	assert.Equal(t, buildID, variables[engine.VarPipelineBuildID])
}
