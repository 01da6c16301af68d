package control

import (
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/control/command"
	"github.com/chenyingqiao/pipeline-engine/engine/lock"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

// ContainerControl Job事件的入口：加Job锁、装上下文、跑命令链
type ContainerControl struct {
	deps  *command.Deps
	chain *command.Chain
	redis redis.UniversalClient
}

// NewContainerControl 创建Job控制器
func NewContainerControl(deps *command.Deps, client redis.UniversalClient) *ContainerControl {
	return &ContainerControl{
		deps:  deps,
		chain: command.DefaultChain(),
		redis: client,
	}
}

// Handle 处理一条Job事件
func (cc *ContainerControl) Handle(ctx context.Context, event *engine.ContainerEvent) error {
	containerLock := lock.NewContainerIDLock(cc.redis, event.BuildID, event.ContainerID)
	if err := containerLock.Lock(ctx); err != nil {
		return errors.Wrapf(err, "Job事件抢锁失败 %s/%s", event.BuildID, event.ContainerID)
	}
	defer func() { _ = containerLock.Unlock(ctx) }()

	build, err := cc.deps.DAO.GetBuild(event.BuildID)
	if err != nil {
		return err
	}
	if build.Status.IsFinish() {
		glog.Infof("构建已结束，丢弃Job事件 %s/%s", event.BuildID, event.ContainerID)
		return nil
	}
	container, err := cc.deps.DAO.GetContainer(event.BuildID, event.ContainerID)
	if err != nil {
		return err
	}
	if container.Status.IsFinish() {
		glog.Infof("Job已结束，丢弃Job事件 %s/%s status=%s", event.BuildID, event.ContainerID, container.Status)
		return nil
	}
	tasks, err := cc.deps.DAO.ListContainerTasks(event.BuildID, event.ContainerID)
	if err != nil {
		return err
	}
	conditions, err := model.ParseContainerConditions(container.Conditions)
	if err != nil {
		return err
	}
	variables, err := cc.deps.Variable.GetAllVariable(event.BuildID)
	if err != nil {
		glog.Errorf("构建变量读取失败 %s %v", event.BuildID, err)
		variables = map[string]string{}
	}

	c := &command.ContainerContext{
		Ctx:        ctx,
		Event:      event,
		Build:      build,
		Container:  container,
		Tasks:      tasks,
		Conditions: conditions,
		Variables:  variables,
		State:      command.StateContinue,
		Deps:       cc.deps,
	}
	cc.chain.Handle(c)
	return nil
}

// HandleBuildLessStartup 无编译环境"开机完成"：开机任务置成功，重投Job事件推进
func (cc *ContainerControl) HandleBuildLessStartup(ctx context.Context, event *engine.BuildLessStartupEvent) error {
	if err := cc.deps.DAO.UpdateTaskStatus(event.BuildID, event.TaskID, engine.StatusSucceed, ""); err != nil {
		return err
	}
	return cc.deps.Dispatcher.Dispatch(&engine.ContainerEvent{
		EventHead: engine.EventHead{
			Source:     "buildless",
			ProjectID:  event.ProjectID,
			PipelineID: event.PipelineID,
			BuildID:    event.BuildID,
			UserID:     event.UserID,
		},
		StageID:     event.StageID,
		ContainerID: event.ContainerID,
		ActionType:  engine.ActionRefresh,
	})
}

// HandleAgentReport 构建机就绪或失败的回报：开机任务置状态并重投Job事件
func (cc *ContainerControl) HandleAgentReport(ctx context.Context, buildID, containerID, stageID string, success bool, message string) error {
	taskID := command.StartVMTaskID(containerID)
	status := engine.StatusSucceed
	if !success {
		status = engine.StatusFailed
		_ = cc.deps.DAO.UpdateTaskError(buildID, taskID, engine.ErrorTypeThird, engine.ErrorCodeSystemDispatchFail, message)
	}
	if err := cc.deps.DAO.UpdateTaskStatus(buildID, taskID, status, ""); err != nil {
		return err
	}
	_ = cc.deps.Detail.UpdateStartVMStatus(ctx, buildID, containerID, status)
	build, err := cc.deps.DAO.GetBuild(buildID)
	if err != nil {
		return err
	}
	return cc.deps.Dispatcher.Dispatch(&engine.ContainerEvent{
		EventHead: engine.EventHead{
			Source:     "agent",
			ProjectID:  build.ProjectId,
			PipelineID: build.PipelineId,
			BuildID:    buildID,
		},
		StageID:     stageID,
		ContainerID: containerID,
		ActionType:  engine.ActionRefresh,
	})
}
