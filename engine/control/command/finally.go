package command

import (
	"github.com/golang/glog"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

// FinallyCmd Job收尾：落终态、释放互斥、回收环境、通知Stage推进
type FinallyCmd struct{}

func (*FinallyCmd) Name() string { return "finally" }

func (*FinallyCmd) CanExecute(c *ContainerContext) bool {
	return c.State == StateFinish
}

func (*FinallyCmd) Execute(c *ContainerContext) {
	buildID := c.Event.BuildID
	containerID := c.Event.ContainerID

	if group := c.Conditions.MutexGroup; group != nil && group.Enable {
		if err := c.Deps.Mutex.ReleaseMutex(c.Ctx, group, c.Event.ProjectID, buildID, containerID); err != nil {
			glog.Errorf("Job收尾释放互斥组失败 %s/%s %v", buildID, containerID, err)
		}
	}

	if c.FinalStatus == engine.StatusSkip {
		_ = c.Deps.Detail.ContainerSkip(c.Ctx, buildID, containerID)
	} else {
		_ = c.Deps.Detail.UpdateContainerStatus(c.Ctx, buildID, containerID, c.FinalStatus)
	}
	if err := c.Deps.DAO.UpdateContainerStatus(buildID, containerID, c.FinalStatus); err != nil {
		glog.Errorf("Job终态落库失败 %s/%s %v", buildID, containerID, err)
	}

	//有编译环境的Job通知回收构建机
	if c.Container.ContainerType == string(model.ContainerVMBuild) && c.Conditions.DispatchType != nil {
		err := c.Deps.Dispatcher.Dispatch(&engine.AgentShutdownEvent{
			EventHead: engine.EventHead{
				Source:     "container",
				ProjectID:  c.Event.ProjectID,
				PipelineID: c.Event.PipelineID,
				BuildID:    buildID,
				UserID:     c.Event.UserID,
			},
			ContainerID:  containerID,
			DispatchType: c.Conditions.DispatchType.Type,
			BuildResult:  c.FinalStatus.IsSuccess(),
			ExecuteCount: c.Container.ExecuteCount,
		})
		if err != nil {
			glog.Errorf("构建机回收事件投递失败 %s/%s %v", buildID, containerID, err)
		}
	}

	err := c.Deps.Dispatcher.Dispatch(&engine.StageEvent{
		EventHead: engine.EventHead{
			Source:     "container",
			ProjectID:  c.Event.ProjectID,
			PipelineID: c.Event.PipelineID,
			BuildID:    buildID,
			UserID:     c.Event.UserID,
		},
		StageID:    c.Event.StageID,
		ActionType: engine.ActionRefresh,
	})
	if err != nil {
		glog.Errorf("Stage刷新事件投递失败 %s/%s %v", buildID, containerID, err)
	}
	glog.Infof("Job收尾完成 %s/%s status=%s", buildID, containerID, c.FinalStatus)
}
