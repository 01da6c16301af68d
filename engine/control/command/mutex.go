package command

import (
	"github.com/golang/glog"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/mutex"
)

// mutexRetryDelayMills 互斥组排队时重查的延迟
const mutexRetryDelayMills = 10000

// CheckMutexCmd 互斥组裁决
type CheckMutexCmd struct{}

func (*CheckMutexCmd) Name() string { return "checkMutex" }

func (*CheckMutexCmd) CanExecute(c *ContainerContext) bool {
	return c.State == StateContinue && !c.Event.ActionType.IsTerminate() &&
		c.Container.Status.IsReadyToRun()
}

func (*CheckMutexCmd) Execute(c *ContainerContext) {
	group := c.Conditions.MutexGroup
	if group == nil || !group.Enable {
		return
	}
	mutex.DecorateMutexGroup(group, c.Variables)
	outcome, err := c.Deps.Mutex.AcquireMutex(
		c.Ctx, group,
		c.Event.ProjectID, c.Event.BuildID, c.Event.ContainerID,
		c.Event.ContainerID, c.Container.ExecuteCount,
	)
	if err != nil {
		glog.Errorf("互斥组裁决失败 %s/%s %v", c.Event.BuildID, c.Event.ContainerID, err)
		c.Loop(mutexRetryDelayMills)
		return
	}
	switch outcome {
	case mutex.OutcomeWait:
		c.Loop(mutexRetryDelayMills)
	case mutex.OutcomeFail:
		c.ErrorInfo = &engine.ErrorInfo{
			ErrorType: engine.ErrorTypeUser,
			ErrorCode: engine.ErrorCodeUserJobTimeout,
			ErrorMsg:  "mutex group queue full or timeout",
		}
		c.Finish(engine.StatusFailed)
	}
}
