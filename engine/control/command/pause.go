package command

import (
	"github.com/chenyingqiao/pipeline-engine/engine"
)

// CheckPauseCmd 有任务处于暂停态时整个Job挂起，等恢复事件再推进
type CheckPauseCmd struct{}

func (*CheckPauseCmd) Name() string { return "checkPause" }

func (*CheckPauseCmd) CanExecute(c *ContainerContext) bool {
	return c.State == StateContinue && !c.Event.ActionType.IsTerminate()
}

func (*CheckPauseCmd) Execute(c *ContainerContext) {
	for _, task := range c.Tasks {
		if task.Status == engine.StatusPause {
			c.Deps.Printer.AddYellowLine(c.Event.BuildID, "Job内有任务处于暂停状态，等待恢复", "", c.Event.ContainerID, c.Container.ExecuteCount)
			c.State = StateBreak
			return
		}
	}
}
