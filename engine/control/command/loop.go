package command

import (
	"github.com/golang/glog"
)

// LoopCmd 本轮没有推进完，把Job事件按裁决的延迟重投回总线
type LoopCmd struct{}

func (*LoopCmd) Name() string { return "loop" }

func (*LoopCmd) CanExecute(c *ContainerContext) bool {
	return c.State == StateLoop
}

func (*LoopCmd) Execute(c *ContainerContext) {
	next := *c.Event
	next.Source = "loop"
	next.ActionType = c.Event.ActionType
	next.DelayMills = c.LoopDelayMills
	if err := c.Deps.Dispatcher.Dispatch(&next); err != nil {
		glog.Errorf("Job事件重投失败 %s/%s %v", c.Event.BuildID, c.Event.ContainerID, err)
	}
}
