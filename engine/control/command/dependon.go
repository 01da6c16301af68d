package command

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// dependOnRetryDelayMills 依赖未完成时重查的延迟
const dependOnRetryDelayMills = 5000

// CheckDependOnCmd 依赖Job裁决：依赖全部成功才放行，
// 依赖失败或被跳过则本Job跳过，依赖未完成则等待
type CheckDependOnCmd struct{}

func (*CheckDependOnCmd) Name() string { return "checkDependOn" }

func (*CheckDependOnCmd) CanExecute(c *ContainerContext) bool {
	return c.State == StateContinue && !c.Event.ActionType.IsTerminate() &&
		(c.Container.Status.IsReadyToRun() || c.Container.Status == engine.StatusDependentWaiting)
}

func (*CheckDependOnCmd) Execute(c *ContainerContext) {
	option := c.Conditions.JobControlOption
	if option == nil || len(option.DependOnContainerIDs) == 0 {
		return
	}
	for _, depID := range option.DependOnContainerIDs {
		dep, err := c.Deps.DAO.GetContainer(c.Event.BuildID, depID)
		if err != nil {
			glog.Errorf("依赖Job查询失败 %s/%s %v", c.Event.BuildID, depID, err)
			c.Loop(dependOnRetryDelayMills)
			return
		}
		if !dep.Status.IsFinish() {
			if c.Container.Status != engine.StatusDependentWaiting {
				_ = c.Deps.DAO.UpdateContainerStatus(c.Event.BuildID, c.Event.ContainerID, engine.StatusDependentWaiting)
			}
			c.Loop(dependOnRetryDelayMills)
			return
		}
		if !dep.Status.IsSuccess() {
			c.Deps.Printer.AddYellowLine(c.Event.BuildID,
				fmt.Sprintf("依赖Job[%s]未成功(%s)，跳过本Job", depID, dep.Status), "", c.Event.ContainerID, c.Container.ExecuteCount)
			c.Finish(engine.StatusSkip)
			return
		}
	}
	//依赖全部就绪，把等待态放回排队态让后续命令接手
	if c.Container.Status == engine.StatusDependentWaiting {
		if err := c.Deps.DAO.UpdateContainerStatus(c.Event.BuildID, c.Event.ContainerID, engine.StatusQueue); err != nil {
			glog.Errorf("依赖等待态回排队失败 %s/%s %v", c.Event.BuildID, c.Event.ContainerID, err)
			c.Loop(dependOnRetryDelayMills)
			return
		}
		c.Container.Status = engine.StatusQueue
	}
}
