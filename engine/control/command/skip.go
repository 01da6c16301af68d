package command

import (
	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/util"
)

// CheckSkipCmd 判断Job是否应该整体跳过：
// 控制选项未启用，或自定义变量条件不满足
type CheckSkipCmd struct{}

func (*CheckSkipCmd) Name() string { return "checkSkip" }

func (*CheckSkipCmd) CanExecute(c *ContainerContext) bool {
	return c.State == StateContinue && !c.Event.ActionType.IsTerminate() &&
		c.Container.Status.IsReadyToRun()
}

func (*CheckSkipCmd) Execute(c *ContainerContext) {
	option := c.Conditions.JobControlOption
	if option == nil {
		return
	}
	if !option.Enable {
		c.Deps.Printer.AddYellowLine(c.Event.BuildID, "Job已禁用，跳过", "", c.Event.ContainerID, c.Container.ExecuteCount)
		c.Finish(engine.StatusSkip)
		return
	}
	switch option.RunCondition {
	case model.JobRunCustomVariableMatch:
		if !customVariablesMatch(option.CustomVariables, c.Variables) {
			c.Deps.Printer.AddYellowLine(c.Event.BuildID, "自定义变量条件不满足，跳过Job", "", c.Event.ContainerID, c.Container.ExecuteCount)
			c.Finish(engine.StatusSkip)
		}
	case model.JobRunCustomVariableNotMatch:
		if customVariablesMatch(option.CustomVariables, c.Variables) {
			c.Deps.Printer.AddYellowLine(c.Event.BuildID, "自定义变量条件命中不运行，跳过Job", "", c.Event.ContainerID, c.Container.ExecuteCount)
			c.Finish(engine.StatusSkip)
		}
	}
}

// customVariablesMatch 全部键值都相等才算命中，值支持变量占位
func customVariablesMatch(kvs []*model.KV, variables map[string]string) bool {
	if len(kvs) == 0 {
		return true
	}
	for _, kv := range kvs {
		expect := kv.Value
		if util.HasReplaceFlag(expect) {
			expect = util.ParseEnv(expect, variables)
		}
		if variables[kv.Key] != expect {
			return false
		}
	}
	return true
}
