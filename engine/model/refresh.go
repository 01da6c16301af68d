package model

import (
	"github.com/chenyingqiao/pipeline-engine/engine"
)

// InitContainer 兼容旧数据：没有控制选项的Job补默认值，旧超时字段折算进去
func InitContainer(c *Container) {
	if c.JobControlOption == nil {
		timeout := c.MaxRunningMinutes
		c.JobControlOption = &JobControlOption{
			Enable:       true,
			Timeout:      timeout,
			RunCondition: JobRunOnStageRunning,
		}
	}
	if c.JobControlOption.RunCondition == "" {
		c.JobControlOption.RunCondition = JobRunOnStageRunning
	}
}

// RefreshCanRetry 重试入口用：重算各节点的可重试标记。
// 有编译环境的Job看调用方的canRetry，无编译环境的看整体构建是否失败；
// 已有标记的节点不覆盖。失败但继续的元素不可重试，
// 配置了前置失败才运行的元素会把它之前积累的失败元素一并置为不可重试
func RefreshCanRetry(m *Model, canRetry bool, status engine.BuildStatus) {
	for _, stage := range m.Stages {
		for _, container := range stage.Containers {
			refreshContainerCanRetry(container, canRetry, status)
		}
	}
}

func refreshContainerCanRetry(c *Container, canRetry bool, status engine.BuildStatus) {
	if c.Kind == ContainerVMBuild && c.CanRetry == nil {
		c.CanRetry = boolPtr(canRetry)
	}
	var failElements []*Element
	for _, e := range c.Elements {
		if e.CanRetry == nil {
			if c.Kind == ContainerVMBuild {
				e.CanRetry = boolPtr(canRetry)
			} else {
				e.CanRetry = boolPtr(status.IsFailure())
			}
		}
		if e.AdditionalOptions != nil {
			if e.AdditionalOptions.ContinueWhenFailed {
				e.CanRetry = boolPtr(false)
			}
			cond := e.AdditionalOptions.RunCondition
			if cond == RunPreTaskFailedButCancel || cond == RunPreTaskFailedOnly {
				e.CanRetry = boolPtr(false)
				for _, fe := range failElements {
					fe.CanRetry = boolPtr(false)
				}
			}
		}
		if e.CanRetry != nil && *e.CanRetry {
			failElements = append(failElements, e)
		}
	}
}

func boolPtr(b bool) *bool {
	return &b
}
