package dispatch

import (
	"context"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

// DispatchTypeBuildLess 无编译环境类型名
const DispatchTypeBuildLess = "BUILD_LESS"

// BuildLessDispatcher 无编译环境：不拉真实环境，
// 只把启动/关机转成无编译事件交回总线
type BuildLessDispatcher struct {
	dispatcher engine.Dispatcher
}

// NewBuildLessDispatcher 创建无编译分发器
func NewBuildLessDispatcher(dispatcher engine.Dispatcher) *BuildLessDispatcher {
	return &BuildLessDispatcher{dispatcher: dispatcher}
}

// Name 环境类型名
func (d *BuildLessDispatcher) Name() string {
	return DispatchTypeBuildLess
}

// Startup 广播无编译环境启动事件
func (d *BuildLessDispatcher) Startup(ctx context.Context, event *engine.AgentStartupEvent, info *model.DispatchInfo) error {
	return d.dispatcher.Dispatch(&engine.BuildLessStartupEvent{
		EventHead:    event.EventHead,
		StageID:      event.StageID,
		ContainerID:  event.ContainerID,
		TaskID:       event.TaskID,
		ExecuteCount: event.ExecuteCount,
	})
}

// Shutdown 广播无编译环境关机事件
func (d *BuildLessDispatcher) Shutdown(ctx context.Context, event *engine.AgentShutdownEvent, info *model.DispatchInfo) error {
	return d.dispatcher.Dispatch(&engine.BuildLessShutdownEvent{
		EventHead:    event.EventHead,
		ContainerID:  event.ContainerID,
		BuildResult:  event.BuildResult,
		ExecuteCount: event.ExecuteCount,
	})
}
