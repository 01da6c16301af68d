package control

import (
	"context"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/config"
	"github.com/chenyingqiao/pipeline-engine/engine/control/command"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/detail"
	"github.com/chenyingqiao/pipeline-engine/engine/dispatch"
	"github.com/chenyingqiao/pipeline-engine/engine/event"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/mutex"
	"github.com/chenyingqiao/pipeline-engine/engine/quality"
)

// Collaborators 引擎消费的外部协作方，不关心的留nil走默认行为
type Collaborators struct {
	Printer  engine.BuildLogPrinter
	Quota    engine.QuotaService
	RunLock  engine.RunLockInterceptor
	Scm      engine.ScmService
	Rules    quality.RuleService
	Registry *dispatch.Registry
}

// Controls 全部控制器的装配体，一次装配，随consumer常驻
type Controls struct {
	Build     *BuildService
	Stage     *StageService
	start     *BuildStartControl
	cancel    *BuildCancelControl
	monitor   *BuildMonitorControl
	finish    *BuildFinishControl
	stageCtl  *StageControl
	container *ContainerControl
	registry  *dispatch.Registry
	dao       *dao.DAO
}

// NewControls 按配置装配全部控制器
func NewControls(
	cfg config.Engine,
	d *dao.DAO,
	client redis.UniversalClient,
	dispatcher engine.Dispatcher,
	collab Collaborators,
) *Controls {
	printer := collab.Printer
	if printer == nil {
		printer = &engine.GlogPrinter{}
	}
	detailSvc := detail.NewService(d, client, dispatcher)
	runtime := NewRuntimeService(d)
	mutexCtl := mutex.NewControl(client, printer)
	rules := collab.Rules
	if rules == nil {
		rules = quality.NewRuleService(cfg.Quality)
	}
	gate := quality.NewGate(rules, printer)

	deps := &command.Deps{
		DAO:        d,
		Detail:     detailSvc,
		Mutex:      mutexCtl,
		Dispatcher: dispatcher,
		Printer:    printer,
		Variable:   runtime,
		Quality:    gate,
	}
	stageSvc := NewStageService(d, detailSvc, dispatcher)
	return &Controls{
		Build:     NewBuildService(d, detailSvc, dispatcher, runtime, cfg.Queue),
		Stage:     stageSvc,
		start:     NewBuildStartControl(d, detailSvc, dispatcher, printer, runtime, collab.Scm, collab.RunLock, client),
		cancel:    NewBuildCancelControl(d, detailSvc, mutexCtl, dispatcher, runtime, client),
		monitor:   NewBuildMonitorControl(d, dispatcher, printer, stageSvc, cfg.Queue, cfg.Monitor),
		finish:    NewBuildFinishControl(d, detailSvc, dispatcher, printer, client),
		stageCtl:  NewStageControl(d, detailSvc, dispatcher),
		container: NewContainerControl(deps, client),
		registry:  collab.Registry,
		dao:       d,
	}
}

// Register 把各控制器挂到事件消费端
func (c *Controls) Register(runner *event.Runner) {
	event.Register(runner, engine.TopicBuildStart, c.start.Handle)
	event.Register(runner, engine.TopicBuildCancel, c.cancel.Handle)
	event.Register(runner, engine.TopicBuildMonitor, c.monitor.Handle)
	event.Register(runner, engine.TopicBuildFinish, c.finish.Handle)
	event.Register(runner, engine.TopicBuildStage, c.stageCtl.Handle)
	event.Register(runner, engine.TopicBuildContainer, c.container.Handle)
	event.Register(runner, engine.TopicBuildLessStartup, c.container.HandleBuildLessStartup)
	event.Register(runner, engine.TopicAgentStartup, c.handleAgentStartup)
	event.Register(runner, engine.TopicAgentShutdown, c.handleAgentShutdown)
}

// handleAgentStartup 构建环境拉起：从Job记录取出声明的环境配置交给分发器，
// 拉不起来直接把开机任务置失败让命令链收尾
func (c *Controls) handleAgentStartup(ctx context.Context, e *engine.AgentStartupEvent) error {
	if c.registry == nil {
		glog.Errorf("未装配分发器注册表，丢弃环境启动事件 %s/%s", e.BuildID, e.ContainerID)
		return nil
	}
	info, err := c.dispatchInfo(e.BuildID, e.ContainerID)
	if err != nil {
		return err
	}
	if err := c.registry.Startup(ctx, e, info); err != nil {
		glog.Errorf("环境拉起失败 %s/%s %v", e.BuildID, e.ContainerID, err)
		return c.container.HandleAgentReport(ctx, e.BuildID, e.ContainerID, e.StageID, false, err.Error())
	}
	return nil
}

// handleAgentShutdown 构建环境回收，回收失败只记日志，不影响构建收尾
func (c *Controls) handleAgentShutdown(ctx context.Context, e *engine.AgentShutdownEvent) error {
	if c.registry == nil {
		return nil
	}
	info, err := c.dispatchInfo(e.BuildID, e.ContainerID)
	if err != nil {
		glog.Errorf("关机事件找不到环境配置 %s/%s %v", e.BuildID, e.ContainerID, err)
		return nil
	}
	if err := c.registry.Shutdown(ctx, e, info); err != nil {
		glog.Errorf("环境回收失败 %s/%s %v", e.BuildID, e.ContainerID, err)
	}
	return nil
}

func (c *Controls) dispatchInfo(buildID, containerID string) (*model.DispatchInfo, error) {
	container, err := c.dao.GetContainer(buildID, containerID)
	if err != nil {
		return nil, err
	}
	conditions, err := model.ParseContainerConditions(container.Conditions)
	if err != nil {
		return nil, err
	}
	return conditions.DispatchType, nil
}
