package control

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/config"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

const (
	//monitorMaxDelayMills 自调度延迟的上限，再远的超时也最多隔这么久看一眼
	monitorMaxDelayMills = int64(10 * 60 * 1000)
	//monitorQueueDelayMills 排队阶段的巡检间隔
	monitorQueueDelayMills = int64(20 * 1000)
	//stageReviewMaxHours 人工确认等待的硬上限，单位小时
	stageReviewMaxHours = 24 * 7
)

// BuildMonitorControl 超时看守：每个构建一条自投递的监控事件，
// 按距离最近的超时点自适应调整下一次延迟，不做全局轮询
type BuildMonitorControl struct {
	dao        *dao.DAO
	dispatcher engine.Dispatcher
	printer    engine.BuildLogPrinter
	stageSvc   *StageService
	queueCfg   config.Queue
	monitorCfg config.Monitor
}

// NewBuildMonitorControl 创建监控控制器
func NewBuildMonitorControl(
	d *dao.DAO,
	dispatcher engine.Dispatcher,
	printer engine.BuildLogPrinter,
	stageSvc *StageService,
	queueCfg config.Queue,
	monitorCfg config.Monitor,
) *BuildMonitorControl {
	return &BuildMonitorControl{
		dao:        d,
		dispatcher: dispatcher,
		printer:    printer,
		stageSvc:   stageSvc,
		queueCfg:   queueCfg,
		monitorCfg: monitorCfg,
	}
}

// Handle 处理一次监控事件
func (mc *BuildMonitorControl) Handle(ctx context.Context, event *engine.BuildMonitorEvent) error {
	build, err := mc.dao.GetBuild(event.BuildID)
	if err != nil {
		glog.Infof("监控事件找不到构建，停止看守 %s", event.BuildID)
		return nil
	}
	if build.Status.IsFinish() {
		return nil
	}
	if build.Status.IsReadyToRun() {
		return mc.monitorQueue(event, build)
	}
	return mc.monitorRun(ctx, event, build)
}

// monitorQueue 排队阶段：先查排队超时，再看是否轮到自己启动，无论如何续投自己
func (mc *BuildMonitorControl) monitorQueue(event *engine.BuildMonitorEvent, build *dao.BuildRecord) error {
	timeout := time.Duration(mc.queueCfg.QueueTimeoutMinutes) * time.Minute
	if maxQueue := time.Duration(mc.monitorCfg.MaxQueueDays) * 24 * time.Hour; maxQueue > 0 && timeout > maxQueue {
		timeout = maxQueue
	}
	elapsed := time.Since(build.QueueTime)
	if timeout > 0 && elapsed > timeout {
		message := fmt.Sprintf("构建排队超时（已等待%s，上限%s），自动取消", elapsed.Round(time.Second), timeout)
		mc.printer.AddRedLine(build.BuildId, message, "monitor", "", build.ExecuteCount)
		errorInfo := &engine.ErrorInfo{
			ErrorType: engine.ErrorTypeUser,
			ErrorCode: engine.ErrorCodeUserJobTimeout,
			ErrorMsg:  message,
		}
		if err := mc.dao.FinishBuild(build.BuildId, engine.StatusQueueTimeout, errorInfo); err != nil {
			return err
		}
		if err := mc.dao.ExitQueueSummary(build.PipelineId, build.BuildId, engine.StatusQueueTimeout); err != nil {
			glog.Errorf("排队超时出队汇总失败 %s %v", build.BuildId, err)
		}
		return mc.dispatcher.Dispatch(&engine.BuildFinishEvent{
			EventHead: engine.EventHead{
				Source:     "monitorQueueTimeout",
				ProjectID:  build.ProjectId,
				PipelineID: build.PipelineId,
				BuildID:    build.BuildId,
			},
			Status:    engine.StatusQueueTimeout,
			ErrorType: errorInfo.ErrorType,
			ErrorCode: errorInfo.ErrorCode,
			ErrorMsg:  errorInfo.ErrorMsg,
		})
	}

	// 轮到队首的构建就补发一次启动探测
	if mc.firstInLine(build) {
		if err := mc.dispatcher.Dispatch(&engine.BuildStartEvent{
			EventHead: engine.EventHead{
				Source:     "monitorProbe",
				ProjectID:  build.ProjectId,
				PipelineID: build.PipelineId,
				BuildID:    build.BuildId,
				UserID:     build.StartUser,
			},
			Status:     build.Status,
			ActionType: engine.ActionStart,
		}); err != nil {
			glog.Errorf("启动探测投递失败 %s %v", build.BuildId, err)
		}
	}
	return mc.reschedule(event, monitorQueueDelayMills)
}

func (mc *BuildMonitorControl) firstInLine(build *dao.BuildRecord) bool {
	queued, err := mc.dao.ListBuildsByStatus(build.PipelineId, engine.StatusQueue, engine.StatusQueueCache)
	if err != nil || len(queued) == 0 {
		return false
	}
	return queued[0].BuildId == build.BuildId
}

// monitorRun 运行阶段：计算最近一个超时点，越过的当场处置，没越过的按剩余时间续投
func (mc *BuildMonitorControl) monitorRun(ctx context.Context, event *engine.BuildMonitorEvent, build *dao.BuildRecord) error {
	now := time.Now()
	minDelay := monitorMaxDelayMills

	containers, err := mc.dao.ListContainers(build.BuildId)
	if err != nil {
		return err
	}
	for _, container := range containers {
		remain, breached := mc.containerRemainMills(container, now)
		if !breached && remain >= 0 && remain < minDelay {
			minDelay = remain
		}
		if breached {
			mc.terminateContainer(build, container)
		}
	}

	stages, err := mc.dao.ListStages(build.BuildId)
	if err != nil {
		return err
	}
	for _, stage := range stages {
		remain, breached := stageReviewRemainMills(stage, now)
		if !breached && remain >= 0 && remain < minDelay {
			minDelay = remain
		}
		if breached {
			message := fmt.Sprintf("Stage人工确认等待超时 %s", stage.StageId)
			mc.printer.AddRedLine(build.BuildId, message, "monitor", "", build.ExecuteCount)
			if err := mc.stageSvc.CancelReview(ctx,
				build.ProjectId, build.PipelineId, build.BuildId, stage.StageId, "system"); err != nil {
				glog.Errorf("Stage超时终止失败 %s/%s %v", build.BuildId, stage.StageId, err)
			}
		}
	}
	if minDelay < 0 {
		minDelay = 0
	}
	return mc.reschedule(event, minDelay)
}

// containerRemainMills Job距离运行超时还剩多少毫秒，已越过返回breached
func (mc *BuildMonitorControl) containerRemainMills(container *dao.ContainerRecord, now time.Time) (int64, bool) {
	if container.Status.IsFinish() || !container.Status.IsRunning() || container.StartTime == nil {
		return -1, false
	}
	conditions, err := model.ParseContainerConditions(container.Conditions)
	if err != nil {
		return -1, false
	}
	timeoutMinutes := mc.monitorCfg.MaxJobMinutes
	if conditions.JobControlOption != nil && conditions.JobControlOption.Timeout > 0 {
		timeoutMinutes = conditions.JobControlOption.Timeout
	}
	if mc.monitorCfg.MaxJobMinutes > 0 && timeoutMinutes > mc.monitorCfg.MaxJobMinutes {
		timeoutMinutes = mc.monitorCfg.MaxJobMinutes
	}
	if timeoutMinutes <= 0 {
		return -1, false
	}
	timeoutMills := int64(timeoutMinutes) * 60 * 1000
	elapsedMills := now.Sub(*container.StartTime).Milliseconds()
	remain := timeoutMills - elapsedMills
	return remain, remain <= 0
}

// stageReviewRemainMills Stage人工确认距离超时还剩多少毫秒
func stageReviewRemainMills(stage *dao.StageRecord, now time.Time) (int64, bool) {
	if !stage.Status.IsPause() || stage.StartTime == nil {
		return -1, false
	}
	option, err := model.ParseStageControlOption(stage.ControlOption)
	if err != nil || option == nil || !option.ManualTrigger || option.Triggered {
		return -1, false
	}
	timeoutHours := option.Timeout
	if timeoutHours <= 0 || timeoutHours > stageReviewMaxHours {
		timeoutHours = stageReviewMaxHours
	}
	timeoutMills := int64(timeoutHours) * 60 * 60 * 1000
	elapsedMills := now.Sub(*stage.StartTime).Milliseconds()
	remain := timeoutMills - elapsedMills
	return remain, remain <= 0
}

// terminateContainer 运行超时的Job：红线提示后发终止动作，和手动取消走同一条路
func (mc *BuildMonitorControl) terminateContainer(build *dao.BuildRecord, container *dao.ContainerRecord) {
	message := fmt.Sprintf("Job运行超时，执行终止 %s", container.ContainerId)
	mc.printer.AddRedLine(build.BuildId, message, "monitor", container.ContainerId, build.ExecuteCount)
	if err := mc.dispatcher.Dispatch(&engine.ContainerEvent{
		EventHead: engine.EventHead{
			Source:     "monitorTimeout",
			ProjectID:  build.ProjectId,
			PipelineID: build.PipelineId,
			BuildID:    build.BuildId,
		},
		StageID:       container.StageId,
		ContainerID:   container.ContainerId,
		ContainerType: container.ContainerType,
		ActionType:    engine.ActionTerminate,
		Reason:        message,
		ErrorCode:     engine.ErrorCodeUserJobTimeout,
		ErrorTypeName: string(engine.ErrorTypeUser),
	}); err != nil {
		glog.Errorf("Job超时终止事件投递失败 %s/%s %v", build.BuildId, container.ContainerId, err)
	}
}

// reschedule 续投自己，延迟不超过上限
func (mc *BuildMonitorControl) reschedule(event *engine.BuildMonitorEvent, delayMills int64) error {
	if delayMills > monitorMaxDelayMills {
		delayMills = monitorMaxDelayMills
	}
	next := *event
	next.Source = "monitorLoop"
	next.DelayMills = delayMills
	return mc.dispatcher.Dispatch(&next)
}
