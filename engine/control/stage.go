package control

import (
	"context"

	"github.com/golang/glog"
	"github.com/thoas/go-funk"
	"golang.org/x/sync/errgroup"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/detail"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

// StageControl Stage推进：进场时做人工触发门禁，Job收尾回报时做汇总裁决，
// 全部Job到终态才放行下一个Stage或广播构建结束
type StageControl struct {
	dao        *dao.DAO
	detail     *detail.Service
	dispatcher engine.Dispatcher
}

// NewStageControl 创建Stage控制器
func NewStageControl(d *dao.DAO, detailSvc *detail.Service, dispatcher engine.Dispatcher) *StageControl {
	return &StageControl{dao: d, detail: detailSvc, dispatcher: dispatcher}
}

// Handle 处理Stage事件
func (sc *StageControl) Handle(ctx context.Context, event *engine.StageEvent) error {
	build, err := sc.dao.GetBuild(event.BuildID)
	if err != nil {
		glog.Errorf("Stage事件找不到构建，丢弃 %s %v", event.BuildID, err)
		return nil
	}
	if build.Status.IsFinish() {
		glog.Infof("构建已结束，丢弃Stage事件 %s/%s", event.BuildID, event.StageID)
		return nil
	}
	stage, err := sc.dao.GetStage(event.BuildID, event.StageID)
	if err != nil {
		return err
	}

	switch {
	case event.ActionType == engine.ActionStart:
		return sc.startStage(ctx, event, stage)
	case event.ActionType.IsTerminate():
		return sc.terminateStage(event, stage)
	default:
		return sc.refreshStage(ctx, event, stage)
	}
}

// startStage Stage进场，人工触发的Stage先挂起等人
func (sc *StageControl) startStage(ctx context.Context, event *engine.StageEvent, stage *dao.StageRecord) error {
	if stage.Status.IsFinish() {
		return sc.advance(ctx, event, stage)
	}
	option, err := model.ParseStageControlOption(stage.ControlOption)
	if err != nil {
		glog.Errorf("Stage控制配置解析失败 %s/%s %v", event.BuildID, event.StageID, err)
	}
	if option != nil && option.ManualTrigger && !option.Triggered {
		if err := sc.dao.UpdateStageStatus(event.BuildID, event.StageID, engine.StatusPause); err != nil {
			return err
		}
		if err := sc.detail.StagePause(ctx, event.BuildID, event.StageID); err != nil {
			glog.Errorf("Stage挂起落详情失败 %s/%s %v", event.BuildID, event.StageID, err)
		}
		// 前面的Stage都已经跑完，构建整体进入阶段性完成等人确认
		return sc.dao.UpdateBuildStatus(event.BuildID, engine.StatusStageSuccess)
	}
	if err := sc.dao.UpdateStageStatus(event.BuildID, event.StageID, engine.StatusRunning); err != nil {
		return err
	}
	return sc.dispatchContainers(event, engine.ActionStart)
}

// terminateStage 终止动作向Stage内未结束的Job透传
func (sc *StageControl) terminateStage(event *engine.StageEvent, stage *dao.StageRecord) error {
	if stage.Status.IsFinish() {
		return nil
	}
	return sc.dispatchContainers(event, engine.ActionTerminate)
}

// refreshStage Job收尾后的汇总：全终态才定Stage终态并推进
func (sc *StageControl) refreshStage(ctx context.Context, event *engine.StageEvent, stage *dao.StageRecord) error {
	containers, err := sc.dao.ListStageContainers(event.BuildID, event.StageID)
	if err != nil {
		return err
	}
	for _, container := range containers {
		if !container.Status.IsFinish() {
			return nil
		}
	}
	statuses := funk.Map(containers, func(c *dao.ContainerRecord) engine.BuildStatus {
		return c.Status
	}).([]engine.BuildStatus)
	final := AggregateStatus(statuses)
	if !stage.Status.IsFinish() {
		if err := sc.dao.UpdateStageStatus(event.BuildID, event.StageID, final); err != nil {
			return err
		}
	}
	if final.IsFailure() || final.IsCancel() {
		return sc.dispatchFinish(event, final)
	}
	return sc.advance(ctx, event, stage)
}

// advance 找下一个Stage，没有了就广播构建成功
func (sc *StageControl) advance(ctx context.Context, event *engine.StageEvent, stage *dao.StageRecord) error {
	stages, err := sc.dao.ListStages(event.BuildID)
	if err != nil {
		return err
	}
	for _, next := range stages {
		if next.Seq <= stage.Seq {
			continue
		}
		return sc.dispatcher.Dispatch(&engine.StageEvent{
			EventHead: engine.EventHead{
				Source:     "stageAdvance",
				ProjectID:  event.ProjectID,
				PipelineID: event.PipelineID,
				BuildID:    event.BuildID,
				UserID:     event.UserID,
			},
			StageID:    next.StageId,
			ActionType: engine.ActionStart,
		})
	}
	return sc.dispatchFinish(event, engine.StatusSucceed)
}

func (sc *StageControl) dispatchContainers(event *engine.StageEvent, action engine.ActionType) error {
	containers, err := sc.dao.ListStageContainers(event.BuildID, event.StageID)
	if err != nil {
		return err
	}
	ewg := errgroup.Group{}
	for _, container := range containers {
		if container.Status.IsFinish() {
			continue
		}
		container := container
		ewg.Go(func() error {
			return sc.dispatcher.Dispatch(&engine.ContainerEvent{
				EventHead: engine.EventHead{
					Source:     "stageControl",
					ProjectID:  event.ProjectID,
					PipelineID: event.PipelineID,
					BuildID:    event.BuildID,
					UserID:     event.UserID,
				},
				StageID:       event.StageID,
				ContainerID:   container.ContainerId,
				ContainerType: container.ContainerType,
				ActionType:    action,
			})
		})
	}
	return ewg.Wait()
}

func (sc *StageControl) dispatchFinish(event *engine.StageEvent, status engine.BuildStatus) error {
	return sc.dispatcher.Dispatch(&engine.BuildFinishEvent{
		EventHead: engine.EventHead{
			Source:     "stageControl",
			ProjectID:  event.ProjectID,
			PipelineID: event.PipelineID,
			BuildID:    event.BuildID,
			UserID:     event.UserID,
		},
		Status: status,
	})
}

// StageService 挂起Stage的人工操作：放行、跳过、终止审核
type StageService struct {
	dao        *dao.DAO
	detail     *detail.Service
	dispatcher engine.Dispatcher
}

// NewStageService 创建Stage人工操作服务
func NewStageService(d *dao.DAO, detailSvc *detail.Service, dispatcher engine.Dispatcher) *StageService {
	return &StageService{dao: d, detail: detailSvc, dispatcher: dispatcher}
}

// ManualStart 人工放行：打上已触发标记后重走Stage进场
func (ss *StageService) ManualStart(ctx context.Context, projectID, pipelineID, buildID, stageID, userID string) error {
	stage, err := ss.dao.GetStage(buildID, stageID)
	if err != nil {
		return err
	}
	if !stage.Status.IsPause() {
		return engine.ErrStageNotPaused
	}
	option, err := model.ParseStageControlOption(stage.ControlOption)
	if err != nil {
		return err
	}
	if option == nil {
		option = &model.StageControlOption{Enable: true}
	}
	option.Triggered = true
	content, err := model.MarshalStageControlOption(option)
	if err != nil {
		return err
	}
	if err := ss.dao.UpdateStageControlOption(buildID, stageID, content); err != nil {
		return err
	}
	if err := ss.dao.UpdateStageStatus(buildID, stageID, engine.StatusQueue); err != nil {
		return err
	}
	if err := ss.dao.UpdateBuildStatus(buildID, engine.StatusRunning); err != nil {
		return err
	}
	if err := ss.detail.StageStart(ctx, buildID, stageID); err != nil {
		glog.Errorf("Stage放行落详情失败 %s/%s %v", buildID, stageID, err)
	}
	return ss.dispatcher.Dispatch(&engine.StageEvent{
		EventHead: engine.EventHead{
			Source:     "manualStart",
			ProjectID:  projectID,
			PipelineID: pipelineID,
			BuildID:    buildID,
			UserID:     userID,
		},
		StageID:    stageID,
		ActionType: engine.ActionStart,
	})
}

// ManualSkip 人工跳过：Stage连同其下Job整体记SKIP后继续推进
func (ss *StageService) ManualSkip(ctx context.Context, projectID, pipelineID, buildID, stageID, userID string) error {
	stage, err := ss.dao.GetStage(buildID, stageID)
	if err != nil {
		return err
	}
	if !stage.Status.IsPause() {
		return engine.ErrStageNotPaused
	}
	containers, err := ss.dao.ListStageContainers(buildID, stageID)
	if err != nil {
		return err
	}
	for _, container := range containers {
		if container.Status.IsFinish() {
			continue
		}
		if err := ss.dao.UpdateContainerStatus(buildID, container.ContainerId, engine.StatusSkip); err != nil {
			return err
		}
		if err := ss.detail.ContainerSkip(ctx, buildID, container.ContainerId); err != nil {
			glog.Errorf("Job跳过落详情失败 %s/%s %v", buildID, container.ContainerId, err)
		}
	}
	if err := ss.dao.UpdateStageStatus(buildID, stageID, engine.StatusSkip); err != nil {
		return err
	}
	if err := ss.dao.UpdateBuildStatus(buildID, engine.StatusRunning); err != nil {
		return err
	}
	if err := ss.detail.StageSkip(ctx, buildID, stageID); err != nil {
		glog.Errorf("Stage跳过落详情失败 %s/%s %v", buildID, stageID, err)
	}
	return ss.dispatcher.Dispatch(&engine.StageEvent{
		EventHead: engine.EventHead{
			Source:     "manualSkip",
			ProjectID:  projectID,
			PipelineID: pipelineID,
			BuildID:    buildID,
			UserID:     userID,
		},
		StageID:    stageID,
		ActionType: engine.ActionRefresh,
	})
}

// CancelReview 终止人工确认：后续Stage不再执行，构建以阶段性完成收尾
func (ss *StageService) CancelReview(ctx context.Context, projectID, pipelineID, buildID, stageID, userID string) error {
	stage, err := ss.dao.GetStage(buildID, stageID)
	if err != nil {
		return err
	}
	if stage.Status.IsFinish() {
		return nil
	}
	if err := ss.dao.UpdateStageStatus(buildID, stageID, engine.StatusReviewAbort); err != nil {
		return err
	}
	if err := ss.detail.StageCancel(ctx, buildID, stageID); err != nil {
		glog.Errorf("Stage审核终止落详情失败 %s/%s %v", buildID, stageID, err)
	}
	return ss.dispatcher.Dispatch(&engine.BuildFinishEvent{
		EventHead: engine.EventHead{
			Source:     "stageReviewCancel",
			ProjectID:  projectID,
			PipelineID: pipelineID,
			BuildID:    buildID,
			UserID:     userID,
		},
		Status: engine.StatusStageSuccess,
	})
}

// AggregateStatus 一组Job终态收敛成Stage终态：失败优先，其次取消，都没有算成功
func AggregateStatus(statuses []engine.BuildStatus) engine.BuildStatus {
	var worst engine.BuildStatus = engine.StatusSucceed
	for _, status := range statuses {
		if status.IsFailure() {
			return status
		}
		if status.IsCancel() {
			worst = status
		}
	}
	return worst
}
