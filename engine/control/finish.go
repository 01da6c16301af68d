package control

import (
	"context"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/detail"
	"github.com/chenyingqiao/pipeline-engine/engine/lock"
)

// BuildFinishControl 构建结束收口：详情树定稿、历史落库、汇总扣减、广播无编译关机。
// 重复的结束事件在这里被吸收，保证结束只发生一次
type BuildFinishControl struct {
	dao        *dao.DAO
	detail     *detail.Service
	dispatcher engine.Dispatcher
	printer    engine.BuildLogPrinter
	redis      redis.UniversalClient
}

// NewBuildFinishControl 创建结束控制器
func NewBuildFinishControl(
	d *dao.DAO,
	detailSvc *detail.Service,
	dispatcher engine.Dispatcher,
	printer engine.BuildLogPrinter,
	client redis.UniversalClient,
) *BuildFinishControl {
	return &BuildFinishControl{
		dao:        d,
		detail:     detailSvc,
		dispatcher: dispatcher,
		printer:    printer,
		redis:      client,
	}
}

// Handle 处理构建结束事件
func (fc *BuildFinishControl) Handle(ctx context.Context, event *engine.BuildFinishEvent) error {
	buildLock := lock.NewBuildIDLock(fc.redis, event.BuildID)
	if err := buildLock.Lock(ctx); err != nil {
		glog.Errorf("结束抢构建锁失败，等待重投 %s %v", event.BuildID, err)
		return nil
	}
	defer func() { _ = buildLock.Unlock(ctx) }()

	build, err := fc.dao.GetBuild(event.BuildID)
	if err != nil {
		glog.Errorf("结束事件找不到构建，丢弃 %s %v", event.BuildID, err)
		return nil
	}
	if build.Status.IsFinish() {
		glog.Infof("构建已结束，吸收重复结束事件 %s status=%s", event.BuildID, build.Status)
		return nil
	}
	// STAGE_SUCCESS是软终态：构建到此为止，但保留后续人工放行的可能
	status := event.Status
	if status == "" || (!status.IsFinish() && status != engine.StatusStageSuccess) {
		status = engine.StatusFailed
	}

	stageStatuses, err := fc.detail.BuildEnd(ctx, event.BuildID, status)
	if err != nil {
		glog.Errorf("详情定稿失败 %s %v", event.BuildID, err)
	} else {
		glog.V(2).Infof("构建结束 %s 各Stage状态 %v", event.BuildID, stageStatuses)
	}

	var errorInfo *engine.ErrorInfo
	if event.ErrorCode != 0 || event.ErrorMsg != "" {
		errorInfo = &engine.ErrorInfo{
			ErrorType: event.ErrorType,
			ErrorCode: event.ErrorCode,
			ErrorMsg:  event.ErrorMsg,
		}
	}
	if err := fc.dao.FinishBuild(event.BuildID, status, errorInfo); err != nil {
		return err
	}
	if err := fc.dao.FinishBuildSummary(build.PipelineId, event.BuildID, status); err != nil {
		glog.Errorf("结束汇总更新失败 %s %v", event.BuildID, err)
	}

	// 无编译Job统一收到关机广播，没有无编译任务时为幂等空操作
	if err := fc.dispatcher.Dispatch(&engine.BuildLessShutdownEvent{
		EventHead: engine.EventHead{
			Source:     "finishBuild",
			ProjectID:  build.ProjectId,
			PipelineID: build.PipelineId,
			BuildID:    event.BuildID,
		},
		BuildResult:  status.IsSuccess(),
		ExecuteCount: build.ExecuteCount,
	}); err != nil {
		glog.Errorf("无编译关机广播失败 %s %v", event.BuildID, err)
	}

	fc.printer.AddLine(event.BuildID, "构建结束 "+status.String(), "finishBuild", "", build.ExecuteCount)
	return nil
}
