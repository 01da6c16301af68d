package control

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/config"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/detail"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

// BuildService 构建的对外入口：入队、取消、重试和人工审核，
// 真正的推进都交给事件后面的各Control
type BuildService struct {
	dao        *dao.DAO
	detail     *detail.Service
	dispatcher engine.Dispatcher
	runtime    *RuntimeService
	queueCfg   config.Queue
}

// NewBuildService 创建构建服务
func NewBuildService(
	d *dao.DAO,
	detailSvc *detail.Service,
	dispatcher engine.Dispatcher,
	runtime *RuntimeService,
	queueCfg config.Queue,
) *BuildService {
	return &BuildService{
		dao:        d,
		detail:     detailSvc,
		dispatcher: dispatcher,
		runtime:    runtime,
		queueCfg:   queueCfg,
	}
}

// StartBuild 新构建入队：落历史与模型快照、写启动参数覆盖值，
// 投启动事件和监控事件。返回buildId
func (bs *BuildService) StartBuild(
	ctx context.Context,
	projectID, pipelineID, userID, triggerType string,
	m *model.Model,
	params map[string]string,
) (string, error) {
	if m == nil || len(m.Stages) == 0 {
		return "", errors.New("构建模型为空")
	}
	summary, err := bs.dao.GetOrCreateSummary(projectID, pipelineID)
	if err != nil {
		return "", err
	}
	maxQueue := summary.MaxQueueSize
	if maxQueue <= 0 {
		maxQueue = bs.queueCfg.MaxQueue
	}
	if maxQueue > 0 {
		queuing, err := bs.dao.CountQueuingBuilds(pipelineID)
		if err != nil {
			return "", err
		}
		if queuing >= int64(maxQueue) {
			return "", engine.ErrQueueFull
		}
	}

	taskCount := 0
	for _, stage := range m.Stages {
		for _, container := range stage.Containers {
			model.InitContainer(container)
			taskCount += len(container.Elements)
		}
	}

	buildID := uuid.NewString()
	buildNum, err := bs.dao.NextBuildNum(pipelineID)
	if err != nil {
		return "", err
	}
	if err := bs.dao.CreateBuild(&dao.BuildRecord{
		ProjectId:    projectID,
		PipelineId:   pipelineID,
		BuildId:      buildID,
		BuildNum:     buildNum,
		Status:       engine.StatusQueue,
		TriggerType:  triggerType,
		StartUser:    userID,
		TaskCount:    taskCount,
		ExecuteCount: 1,
		QueueTime:    time.Now(),
	}); err != nil {
		return "", err
	}
	if err := bs.detail.Create(projectID, buildID, userID, triggerType, buildNum, m); err != nil {
		return "", err
	}
	if len(params) > 0 {
		if err := bs.runtime.BatchUpdateVariable(projectID, pipelineID, buildID, params); err != nil {
			glog.Errorf("启动参数覆盖值写入失败 %s %v", buildID, err)
		}
	}
	if err := bs.dao.EnqueueBuildSummary(pipelineID, buildID, userID); err != nil {
		glog.Errorf("排队汇总更新失败 %s %v", buildID, err)
	}

	head := engine.EventHead{
		Source:     "startBuild",
		ProjectID:  projectID,
		PipelineID: pipelineID,
		BuildID:    buildID,
		UserID:     userID,
	}
	if err := bs.dispatcher.Dispatch(
		&engine.BuildStartEvent{EventHead: head, Status: engine.StatusQueue, ActionType: engine.ActionStart},
		&engine.BuildMonitorEvent{EventHead: head, ExecuteCount: 1},
	); err != nil {
		return "", err
	}
	return buildID, nil
}

// CancelBuild 取消构建，实际收尾由取消事件驱动
func (bs *BuildService) CancelBuild(ctx context.Context, buildID, userID string) error {
	build, err := bs.dao.GetBuild(buildID)
	if err != nil {
		return err
	}
	if build.Status.IsFinish() {
		return nil
	}
	if err := bs.dao.UpdateDetailCancelUser(buildID, userID); err != nil {
		glog.Errorf("取消人落库失败 %s %v", buildID, err)
	}
	return bs.dispatcher.Dispatch(&engine.BuildCancelEvent{
		EventHead: engine.EventHead{
			Source:     "cancelBuild",
			ProjectID:  build.ProjectId,
			PipelineID: build.PipelineId,
			BuildID:    buildID,
			UserID:     userID,
		},
		Status: engine.StatusCanceled,
	})
}

// RetryBuild 失败构建整体重试：重算可重试标记、把失败节点放回排队，
// 以RETRY动作重进启动流程（不重解revision、不重写启动参数）
func (bs *BuildService) RetryBuild(ctx context.Context, buildID, userID string) error {
	build, err := bs.dao.GetBuild(buildID)
	if err != nil {
		return err
	}
	if !build.Status.IsFinish() || build.Status.IsSuccess() {
		return engine.ErrBuildNotRetryable
	}
	m, err := bs.detail.GetBuildModel(buildID)
	if err != nil {
		return err
	}
	model.RefreshCanRetry(m, true, build.Status)
	if err := bs.resetFailedRecords(buildID); err != nil {
		return err
	}
	if err := bs.dao.UpdateBuildStatus(buildID, engine.StatusRetry); err != nil {
		return err
	}
	if err := bs.dao.EnqueueBuildSummary(build.PipelineId, buildID, userID); err != nil {
		glog.Errorf("重试排队汇总更新失败 %s %v", buildID, err)
	}
	head := engine.EventHead{
		Source:     "retryBuild",
		ProjectID:  build.ProjectId,
		PipelineID: build.PipelineId,
		BuildID:    buildID,
		UserID:     userID,
	}
	return bs.dispatcher.Dispatch(
		&engine.BuildStartEvent{EventHead: head, Status: engine.StatusRetry, ActionType: engine.ActionRetry},
		&engine.BuildMonitorEvent{EventHead: head, ExecuteCount: build.ExecuteCount + 1},
	)
}

// resetFailedRecords 失败或被取消的节点放回排队，成功的保持原样不重跑
func (bs *BuildService) resetFailedRecords(buildID string) error {
	stages, err := bs.dao.ListStages(buildID)
	if err != nil {
		return err
	}
	for _, stage := range stages {
		if !stage.Status.IsFinish() || stage.Status.IsSuccess() {
			continue
		}
		if err := bs.dao.UpdateStageStatus(buildID, stage.StageId, engine.StatusQueue); err != nil {
			return err
		}
	}
	containers, err := bs.dao.ListContainers(buildID)
	if err != nil {
		return err
	}
	for _, container := range containers {
		if !container.Status.IsFinish() || container.Status.IsSuccess() {
			continue
		}
		if err := bs.dao.UpdateContainerStatus(buildID, container.ContainerId, engine.StatusQueue); err != nil {
			return err
		}
		tasks, err := bs.dao.ListContainerTasks(buildID, container.ContainerId)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if task.Status.IsSuccess() {
				continue
			}
			if err := bs.dao.UpdateTaskStatus(buildID, task.TaskId, engine.StatusQueue, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// CompleteTask 任务执行方回报结果：落库、详情定稿，再唤醒所在Job的命令链
func (bs *BuildService) CompleteTask(
	ctx context.Context,
	buildID, taskID string,
	status engine.BuildStatus,
	errorType engine.ErrorType, errorCode int, errorMsg string,
) error {
	if !status.IsFinish() {
		return errors.Errorf("任务回报状态不是终态 %s", status)
	}
	task, err := bs.dao.GetTask(buildID, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsFinish() {
		return nil
	}
	if err := bs.dao.UpdateTaskStatus(buildID, taskID, status, ""); err != nil {
		return err
	}
	if errorCode != 0 {
		if err := bs.dao.UpdateTaskError(buildID, taskID, errorType, errorCode, errorMsg); err != nil {
			glog.Errorf("任务错误落库失败 %s/%s %v", buildID, taskID, err)
		}
	}
	if err := bs.detail.TaskEnd(ctx, buildID, taskID, status, status.IsFailure(), errorType, errorCode, errorMsg); err != nil {
		glog.Errorf("任务结束落详情失败 %s/%s %v", buildID, taskID, err)
	}
	build, err := bs.dao.GetBuild(buildID)
	if err != nil {
		return err
	}
	return bs.dispatcher.Dispatch(&engine.ContainerEvent{
		EventHead: engine.EventHead{
			Source:     "completeTask",
			ProjectID:  build.ProjectId,
			PipelineID: build.PipelineId,
			BuildID:    buildID,
		},
		StageID:       task.StageId,
		ContainerID:   task.ContainerId,
		ContainerType: task.ContainerType,
		ActionType:    engine.ActionRefresh,
	})
}

// ReviewTask 人工审核结论：写进任务参数并唤醒所在Job的命令链
func (bs *BuildService) ReviewTask(ctx context.Context, buildID, taskID, userID string, action engine.ManualReviewAction) error {
	task, err := bs.dao.GetTask(buildID, taskID)
	if err != nil {
		return err
	}
	if task.Status != engine.StatusReviewing {
		return engine.ErrTaskNotReviewing
	}
	params := task.TaskParams
	if params == nil {
		params = map[string]interface{}{}
	}
	params[engine.TaskParamManualAction] = string(action)
	params[engine.TaskParamManualActionUserID] = userID
	if err := bs.dao.UpdateTaskParams(buildID, taskID, params); err != nil {
		return err
	}
	if err := bs.dao.UpdateTaskApprover(buildID, taskID, userID); err != nil {
		glog.Errorf("审核人落库失败 %s/%s %v", buildID, taskID, err)
	}
	build, err := bs.dao.GetBuild(buildID)
	if err != nil {
		return err
	}
	return bs.dispatcher.Dispatch(&engine.ContainerEvent{
		EventHead: engine.EventHead{
			Source:     "reviewTask",
			ProjectID:  build.ProjectId,
			PipelineID: build.PipelineId,
			BuildID:    buildID,
			UserID:     userID,
		},
		StageID:       task.StageId,
		ContainerID:   task.ContainerId,
		ContainerType: task.ContainerType,
		ActionType:    engine.ActionRefresh,
	})
}
