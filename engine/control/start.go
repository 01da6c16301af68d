package control

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/control/command"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/detail"
	"github.com/chenyingqiao/pipeline-engine/engine/lock"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// startLockRetryDelayMills 流水线启动锁竞争时重投事件的延迟
const startLockRetryDelayMills = 1000

// BuildStartControl 排队构建的启动裁决：同一条流水线一次只放行一个决策
type BuildStartControl struct {
	dao        *dao.DAO
	detail     *detail.Service
	dispatcher engine.Dispatcher
	printer    engine.BuildLogPrinter
	runtime    *RuntimeService
	scm        engine.ScmService
	runLock    engine.RunLockInterceptor
	redis      redis.UniversalClient
}

// NewBuildStartControl 创建启动控制器
func NewBuildStartControl(
	d *dao.DAO,
	detailSvc *detail.Service,
	dispatcher engine.Dispatcher,
	printer engine.BuildLogPrinter,
	runtime *RuntimeService,
	scm engine.ScmService,
	runLock engine.RunLockInterceptor,
	client redis.UniversalClient,
) *BuildStartControl {
	return &BuildStartControl{
		dao:        d,
		detail:     detailSvc,
		dispatcher: dispatcher,
		printer:    printer,
		runtime:    runtime,
		scm:        scm,
		runLock:    runLock,
		redis:      client,
	}
}

// Handle 处理构建启动事件。拿不到流水线锁不阻塞，延迟重投自己
func (bc *BuildStartControl) Handle(ctx context.Context, event *engine.BuildStartEvent) error {
	pipelineLock := lock.NewPipelineStartLock(bc.redis, event.PipelineID)
	if err := pipelineLock.TryLock(ctx); err != nil {
		glog.Infof("流水线启动锁竞争，延迟重投 %s/%s", event.PipelineID, event.BuildID)
		retry := *event
		retry.Source = "lockRetry"
		retry.DelayMills = startLockRetryDelayMills
		return bc.dispatcher.Dispatch(&retry)
	}
	defer func() { _ = pipelineLock.Unlock(ctx) }()

	buildLock := lock.NewBuildIDLock(bc.redis, event.BuildID)
	if err := buildLock.Lock(ctx); err != nil {
		return errors.Wrapf(err, "启动抢构建锁失败 %s", event.BuildID)
	}
	defer func() { _ = buildLock.Unlock(ctx) }()

	build, err := bc.dao.GetBuild(event.BuildID)
	if err != nil {
		glog.Errorf("启动事件找不到构建，丢弃 %s %v", event.BuildID, err)
		return nil
	}
	if !build.Status.IsReadyToRun() {
		glog.Infof("构建不在待启动状态，丢弃启动事件 %s status=%s", event.BuildID, build.Status)
		return nil
	}

	started, err := bc.tryToStartRunBuild(ctx, event, build)
	if err != nil {
		glog.Errorf("构建启动裁决失败，等待巡检恢复 %s %v", event.BuildID, err)
		return nil
	}
	if !started {
		return nil
	}
	if err := bc.startLatestRunningBuild(ctx, event, build); err != nil {
		glog.Errorf("构建启动收尾失败 %s %v", event.BuildID, err)
	}
	return nil
}

// tryToStartRunBuild 已有并行构建时先问并发策略，拒绝出局、稍候回排队、放行转RUNNING
func (bc *BuildStartControl) tryToStartRunBuild(ctx context.Context, event *engine.BuildStartEvent, build *dao.BuildRecord) (bool, error) {
	summary, err := bc.dao.GetOrCreateSummary(build.ProjectId, build.PipelineId)
	if err != nil {
		return false, err
	}
	if summary.RunningCount > 0 && bc.runLock != nil {
		resp := bc.runLock.CheckRunLock(summary.RunLockType, build.PipelineId)
		if resp != nil && resp.IsNotOk() {
			if resp.Data.IsFinish() {
				return false, bc.interceptBuild(event, build, resp)
			}
			// 策略说还不能启动：把瞬态的QUEUE_CACHE放回持久的QUEUE，等下一轮扫描
			if build.Status == engine.StatusQueueCache {
				if err := bc.dao.UpdateBuildStatus(build.BuildId, engine.StatusQueue); err != nil {
					return false, err
				}
			}
			glog.Infof("并发策略暂缓启动 %s lockType=%d", build.BuildId, summary.RunLockType)
			return false, nil
		}
	}
	started, err := bc.dao.StartBuild(build.BuildId)
	if err != nil || !started {
		return false, err
	}
	if err := bc.dao.StartBuildSummary(build.PipelineId, build.BuildId); err != nil {
		glog.Errorf("启动汇总更新失败 %s %v", build.BuildId, err)
	}
	return true, nil
}

// interceptBuild 被并发策略拦截：红线提示后带结构化错误出队
func (bc *BuildStartControl) interceptBuild(event *engine.BuildStartEvent, build *dao.BuildRecord, resp *engine.Response) error {
	message := resp.Message
	if message == "" {
		message = "构建排队被并发策略拦截"
	}
	bc.printer.AddRedLine(build.BuildId, message, "startBuild", "", build.ExecuteCount)
	errorInfo := &engine.ErrorInfo{
		ErrorType: engine.ErrorTypeUser,
		ErrorCode: engine.ErrorCodeUserBuildIntercept,
		ErrorMsg:  message,
	}
	if err := bc.dao.FinishBuild(build.BuildId, resp.Data, errorInfo); err != nil {
		return err
	}
	if err := bc.dao.ExitQueueSummary(build.PipelineId, build.BuildId, resp.Data); err != nil {
		glog.Errorf("出队汇总更新失败 %s %v", build.BuildId, err)
	}
	return bc.dispatcher.Dispatch(&engine.BuildFinishEvent{
		EventHead: engine.EventHead{
			Source:     "startIntercept",
			ProjectID:  build.ProjectId,
			PipelineID: build.PipelineId,
			BuildID:    build.BuildId,
			UserID:     event.UserID,
		},
		Status:    resp.Data,
		ErrorType: errorInfo.ErrorType,
		ErrorCode: errorInfo.ErrorCode,
		ErrorMsg:  errorInfo.ErrorMsg,
	})
}

// startLatestRunningBuild 启动后的收尾：补模型、建记录、触发Stage记成功，再推进第一个真实Stage
func (bc *BuildStartControl) startLatestRunningBuild(ctx context.Context, event *engine.BuildStartEvent, build *dao.BuildRecord) error {
	m, err := bc.detail.GetBuildModel(build.BuildId)
	if err != nil {
		return err
	}
	retry := event.ActionType == engine.ActionRetry

	if !retry {
		bc.supplementModel(ctx, build, m)
		if err := bc.createRunRecords(build, m); err != nil {
			return err
		}
		params := collectStartupParams(m)
		if err := bc.runtime.WriteStartupVariables(build.ProjectId, build.PipelineId, build.BuildId, build.BuildNum, params); err != nil {
			glog.Errorf("启动参数快照写入失败 %s %v", build.BuildId, err)
		}
	} else {
		executeCount := build.ExecuteCount + 1
		if err := bc.dao.UpdateExecuteCount(build.BuildId, executeCount); err != nil {
			return err
		}
		build.ExecuteCount = executeCount
	}

	queueElapsed := time.Since(build.QueueTime).Milliseconds()
	if err := bc.detail.BuildStart(ctx, build.BuildId, queueElapsed); err != nil {
		glog.Errorf("触发Stage落详情失败 %s %v", build.BuildId, err)
	}
	bc.printer.AddLine(build.BuildId,
		fmt.Sprintf("构建启动 #%d 排队耗时%dms", build.BuildNum, queueElapsed),
		"startBuild", "", build.ExecuteCount)

	// 只有触发Stage的退化流水线直接广播结束
	if len(m.Stages) <= 1 {
		return bc.dispatcher.Dispatch(&engine.BuildFinishEvent{
			EventHead: engine.EventHead{
				Source:     "startDegenerate",
				ProjectID:  build.ProjectId,
				PipelineID: build.PipelineId,
				BuildID:    build.BuildId,
				UserID:     event.UserID,
			},
			Status: engine.StatusSucceed,
		})
	}
	return bc.dispatcher.Dispatch(&engine.StageEvent{
		EventHead: engine.EventHead{
			Source:     "startBuild",
			ProjectID:  build.ProjectId,
			PipelineID: build.PipelineId,
			BuildID:    build.BuildId,
			UserID:     event.UserID,
		},
		StageID:    m.Stages[1].ID,
		ActionType: engine.ActionStart,
	})
}

// supplementModel 为启用且未锁定revision的SCM触发元素解析最新revision，
// 已经跑完的元素跳过，保证手动重试对已解析源码是幂等的
func (bc *BuildStartControl) supplementModel(ctx context.Context, build *dao.BuildRecord, m *model.Model) {
	if bc.scm == nil {
		return
	}
	container := m.TriggerContainer()
	if container == nil {
		return
	}
	bc.printer.AddLine(build.BuildId, "开始解析代码库最新revision，请稍候", "startBuild", "0", build.ExecuteCount)
	defer bc.printer.AddLine(build.BuildId, "代码库revision解析完成", "startBuild", "0", build.ExecuteCount)
	variables, err := bc.runtime.GetAllVariable(build.BuildId)
	if err != nil {
		variables = map[string]string{}
	}
	revisions := map[string]string{}
	for _, element := range container.Elements {
		if !element.Kind.IsSCM() || !element.IsEnable() {
			continue
		}
		if element.SpecifyRevision && element.Revision != "" {
			continue
		}
		if element.Status.IsFinish() {
			continue
		}
		revision, err := bc.scm.FetchLatestRevision(
			build.ProjectId, build.PipelineId, element.RepositoryID, element.BranchName, variables)
		if err != nil {
			glog.Errorf("revision解析失败 %s repo=%s %v", build.BuildId, element.RepositoryID, err)
			continue
		}
		element.Revision = revision
		revisions[element.ID] = revision
	}
	if err := bc.detail.ResolveTriggerRevisions(ctx, build.BuildId, revisions); err != nil {
		glog.Errorf("revision写回详情失败 %s %v", build.BuildId, err)
	}
}

// collectStartupParams 触发Job声明的参数默认值构成启动快照，
// 调用方在入队时已把实际覆盖值写进变量表
func collectStartupParams(m *model.Model) map[string]string {
	params := map[string]string{}
	container := m.TriggerContainer()
	if container == nil {
		return params
	}
	for _, prop := range container.Params {
		params[prop.ID] = prop.DefaultValue
	}
	return params
}

// createRunRecords 把模型树铺平成Stage/Job/Task运行记录。
// 有编译环境的Job额外带一个开机任务占住首位，让命令链先过完准入再开环境
func (bc *BuildStartControl) createRunRecords(build *dao.BuildRecord, m *model.Model) error {
	var stages []*dao.StageRecord
	var containers []*dao.ContainerRecord
	var tasks []*dao.TaskRecord

	containerSeq := 0
	for stageSeq, stage := range m.Stages {
		trigger := stageSeq == 0
		stageStatus := engine.StatusQueue
		if trigger {
			stageStatus = engine.StatusSucceed
		}
		controlOption, err := model.MarshalStageControlOption(stage.ControlOption)
		if err != nil {
			return err
		}
		stages = append(stages, &dao.StageRecord{
			ProjectId:     build.ProjectId,
			PipelineId:    build.PipelineId,
			BuildId:       build.BuildId,
			StageId:       stage.ID,
			Seq:           stageSeq,
			Status:        stageStatus,
			ExecuteCount:  build.ExecuteCount,
			ControlOption: controlOption,
		})
		for _, container := range stage.Containers {
			containerSeq++
			containerStatus := engine.StatusQueue
			if trigger {
				containerStatus = engine.StatusSucceed
			}
			conditions, err := (&model.ContainerConditions{
				JobControlOption: container.JobControlOption,
				MutexGroup:       container.MutexGroup,
				DispatchType:     container.DispatchType,
			}).Marshal()
			if err != nil {
				return err
			}
			containers = append(containers, &dao.ContainerRecord{
				ProjectId:     build.ProjectId,
				PipelineId:    build.PipelineId,
				BuildId:       build.BuildId,
				StageId:       stage.ID,
				ContainerId:   container.ID,
				ContainerType: string(container.Kind),
				Seq:           containerSeq,
				Status:        containerStatus,
				ExecuteCount:  build.ExecuteCount,
				Conditions:    conditions,
			})
			taskSeq := 0
			if !trigger && container.Kind == model.ContainerVMBuild {
				taskSeq++
				tasks = append(tasks, &dao.TaskRecord{
					ProjectId:     build.ProjectId,
					PipelineId:    build.PipelineId,
					BuildId:       build.BuildId,
					StageId:       stage.ID,
					ContainerId:   container.ID,
					ContainerType: string(container.Kind),
					TaskId:        command.StartVMTaskID(container.ID),
					TaskSeq:       taskSeq,
					TaskName:      "准备构建环境",
					TaskType:      command.TaskTypeStartVM,
					Status:        engine.StatusQueue,
					ExecuteCount:  build.ExecuteCount,
				})
			}
			for _, element := range container.Elements {
				taskSeq++
				taskStatus := engine.StatusQueue
				if trigger {
					taskStatus = engine.StatusSucceed
				}
				tasks = append(tasks, &dao.TaskRecord{
					ProjectId:     build.ProjectId,
					PipelineId:    build.PipelineId,
					BuildId:       build.BuildId,
					StageId:       stage.ID,
					ContainerId:   container.ID,
					ContainerType: string(container.Kind),
					TaskId:        element.ID,
					TaskSeq:       taskSeq,
					TaskName:      element.Name,
					TaskType:      string(element.Kind),
					AtomCode:      element.AtomCode,
					Status:        taskStatus,
					Starter:       build.StartUser,
					ExecuteCount:  build.ExecuteCount,
					TaskParams:    elementTaskParams(element),
				})
			}
		}
	}
	if err := bc.dao.BatchSaveStages(stages); err != nil {
		return err
	}
	if err := bc.dao.BatchSaveContainers(containers); err != nil {
		return err
	}
	return bc.dao.BatchSaveTasks(tasks)
}

// elementTaskParams 元素的附加选项塞进任务参数，运行期用mapstructure还原
func elementTaskParams(element *model.Element) map[string]interface{} {
	if element.AdditionalOptions == nil {
		return nil
	}
	raw, err := json.Marshal(element.AdditionalOptions)
	if err != nil {
		return nil
	}
	options := map[string]interface{}{}
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil
	}
	return map[string]interface{}{
		command.TaskParamAdditionalOptions: options,
	}
}
