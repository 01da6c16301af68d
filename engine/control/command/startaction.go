package command

import (
	"time"

	"github.com/golang/glog"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/quality"
)

// taskPollDelayMills 任务运行中时重查的默认延迟
const taskPollDelayMills = 5000

// StartActionTaskCmd 推进Job内的任务：终止动作收敛运行中任务，
// 正常动作按序号找下一个该动的任务
type StartActionTaskCmd struct{}

func (*StartActionTaskCmd) Name() string { return "startActionTask" }

func (*StartActionTaskCmd) CanExecute(c *ContainerContext) bool {
	return c.State == StateContinue
}

func (cmd *StartActionTaskCmd) Execute(c *ContainerContext) {
	if c.Event.ActionType.IsTerminate() {
		cmd.terminate(c)
		return
	}
	cmd.stepForward(c)
}

// terminate 终止动作：还没结束的任务统一打终止态，Job定终态
func (cmd *StartActionTaskCmd) terminate(c *ContainerContext) {
	for _, task := range c.Tasks {
		if task.Status.IsFinish() || task.Status == engine.StatusUnexec {
			continue
		}
		status := engine.StatusTerminate
		if task.Status == engine.StatusReviewing {
			status = engine.StatusReviewAbort
		}
		if err := c.Deps.DAO.UpdateTaskStatus(c.Event.BuildID, task.TaskId, status, ""); err != nil {
			glog.Errorf("终止任务落库失败 %s/%s %v", c.Event.BuildID, task.TaskId, err)
		}
		_ = c.Deps.Detail.TaskEnd(c.Ctx, c.Event.BuildID, task.TaskId, status, false,
			engine.ErrorType(c.Event.ErrorTypeName), c.Event.ErrorCode, c.Event.Reason)
	}
	if c.Event.ErrorCode != 0 {
		c.ErrorInfo = &engine.ErrorInfo{
			ErrorType: engine.ErrorType(c.Event.ErrorTypeName),
			ErrorCode: c.Event.ErrorCode,
			ErrorMsg:  c.Event.Reason,
		}
	}
	c.Finish(engine.StatusTerminate)
}

// stepForward 找到下一个动作：运行中等着，审核中裁决，排队中的启动，全完了收尾
func (cmd *StartActionTaskCmd) stepForward(c *ContainerContext) {
	containerFailed := false
	for _, task := range c.Tasks {
		switch {
		case task.Status == engine.StatusReviewing:
			cmd.resolveReview(c, task)
			return

		case task.Status.IsRunning():
			delay := TaskRefreshDelay(task)
			if delay <= 0 {
				delay = taskPollDelayMills
			}
			c.Loop(delay)
			return

		case task.Status.IsFinish():
			if task.Status.IsFailure() && !taskContinueWhenFailed(task) {
				containerFailed = true
			}

		case task.Status == engine.StatusUnexec:
			//上一轮已判定不执行

		case task.Status.IsReadyToRun():
			if !cmd.taskShouldRun(c, task, containerFailed) {
				if err := c.Deps.DAO.UpdateTaskStatus(c.Event.BuildID, task.TaskId, engine.StatusUnexec, ""); err != nil {
					glog.Errorf("任务置不执行失败 %s/%s %v", c.Event.BuildID, task.TaskId, err)
				}
				_ = c.Deps.Detail.TaskSkip(c.Ctx, c.Event.BuildID, task.TaskId)
				continue
			}
			cmd.startTask(c, task)
			return
		}
	}
	if containerFailed {
		c.Finish(engine.StatusFailed)
		return
	}
	c.Finish(engine.StatusSucceed)
}

// taskShouldRun 任务级运行条件裁决，post任务看父任务结果
func (cmd *StartActionTaskCmd) taskShouldRun(c *ContainerContext, task *dao.TaskRecord, containerFailed bool) bool {
	options := TaskAdditionalOptions(task)
	if options == nil {
		return !containerFailed
	}
	if !options.Enable {
		return false
	}
	if options.ElementPostInfo != nil {
		parent := FindPostParent(c.Tasks, options.ElementPostInfo)
		return PostTaskShouldRun(parent, options.ElementPostInfo.PostCondition)
	}
	switch options.RunCondition {
	case model.RunPreTaskFailedOnly, model.RunPreTaskFailedButCancel, model.RunPreTaskFailedEvenCancel:
		return containerFailed
	case model.RunCustomVariableMatch:
		return customVariablesMatch(options.CustomVariables, c.Variables)
	case model.RunCustomVariableNotMatch:
		return !customVariablesMatch(options.CustomVariables, c.Variables)
	default:
		return !containerFailed
	}
}

// startTask 任务启动：Detail先行，记录再落RUNNING
func (cmd *StartActionTaskCmd) startTask(c *ContainerContext, task *dao.TaskRecord) {
	if task.TaskType == TaskTypeStartVM {
		cmd.startVM(c, task)
		return
	}
	//第一个真实任务启动时把Job带进运行态
	if c.Container.Status.IsReadyToRun() {
		_ = c.Deps.DAO.UpdateContainerStatus(c.Event.BuildID, c.Event.ContainerID, engine.StatusRunning)
		_ = c.Deps.Detail.ContainerStart(c.Ctx, c.Event.BuildID, c.Event.ContainerID)
	}
	c.Deps.Printer.AddLine(c.Event.BuildID, "任务启动："+task.TaskName, task.TaskId, c.Event.ContainerID, c.Container.ExecuteCount)
	if err := c.Deps.Detail.TaskStart(c.Ctx, c.Event.BuildID, task.TaskId, c.Variables); err != nil {
		glog.Errorf("任务启动详情更新失败 %s/%s %v", c.Event.BuildID, task.TaskId, err)
	}
	status := engine.StatusRunning
	if model.ElementKind(task.TaskType).IsReview() {
		status = engine.StatusReviewing
	}
	if err := c.Deps.DAO.UpdateTaskStatus(c.Event.BuildID, task.TaskId, status, c.Event.UserID); err != nil {
		glog.Errorf("任务启动落库失败 %s/%s %v", c.Event.BuildID, task.TaskId, err)
	}
	switch model.ElementKind(task.TaskType) {
	case model.ElementQualityGateIn:
		cmd.checkQuality(c, task, quality.PositionBefore)
	case model.ElementQualityGateOut:
		cmd.checkQuality(c, task, quality.PositionAfter)
	}
	c.Loop(taskPollDelayMills)
}

// checkQuality 红线任务启动即评审：拿规则结果转裁决，结论写回任务参数，
// 下一轮推进时由审核裁决统一收口。检查失败不落结论，留给审核超时兜底
func (cmd *StartActionTaskCmd) checkQuality(c *ContainerContext, task *dao.TaskRecord, position quality.Position) {
	result, err := c.Deps.Quality.Check(c.Ctx, &quality.CheckRequest{
		ProjectID:  c.Event.ProjectID,
		PipelineID: c.Event.PipelineID,
		BuildID:    c.Event.BuildID,
		TaskID:     task.TaskId,
		Position:   position,
	})
	if err != nil {
		glog.Errorf("红线检查失败 %s/%s %v", c.Event.BuildID, task.TaskId, err)
		return
	}
	resp := c.Deps.Quality.HandleResult(c.Event.BuildID, c.Event.ContainerID, c.Container.ExecuteCount, result)
	if len(resp.Params) == 0 {
		return
	}
	params := task.TaskParams
	if params == nil {
		params = map[string]interface{}{}
	}
	for key, value := range resp.Params {
		params[key] = value
	}
	task.TaskParams = params
	if err := c.Deps.DAO.UpdateTaskParams(c.Event.BuildID, task.TaskId, params); err != nil {
		glog.Errorf("红线裁决写回任务参数失败 %s/%s %v", c.Event.BuildID, task.TaskId, err)
	}
}

// startVM 开机任务的启动就是向分发器要构建机
func (cmd *StartActionTaskCmd) startVM(c *ContainerContext, task *dao.TaskRecord) {
	dispatchType := ""
	if c.Conditions.DispatchType != nil {
		dispatchType = c.Conditions.DispatchType.Type
	}
	_ = c.Deps.Detail.ContainerPreparing(c.Ctx, c.Event.BuildID, c.Event.ContainerID)
	_ = c.Deps.DAO.UpdateContainerStatus(c.Event.BuildID, c.Event.ContainerID, engine.StatusPrepareEnv)
	if err := c.Deps.DAO.UpdateTaskStatus(c.Event.BuildID, task.TaskId, engine.StatusRunning, ""); err != nil {
		glog.Errorf("开机任务落库失败 %s/%s %v", c.Event.BuildID, task.TaskId, err)
	}
	err := c.Deps.Dispatcher.Dispatch(&engine.AgentStartupEvent{
		EventHead: engine.EventHead{
			Source:     "container",
			ProjectID:  c.Event.ProjectID,
			PipelineID: c.Event.PipelineID,
			BuildID:    c.Event.BuildID,
			UserID:     c.Event.UserID,
		},
		StageID:      c.Event.StageID,
		ContainerID:  c.Event.ContainerID,
		DispatchType: dispatchType,
		TaskID:       task.TaskId,
		ExecuteCount: c.Container.ExecuteCount,
	})
	if err != nil {
		glog.Errorf("构建机启动事件投递失败 %s/%s %v", c.Event.BuildID, c.Event.ContainerID, err)
	}
	c.Loop(taskPollDelayMills)
}

// resolveReview 审核类任务的裁决：人工审核看动作参数，红线走TryFinish
func (cmd *StartActionTaskCmd) resolveReview(c *ContainerContext, task *dao.TaskRecord) {
	var resp *quality.AtomResponse
	switch model.ElementKind(task.TaskType) {
	case model.ElementManualReview:
		action, userID := TaskManualAction(task)
		switch action {
		case engine.ManualReviewProcess:
			resp = &quality.AtomResponse{Status: engine.StatusReviewProcessed}
			_ = c.Deps.DAO.UpdateTaskApprover(c.Event.BuildID, task.TaskId, userID)
		case engine.ManualReviewAbort:
			resp = &quality.AtomResponse{
				Status:    engine.StatusReviewAbort,
				ErrorType: engine.ErrorTypeUser,
				ErrorCode: engine.ErrorCodeUserBuildIntercept,
				ErrorMsg:  "manual review abort",
			}
			_ = c.Deps.DAO.UpdateTaskApprover(c.Event.BuildID, task.TaskId, userID)
		default:
			resp = &quality.AtomResponse{Status: engine.StatusReviewing}
		}
	case model.ElementQualityGateIn, model.ElementQualityGateOut:
		startTime := time.Now()
		if task.StartTime != nil {
			startTime = *task.StartTime
		}
		//审核超时优先用红线裁决带回的配置，没有再退回任务附加选项
		timeoutMinutes := TaskAuditTimeoutMinutes(task)
		if timeoutMinutes <= 0 {
			if options := TaskAdditionalOptions(task); options != nil {
				timeoutMinutes = int(options.Timeout)
			}
		}
		resp = c.Deps.Quality.TryFinish(task.TaskParams, startTime, timeoutMinutes)
	default:
		resp = &quality.AtomResponse{Status: engine.StatusReviewing}
	}

	if resp.Status == engine.StatusReviewing {
		c.Loop(taskPollDelayMills)
		return
	}
	if err := c.Deps.DAO.UpdateTaskStatus(c.Event.BuildID, task.TaskId, resp.Status, ""); err != nil {
		glog.Errorf("审核任务落库失败 %s/%s %v", c.Event.BuildID, task.TaskId, err)
	}
	if resp.ErrorCode != 0 {
		_ = c.Deps.DAO.UpdateTaskError(c.Event.BuildID, task.TaskId, resp.ErrorType, resp.ErrorCode, resp.ErrorMsg)
	}
	_ = c.Deps.Detail.TaskEnd(c.Ctx, c.Event.BuildID, task.TaskId, resp.Status, false,
		resp.ErrorType, resp.ErrorCode, resp.ErrorMsg)
	//裁决落库后立刻重投，继续推进后续任务
	c.Loop(1000)
}

// taskContinueWhenFailed 失败是否继续
func taskContinueWhenFailed(task *dao.TaskRecord) bool {
	options := TaskAdditionalOptions(task)
	if options == nil {
		return false
	}
	if options.ContinueWhenFailed {
		return true
	}
	return options.RunCondition.IsContinueWhenFailed()
}
