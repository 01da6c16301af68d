package command

import (
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/quality"
	"github.com/chenyingqiao/pipeline-engine/engine/util"
)

// TaskParamAdditionalOptions 任务参数里附加选项的键
const TaskParamAdditionalOptions = "additionalOptions"

// TaskTypeStartVM 有编译环境Job的开机任务类型，建任务记录时合成
const TaskTypeStartVM = "startVM"

// StartVMTaskID 开机任务的taskId
func StartVMTaskID(containerID string) string {
	return "startVM-" + containerID
}

// realExecuteStatus 计入"真正执行过"的任务终态，post任务只看这些状态
var realExecuteStatus = []engine.BuildStatus{
	engine.StatusSucceed,
	engine.StatusReviewProcessed,
	engine.StatusFailed,
	engine.StatusTerminate,
	engine.StatusCanceled,
	engine.StatusReviewAbort,
	engine.StatusQualityCheckFail,
	engine.StatusExecTimeout,
}

// IsRealExecuted 任务是否真正执行过并走到了计入终态
func IsRealExecuted(status engine.BuildStatus) bool {
	return util.InArray(status, realExecuteStatus)
}

// post任务的执行条件
const (
	PostConditionAlways  = "always"
	PostConditionSuccess = "success"
	PostConditionFailure = "failure"
)

// PostTaskShouldRun 判断post任务是否应该执行：父任务必须真正执行过，
// 再按postCondition对父任务结果做匹配
func PostTaskShouldRun(parent *dao.TaskRecord, postCondition string) bool {
	if parent == nil || !IsRealExecuted(parent.Status) {
		return false
	}
	switch postCondition {
	case PostConditionSuccess:
		return parent.Status.IsSuccess()
	case PostConditionFailure:
		return parent.Status.IsFailure()
	default:
		return true
	}
}

// FindPostParent 在同Job任务里找post任务的父任务
func FindPostParent(tasks []*dao.TaskRecord, postInfo *model.ElementPostInfo) *dao.TaskRecord {
	if postInfo == nil {
		return nil
	}
	for _, task := range tasks {
		if task.TaskId == postInfo.ParentElementID {
			return task
		}
	}
	return nil
}

// TaskAdditionalOptions 从任务参数解出附加选项，没有返回nil
func TaskAdditionalOptions(task *dao.TaskRecord) *model.ElementAdditionalOptions {
	if task.TaskParams == nil {
		return nil
	}
	raw, ok := task.TaskParams[TaskParamAdditionalOptions]
	if !ok {
		return nil
	}
	options := &model.ElementAdditionalOptions{}
	if err := mapstructure.Decode(raw, options); err != nil {
		return nil
	}
	return options
}

// TaskRefreshDelay 任务参数里约定的状态刷新延迟，没有则为0
func TaskRefreshDelay(task *dao.TaskRecord) int64 {
	if task.TaskParams == nil {
		return 0
	}
	return cast.ToInt64(task.TaskParams[engine.TaskParamRefreshDelayMills])
}

// TaskAuditTimeoutMinutes 红线裁决写回的审核超时，没有则为0
func TaskAuditTimeoutMinutes(task *dao.TaskRecord) int {
	if task.TaskParams == nil {
		return 0
	}
	return cast.ToInt(task.TaskParams[quality.TaskParamAuditTimeoutMinutes])
}

// TaskManualAction 任务参数里的人工审核动作与操作人
func TaskManualAction(task *dao.TaskRecord) (engine.ManualReviewAction, string) {
	if task.TaskParams == nil {
		return "", ""
	}
	action := cast.ToString(task.TaskParams[engine.TaskParamManualAction])
	userID := cast.ToString(task.TaskParams[engine.TaskParamManualActionUserID])
	return engine.ManualReviewAction(action), userID
}
