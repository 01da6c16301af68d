package dao

import (
	"time"

	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// BatchSaveTasks 批量落库任务记录
func (d *DAO) BatchSaveTasks(records []*TaskRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := d.DB.Insert(&records)
	return errors.Wrap(err, "批量保存任务失败")
}

// GetTask 按buildId和taskId查任务
func (d *DAO) GetTask(buildID, taskID string) (*TaskRecord, error) {
	record := &TaskRecord{}
	has, err := d.DB.Where("build_id = ? AND task_id = ?", buildID, taskID).Get(record)
	if err != nil {
		return nil, errors.Wrapf(err, "查询任务失败 %s/%s", buildID, taskID)
	}
	if !has {
		return nil, engine.ErrTaskNotFound
	}
	return record, nil
}

// ListContainerTasks Job内的任务，按任务序号排序
func (d *DAO) ListContainerTasks(buildID, containerID string) ([]*TaskRecord, error) {
	var records []*TaskRecord
	err := d.DB.Where("build_id = ? AND container_id = ?", buildID, containerID).
		Asc("task_seq").Find(&records)
	return records, errors.Wrapf(err, "查询Job任务列表失败 %s/%s", buildID, containerID)
}

// ListBuildTasks 一次构建的全部任务
func (d *DAO) ListBuildTasks(buildID string) ([]*TaskRecord, error) {
	var records []*TaskRecord
	err := d.DB.Where("build_id = ?", buildID).Asc("task_seq").Find(&records)
	return records, errors.Wrapf(err, "查询构建任务列表失败 %s", buildID)
}

// UpdateTaskStatus 更新任务状态，起步补开始时间和执行人，终态补结束时间与耗时
func (d *DAO) UpdateTaskStatus(buildID, taskID string, status engine.BuildStatus, starter string) error {
	now := time.Now()
	record := &TaskRecord{Status: status}
	cols := []string{"status"}
	if status.IsRunning() {
		record.StartTime = &now
		cols = append(cols, "start_time")
		if starter != "" {
			record.Starter = starter
			cols = append(cols, "starter")
		}
	}
	if status.IsFinish() {
		record.EndTime = &now
		cols = append(cols, "end_time", "total_time")
		task, err := d.GetTask(buildID, taskID)
		if err == nil && task.StartTime != nil {
			record.TotalTime = now.Sub(*task.StartTime).Milliseconds()
		}
	}
	_, err := d.DB.Where("build_id = ? AND task_id = ?", buildID, taskID).
		Cols(cols...).Update(record)
	return errors.Wrapf(err, "更新任务状态失败 %s/%s", buildID, taskID)
}

// UpdateTaskError 任务失败时落错误明细
func (d *DAO) UpdateTaskError(buildID, taskID string, errorType engine.ErrorType, errorCode int, errorMsg string) error {
	_, err := d.DB.Where("build_id = ? AND task_id = ?", buildID, taskID).
		Cols("error_type", "error_code", "error_msg").
		Update(&TaskRecord{ErrorType: string(errorType), ErrorCode: errorCode, ErrorMsg: errorMsg})
	return errors.Wrapf(err, "更新任务错误信息失败 %s/%s", buildID, taskID)
}

// UpdateTaskParams 覆盖任务参数，人工审核与红线回调通过参数传递动作
func (d *DAO) UpdateTaskParams(buildID, taskID string, params map[string]interface{}) error {
	_, err := d.DB.Where("build_id = ? AND task_id = ?", buildID, taskID).
		Cols("task_params").Update(&TaskRecord{TaskParams: params})
	return errors.Wrapf(err, "更新任务参数失败 %s/%s", buildID, taskID)
}

// UpdateTaskApprover 人工审核通过后记录审核人
func (d *DAO) UpdateTaskApprover(buildID, taskID, approver string) error {
	_, err := d.DB.Where("build_id = ? AND task_id = ?", buildID, taskID).
		Cols("approver").Update(&TaskRecord{Approver: approver})
	return errors.Wrapf(err, "更新任务审核人失败 %s/%s", buildID, taskID)
}

// UpdateTaskExecuteCount 重试时递增任务执行次数并重置状态
func (d *DAO) UpdateTaskExecuteCount(buildID, taskID string, executeCount int, status engine.BuildStatus) error {
	_, err := d.DB.Where("build_id = ? AND task_id = ?", buildID, taskID).
		Cols("execute_count", "status").
		Update(&TaskRecord{ExecuteCount: executeCount, Status: status})
	return errors.Wrapf(err, "更新任务执行次数失败 %s/%s", buildID, taskID)
}
