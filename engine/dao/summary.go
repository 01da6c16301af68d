package dao

import (
	"time"

	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// GetOrCreateSummary 取流水线汇总，不存在则初始化一行
func (d *DAO) GetOrCreateSummary(projectID, pipelineID string) (*SummaryRecord, error) {
	record := &SummaryRecord{}
	has, err := d.DB.Where("pipeline_id = ?", pipelineID).Get(record)
	if err != nil {
		return nil, errors.Wrapf(err, "查询流水线汇总失败 %s", pipelineID)
	}
	if has {
		return record, nil
	}
	record = &SummaryRecord{ProjectId: projectID, PipelineId: pipelineID}
	if _, err := d.DB.Insert(record); err != nil {
		return nil, errors.Wrapf(err, "初始化流水线汇总失败 %s", pipelineID)
	}
	return record, nil
}

// NextBuildNum 构建号自增，汇总行上原子更新后读回
func (d *DAO) NextBuildNum(pipelineID string) (int, error) {
	if _, err := d.DB.Exec(
		"UPDATE summary_record SET build_num = build_num + 1 WHERE pipeline_id = ?", pipelineID); err != nil {
		return 0, errors.Wrapf(err, "构建号自增失败 %s", pipelineID)
	}
	record := &SummaryRecord{}
	has, err := d.DB.Where("pipeline_id = ?", pipelineID).Get(record)
	if err != nil || !has {
		return 0, errors.Wrapf(err, "读取构建号失败 %s", pipelineID)
	}
	return record.BuildNum, nil
}

// EnqueueBuildSummary 新构建进排队，排队数加一并更新最近构建指针
func (d *DAO) EnqueueBuildSummary(pipelineID, buildID, startUser string) error {
	_, err := d.DB.Exec(
		"UPDATE summary_record SET queue_count = queue_count + 1, latest_build_id = ?, latest_status = ?, latest_start_user = ? WHERE pipeline_id = ?",
		buildID, engine.StatusQueue, startUser, pipelineID)
	return errors.Wrapf(err, "更新排队汇总失败 %s", pipelineID)
}

// StartBuildSummary 排队转运行，排队数减一运行数加一
func (d *DAO) StartBuildSummary(pipelineID, buildID string) error {
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := d.DB.Exec(
		"UPDATE summary_record SET queue_count = queue_count - 1, running_count = running_count + 1, latest_status = ?, latest_start_time = ? WHERE pipeline_id = ? AND queue_count > 0",
		engine.StatusRunning, now, pipelineID)
	return errors.Wrapf(err, "更新启动汇总失败 %s", pipelineID)
}

// ExitQueueSummary 构建在排队阶段出局（拦截或排队超时），排队数减一完成数加一
func (d *DAO) ExitQueueSummary(pipelineID, buildID string, status engine.BuildStatus) error {
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := d.DB.Exec(
		"UPDATE summary_record SET queue_count = queue_count - 1, finish_count = finish_count + 1, latest_status = ?, latest_end_time = ? WHERE pipeline_id = ? AND queue_count > 0",
		status, now, pipelineID)
	return errors.Wrapf(err, "更新出队汇总失败 %s", pipelineID)
}

// FinishBuildSummary 构建结束，运行数减一完成数加一
func (d *DAO) FinishBuildSummary(pipelineID, buildID string, status engine.BuildStatus) error {
	now := time.Now().Format("2006-01-02 15:04:05")
	_, err := d.DB.Exec(
		"UPDATE summary_record SET running_count = running_count - 1, finish_count = finish_count + 1, latest_status = ?, latest_end_time = ? WHERE pipeline_id = ? AND running_count > 0",
		status, now, pipelineID)
	return errors.Wrapf(err, "更新结束汇总失败 %s", pipelineID)
}

// UpdateRunLock 更新并发策略与排队上限
func (d *DAO) UpdateRunLock(pipelineID string, runLockType, maxQueueSize int) error {
	_, err := d.DB.Where("pipeline_id = ?", pipelineID).
		Cols("run_lock_type", "max_queue_size").
		Update(&SummaryRecord{RunLockType: runLockType, MaxQueueSize: maxQueueSize})
	return errors.Wrapf(err, "更新并发策略失败 %s", pipelineID)
}
