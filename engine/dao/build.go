package dao

import (
	"time"

	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// CreateBuild 落库一条构建历史
func (d *DAO) CreateBuild(record *BuildRecord) error {
	_, err := d.DB.Insert(record)
	return errors.Wrapf(err, "创建构建记录失败 %s", record.BuildId)
}

// GetBuild 按buildId查构建
func (d *DAO) GetBuild(buildID string) (*BuildRecord, error) {
	record := &BuildRecord{}
	has, err := d.DB.Where("build_id = ?", buildID).Get(record)
	if err != nil {
		return nil, errors.Wrapf(err, "查询构建记录失败 %s", buildID)
	}
	if !has {
		return nil, engine.ErrBuildNotFound
	}
	return record, nil
}

// UpdateBuildStatus 更新构建状态
func (d *DAO) UpdateBuildStatus(buildID string, status engine.BuildStatus) error {
	_, err := d.DB.Where("build_id = ?", buildID).
		Cols("status").Update(&BuildRecord{Status: status})
	return errors.Wrapf(err, "更新构建状态失败 %s", buildID)
}

// StartBuild 排队转运行，只有仍处于待运行状态才会生效，返回是否真的启动了
func (d *DAO) StartBuild(buildID string) (bool, error) {
	now := time.Now()
	affected, err := d.DB.Where("build_id = ?", buildID).
		In("status", engine.StatusQueue, engine.StatusQueueCache, engine.StatusRetry).
		Cols("status", "start_time").
		Update(&BuildRecord{Status: engine.StatusRunning, StartTime: &now})
	if err != nil {
		return false, errors.Wrapf(err, "启动构建失败 %s", buildID)
	}
	return affected > 0, nil
}

// FinishBuild 终态落库，带错误信息
func (d *DAO) FinishBuild(buildID string, status engine.BuildStatus, errorInfo *engine.ErrorInfo) error {
	now := time.Now()
	record := &BuildRecord{Status: status, EndTime: &now}
	cols := []string{"status", "end_time"}
	if errorInfo != nil {
		record.ErrorType = string(errorInfo.ErrorType)
		record.ErrorCode = errorInfo.ErrorCode
		record.ErrorMsg = errorInfo.ErrorMsg
		cols = append(cols, "error_type", "error_code", "error_msg")
	}
	_, err := d.DB.Where("build_id = ?", buildID).Cols(cols...).Update(record)
	return errors.Wrapf(err, "结束构建失败 %s", buildID)
}

// UpdateExecuteCount 重试时递增执行次数
func (d *DAO) UpdateExecuteCount(buildID string, executeCount int) error {
	_, err := d.DB.Where("build_id = ?", buildID).
		Cols("execute_count").Update(&BuildRecord{ExecuteCount: executeCount})
	return errors.Wrapf(err, "更新执行次数失败 %s", buildID)
}

// ListBuildsByStatus 按状态列出某条流水线的构建
func (d *DAO) ListBuildsByStatus(pipelineID string, statuses ...engine.BuildStatus) ([]*BuildRecord, error) {
	var records []*BuildRecord
	session := d.DB.Where("pipeline_id = ?", pipelineID).Asc("queue_time")
	if len(statuses) > 0 {
		args := make([]interface{}, 0, len(statuses))
		for _, s := range statuses {
			args = append(args, s)
		}
		session = session.In("status", args...)
	}
	err := session.Find(&records)
	return records, errors.Wrapf(err, "查询构建列表失败 %s", pipelineID)
}

// CountQueuingBuilds 排队中的构建数，排队上限校验用
func (d *DAO) CountQueuingBuilds(pipelineID string) (int64, error) {
	count, err := d.DB.Where("pipeline_id = ?", pipelineID).
		In("status", engine.StatusQueue, engine.StatusQueueCache).
		Count(new(BuildRecord))
	return count, errors.Wrapf(err, "统计排队构建失败 %s", pipelineID)
}

// ListActiveBuilds 全部未结束的构建，兜底巡检用。
// STAGE_SUCCESS是软终态，人工放行窗口内仍要巡检审核超时，所以也算在内
func (d *DAO) ListActiveBuilds() ([]*BuildRecord, error) {
	var records []*BuildRecord
	err := d.DB.In("status",
		engine.StatusQueue, engine.StatusQueueCache, engine.StatusRetry,
		engine.StatusRunning, engine.StatusPrepareEnv,
		engine.StatusLoopWaiting, engine.StatusCallWaiting,
		engine.StatusReviewing, engine.StatusPause,
		engine.StatusDependentWaiting, engine.StatusTryFinally,
		engine.StatusStageSuccess,
	).Find(&records)
	return records, errors.Wrap(err, "查询运行中构建失败")
}
