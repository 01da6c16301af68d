package dao

import (
	"time"

	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// BatchSaveStages 批量落库Stage记录
func (d *DAO) BatchSaveStages(records []*StageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := d.DB.Insert(&records)
	return errors.Wrap(err, "批量保存Stage失败")
}

// GetStage 按buildId和stageId查Stage
func (d *DAO) GetStage(buildID, stageID string) (*StageRecord, error) {
	record := &StageRecord{}
	has, err := d.DB.Where("build_id = ? AND stage_id = ?", buildID, stageID).Get(record)
	if err != nil {
		return nil, errors.Wrapf(err, "查询Stage失败 %s/%s", buildID, stageID)
	}
	if !has {
		return nil, engine.ErrStageNotFound
	}
	return record, nil
}

// ListStages 一次构建的全部Stage，按序号排序
func (d *DAO) ListStages(buildID string) ([]*StageRecord, error) {
	var records []*StageRecord
	err := d.DB.Where("build_id = ?", buildID).Asc("seq").Find(&records)
	return records, errors.Wrapf(err, "查询Stage列表失败 %s", buildID)
}

// UpdateStageControlOption 更新Stage控制配置（人工触发标记等）
func (d *DAO) UpdateStageControlOption(buildID, stageID, controlOption string) error {
	_, err := d.DB.Where("build_id = ? AND stage_id = ?", buildID, stageID).
		Cols("control_option").Update(&StageRecord{ControlOption: controlOption})
	return errors.Wrapf(err, "更新Stage控制配置失败 %s/%s", buildID, stageID)
}

// UpdateStageStatus 更新Stage状态，进运行态补开始时间，进终态补结束时间
func (d *DAO) UpdateStageStatus(buildID, stageID string, status engine.BuildStatus) error {
	now := time.Now()
	record := &StageRecord{Status: status}
	cols := []string{"status"}
	if status.IsRunning() {
		record.StartTime = &now
		cols = append(cols, "start_time")
	}
	if status.IsFinish() {
		record.EndTime = &now
		cols = append(cols, "end_time")
	}
	_, err := d.DB.Where("build_id = ? AND stage_id = ?", buildID, stageID).
		Cols(cols...).Update(record)
	return errors.Wrapf(err, "更新Stage状态失败 %s/%s", buildID, stageID)
}
