package dao

import (
	"time"

	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// CreateDetail 落库构建详情快照
func (d *DAO) CreateDetail(record *DetailRecord) error {
	_, err := d.DB.Insert(record)
	return errors.Wrapf(err, "创建构建详情失败 %s", record.BuildId)
}

// GetDetail 按buildId查详情
func (d *DAO) GetDetail(buildID string) (*DetailRecord, error) {
	record := &DetailRecord{}
	has, err := d.DB.Where("build_id = ?", buildID).Get(record)
	if err != nil {
		return nil, errors.Wrapf(err, "查询构建详情失败 %s", buildID)
	}
	if !has {
		return nil, engine.ErrModelNotFound
	}
	return record, nil
}

// UpdateDetailModel 覆盖模型快照，状态有变化一并落库
func (d *DAO) UpdateDetailModel(buildID, modelJSON string, status engine.BuildStatus) error {
	record := &DetailRecord{Model: modelJSON}
	cols := []string{"model"}
	if status != "" {
		record.Status = status
		cols = append(cols, "status")
	}
	if status.IsFinish() {
		now := time.Now()
		record.EndTime = &now
		cols = append(cols, "end_time")
	}
	_, err := d.DB.Where("build_id = ?", buildID).Cols(cols...).Update(record)
	return errors.Wrapf(err, "更新构建详情失败 %s", buildID)
}

// UpdateDetailCancelUser 记录取消人
func (d *DAO) UpdateDetailCancelUser(buildID, cancelUser string) error {
	_, err := d.DB.Where("build_id = ?", buildID).
		Cols("cancel_user").Update(&DetailRecord{CancelUser: cancelUser})
	return errors.Wrapf(err, "记录取消人失败 %s", buildID)
}
