package dao

import (
	"time"

	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// BatchSaveContainers 批量落库Job记录
func (d *DAO) BatchSaveContainers(records []*ContainerRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := d.DB.Insert(&records)
	return errors.Wrap(err, "批量保存Job失败")
}

// GetContainer 按buildId和containerId查Job
func (d *DAO) GetContainer(buildID, containerID string) (*ContainerRecord, error) {
	record := &ContainerRecord{}
	has, err := d.DB.Where("build_id = ? AND container_id = ?", buildID, containerID).Get(record)
	if err != nil {
		return nil, errors.Wrapf(err, "查询Job失败 %s/%s", buildID, containerID)
	}
	if !has {
		return nil, engine.ErrContainerNotFound
	}
	return record, nil
}

// ListContainers 一次构建的全部Job，按序号排序
func (d *DAO) ListContainers(buildID string) ([]*ContainerRecord, error) {
	var records []*ContainerRecord
	err := d.DB.Where("build_id = ?", buildID).Asc("seq").Find(&records)
	return records, errors.Wrapf(err, "查询Job列表失败 %s", buildID)
}

// ListStageContainers 某个Stage下的Job
func (d *DAO) ListStageContainers(buildID, stageID string) ([]*ContainerRecord, error) {
	var records []*ContainerRecord
	err := d.DB.Where("build_id = ? AND stage_id = ?", buildID, stageID).Asc("seq").Find(&records)
	return records, errors.Wrapf(err, "查询Stage下Job失败 %s/%s", buildID, stageID)
}

// UpdateContainerStatus 更新Job状态并维护起止时间
func (d *DAO) UpdateContainerStatus(buildID, containerID string, status engine.BuildStatus) error {
	now := time.Now()
	record := &ContainerRecord{Status: status}
	cols := []string{"status"}
	if status.IsRunning() {
		record.StartTime = &now
		cols = append(cols, "start_time")
	}
	if status.IsFinish() {
		record.EndTime = &now
		cols = append(cols, "end_time")
	}
	_, err := d.DB.Where("build_id = ? AND container_id = ?", buildID, containerID).
		Cols(cols...).Update(record)
	return errors.Wrapf(err, "更新Job状态失败 %s/%s", buildID, containerID)
}

// UpdateContainerExecuteCount 重试时递增Job执行次数并重置状态
func (d *DAO) UpdateContainerExecuteCount(buildID, containerID string, executeCount int, status engine.BuildStatus) error {
	_, err := d.DB.Where("build_id = ? AND container_id = ?", buildID, containerID).
		Cols("execute_count", "status").
		Update(&ContainerRecord{ExecuteCount: executeCount, Status: status})
	return errors.Wrapf(err, "更新Job执行次数失败 %s/%s", buildID, containerID)
}
