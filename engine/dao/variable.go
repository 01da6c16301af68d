package dao

import (
	"github.com/pkg/errors"
	"xorm.io/xorm"
)

// SaveVariables 批量落变量，已存在的键覆盖值，只读键不覆盖
func (d *DAO) SaveVariables(projectID, pipelineID, buildID string, vars map[string]string, readOnly bool) error {
	if len(vars) == 0 {
		return nil
	}
	_, err := d.DB.Transaction(func(session *xorm.Session) (interface{}, error) {
		for key, value := range vars {
			existed := &VariableRecord{}
			has, err := session.Where("build_id = ? AND var_key = ?", buildID, key).Get(existed)
			if err != nil {
				return nil, err
			}
			if has {
				if existed.ReadOnly {
					continue
				}
				if _, err := session.Where("build_id = ? AND var_key = ?", buildID, key).
					Cols("var_value").Update(&VariableRecord{VarValue: value}); err != nil {
					return nil, err
				}
				continue
			}
			record := &VariableRecord{
				ProjectId:  projectID,
				PipelineId: pipelineID,
				BuildId:    buildID,
				VarKey:     key,
				VarValue:   value,
				ReadOnly:   readOnly,
			}
			if _, err := session.Insert(record); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return errors.Wrapf(err, "保存构建变量失败 %s", buildID)
}

// GetAllVariable 一次构建的全部变量
func (d *DAO) GetAllVariable(buildID string) (map[string]string, error) {
	var records []*VariableRecord
	if err := d.DB.Where("build_id = ?", buildID).Find(&records); err != nil {
		return nil, errors.Wrapf(err, "查询构建变量失败 %s", buildID)
	}
	vars := make(map[string]string, len(records))
	for _, record := range records {
		vars[record.VarKey] = record.VarValue
	}
	return vars, nil
}

// GetVariable 查单个变量，缺失时返回空串
func (d *DAO) GetVariable(buildID, key string) (string, error) {
	record := &VariableRecord{}
	has, err := d.DB.Where("build_id = ? AND var_key = ?", buildID, key).Get(record)
	if err != nil {
		return "", errors.Wrapf(err, "查询构建变量失败 %s/%s", buildID, key)
	}
	if !has {
		return "", nil
	}
	return record.VarValue, nil
}
