package model

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ContainerConditions Job运行记录里随行落库的控制配置
type ContainerConditions struct {
	JobControlOption *JobControlOption `json:"jobControlOption,omitempty"`
	MutexGroup       *MutexGroup       `json:"mutexGroup,omitempty"`
	DispatchType     *DispatchInfo     `json:"dispatchType,omitempty"`
}

// Marshal 序列化成记录里的JSON串
func (c *ContainerConditions) Marshal() (string, error) {
	content, err := json.MarshalToString(c)
	return content, errors.Wrap(err, "Job控制配置序列化失败")
}

// ParseContainerConditions 从记录的JSON串还原控制配置，空串给默认值
func ParseContainerConditions(content string) (*ContainerConditions, error) {
	conditions := &ContainerConditions{}
	if content == "" {
		return conditions, nil
	}
	if err := json.UnmarshalFromString(content, conditions); err != nil {
		return nil, errors.Wrap(err, "Job控制配置解析失败")
	}
	return conditions, nil
}

// ParseStageControlOption 从Stage记录的JSON串还原控制配置
func ParseStageControlOption(content string) (*StageControlOption, error) {
	if content == "" {
		return nil, nil
	}
	option := &StageControlOption{}
	if err := json.UnmarshalFromString(content, option); err != nil {
		return nil, errors.Wrap(err, "Stage控制配置解析失败")
	}
	return option, nil
}

// MarshalStageControlOption 序列化Stage控制配置
func MarshalStageControlOption(option *StageControlOption) (string, error) {
	if option == nil {
		return "", nil
	}
	content, err := json.MarshalToString(option)
	return content, errors.Wrap(err, "Stage控制配置序列化失败")
}
