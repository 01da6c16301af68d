package model

import (
	"github.com/chenyingqiao/pipeline-engine/engine"
)

// ContainerKind Job类型：闭合的变体集合，行为差异用switch表达
type ContainerKind string

const (
	//ContainerTrigger 触发Job，只存在于Stage 0
	ContainerTrigger ContainerKind = "trigger"
	//ContainerVMBuild 有编译环境的Job，携带dispatchType与VM生命周期
	ContainerVMBuild ContainerKind = "vmBuild"
	//ContainerNormal 无编译环境的Job
	ContainerNormal ContainerKind = "normalJob"
)

// ElementKind 任务类型
type ElementKind string

const (
	ElementNormal           ElementKind = "task"
	ElementManualReview     ElementKind = "manualReviewUserTask"
	ElementQualityGateIn    ElementKind = "qualityGateInTask"
	ElementQualityGateOut   ElementKind = "qualityGateOutTask"
	ElementManualTrigger    ElementKind = "manualTrigger"
	ElementRemoteTrigger    ElementKind = "remoteTrigger"
	ElementCodeGitTrigger   ElementKind = "codeGit"
	ElementCodeSvnTrigger   ElementKind = "codeSvn"
	ElementGithubTrigger    ElementKind = "github"
)

// IsSCM 是否是源码拉取元素
func (k ElementKind) IsSCM() bool {
	return k == ElementCodeGitTrigger || k == ElementCodeSvnTrigger || k == ElementGithubTrigger
}

// IsReview 是否是审核类元素（人工审核/质量红线），启动时进REVIEWING而不是RUNNING
func (k ElementKind) IsReview() bool {
	return k == ElementManualReview || k == ElementQualityGateIn || k == ElementQualityGateOut
}

// Model 一次构建的完整运行模型：Stages -> Containers(Job) -> Elements(Task)。
// Stage 0永远是触发Stage，运行期遍历从下标1开始
type Model struct {
	Name   string   `json:"name"`
	Desc   string   `json:"desc,omitempty"`
	Stages []*Stage `json:"stages"`
}

// Stage 阶段
type Stage struct {
	ID            string              `json:"id"`
	Name          string              `json:"name,omitempty"`
	Status        engine.BuildStatus  `json:"status,omitempty"`
	ReviewStatus  engine.BuildStatus  `json:"reviewStatus,omitempty"`
	StartEpoch    int64               `json:"startEpoch,omitempty"`
	Elapsed       int64               `json:"elapsed,omitempty"`
	ControlOption *StageControlOption `json:"stageControlOption,omitempty"`
	Containers    []*Container        `json:"containers"`
}

// Container Job节点，Kind区分触发/有编译环境/无编译环境三种变体
type Container struct {
	Kind            ContainerKind      `json:"kind"`
	ID              string             `json:"id"`
	ContainerHashID string             `json:"containerHashId,omitempty"`
	Name            string             `json:"name,omitempty"`
	Status          engine.BuildStatus `json:"status,omitempty"`
	StartVMStatus   engine.BuildStatus `json:"startVMStatus,omitempty"`
	StartEpoch      int64              `json:"startEpoch,omitempty"`
	SystemElapsed   int64              `json:"systemElapsed,omitempty"`
	ElementElapsed  int64              `json:"elementElapsed,omitempty"`
	CanRetry        *bool              `json:"canRetry,omitempty"`
	JobControlOption *JobControlOption `json:"jobControlOption,omitempty"`
	MutexGroup      *MutexGroup        `json:"mutexGroup,omitempty"`
	//DispatchType 仅有编译环境的Job携带
	DispatchType *DispatchInfo `json:"dispatchType,omitempty"`
	//Params 触发Job声明的启动参数
	Params []*BuildFormProperty `json:"params,omitempty"`
	//MaxRunningMinutes 旧数据的超时配置，初始化时折算进JobControlOption
	MaxRunningMinutes int        `json:"maxRunningMinutes,omitempty"`
	Elements          []*Element `json:"elements"`
}

// DispatchInfo 声明的环境类型，Value由具体分发器用mapstructure解码
type DispatchInfo struct {
	Type  string                 `json:"type"`
	Value map[string]interface{} `json:"value,omitempty"`
}

// BuildFormProperty 触发参数声明
type BuildFormProperty struct {
	ID           string `json:"id"`
	Required     bool   `json:"required"`
	Type         string `json:"type"`
	DefaultValue string `json:"defaultValue"`
	Desc         string `json:"desc,omitempty"`
}

// Element 任务节点
type Element struct {
	Kind       ElementKind        `json:"kind"`
	ID         string             `json:"id"`
	Name       string             `json:"name,omitempty"`
	AtomCode   string             `json:"atomCode,omitempty"`
	Version    string             `json:"version,omitempty"`
	Status     engine.BuildStatus `json:"status,omitempty"`
	StartEpoch int64              `json:"startEpoch,omitempty"`
	Elapsed    *int64             `json:"elapsed,omitempty"`
	CanRetry   *bool              `json:"canRetry,omitempty"`
	ErrorType  engine.ErrorType   `json:"errorType,omitempty"`
	ErrorCode  int                `json:"errorCode,omitempty"`
	ErrorMsg   string             `json:"errorMsg,omitempty"`
	//ReviewUsers 人工审核元素的审核人，任务启动时才做变量展开
	ReviewUsers []string `json:"reviewUsers,omitempty"`
	//SCM元素的拉取信息
	Revision        string `json:"revision,omitempty"`
	BranchName      string `json:"branchName,omitempty"`
	RepositoryID    string `json:"repositoryId,omitempty"`
	SpecifyRevision bool   `json:"specifyRevision,omitempty"`
	AdditionalOptions *ElementAdditionalOptions `json:"additionalOptions,omitempty"`
}

// IsEnable 元素是否启用，未配置附加选项时默认启用
func (e *Element) IsEnable() bool {
	if e.AdditionalOptions == nil {
		return true
	}
	return e.AdditionalOptions.Enable
}

// TriggerStage 返回触发Stage
func (m *Model) TriggerStage() *Stage {
	if len(m.Stages) == 0 {
		return nil
	}
	return m.Stages[0]
}

// TriggerContainer 返回触发Job
func (m *Model) TriggerContainer() *Container {
	stage := m.TriggerStage()
	if stage == nil || len(stage.Containers) == 0 {
		return nil
	}
	return stage.Containers[0]
}
