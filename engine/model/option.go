package model

// JobRunCondition Job级运行条件
type JobRunCondition string

const (
	JobRunOnStageRunning         JobRunCondition = "STAGE_RUNNING"
	JobRunCustomVariableMatch    JobRunCondition = "CUSTOM_VARIABLE_MATCH"
	JobRunCustomVariableNotMatch JobRunCondition = "CUSTOM_VARIABLE_MATCH_NOT_RUN"
)

// RunCondition 元素级运行条件
type RunCondition string

const (
	RunPreTaskSuccess          RunCondition = "PRE_TASK_SUCCESS"
	RunPreTaskFailedButCancel  RunCondition = "PRE_TASK_FAILED_BUT_CANCEL"
	RunPreTaskFailedOnly       RunCondition = "PRE_TASK_FAILED_ONLY"
	RunPreTaskFailedEvenCancel RunCondition = "PRE_TASK_FAILED_EVEN_CANCEL"
	RunCustomVariableMatch     RunCondition = "CUSTOM_VARIABLE_MATCH"
	RunCustomVariableNotMatch  RunCondition = "CUSTOM_VARIABLE_MATCH_NOT_RUN"
)

// IsContinueWhenFailed 前序失败仍继续的条件集合
func (c RunCondition) IsContinueWhenFailed() bool {
	switch c {
	case RunPreTaskFailedButCancel, RunPreTaskFailedOnly, RunPreTaskFailedEvenCancel:
		return true
	}
	return false
}

// KV 自定义变量的键值对
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// JobControlOption Job控制选项
type JobControlOption struct {
	Enable bool `json:"enable"`
	//Timeout 单位分钟，0取默认900
	Timeout              int             `json:"timeout,omitempty"`
	RunCondition         JobRunCondition `json:"runCondition,omitempty"`
	CustomVariables      []*KV           `json:"customVariables,omitempty"`
	DependOnContainerIDs []string        `json:"dependOnContainerId,omitempty"`
}

// StageControlOption Stage控制选项
type StageControlOption struct {
	Enable bool `json:"enable"`
	//Timeout 人工触发等待的超时，单位小时
	Timeout       int      `json:"timeout,omitempty"`
	ManualTrigger bool     `json:"manualTrigger,omitempty"`
	TriggerUsers  []string `json:"triggerUsers,omitempty"`
	Triggered     bool     `json:"triggered,omitempty"`
	ReviewParams  []*KV    `json:"reviewParams,omitempty"`
}

// MutexGroup 互斥组配置，组名支持变量占位
type MutexGroup struct {
	Enable         bool   `json:"enable"`
	MutexGroupName string `json:"mutexGroupName,omitempty"`
	//RuntimeMutexGroup 变量展开后的组名，运行期填充
	RuntimeMutexGroup string `json:"runtimeMutexGroup,omitempty"`
	QueueEnable       bool   `json:"queueEnable,omitempty"`
	//Queue 排队上限，1~10
	Queue int `json:"queue,omitempty"`
	//Timeout 排队超时，单位秒
	Timeout int `json:"timeout,omitempty"`
}

// ElementAdditionalOptions 元素附加选项
type ElementAdditionalOptions struct {
	Enable             bool         `json:"enable"`
	ContinueWhenFailed bool         `json:"continueWhenFailed,omitempty"`
	RetryWhenFailed    bool         `json:"retryWhenFailed,omitempty"`
	RetryCount         int          `json:"retryCount,omitempty"`
	Timeout            int64        `json:"timeout,omitempty"`
	RunCondition       RunCondition `json:"runCondition,omitempty"`
	CustomVariables    []*KV        `json:"customVariables,omitempty"`
	//ElementPostInfo 非空表示这是某个父元素的post任务
	ElementPostInfo *ElementPostInfo `json:"elementPostInfo,omitempty"`
}

// ElementPostInfo post任务与父元素的关联
type ElementPostInfo struct {
	ParentElementID   string `json:"parentElementId"`
	PostCondition     string `json:"postCondition,omitempty"`
	ParentElementName string `json:"parentElementName,omitempty"`
}
