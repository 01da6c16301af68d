package engine

// ActionType 事件动作
type ActionType string

const (
	ActionStart     ActionType = "START"
	ActionRetry     ActionType = "RETRY"
	ActionRefresh   ActionType = "REFRESH"
	ActionTerminate ActionType = "TERMINATE"
	ActionEnd       ActionType = "END"
)

// IsTerminate 是否是终止动作
func (a ActionType) IsTerminate() bool {
	return a == ActionTerminate || a == ActionEnd
}

// Event 引擎事件：所有控制器之间只通过事件解耦，
// DelayMills大于0表示延迟投递（监控自调度、互斥组等待重试都依赖它）
type Event interface {
	Topic() string
	Delay() int64
}

// EventHead 事件公共头
type EventHead struct {
	Source     string `json:"source"`
	ProjectID  string `json:"projectId"`
	PipelineID string `json:"pipelineId"`
	BuildID    string `json:"buildId"`
	UserID     string `json:"userId"`
	TraceID    string `json:"traceId,omitempty"`
	DelayMills int64  `json:"delayMills,omitempty"`
}

// Delay 延迟毫秒数
func (h *EventHead) Delay() int64 { return h.DelayMills }

// 事件主题，同时作为asynq的任务类型
const (
	TopicBuildStart        = "engine:build:start"
	TopicBuildCancel       = "engine:build:cancel"
	TopicBuildMonitor      = "engine:build:monitor"
	TopicBuildFinish       = "engine:build:finish"
	TopicBuildStage        = "engine:build:stage"
	TopicBuildContainer    = "engine:build:container"
	TopicAgentStartup      = "engine:agent:startup"
	TopicAgentShutdown     = "engine:agent:shutdown"
	TopicBuildLessStartup  = "engine:buildless:startup"
	TopicBuildLessShutdown = "engine:buildless:shutdown"
	TopicDetailChanged     = "engine:detail:changed"
)

// BuildStartEvent 构建启动事件，驱动BuildStartControl
type BuildStartEvent struct {
	EventHead
	TaskID     string      `json:"taskId"`
	Status     BuildStatus `json:"status"`
	ActionType ActionType  `json:"actionType"`
}

func (*BuildStartEvent) Topic() string { return TopicBuildStart }

// BuildCancelEvent 构建取消事件，驱动BuildCancelControl
type BuildCancelEvent struct {
	EventHead
	Status BuildStatus `json:"status"`
}

func (*BuildCancelEvent) Topic() string { return TopicBuildCancel }

// BuildMonitorEvent 构建监控事件，由MonitorControl自投递
type BuildMonitorEvent struct {
	EventHead
	ExecuteCount int `json:"executeCount"`
}

func (*BuildMonitorEvent) Topic() string { return TopicBuildMonitor }

// BuildFinishEvent 构建结束广播
type BuildFinishEvent struct {
	EventHead
	Status    BuildStatus `json:"status"`
	ErrorType ErrorType   `json:"errorType,omitempty"`
	ErrorCode int         `json:"errorCode,omitempty"`
	ErrorMsg  string      `json:"errorMsg,omitempty"`
}

func (*BuildFinishEvent) Topic() string { return TopicBuildFinish }

// StageEvent 推进一个Stage
type StageEvent struct {
	EventHead
	StageID    string     `json:"stageId"`
	ActionType ActionType `json:"actionType"`
}

func (*StageEvent) Topic() string { return TopicBuildStage }

// ContainerEvent 推进一个Job
type ContainerEvent struct {
	EventHead
	StageID       string     `json:"stageId"`
	ContainerID   string     `json:"containerId"`
	ContainerType string     `json:"containerType"`
	ActionType    ActionType `json:"actionType"`
	Reason        string     `json:"reason,omitempty"`
	ErrorCode     int        `json:"errorCode,omitempty"`
	ErrorTypeName string     `json:"errorTypeName,omitempty"`
}

func (*ContainerEvent) Topic() string { return TopicBuildContainer }

// AgentStartupEvent 构建机环境启动，引擎与分发器的边界
type AgentStartupEvent struct {
	EventHead
	StageID       string `json:"stageId"`
	ContainerID   string `json:"containerId"`
	ContainerHash string `json:"containerHashId,omitempty"`
	DispatchType  string `json:"dispatchType"`
	TaskID        string `json:"taskId"`
	ExecuteCount  int    `json:"executeCount"`
	Retry         int    `json:"retry,omitempty"`
}

func (*AgentStartupEvent) Topic() string { return TopicAgentStartup }

// AgentShutdownEvent 构建机环境关机
type AgentShutdownEvent struct {
	EventHead
	ContainerID  string `json:"containerId,omitempty"`
	DispatchType string `json:"dispatchType,omitempty"`
	BuildResult  bool   `json:"buildResult"`
	ExecuteCount int    `json:"executeCount"`
}

func (*AgentShutdownEvent) Topic() string { return TopicAgentShutdown }

// BuildLessStartupEvent 无编译环境启动
type BuildLessStartupEvent struct {
	EventHead
	StageID      string `json:"stageId"`
	ContainerID  string `json:"containerId"`
	TaskID       string `json:"taskId"`
	ExecuteCount int    `json:"executeCount"`
}

func (*BuildLessStartupEvent) Topic() string { return TopicBuildLessStartup }

// BuildLessShutdownEvent 无编译环境关机广播，没有无编译任务时为幂等空操作
type BuildLessShutdownEvent struct {
	EventHead
	ContainerID  string `json:"containerId,omitempty"`
	BuildResult  bool   `json:"buildResult"`
	ExecuteCount int    `json:"executeCount"`
}

func (*BuildLessShutdownEvent) Topic() string { return TopicBuildLessShutdown }

// DetailChangedEvent Detail树变更通知，供历史/推送等旁路消费
type DetailChangedEvent struct {
	EventHead
}

func (*DetailChangedEvent) Topic() string { return TopicDetailChanged }

// Dispatcher 事件分发器，控制器只依赖该接口
type Dispatcher interface {
	Dispatch(events ...Event) error
}
