package engine

// 引擎消费的外部协作方，全部以窄接口出现。
// 实现方可以是远程服务，也可以是进程内的默认实现。

// BuildLogPrinter 向构建日志流输出一行，红/黄线用于用户可见的告警，
// 状态落库前必须先打日志，保证观察者不会先看到状态再看到解释
type BuildLogPrinter interface {
	AddLine(buildID string, message string, tag string, jobID string, executeCount int)
	AddRedLine(buildID string, message string, tag string, jobID string, executeCount int)
	AddYellowLine(buildID string, message string, tag string, jobID string, executeCount int)
}

// VariableService 构建变量解析
type VariableService interface {
	GetAllVariable(buildID string) (map[string]string, error)
	BatchUpdateVariable(projectID, pipelineID, buildID string, vars map[string]string) error
	GetBuildExecuteCount(buildID string) int
}

// QuotaService Job配额准入
type QuotaService interface {
	CheckJobQuota(event *AgentStartupEvent) bool
	InsertRunningJob(event *AgentStartupEvent)
	DeleteRunningJob(projectID, pipelineID, buildID string)
}

// Response 运行锁策略的应答
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    BuildStatus `json:"data"`
}

// IsNotOk 是否被拦截
func (r *Response) IsNotOk() bool { return r.Status != 0 }

// RunLockInterceptor 流水线运行锁策略（单构建/并行/互斥锁定等），
// 决定排队中的下一个构建能否启动
type RunLockInterceptor interface {
	CheckRunLock(runLockType int, pipelineID string) *Response
}

// ScmService 源码库代理：解析触发器元素的最新revision
type ScmService interface {
	FetchLatestRevision(projectID, pipelineID string, repoID string, branchName string, variables map[string]string) (string, error)
}
