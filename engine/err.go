package engine

import "github.com/pkg/errors"

var (
	//ErrBuildNotFound 构建记录不存在
	ErrBuildNotFound = errors.New("build is not found")

	//ErrModelNotFound 构建模型不存在
	ErrModelNotFound = errors.New("build model is not found")

	//ErrStageNotFound Stage记录不存在
	ErrStageNotFound = errors.New("build stage is not found")

	//ErrContainerNotFound Job记录不存在
	ErrContainerNotFound = errors.New("build container is not found")

	//ErrTaskNotFound 任务记录不存在
	ErrTaskNotFound = errors.New("build task is not found")

	//ErrDispatcherNotFound 未找到匹配的环境分发器
	ErrDispatcherNotFound = errors.New("dispatcher is not found for dispatch type")

	//ErrLockNotAcquired 未抢到分布式锁
	ErrLockNotAcquired = errors.New("lock is not acquired")

	//ErrMutexQueueFull 互斥组排队队列已满
	ErrMutexQueueFull = errors.New("mutex group queue is full")

	//ErrQuotaExceeded 项目构建机配额不足
	ErrQuotaExceeded = errors.New("job quota exceeded")

	//ErrStageNotPaused Stage不在挂起状态，人工操作被拒绝
	ErrStageNotPaused = errors.New("stage is not paused")

	//ErrQueueFull 流水线排队数已到上限
	ErrQueueFull = errors.New("pipeline build queue is full")

	//ErrBuildNotRetryable 构建不满足重试条件
	ErrBuildNotRetryable = errors.New("build is not retryable")

	//ErrTaskNotReviewing 任务不在审核中，审核动作被拒绝
	ErrTaskNotReviewing = errors.New("task is not reviewing")

	//ErrTriggerStageOnly 模型只有触发Stage
	ErrTriggerStageOnly = errors.New("model has trigger stage only")
)

// ErrorType 错误归类：用户错误终止自身构建，系统错误丢弃事件等待恢复
type ErrorType string

const (
	ErrorTypeUser   ErrorType = "USER"
	ErrorTypeSystem ErrorType = "SYSTEM"
	ErrorTypeThird  ErrorType = "THIRD_PARTY"
)

// 结构化错误码，随任务/构建落库并在日志中透出
const (
	ErrorCodeUserQualityCheckFail = 2199001 //质量红线拦截
	ErrorCodeUserJobTimeout       = 2199002 //Job排队或运行超时
	ErrorCodeUserQuotaLimit       = 2199003 //配额不足
	ErrorCodeUserBuildIntercept   = 2199004 //构建排队被拦截
	ErrorCodeSystemDispatchFail   = 2199101 //分发失败
)

// ErrorInfo 终止构建时随结束记录落库的错误明细
type ErrorInfo struct {
	TaskID    string    `json:"taskId"`
	TaskName  string    `json:"taskName"`
	ErrorType ErrorType `json:"errorType"`
	ErrorCode int       `json:"errorCode"`
	ErrorMsg  string    `json:"errorMsg"`
}
