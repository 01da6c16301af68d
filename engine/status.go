package engine

// BuildStatus 构建状态，语义化的枚举：各Control与Detail层对状态的判定必须一致，
// 全部通过下面的谓词方法进行，禁止散落的字符串比较
type BuildStatus string

const (
	StatusSucceed          BuildStatus = "SUCCEED"           //成功
	StatusFailed           BuildStatus = "FAILED"            //失败
	StatusCanceled         BuildStatus = "CANCELED"          //取消
	StatusRunning          BuildStatus = "RUNNING"           //运行中
	StatusTerminate        BuildStatus = "TERMINATE"         //终止
	StatusReviewing        BuildStatus = "REVIEWING"         //审核中
	StatusReviewAbort      BuildStatus = "REVIEW_ABORT"      //审核驳回
	StatusReviewProcessed  BuildStatus = "REVIEW_PROCESSED"  //审核通过
	StatusHeartbeatTimeout BuildStatus = "HEARTBEAT_TIMEOUT" //心跳超时
	StatusPrepareEnv       BuildStatus = "PREPARE_ENV"       //准备环境中
	StatusUnexec           BuildStatus = "UNEXEC"            //从未执行
	StatusSkip             BuildStatus = "SKIP"              //跳过
	StatusQualityCheckFail BuildStatus = "QUALITY_CHECK_FAIL" //质量红线检查失败
	StatusQueue            BuildStatus = "QUEUE"             //排队
	StatusLoopWaiting      BuildStatus = "LOOP_WAITING"      //轮循等待
	StatusCallWaiting      BuildStatus = "CALL_WAITING"      //等待回调
	StatusTryFinally       BuildStatus = "TRY_FINALLY"       //补偿任务，前面失败该类任务才执行
	StatusQueueTimeout     BuildStatus = "QUEUE_TIMEOUT"     //排队超时
	StatusExecTimeout      BuildStatus = "EXEC_TIMEOUT"      //执行超时
	StatusQueueCache       BuildStatus = "QUEUE_CACHE"       //队列待处理，启动/取消过程中的瞬间状态
	StatusRetry            BuildStatus = "RETRY"             //重试
	StatusPause            BuildStatus = "PAUSE"             //暂停执行，等待事件
	StatusStageSuccess     BuildStatus = "STAGE_SUCCESS"     //阶段性完成
	StatusQuotaFailed      BuildStatus = "QUOTA_FAILED"      //配额不够失败
	StatusDependentWaiting BuildStatus = "DEPENDENT_WAITING" //依赖等待
	StatusUnknown          BuildStatus = "UNKNOWN"           //未知状态
)

// ParseBuildStatus 解析状态字符串，非法输入一律归为UNKNOWN
func ParseBuildStatus(name string) BuildStatus {
	switch BuildStatus(name) {
	case StatusSucceed, StatusFailed, StatusCanceled, StatusRunning, StatusTerminate,
		StatusReviewing, StatusReviewAbort, StatusReviewProcessed, StatusHeartbeatTimeout,
		StatusPrepareEnv, StatusUnexec, StatusSkip, StatusQualityCheckFail, StatusQueue,
		StatusLoopWaiting, StatusCallWaiting, StatusTryFinally, StatusQueueTimeout,
		StatusExecTimeout, StatusQueueCache, StatusRetry, StatusPause, StatusStageSuccess,
		StatusQuotaFailed, StatusDependentWaiting:
		return BuildStatus(name)
	}
	return StatusUnknown
}

// IsFinish 是否已结束
func (s BuildStatus) IsFinish() bool {
	return s.IsFailure() || s.IsSuccess() || s.IsCancel()
}

// IsFailure 是否失败，包含被动停止、超时和配额不足
func (s BuildStatus) IsFailure() bool {
	return s == StatusFailed || s.IsPassiveStop() || s.IsTimeout() || s == StatusQuotaFailed
}

// IsSuccess 是否成功，跳过和审核通过视为成功
func (s BuildStatus) IsSuccess() bool {
	return s == StatusSucceed || s == StatusSkip || s == StatusReviewProcessed
}

// IsCancel 是否取消
func (s BuildStatus) IsCancel() bool {
	return s == StatusCanceled
}

// IsRunning 是否运行中
func (s BuildStatus) IsRunning() bool {
	return s == StatusRunning ||
		s == StatusLoopWaiting ||
		s == StatusReviewing ||
		s == StatusPrepareEnv ||
		s == StatusCallWaiting ||
		s == StatusPause
}

// IsReview 是否是审核结论
func (s BuildStatus) IsReview() bool {
	return s == StatusReviewAbort || s == StatusReviewProcessed
}

// IsReadyToRun 是否处于待启动状态
func (s BuildStatus) IsReadyToRun() bool {
	return s == StatusQueue || s == StatusQueueCache || s == StatusRetry
}

// IsPassiveStop 是否被动停止
func (s BuildStatus) IsPassiveStop() bool {
	return s == StatusTerminate || s == StatusReviewAbort || s == StatusQualityCheckFail
}

// IsPause 是否暂停
func (s BuildStatus) IsPause() bool {
	return s == StatusPause
}

// IsTimeout 是否超时
func (s BuildStatus) IsTimeout() bool {
	return s == StatusQueueTimeout || s == StatusExecTimeout || s == StatusHeartbeatTimeout
}

func (s BuildStatus) String() string {
	return string(s)
}
