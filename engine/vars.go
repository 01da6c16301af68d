package engine

var VERSION = "v0.1.0"

// 任务参数里约定的键，审核动作与状态刷新延迟通过任务参数流转
const (
	TaskParamManualAction       = "BS_MANUAL_ACTION"
	TaskParamManualActionUserID = "BS_MANUAL_ACTION_USERID"
	TaskParamRefreshDelayMills  = "BS_ATOM_STATUS_REFRESH_DELAY_MILLS"
	TaskParamQualityResult      = "bsQualityResult"
)

// 内置变量键
const (
	VarPipelineBuildID   = "BK_CI_BUILD_ID"
	VarPipelineBuildNum  = "BK_CI_BUILD_NUM"
	VarPipelineTimeStart = "BK_CI_BUILD_START_TIME"
	VarProjectName       = "BK_CI_PROJECT_NAME"
)

// ManualReviewAction 人工审核动作
type ManualReviewAction string

const (
	ManualReviewProcess ManualReviewAction = "PROCESS"
	ManualReviewAbort   ManualReviewAction = "ABORT"
)
