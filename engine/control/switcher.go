package control

import (
	"github.com/chenyingqiao/pipeline-engine/engine"
)

// SwitchOnCancel 取消时的状态收敛：不同运行态映射到对应的取消终态，
// 已结束的状态保持不动
func SwitchOnCancel(current, cancelStatus engine.BuildStatus) engine.BuildStatus {
	switch {
	case current.IsFinish():
		return current
	case current.IsReadyToRun():
		return engine.StatusCanceled
	case current == engine.StatusReviewing:
		return engine.StatusReviewAbort
	case current.IsRunning():
		return cancelStatus
	case current == engine.StatusDependentWaiting:
		return engine.StatusCanceled
	default:
		return cancelStatus
	}
}
