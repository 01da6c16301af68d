package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []BuildStatus{
	StatusSucceed, StatusFailed, StatusCanceled, StatusRunning, StatusTerminate,
	StatusReviewing, StatusReviewAbort, StatusReviewProcessed, StatusHeartbeatTimeout,
	StatusPrepareEnv, StatusUnexec, StatusSkip, StatusQualityCheckFail, StatusQueue,
	StatusLoopWaiting, StatusCallWaiting, StatusTryFinally, StatusQueueTimeout,
	StatusExecTimeout, StatusQueueCache, StatusRetry, StatusPause, StatusStageSuccess,
	StatusQuotaFailed, StatusDependentWaiting, StatusUnknown,
}

// 三个终态谓词互斥，IsFinish等价于三者的并
func TestStatusClosure(t *testing.T) {
	for _, status := range allStatuses {
		t.Run(status.String(), func(t *testing.T) {
			count := 0
			for _, hit := range []bool{status.IsSuccess(), status.IsFailure(), status.IsCancel()} {
				if hit {
					count++
				}
			}
			if status.IsFinish() {
				assert.Equal(t, 1, count, "终态只能命中一个谓词")
			} else {
				assert.Equal(t, 0, count, "非终态不能命中任何终态谓词")
			}
		})
	}
}

func TestParseBuildStatus(t *testing.T) {
	for _, status := range allStatuses {
		if status == StatusUnknown {
			continue
		}
		assert.Equal(t, status, ParseBuildStatus(status.String()))
	}
	assert.Equal(t, StatusUnknown, ParseBuildStatus("NOT_A_STATUS"))
	assert.Equal(t, StatusUnknown, ParseBuildStatus(""))
}

func TestStatusPredicateSets(t *testing.T) {
	assert.True(t, StatusQueueTimeout.IsFailure())
	assert.True(t, StatusQuotaFailed.IsFailure())
	assert.True(t, StatusQualityCheckFail.IsFailure())
	assert.True(t, StatusSkip.IsSuccess())
	assert.True(t, StatusReviewProcessed.IsSuccess())
	assert.False(t, StatusStageSuccess.IsFinish())
	assert.True(t, StatusPause.IsRunning())
	assert.True(t, StatusRetry.IsReadyToRun())
	assert.False(t, StatusRunning.IsReadyToRun())
}
