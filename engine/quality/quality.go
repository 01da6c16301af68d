package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// Position 红线卡点位置
type Position string

const (
	//PositionBefore 准入，Job启动前
	PositionBefore Position = "BEFORE"
	//PositionAfter 准出，Job结束后
	PositionAfter Position = "AFTER"
)

// lazyTimeGap 规则服务扫描元数据未就绪时的轮询间隔，单位秒。
// 前十轮拉大步长快速让路，后十轮短间隔收敛
var lazyTimeGap = []int{1, 3, 5, 7, 9, 11, 13, 15, 17, 19, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20}

// 裁决结论通过任务参数流转的键
const (
	TaskParamAuditUsers          = "bsAuditUsers"
	TaskParamAuditTimeoutMinutes = "bsAuditTimeoutMinutes"
)

// CheckRequest 红线检查请求
type CheckRequest struct {
	ProjectID  string   `json:"projectId"`
	PipelineID string   `json:"pipelineId"`
	BuildID    string   `json:"buildId"`
	TaskID     string   `json:"taskId"`
	Position   Position `json:"position"`
}

// RuleDescription 单条规则的判定结果
type RuleDescription struct {
	RuleName string `json:"ruleName"`
	Message  string `json:"message"`
	Pass     bool   `json:"pass"`
}

// CheckResult 红线检查结果
type CheckResult struct {
	Success bool `json:"success"`
	//MetadataReady 指标数据是否已就绪，未就绪需要轮询等待
	MetadataReady bool `json:"metadataReady"`
	//FailEnd 失败即终止，不走人工审核
	FailEnd bool `json:"failEnd"`
	//Auditors 失败转人工审核时的审核人
	Auditors []string `json:"auditors,omitempty"`
	//AuditTimeoutMinutes 人工审核超时
	AuditTimeoutMinutes int               `json:"auditTimeoutMinutes,omitempty"`
	RuleDescriptions    []RuleDescription `json:"ruleDescriptions,omitempty"`
}

// RuleService 红线规则服务
type RuleService interface {
	Check(ctx context.Context, request *CheckRequest) (*CheckResult, error)
}

// AtomResponse 红线元素的裁决：任务的下一个状态与附带参数
type AtomResponse struct {
	Status    engine.BuildStatus
	ErrorType engine.ErrorType
	ErrorCode int
	ErrorMsg  string
	Params    map[string]interface{}
}

// Gate 红线卡点
type Gate struct {
	service RuleService
	printer engine.BuildLogPrinter
}

// NewGate 创建红线卡点
func NewGate(service RuleService, printer engine.BuildLogPrinter) *Gate {
	return &Gate{service: service, printer: printer}
}

// Check 拿红线结果，指标未就绪按懒扫描间隔轮询等待
func (g *Gate) Check(ctx context.Context, request *CheckRequest) (*CheckResult, error) {
	var result *CheckResult
	var err error
	for round := 0; ; round++ {
		result, err = g.service.Check(ctx, request)
		if err != nil {
			return nil, err
		}
		if result.MetadataReady || round >= len(lazyTimeGap) {
			return result, nil
		}
		glog.Infof("红线指标未就绪，等待重查 %s round=%d", request.BuildID, round)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(lazyTimeGap[round]) * time.Second):
		}
	}
}

// HandleResult 结果转裁决。通过则逐条打规则日志并延迟刷新任务状态；
// 失败按failEnd决定直接红线失败还是转人工审核
func (g *Gate) HandleResult(buildID, jobID string, executeCount int, result *CheckResult) *AtomResponse {
	for _, rule := range result.RuleDescriptions {
		line := fmt.Sprintf("质量红线规则[%s]：%s", rule.RuleName, rule.Message)
		if rule.Pass {
			g.printer.AddLine(buildID, line, "", jobID, executeCount)
		} else {
			g.printer.AddRedLine(buildID, line, "", jobID, executeCount)
		}
	}
	if result.Success {
		return &AtomResponse{
			Status: engine.StatusSucceed,
			Params: map[string]interface{}{
				engine.TaskParamRefreshDelayMills: int64(5000),
				engine.TaskParamQualityResult:     string(engine.StatusSucceed),
			},
		}
	}
	if result.FailEnd {
		g.printer.AddRedLine(buildID, "质量红线检查未通过，构建终止", "", jobID, executeCount)
		return &AtomResponse{
			Status:    engine.StatusQualityCheckFail,
			ErrorType: engine.ErrorTypeUser,
			ErrorCode: engine.ErrorCodeUserQualityCheckFail,
			ErrorMsg:  "quality check fail",
			Params: map[string]interface{}{
				engine.TaskParamQualityResult: string(engine.StatusQualityCheckFail),
			},
		}
	}
	g.printer.AddYellowLine(buildID,
		fmt.Sprintf("质量红线检查未通过，等待审核，审核人：%v", result.Auditors), "", jobID, executeCount)
	return &AtomResponse{
		Status: engine.StatusReviewing,
		Params: map[string]interface{}{
			TaskParamAuditUsers:          result.Auditors,
			TaskParamAuditTimeoutMinutes: result.AuditTimeoutMinutes,
		},
	}
}

// TryFinish 审核挂起后的收尾裁决：已有红线结果直接用，
// 否则看人工动作，超时按红线失败处理
func (g *Gate) TryFinish(taskParams map[string]interface{}, startTime time.Time, auditTimeoutMinutes int) *AtomResponse {
	if recorded, ok := taskParams[engine.TaskParamQualityResult].(string); ok && recorded != "" {
		status := engine.ParseBuildStatus(recorded)
		if status == engine.StatusQualityCheckFail {
			return &AtomResponse{
				Status:    status,
				ErrorType: engine.ErrorTypeUser,
				ErrorCode: engine.ErrorCodeUserQualityCheckFail,
				ErrorMsg:  "quality check fail",
			}
		}
		return &AtomResponse{Status: status}
	}
	if action, ok := taskParams[engine.TaskParamManualAction].(string); ok && action != "" {
		switch engine.ManualReviewAction(action) {
		case engine.ManualReviewProcess:
			return &AtomResponse{Status: engine.StatusReviewProcessed}
		case engine.ManualReviewAbort:
			return &AtomResponse{
				Status:    engine.StatusReviewAbort,
				ErrorType: engine.ErrorTypeUser,
				ErrorCode: engine.ErrorCodeUserQualityCheckFail,
				ErrorMsg:  "quality review abort",
			}
		}
	}
	if auditTimeoutMinutes > 0 && time.Since(startTime) > time.Duration(auditTimeoutMinutes)*time.Minute {
		return &AtomResponse{
			Status:    engine.StatusQualityCheckFail,
			ErrorType: engine.ErrorTypeUser,
			ErrorCode: engine.ErrorCodeUserQualityCheckFail,
			ErrorMsg:  "quality review timeout",
		}
	}
	return &AtomResponse{Status: engine.StatusReviewing}
}
