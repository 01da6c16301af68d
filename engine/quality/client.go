package quality

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine/config"
)

// ruleResponse 规则服务的应答包装
type ruleResponse struct {
	Status  int          `json:"status"`
	Message string       `json:"message"`
	Data    *CheckResult `json:"data"`
}

// RestyRuleService 远程红线规则服务
type RestyRuleService struct {
	client   *resty.Client
	endpoint string
}

// NewRestyRuleService 创建规则服务客户端
func NewRestyRuleService(cfg config.Quality) *RestyRuleService {
	client := resty.New().
		SetTimeout(time.Second * 10).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &RestyRuleService{client: client, endpoint: cfg.Endpoint}
}

// Check 调远程规则服务
func (s *RestyRuleService) Check(ctx context.Context, request *CheckRequest) (*CheckResult, error) {
	result := &ruleResponse{}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(request).
		SetResult(result).
		Post(s.endpoint + "/api/service/quality/check")
	if err != nil {
		return nil, errors.Wrapf(err, "红线规则服务请求失败 %s", request.BuildID)
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("红线规则服务应答异常 %s code=%d", request.BuildID, resp.StatusCode())
	}
	if result.Status != 0 || result.Data == nil {
		return nil, errors.Errorf("红线规则服务业务异常 %s %s", request.BuildID, result.Message)
	}
	return result.Data, nil
}

// AllowAllRuleService 未接规则服务时的默认实现，一律放行
type AllowAllRuleService struct{}

// Check 直接放行
func (AllowAllRuleService) Check(ctx context.Context, request *CheckRequest) (*CheckResult, error) {
	return &CheckResult{Success: true, MetadataReady: true}, nil
}

// NewRuleService 按配置决定用远程服务还是直接放行
func NewRuleService(cfg config.Quality) RuleService {
	if cfg.Endpoint == "" {
		return AllowAllRuleService{}
	}
	return NewRestyRuleService(cfg)
}
