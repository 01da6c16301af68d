package dispatch

import (
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

// EnvDispatcher 构建环境分发器，每种环境类型一个实现
type EnvDispatcher interface {
	// Name 环境类型名，与模型里DispatchInfo.Type对应
	Name() string
	// Startup 拉起构建环境
	Startup(ctx context.Context, event *engine.AgentStartupEvent, info *model.DispatchInfo) error
	// Shutdown 回收构建环境
	Shutdown(ctx context.Context, event *engine.AgentShutdownEvent, info *model.DispatchInfo) error
}

// Registry 分发器注册表，启动期装配，运行期只读
type Registry struct {
	dispatchers map[string]EnvDispatcher
	quota       engine.QuotaService
	printer     engine.BuildLogPrinter
}

// NewRegistry 创建注册表，quota为nil时不做配额准入
func NewRegistry(quota engine.QuotaService, printer engine.BuildLogPrinter, dispatchers ...EnvDispatcher) *Registry {
	table := make(map[string]EnvDispatcher, len(dispatchers))
	for _, d := range dispatchers {
		table[d.Name()] = d
	}
	return &Registry{dispatchers: table, quota: quota, printer: printer}
}

// Pick 按环境类型选分发器
func (r *Registry) Pick(info *model.DispatchInfo) (EnvDispatcher, error) {
	if info == nil {
		return nil, engine.ErrDispatcherNotFound
	}
	dispatcher, ok := r.dispatchers[info.Type]
	if !ok {
		return nil, engine.ErrDispatcherNotFound
	}
	return dispatcher, nil
}

// Startup 配额准入后拉起环境，配额不足返回带配额错误码的错误
func (r *Registry) Startup(ctx context.Context, event *engine.AgentStartupEvent, info *model.DispatchInfo) error {
	dispatcher, err := r.Pick(info)
	if err != nil {
		return errors.Wrapf(err, "分发类型 %v", info)
	}
	if r.quota != nil {
		if !r.quota.CheckJobQuota(event) {
			r.printer.AddRedLine(event.BuildID, "项目构建机配额不足，无法分发", event.TaskID, event.ContainerID, event.ExecuteCount)
			return errors.WithMessagef(engine.ErrQuotaExceeded, "project %s", event.ProjectID)
		}
		r.quota.InsertRunningJob(event)
	}
	if err := dispatcher.Startup(ctx, event, info); err != nil {
		if r.quota != nil {
			r.quota.DeleteRunningJob(event.ProjectID, event.PipelineID, event.BuildID)
		}
		return errors.Wrapf(err, "环境拉起失败 %s/%s", event.BuildID, event.ContainerID)
	}
	glog.Infof("环境拉起成功 %s/%s type=%s", event.BuildID, event.ContainerID, info.Type)
	return nil
}

// Shutdown 回收环境并释放配额登记
func (r *Registry) Shutdown(ctx context.Context, event *engine.AgentShutdownEvent, info *model.DispatchInfo) error {
	dispatcher, err := r.Pick(info)
	if err != nil {
		return errors.Wrapf(err, "分发类型 %v", info)
	}
	if err := dispatcher.Shutdown(ctx, event, info); err != nil {
		return errors.Wrapf(err, "环境回收失败 %s/%s", event.BuildID, event.ContainerID)
	}
	if r.quota != nil {
		r.quota.DeleteRunningJob(event.ProjectID, event.PipelineID, event.BuildID)
	}
	return nil
}
