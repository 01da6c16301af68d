package control

import (
	"context"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/detail"
	"github.com/chenyingqiao/pipeline-engine/engine/lock"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/mutex"
)

// BuildCancelControl 取消是协作式的状态下沉，不是硬杀：
// 逐Job释放互斥、按当前状态映射取消态、给环境发关机，最后广播结束
type BuildCancelControl struct {
	dao        *dao.DAO
	detail     *detail.Service
	mutex      *mutex.Control
	dispatcher engine.Dispatcher
	runtime    *RuntimeService
	redis      redis.UniversalClient
}

// NewBuildCancelControl 创建取消控制器
func NewBuildCancelControl(
	d *dao.DAO,
	detailSvc *detail.Service,
	mutexCtl *mutex.Control,
	dispatcher engine.Dispatcher,
	runtime *RuntimeService,
	client redis.UniversalClient,
) *BuildCancelControl {
	return &BuildCancelControl{
		dao:        d,
		detail:     detailSvc,
		mutex:      mutexCtl,
		dispatcher: dispatcher,
		runtime:    runtime,
		redis:      client,
	}
}

// Handle 处理构建取消事件，已结束的构建直接放弃
func (cc *BuildCancelControl) Handle(ctx context.Context, event *engine.BuildCancelEvent) error {
	buildLock := lock.NewBuildIDLock(cc.redis, event.BuildID)
	if err := buildLock.Lock(ctx); err != nil {
		glog.Errorf("取消抢构建锁失败，等待重投 %s %v", event.BuildID, err)
		return nil
	}
	defer func() { _ = buildLock.Unlock(ctx) }()

	build, err := cc.dao.GetBuild(event.BuildID)
	if err != nil {
		glog.Errorf("取消事件找不到构建，丢弃 %s %v", event.BuildID, err)
		return nil
	}
	if build.Status.IsFinish() {
		glog.Infof("构建已结束，放弃取消 %s status=%s", event.BuildID, build.Status)
		return nil
	}
	cancelStatus := event.Status
	if cancelStatus == "" || !cancelStatus.IsFinish() {
		cancelStatus = engine.StatusCanceled
	}

	m, err := cc.detail.GetBuildModel(event.BuildID)
	if err != nil {
		// 模型丢了也不能让构建卡死，直接强制收尾
		glog.Errorf("取消时模型缺失，强制结束 %s %v", event.BuildID, err)
		return cc.dispatchFinish(event, cancelStatus)
	}

	cc.cancelContainers(ctx, event, build, m, cancelStatus)

	// 无编译Job可能散落各处，无条件广播关机，没有无编译任务时是幂等空操作
	if err := cc.dispatcher.Dispatch(&engine.BuildLessShutdownEvent{
		EventHead: engine.EventHead{
			Source:     "cancelBuild",
			ProjectID:  event.ProjectID,
			PipelineID: event.PipelineID,
			BuildID:    event.BuildID,
			UserID:     event.UserID,
		},
		BuildResult:  false,
		ExecuteCount: build.ExecuteCount,
	}); err != nil {
		glog.Errorf("无编译关机广播失败 %s %v", event.BuildID, err)
	}

	if err := cc.detail.BuildCancel(ctx, event.BuildID, cancelStatus, event.UserID); err != nil {
		glog.Errorf("取消落详情失败 %s %v", event.BuildID, err)
	}
	return cc.dispatchFinish(event, cancelStatus)
}

// cancelContainers 逐个未结束的Job：释放互斥、状态映射下沉、有编译环境的发关机
func (cc *BuildCancelControl) cancelContainers(
	ctx context.Context,
	event *engine.BuildCancelEvent,
	build *dao.BuildRecord,
	m *model.Model,
	cancelStatus engine.BuildStatus,
) {
	containers, err := cc.dao.ListContainers(event.BuildID)
	if err != nil {
		glog.Errorf("取消时Job列表读取失败 %s %v", event.BuildID, err)
		return
	}
	variables, err := cc.runtime.GetAllVariable(event.BuildID)
	if err != nil {
		variables = map[string]string{}
	}
	for _, container := range containers {
		if container.Status.IsFinish() || container.ContainerType == string(model.ContainerTrigger) {
			continue
		}
		conditions, err := model.ParseContainerConditions(container.Conditions)
		if err == nil && conditions.MutexGroup != nil {
			mutex.DecorateMutexGroup(conditions.MutexGroup, variables)
			if err := cc.mutex.ReleaseMutex(ctx, conditions.MutexGroup,
				event.ProjectID, event.BuildID, container.ContainerId); err != nil {
				glog.Errorf("取消时互斥释放失败 %s/%s %v", event.BuildID, container.ContainerId, err)
			}
		}
		next := SwitchOnCancel(container.Status, cancelStatus)
		if next != container.Status {
			if err := cc.dao.UpdateContainerStatus(event.BuildID, container.ContainerId, next); err != nil {
				glog.Errorf("取消时Job状态落库失败 %s/%s %v", event.BuildID, container.ContainerId, err)
			}
		}
		if container.ContainerType == string(model.ContainerVMBuild) && conditions != nil && conditions.DispatchType != nil {
			if err := cc.dispatcher.Dispatch(&engine.AgentShutdownEvent{
				EventHead: engine.EventHead{
					Source:     "cancelBuild",
					ProjectID:  event.ProjectID,
					PipelineID: event.PipelineID,
					BuildID:    event.BuildID,
					UserID:     event.UserID,
				},
				ContainerID:  container.ContainerId,
				DispatchType: conditions.DispatchType.Type,
				BuildResult:  false,
				ExecuteCount: build.ExecuteCount,
			}); err != nil {
				glog.Errorf("取消关机事件投递失败 %s/%s %v", event.BuildID, container.ContainerId, err)
			}
		}
	}
}

func (cc *BuildCancelControl) dispatchFinish(event *engine.BuildCancelEvent, status engine.BuildStatus) error {
	return cc.dispatcher.Dispatch(&engine.BuildFinishEvent{
		EventHead: engine.EventHead{
			Source:     "cancelBuild",
			ProjectID:  event.ProjectID,
			PipelineID: event.PipelineID,
			BuildID:    event.BuildID,
			UserID:     event.UserID,
		},
		Status: status,
	})
}
