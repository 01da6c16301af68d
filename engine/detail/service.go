package detail

import (
	"context"
	"time"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/lock"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Service 构建详情：运行模型树的唯一落库口径。
// 所有树上的修改都在构建粒度的分布式锁里做读改写，改完广播变更事件
type Service struct {
	dao        *dao.DAO
	redis      redis.UniversalClient
	dispatcher engine.Dispatcher
}

// NewService 创建详情服务
func NewService(d *dao.DAO, client redis.UniversalClient, dispatcher engine.Dispatcher) *Service {
	return &Service{dao: d, redis: client, dispatcher: dispatcher}
}

// Create 首次落库模型快照
func (s *Service) Create(projectID, buildID, startUser, triggerType string, buildNum int, m *model.Model) error {
	content, err := json.MarshalToString(m)
	if err != nil {
		return errors.Wrapf(err, "模型序列化失败 %s", buildID)
	}
	now := time.Now()
	return s.dao.CreateDetail(&dao.DetailRecord{
		ProjectId:   projectID,
		BuildId:     buildID,
		BuildNum:    buildNum,
		Model:       content,
		StartUser:   startUser,
		TriggerType: triggerType,
		Status:      engine.StatusQueue,
		StartTime:   &now,
	})
}

// GetBuildModel 读出运行模型树
func (s *Service) GetBuildModel(buildID string) (*model.Model, error) {
	record, err := s.dao.GetDetail(buildID)
	if err != nil {
		return nil, err
	}
	m := &model.Model{}
	if err := json.UnmarshalFromString(record.Model, m); err != nil {
		return nil, errors.Wrapf(err, "模型反序列化失败 %s", buildID)
	}
	return m, nil
}

// takeBuildStatus 详情状态只会单调走向终态，已结束的构建不再被改写
func takeBuildStatus(old, incoming engine.BuildStatus) engine.BuildStatus {
	if incoming == "" || old.IsFinish() {
		return old
	}
	return incoming
}

// update 锁内读改写。mutate返回false表示树没动，不落库不广播
func (s *Service) update(ctx context.Context, buildID string, status engine.BuildStatus, mutate func(m *model.Model) bool) error {
	detailLock := lock.NewDetailLock(s.redis, buildID)
	if err := detailLock.Lock(ctx); err != nil {
		return errors.Wrapf(err, "详情更新抢锁失败 %s", buildID)
	}
	defer func() {
		if err := detailLock.Unlock(ctx); err != nil {
			glog.Errorf("详情更新解锁失败 %s %v", buildID, err)
		}
	}()

	record, err := s.dao.GetDetail(buildID)
	if err != nil {
		return err
	}
	m := &model.Model{}
	if err := json.UnmarshalFromString(record.Model, m); err != nil {
		return errors.Wrapf(err, "模型反序列化失败 %s", buildID)
	}
	if !mutate(m) {
		return nil
	}
	content, err := json.MarshalToString(m)
	if err != nil {
		return errors.Wrapf(err, "模型序列化失败 %s", buildID)
	}
	final := takeBuildStatus(record.Status, status)
	if err := s.dao.UpdateDetailModel(buildID, content, final); err != nil {
		return err
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(&engine.DetailChangedEvent{
			EventHead: engine.EventHead{
				Source:    "detail",
				ProjectID: record.ProjectId,
				BuildID:   buildID,
			},
		}); err != nil {
			glog.Errorf("详情变更广播失败 %s %v", buildID, err)
		}
	}
	return nil
}

// BuildStart 构建进入运行：触发Stage整体记成功，耗时记为排队时长
func (s *Service) BuildStart(ctx context.Context, buildID string, queueElapsed int64) error {
	return s.update(ctx, buildID, engine.StatusRunning, func(m *model.Model) bool {
		stage := m.TriggerStage()
		if stage == nil {
			return false
		}
		stage.Status = engine.StatusSucceed
		stage.Elapsed = queueElapsed
		for _, container := range stage.Containers {
			container.Status = engine.StatusSucceed
			container.SystemElapsed = queueElapsed
			for _, element := range container.Elements {
				element.Status = engine.StatusSucceed
				elapsed := queueElapsed
				element.Elapsed = &elapsed
			}
		}
		return true
	})
}

// ResolveTriggerRevisions 启动前把解析好的最新revision写回触发元素
func (s *Service) ResolveTriggerRevisions(ctx context.Context, buildID string, revisions map[string]string) error {
	if len(revisions) == 0 {
		return nil
	}
	return s.update(ctx, buildID, "", func(m *model.Model) bool {
		changed := false
		container := m.TriggerContainer()
		if container == nil {
			return false
		}
		for _, element := range container.Elements {
			if revision, ok := revisions[element.ID]; ok && revision != "" {
				element.Revision = revision
				changed = true
			}
		}
		return changed
	})
}

// ContainerPreparing Job进入准备环境阶段
func (s *Service) ContainerPreparing(ctx context.Context, buildID, containerID string) error {
	return s.update(ctx, buildID, engine.StatusRunning, func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnContainer: func(seq int, c *model.Container, stage *model.Stage) model.Traverse {
				if c.ID != containerID {
					return model.TraverseSkip
				}
				c.Status = engine.StatusPrepareEnv
				c.StartEpoch = time.Now().UnixMilli()
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// ContainerStart Job开始运行
func (s *Service) ContainerStart(ctx context.Context, buildID, containerID string) error {
	return s.update(ctx, buildID, engine.StatusRunning, func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnContainer: func(seq int, c *model.Container, stage *model.Stage) model.Traverse {
				if c.ID != containerID {
					return model.TraverseSkip
				}
				c.Status = engine.StatusRunning
				if c.StartEpoch == 0 {
					c.StartEpoch = time.Now().UnixMilli()
				}
				if stage.Status == "" || stage.Status.IsReadyToRun() {
					stage.Status = engine.StatusRunning
					stage.StartEpoch = time.Now().UnixMilli()
				}
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// ContainerSkip Job连同其下任务全部置为跳过
func (s *Service) ContainerSkip(ctx context.Context, buildID, containerID string) error {
	return s.update(ctx, buildID, "", func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnContainer: func(seq int, c *model.Container, stage *model.Stage) model.Traverse {
				if c.ID != containerID {
					return model.TraverseSkip
				}
				c.Status = engine.StatusSkip
				for _, e := range c.Elements {
					e.Status = engine.StatusSkip
				}
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// UpdateContainerStatus 更新Job状态，进终态时把没结论的开机状态一并收口
func (s *Service) UpdateContainerStatus(ctx context.Context, buildID, containerID string, status engine.BuildStatus) error {
	return s.update(ctx, buildID, "", func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnContainer: func(seq int, c *model.Container, stage *model.Stage) model.Traverse {
				if c.ID != containerID {
					return model.TraverseSkip
				}
				c.Status = status
				if status.IsFinish() && !c.StartVMStatus.IsFinish() {
					c.StartVMStatus = status
				}
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// UpdateStartVMStatus 更新开机状态，开机结束结算系统耗时
func (s *Service) UpdateStartVMStatus(ctx context.Context, buildID, containerID string, status engine.BuildStatus) error {
	return s.update(ctx, buildID, "", func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnContainer: func(seq int, c *model.Container, stage *model.Stage) model.Traverse {
				if c.ID != containerID {
					return model.TraverseSkip
				}
				c.StartVMStatus = status
				if status.IsFinish() && c.StartEpoch > 0 {
					c.SystemElapsed = time.Now().UnixMilli() - c.StartEpoch
				}
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// TaskStart 任务启动。审核类任务进REVIEWING并展开审核人变量，其余进RUNNING
func (s *Service) TaskStart(ctx context.Context, buildID, taskID string, variables map[string]string) error {
	return s.update(ctx, buildID, engine.StatusRunning, func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnElement: func(e *model.Element, c *model.Container) model.Traverse {
				if e.ID != taskID {
					return model.TraverseContinue
				}
				if e.Kind.IsReview() {
					e.Status = engine.StatusReviewing
					for i, user := range e.ReviewUsers {
						if util.HasReplaceFlag(user) {
							e.ReviewUsers[i] = util.ParseEnv(user, variables)
						}
					}
				} else {
					e.Status = engine.StatusRunning
				}
				e.StartEpoch = time.Now().UnixMilli()
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// TaskEnd 任务结束落状态、耗时、错误与可重试标记
func (s *Service) TaskEnd(
	ctx context.Context,
	buildID, taskID string,
	status engine.BuildStatus,
	canRetry bool,
	errorType engine.ErrorType,
	errorCode int,
	errorMsg string,
) error {
	return s.update(ctx, buildID, "", func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnElement: func(e *model.Element, c *model.Container) model.Traverse {
				if e.ID != taskID {
					return model.TraverseContinue
				}
				e.Status = status
				var elapsed int64
				if e.StartEpoch > 0 {
					elapsed = time.Now().UnixMilli() - e.StartEpoch
				}
				e.Elapsed = &elapsed
				if status.IsFailure() {
					e.CanRetry = &canRetry
					e.ErrorType = errorType
					e.ErrorCode = errorCode
					e.ErrorMsg = errorMsg
				}
				//Job累计耗时按声明顺序累加任务耗时，累加到本任务为止
				c.ElementElapsed = sumElementElapsed(c, e)
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// TaskSkip 任务置为跳过
func (s *Service) TaskSkip(ctx context.Context, buildID, taskID string) error {
	return s.setTaskStatus(ctx, buildID, taskID, engine.StatusSkip)
}

// TaskCancel 任务置为取消
func (s *Service) TaskCancel(ctx context.Context, buildID, taskID string) error {
	return s.setTaskStatus(ctx, buildID, taskID, engine.StatusCanceled)
}

// TaskPause 任务暂停等事件
func (s *Service) TaskPause(ctx context.Context, buildID, taskID string) error {
	return s.setTaskStatus(ctx, buildID, taskID, engine.StatusPause)
}

func (s *Service) setTaskStatus(ctx context.Context, buildID, taskID string, status engine.BuildStatus) error {
	return s.update(ctx, buildID, "", func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnElement: func(e *model.Element, c *model.Container) model.Traverse {
				if e.ID != taskID {
					return model.TraverseContinue
				}
				e.Status = status
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// BuildCancel 取消时收敛整棵树：运行中的任务按被动终止处理，
// 审核中的任务落调用方的取消状态，沿途按启动纪元结算各级耗时
func (s *Service) BuildCancel(ctx context.Context, buildID string, status engine.BuildStatus, cancelUser string) error {
	if cancelUser != "" {
		if err := s.dao.UpdateDetailCancelUser(buildID, cancelUser); err != nil {
			glog.Errorf("记录取消人失败 %s %v", buildID, err)
		}
	}
	now := time.Now().UnixMilli()
	return s.update(ctx, buildID, status, func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnStage: func(stage *model.Stage) model.Traverse {
				if stage.Status == engine.StatusRunning {
					stage.Status = status
					if stage.StartEpoch == 0 {
						stage.Elapsed = 0
					} else {
						stage.Elapsed = now - stage.StartEpoch
					}
					changed = true
				}
				return model.TraverseContinue
			},
			OnContainer: func(seq int, c *model.Container, stage *model.Stage) model.Traverse {
				if c.Status == engine.StatusPrepareEnv {
					if c.StartEpoch == 0 {
						c.SystemElapsed = 0
					} else {
						c.SystemElapsed = now - c.StartEpoch
					}
					stage.Elapsed = sumContainerElapsed(stage, c)
					changed = true
				}
				return model.TraverseContinue
			},
			OnElement: func(e *model.Element, c *model.Container) model.Traverse {
				if e.Status == engine.StatusRunning || e.Status == engine.StatusReviewing {
					//运行中的是被打断的工作，审核中的只是没做完
					final := status
					if e.Status == engine.StatusRunning {
						final = engine.StatusTerminate
					}
					e.Status = final
					c.Status = final
					if e.StartEpoch > 0 {
						elapsed := now - e.StartEpoch
						e.Elapsed = &elapsed
					}
					c.ElementElapsed = sumElementElapsed(c, e)
					changed = true
				}
				return model.TraverseContinue
			},
		})
		return changed
	})
}

// sumElementElapsed 按声明顺序累加到指定任务为止的任务耗时
func sumElementElapsed(c *model.Container, until *model.Element) int64 {
	var total int64
	for _, e := range c.Elements {
		if e.Elapsed != nil {
			total += *e.Elapsed
		}
		if e == until {
			break
		}
	}
	return total
}

// sumContainerElapsed 按声明顺序累加到指定Job为止的任务耗时
func sumContainerElapsed(stage *model.Stage, until *model.Container) int64 {
	var total int64
	for _, c := range stage.Containers {
		total += c.ElementElapsed
		if c == until {
			break
		}
	}
	return total
}

// BuildEnd 构建收尾，返回各运行Stage的最终状态列表，顺序与模型一致
func (s *Service) BuildEnd(ctx context.Context, buildID string, status engine.BuildStatus) ([]engine.BuildStatus, error) {
	var history []engine.BuildStatus
	err := s.update(ctx, buildID, status, func(m *model.Model) bool {
		model.Walk(m, model.Visitor{
			OnStage: func(stage *model.Stage) model.Traverse {
				if stage.Status != "" && !stage.Status.IsFinish() {
					stage.Status = status
				}
				history = append(history, stage.Status)
				return model.TraverseContinue
			},
			OnContainer: func(seq int, c *model.Container, stage *model.Stage) model.Traverse {
				if c.Status != "" && !c.Status.IsFinish() {
					c.Status = status
				}
				return model.TraverseContinue
			},
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// StagePause Stage停下来等人工确认
func (s *Service) StagePause(ctx context.Context, buildID, stageID string) error {
	return s.update(ctx, buildID, engine.StatusStageSuccess, func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnStage: func(stage *model.Stage) model.Traverse {
				if stage.ID != stageID {
					return model.TraverseSkip
				}
				stage.Status = engine.StatusPause
				stage.ReviewStatus = engine.StatusReviewing
				stage.StartEpoch = time.Now().UnixMilli()
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// StageStart 人工确认通过，Stage重新排队
func (s *Service) StageStart(ctx context.Context, buildID, stageID string) error {
	return s.update(ctx, buildID, engine.StatusRunning, func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnStage: func(stage *model.Stage) model.Traverse {
				if stage.ID != stageID {
					return model.TraverseSkip
				}
				stage.Status = engine.StatusQueue
				stage.ReviewStatus = engine.StatusReviewProcessed
				if stage.ControlOption != nil {
					stage.ControlOption.Triggered = true
				}
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// StageCancel 人工确认驳回
func (s *Service) StageCancel(ctx context.Context, buildID, stageID string) error {
	return s.update(ctx, buildID, "", func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnStage: func(stage *model.Stage) model.Traverse {
				if stage.ID != stageID {
					return model.TraverseSkip
				}
				stage.ReviewStatus = engine.StatusReviewAbort
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}

// StageSkip Stage连同其下节点全部跳过
func (s *Service) StageSkip(ctx context.Context, buildID, stageID string) error {
	return s.update(ctx, buildID, "", func(m *model.Model) bool {
		changed := false
		model.Walk(m, model.Visitor{
			OnStage: func(stage *model.Stage) model.Traverse {
				if stage.ID != stageID {
					return model.TraverseSkip
				}
				stage.Status = engine.StatusSkip
				for _, c := range stage.Containers {
					c.Status = engine.StatusSkip
					for _, e := range c.Elements {
						e.Status = engine.StatusSkip
					}
				}
				changed = true
				return model.TraverseBreak
			},
		})
		return changed
	})
}
