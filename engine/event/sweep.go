package event

import (
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
)

// Sweeper 兜底巡检：定时给所有未结束的构建补发监控事件，
// 监控事件丢失后构建不会永远卡住
type Sweeper struct {
	cron       *cron.Cron
	dao        *dao.DAO
	dispatcher engine.Dispatcher
}

// NewSweeper 创建巡检器
func NewSweeper(d *dao.DAO, dispatcher engine.Dispatcher) *Sweeper {
	return &Sweeper{
		cron:       cron.New(cron.WithSeconds()),
		dao:        d,
		dispatcher: dispatcher,
	}
}

// Start 按cron表达式启动巡检
func (s *Sweeper) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return errors.Wrapf(err, "巡检cron注册失败 %s", spec)
	}
	s.cron.Start()
	return nil
}

// Stop 停止巡检
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweep() {
	builds, err := s.dao.ListActiveBuilds()
	if err != nil {
		glog.Errorf("巡检查询运行中构建失败 %v", err)
		return
	}
	for _, build := range builds {
		err := s.dispatcher.Dispatch(&engine.BuildMonitorEvent{
			EventHead: engine.EventHead{
				Source:     "sweep",
				ProjectID:  build.ProjectId,
				PipelineID: build.PipelineId,
				BuildID:    build.BuildId,
			},
			ExecuteCount: build.ExecuteCount,
		})
		if err != nil {
			glog.Errorf("巡检补发监控事件失败 %s %v", build.BuildId, err)
		}
	}
	if len(builds) > 0 {
		glog.Infof("巡检补发监控事件 %d 条", len(builds))
	}
}
