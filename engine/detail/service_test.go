package detail

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/config"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []engine.Event
}

func (r *recordingDispatcher) Dispatch(events ...engine.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestService(t *testing.T) (*Service, *recordingDispatcher) {
	t.Helper()
	d, err := dao.New(config.Database{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "engine.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	dispatcher := &recordingDispatcher{}
	return NewService(d, client, dispatcher), dispatcher
}

func testModel() *model.Model {
	return &model.Model{
		Name: "demo",
		Stages: []*model.Stage{
			{ID: "stage-trigger", Containers: []*model.Container{
				{Kind: model.ContainerTrigger, ID: "0", Elements: []*model.Element{
					{Kind: model.ElementManualTrigger, ID: "T-1"},
				}},
			}},
			{ID: "stage-1", Containers: []*model.Container{
				{Kind: model.ContainerVMBuild, ID: "c1", Elements: []*model.Element{
					{Kind: model.ElementNormal, ID: "e1"},
					{Kind: model.ElementManualReview, ID: "e2", ReviewUsers: []string{"{{.approver}}"}},
				}},
			}},
		},
	}
}

func seedDetail(t *testing.T, s *Service) {
	t.Helper()
	require.NoError(t, s.Create("p1", "b1", "admin", "MANUAL", 1, testModel()))
}

func TestContainerLifecycleInDetail(t *testing.T) {
	s, dispatcher := newTestService(t)
	seedDetail(t, s)
	ctx := context.Background()

	require.NoError(t, s.ContainerPreparing(ctx, "b1", "c1"))
	m, err := s.GetBuildModel("b1")
	require.NoError(t, err)
	c := m.Stages[1].Containers[0]
	assert.Equal(t, engine.StatusPrepareEnv, c.Status)
	assert.NotZero(t, c.StartEpoch)

	require.NoError(t, s.UpdateStartVMStatus(ctx, "b1", "c1", engine.StatusSucceed))
	require.NoError(t, s.ContainerStart(ctx, "b1", "c1"))
	m, err = s.GetBuildModel("b1")
	require.NoError(t, err)
	c = m.Stages[1].Containers[0]
	assert.Equal(t, engine.StatusRunning, c.Status)
	assert.Equal(t, engine.StatusSucceed, c.StartVMStatus)
	assert.Equal(t, engine.StatusRunning, m.Stages[1].Status)

	// 每次树变更都有广播
	assert.Equal(t, 3, dispatcher.count())
}

func TestTaskStart_ReviewKindGoesReviewing(t *testing.T) {
	s, _ := newTestService(t)
	seedDetail(t, s)
	ctx := context.Background()

	require.NoError(t, s.TaskStart(ctx, "b1", "e2", map[string]string{"approver": "boss"}))
	m, err := s.GetBuildModel("b1")
	require.NoError(t, err)
	e := m.Stages[1].Containers[0].Elements[1]
	assert.Equal(t, engine.StatusReviewing, e.Status)
	assert.Equal(t, []string{"boss"}, e.ReviewUsers)
}

func TestTaskEnd_FailureRecordsErrorAndRetry(t *testing.T) {
	s, _ := newTestService(t)
	seedDetail(t, s)
	ctx := context.Background()

	require.NoError(t, s.TaskStart(ctx, "b1", "e1", nil))
	require.NoError(t, s.TaskEnd(ctx, "b1", "e1", engine.StatusFailed, true,
		engine.ErrorTypeUser, engine.ErrorCodeUserJobTimeout, "boom"))

	m, err := s.GetBuildModel("b1")
	require.NoError(t, err)
	e := m.Stages[1].Containers[0].Elements[0]
	assert.Equal(t, engine.StatusFailed, e.Status)
	require.NotNil(t, e.CanRetry)
	assert.True(t, *e.CanRetry)
	assert.Equal(t, engine.ErrorCodeUserJobTimeout, e.ErrorCode)
	assert.Equal(t, "boom", e.ErrorMsg)
	assert.NotNil(t, e.Elapsed)
}

func TestTaskEnd_ElapsedNeverDecreases(t *testing.T) {
	s, _ := newTestService(t)
	seedDetail(t, s)
	ctx := context.Background()

	require.NoError(t, s.TaskStart(ctx, "b1", "e1", nil))
	require.NoError(t, s.TaskEnd(ctx, "b1", "e1", engine.StatusSucceed, false, "", 0, ""))
	m, err := s.GetBuildModel("b1")
	require.NoError(t, err)
	e := m.Stages[1].Containers[0].Elements[0]
	require.NotNil(t, e.Elapsed)
	first := *e.Elapsed
	assert.GreaterOrEqual(t, first, int64(0))

	// 同一任务再次结束，耗时只会往前走
	require.NoError(t, s.TaskEnd(ctx, "b1", "e1", engine.StatusSucceed, false, "", 0, ""))
	m, err = s.GetBuildModel("b1")
	require.NoError(t, err)
	e = m.Stages[1].Containers[0].Elements[0]
	require.NotNil(t, e.Elapsed)
	assert.GreaterOrEqual(t, *e.Elapsed, first)
}

func TestMissingNodeMutationDoesNotBroadcast(t *testing.T) {
	s, dispatcher := newTestService(t)
	seedDetail(t, s)

	require.NoError(t, s.TaskSkip(context.Background(), "b1", "no-such-task"))
	assert.Equal(t, 0, dispatcher.count())
}

func TestBuildCancel_ConvergesTree(t *testing.T) {
	s, _ := newTestService(t)
	seedDetail(t, s)
	ctx := context.Background()

	require.NoError(t, s.ContainerStart(ctx, "b1", "c1"))
	require.NoError(t, s.TaskStart(ctx, "b1", "e1", nil))
	require.NoError(t, s.TaskStart(ctx, "b1", "e2", map[string]string{"approver": "boss"}))

	require.NoError(t, s.BuildCancel(ctx, "b1", engine.StatusCanceled, "stopper"))

	m, err := s.GetBuildModel("b1")
	require.NoError(t, err)
	stage := m.Stages[1]
	c := stage.Containers[0]
	// 运行中的任务算被打断，审核中的任务落取消状态
	assert.Equal(t, engine.StatusTerminate, c.Elements[0].Status)
	assert.Equal(t, engine.StatusCanceled, c.Elements[1].Status)
	assert.Equal(t, engine.StatusCanceled, c.Status)
	assert.Equal(t, engine.StatusCanceled, stage.Status)

	// 耗时沿途结算：任务按启动纪元，Job按任务声明顺序累加
	require.NotNil(t, c.Elements[0].Elapsed)
	require.NotNil(t, c.Elements[1].Elapsed)
	assert.Equal(t, *c.Elements[0].Elapsed+*c.Elements[1].Elapsed, c.ElementElapsed)
	assert.GreaterOrEqual(t, stage.Elapsed, int64(0))
}

func TestTaskEnd_SumsElapsedInDeclaredOrder(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	twoTasks := func(first, second *model.Element) *model.Model {
		return &model.Model{
			Name: "demo",
			Stages: []*model.Stage{
				{ID: "stage-trigger", Containers: []*model.Container{
					{Kind: model.ContainerTrigger, ID: "0", Elements: []*model.Element{
						{Kind: model.ElementManualTrigger, ID: "T-1"},
					}},
				}},
				{ID: "stage-1", Containers: []*model.Container{
					{Kind: model.ContainerVMBuild, ID: "c1", Elements: []*model.Element{first, second}},
				}},
			},
		}
	}
	preset := int64(120000)

	// 前面的任务已有耗时：结束后面的任务要把它算进去
	require.NoError(t, s.Create("p1", "b-sum", "admin", "MANUAL", 1, twoTasks(
		&model.Element{Kind: model.ElementNormal, ID: "x1", Status: engine.StatusSucceed, Elapsed: &preset},
		&model.Element{Kind: model.ElementNormal, ID: "x2"},
	)))
	require.NoError(t, s.TaskStart(ctx, "b-sum", "x2", nil))
	require.NoError(t, s.TaskEnd(ctx, "b-sum", "x2", engine.StatusSucceed, false, "", 0, ""))
	m, err := s.GetBuildModel("b-sum")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m.Stages[1].Containers[0].ElementElapsed, preset)

	// 后面的任务已有耗时：结束前面的任务只累加到自己为止
	require.NoError(t, s.Create("p1", "b-cut", "admin", "MANUAL", 1, twoTasks(
		&model.Element{Kind: model.ElementNormal, ID: "y1"},
		&model.Element{Kind: model.ElementNormal, ID: "y2", Status: engine.StatusSucceed, Elapsed: &preset},
	)))
	require.NoError(t, s.TaskStart(ctx, "b-cut", "y1", nil))
	require.NoError(t, s.TaskEnd(ctx, "b-cut", "y1", engine.StatusSucceed, false, "", 0, ""))
	m, err = s.GetBuildModel("b-cut")
	require.NoError(t, err)
	assert.Less(t, m.Stages[1].Containers[0].ElementElapsed, preset)
}

func TestBuildEnd_StatusIsMonotonic(t *testing.T) {
	s, _ := newTestService(t)
	seedDetail(t, s)
	ctx := context.Background()

	history, err := s.BuildEnd(ctx, "b1", engine.StatusSucceed)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, engine.StatusSucceed, history[0])

	// 已结束的构建状态不再被改写
	require.NoError(t, s.ContainerStart(ctx, "b1", "c1"))
	record, err := s.GetBuildModel("b1")
	require.NoError(t, err)
	_ = record
	detailRecord, err := s.dao.GetDetail("b1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceed, detailRecord.Status)
}

func TestStageReviewFlow(t *testing.T) {
	s, _ := newTestService(t)
	seedDetail(t, s)
	ctx := context.Background()

	require.NoError(t, s.StagePause(ctx, "b1", "stage-1"))
	m, err := s.GetBuildModel("b1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPause, m.Stages[1].Status)
	assert.Equal(t, engine.StatusReviewing, m.Stages[1].ReviewStatus)

	require.NoError(t, s.StageStart(ctx, "b1", "stage-1"))
	m, err = s.GetBuildModel("b1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusQueue, m.Stages[1].Status)
	assert.Equal(t, engine.StatusReviewProcessed, m.Stages[1].ReviewStatus)
}
