package control

import (
	"time"

	"github.com/spf13/cast"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
)

// RuntimeService 构建运行期的变量与记录访问，落在DAO上
type RuntimeService struct {
	dao *dao.DAO
}

// NewRuntimeService 创建运行期服务
func NewRuntimeService(d *dao.DAO) *RuntimeService {
	return &RuntimeService{dao: d}
}

// GetAllVariable 一次构建的全部变量
func (s *RuntimeService) GetAllVariable(buildID string) (map[string]string, error) {
	return s.dao.GetAllVariable(buildID)
}

// BatchUpdateVariable 批量写入运行期变量，内置只读变量不会被覆盖
func (s *RuntimeService) BatchUpdateVariable(projectID, pipelineID, buildID string, vars map[string]string) error {
	return s.dao.SaveVariables(projectID, pipelineID, buildID, vars, false)
}

// GetBuildExecuteCount 构建当前的执行次数，查不到按首次执行算
func (s *RuntimeService) GetBuildExecuteCount(buildID string) int {
	build, err := s.dao.GetBuild(buildID)
	if err != nil || build.ExecuteCount <= 0 {
		return 1
	}
	return build.ExecuteCount
}

// WriteStartupVariables 启动时写入内置变量与声明参数的快照。
// 内置变量只读；声明参数只补缺省值，触发时写入的实际覆盖值不回刷
func (s *RuntimeService) WriteStartupVariables(projectID, pipelineID, buildID string, buildNum int, params map[string]string) error {
	builtin := map[string]string{
		engine.VarPipelineBuildID:   buildID,
		engine.VarPipelineBuildNum:  cast.ToString(buildNum),
		engine.VarPipelineTimeStart: cast.ToString(time.Now().Unix()),
		engine.VarProjectName:       projectID,
	}
	if err := s.dao.SaveVariables(projectID, pipelineID, buildID, builtin, true); err != nil {
		return err
	}
	existing, err := s.dao.GetAllVariable(buildID)
	if err != nil {
		return err
	}
	defaults := map[string]string{}
	for key, value := range params {
		if _, ok := existing[key]; !ok {
			defaults[key] = value
		}
	}
	return s.dao.SaveVariables(projectID, pipelineID, buildID, defaults, false)
}
