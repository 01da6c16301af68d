package dao

import (
	"time"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

// BuildRecord 构建历史，buildId全局唯一
type BuildRecord struct {
	Id           int64              `xorm:"pk autoincr"`
	ProjectId    string             `xorm:"index"`
	PipelineId   string             `xorm:"index"`
	BuildId      string             `xorm:"unique"`
	BuildNum     int
	Status       engine.BuildStatus `xorm:"index"`
	TriggerType  string
	StartUser    string
	TaskCount    int
	FirstTaskId  string
	ExecuteCount int
	QueueTime    time.Time
	StartTime    *time.Time
	EndTime      *time.Time
	ErrorType    string
	ErrorCode    int
	ErrorMsg     string
	CreatedAt    time.Time `xorm:"created"`
}

// StageRecord Stage运行记录
type StageRecord struct {
	Id           int64  `xorm:"pk autoincr"`
	ProjectId    string
	PipelineId   string
	BuildId      string `xorm:"index unique(build_stage)"`
	StageId      string `xorm:"unique(build_stage)"`
	Seq          int
	Status       engine.BuildStatus
	ExecuteCount int
	StartTime    *time.Time
	EndTime      *time.Time
	Cost         int64
	//ControlOption StageControlOption的JSON串
	ControlOption string `xorm:"text"`
}

// ContainerRecord Job运行记录
type ContainerRecord struct {
	Id            int64  `xorm:"pk autoincr"`
	ProjectId     string
	PipelineId    string
	BuildId       string `xorm:"index unique(build_container)"`
	StageId       string
	ContainerId   string `xorm:"unique(build_container)"`
	ContainerType string
	Seq           int
	Status        engine.BuildStatus
	ExecuteCount  int
	StartTime     *time.Time
	EndTime       *time.Time
	Cost          int64
	//Conditions JobControlOption与MutexGroup的JSON串
	Conditions string `xorm:"text"`
}

// TaskRecord 任务运行记录
type TaskRecord struct {
	Id            int64  `xorm:"pk autoincr"`
	ProjectId     string
	PipelineId    string
	BuildId       string `xorm:"index unique(build_task)"`
	StageId       string
	ContainerId   string `xorm:"index"`
	ContainerType string
	TaskId        string `xorm:"unique(build_task)"`
	TaskSeq       int
	TaskName      string
	TaskType      string
	AtomCode      string
	Status        engine.BuildStatus
	Starter       string
	Approver      string
	ExecuteCount  int
	StartTime     *time.Time
	EndTime       *time.Time
	TotalTime     int64
	TaskParams    map[string]interface{} `xorm:"json"`
	ErrorType     string
	ErrorCode     int
	ErrorMsg      string `xorm:"text"`
}

// SummaryRecord 流水线汇总，构建号与排队/运行计数都在这一行上原子维护
type SummaryRecord struct {
	Id              int64  `xorm:"pk autoincr"`
	ProjectId       string
	PipelineId      string `xorm:"unique"`
	BuildNum        int
	RunningCount    int
	QueueCount      int
	FinishCount     int
	//RunLockType 0可并发 1单构建锁定 2互斥组
	RunLockType     int
	MaxQueueSize    int
	LatestBuildId   string
	LatestStatus    engine.BuildStatus
	LatestStartUser string
	LatestStartTime *time.Time
	LatestEndTime   *time.Time
}

// VariableRecord 构建变量
type VariableRecord struct {
	Id         int64  `xorm:"pk autoincr"`
	ProjectId  string
	PipelineId string
	BuildId    string `xorm:"index unique(build_var)"`
	VarKey     string `xorm:"'var_key' unique(build_var)"`
	VarValue   string `xorm:"'var_value' text"`
	ReadOnly   bool
}

// DetailRecord 构建详情，Model是运行模型树的JSON快照
type DetailRecord struct {
	Id         int64  `xorm:"pk autoincr"`
	ProjectId  string
	BuildId    string `xorm:"unique"`
	BuildNum   int
	Model      string `xorm:"longtext"`
	StartUser  string
	TriggerType string
	Status     engine.BuildStatus
	CancelUser string
	StartTime  *time.Time
	EndTime    *time.Time
}
