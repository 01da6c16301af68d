package command

import (
	"context"

	"github.com/golang/glog"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/dao"
	"github.com/chenyingqiao/pipeline-engine/engine/detail"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/mutex"
	"github.com/chenyingqiao/pipeline-engine/engine/quality"
)

// FlowState Job命令链的流转状态
type FlowState int

const (
	//StateContinue 继续执行后续命令
	StateContinue FlowState = iota
	//StateLoop 本轮不推进，延迟重投Job事件再来
	StateLoop
	//StateBreak 本轮终止，不改Job状态
	StateBreak
	//StateFinish Job已定出终态，走收尾
	StateFinish
)

// Deps 命令链用到的服务集合
type Deps struct {
	DAO        *dao.DAO
	Detail     *detail.Service
	Mutex      *mutex.Control
	Dispatcher engine.Dispatcher
	Printer    engine.BuildLogPrinter
	Variable   engine.VariableService
	Quality    *quality.Gate
}

// ContainerContext 一次Job事件处理的共享上下文，命令间通过它传递裁决
type ContainerContext struct {
	Ctx        context.Context
	Event      *engine.ContainerEvent
	Build      *dao.BuildRecord
	Container  *dao.ContainerRecord
	Tasks      []*dao.TaskRecord
	Conditions *model.ContainerConditions
	Variables  map[string]string

	State FlowState
	//FinalStatus StateFinish时Job的终态
	FinalStatus engine.BuildStatus
	//LoopDelayMills StateLoop时重投事件的延迟
	LoopDelayMills int64
	//ErrorInfo 失败收尾时带出的错误明细
	ErrorInfo *engine.ErrorInfo

	Deps *Deps
}

// Finish 定出终态
func (c *ContainerContext) Finish(status engine.BuildStatus) {
	c.State = StateFinish
	c.FinalStatus = status
}

// Loop 延迟重投
func (c *ContainerContext) Loop(delayMills int64) {
	c.State = StateLoop
	c.LoopDelayMills = delayMills
}

// Command Job命令，CanExecute按流转状态决定是否轮到自己
type Command interface {
	Name() string
	CanExecute(c *ContainerContext) bool
	Execute(c *ContainerContext)
}

// Chain Job命令链，构造时显式给定命令顺序
type Chain struct {
	commands []Command
}

// NewChain 创建命令链
func NewChain(commands ...Command) *Chain {
	return &Chain{commands: commands}
}

// DefaultChain 默认的Job命令链
func DefaultChain() *Chain {
	return NewChain(
		&CheckSkipCmd{},
		&CheckPauseCmd{},
		&CheckDependOnCmd{},
		&CheckMutexCmd{},
		&StartActionTaskCmd{},
		&LoopCmd{},
		&FinallyCmd{},
	)
}

// Handle 依次走一遍命令链
func (ch *Chain) Handle(c *ContainerContext) {
	for _, cmd := range ch.commands {
		if !cmd.CanExecute(c) {
			continue
		}
		glog.V(2).Infof("Job命令执行 %s %s/%s state=%d", cmd.Name(), c.Event.BuildID, c.Event.ContainerID, c.State)
		cmd.Execute(c)
	}
}
