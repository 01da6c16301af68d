package event

import (
	"context"

	"github.com/golang/glog"
	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/sanity-io/litter"

	"github.com/chenyingqiao/pipeline-engine/engine/config"
)

// HandlerFunc 事件处理函数，payload是事件的JSON
type HandlerFunc func(ctx context.Context, payload []byte) error

// Runner 事件总线的消费端，按topic分发到各Control
type Runner struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewRunner 创建消费端
func NewRunner(cfg config.Redis, concurrency int) *Runner {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
		},
	)
	return &Runner{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// Handle 注册topic的处理函数，处理中的panic会被兜住，不会打挂整个消费端
func (r *Runner) Handle(topic string, handler HandlerFunc) {
	r.mux.HandleFunc(topic, func(ctx context.Context, task *asynq.Task) (err error) {
		defer func() {
			if p := recover(); p != nil {
				glog.Errorf("事件处理panic %s %s", topic, litter.Sdump(p))
				err = nil
			}
		}()
		if handleErr := handler(ctx, task.Payload()); handleErr != nil {
			glog.Errorf("事件处理失败 %s %v", topic, handleErr)
		}
		return nil
	})
}

// Register 把强类型的事件处理函数挂到topic，payload反序列化在这里统一做
func Register[E any](r *Runner, topic string, handler func(ctx context.Context, event *E) error) {
	r.Handle(topic, func(ctx context.Context, payload []byte) error {
		e := new(E)
		if err := json.Unmarshal(payload, e); err != nil {
			return errors.Wrapf(err, "事件反序列化失败 %s", topic)
		}
		return handler(ctx, e)
	})
}

// Run 启动消费，阻塞直到Shutdown
func (r *Runner) Run() error {
	return r.server.Run(r.mux)
}

// Shutdown 优雅停机
func (r *Runner) Shutdown() {
	r.server.Shutdown()
}
