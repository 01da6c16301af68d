package event

import (
	"time"

	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AsynqDispatcher 事件总线的生产端，延迟事件用延迟投递实现
type AsynqDispatcher struct {
	client *asynq.Client
}

// NewAsynqDispatcher 创建事件生产端
func NewAsynqDispatcher(cfg config.Redis) *AsynqDispatcher {
	return &AsynqDispatcher{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Dispatch 逐个投递事件，DelayMills大于0时延迟投递
func (d *AsynqDispatcher) Dispatch(events ...engine.Event) error {
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return errors.Wrapf(err, "事件序列化失败 %s", event.Topic())
		}
		task := asynq.NewTask(event.Topic(), payload)
		var opts []asynq.Option
		if delay := event.Delay(); delay > 0 {
			opts = append(opts, asynq.ProcessIn(time.Duration(delay)*time.Millisecond))
		}
		if _, err := d.client.Enqueue(task, opts...); err != nil {
			return errors.Wrapf(err, "事件投递失败 %s", event.Topic())
		}
	}
	return nil
}

// Close 关闭底层连接
func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}
