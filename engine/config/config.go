package config

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Engine 引擎配置，优先级：环境变量 > yaml > 默认值
type Engine struct {
	Redis    Redis    `yaml:"Redis"`
	Database Database `yaml:"Database"`
	Queue    Queue    `yaml:"Queue"`
	Quality  Quality  `yaml:"Quality"`
	Monitor  Monitor  `yaml:"Monitor"`
}

type Redis struct {
	Addr     string `yaml:"Addr" envconfig:"ENGINE_REDIS_ADDR"`
	Password string `yaml:"Password" envconfig:"ENGINE_REDIS_PASSWORD"`
	DB       int    `yaml:"DB" envconfig:"ENGINE_REDIS_DB"`
}

type Database struct {
	Driver string `yaml:"Driver" envconfig:"ENGINE_DB_DRIVER"`
	DSN    string `yaml:"DSN" envconfig:"ENGINE_DB_DSN"`
	//ShowSQL 排查慢SQL时打开
	ShowSQL bool `yaml:"ShowSQL" envconfig:"ENGINE_DB_SHOW_SQL"`
}

type Queue struct {
	//Concurrency 事件消费并发度
	Concurrency int `yaml:"Concurrency" envconfig:"ENGINE_QUEUE_CONCURRENCY"`
	//MaxQueue 同一流水线排队中的构建上限
	MaxQueue int `yaml:"MaxQueue" envconfig:"ENGINE_QUEUE_MAX"`
	//QueueTimeoutMinutes 排队超时，到点自动取消
	QueueTimeoutMinutes int `yaml:"QueueTimeoutMinutes" envconfig:"ENGINE_QUEUE_TIMEOUT_MINUTES"`
}

type Quality struct {
	//Endpoint 红线规则服务地址，空则红线检查直接放行
	Endpoint string `yaml:"Endpoint" envconfig:"ENGINE_QUALITY_ENDPOINT"`
	Token    string `yaml:"Token" envconfig:"ENGINE_QUALITY_TOKEN"`
}

type Monitor struct {
	//SweepCron 兜底巡检的cron表达式
	SweepCron string `yaml:"SweepCron" envconfig:"ENGINE_MONITOR_SWEEP_CRON"`
	//MaxJobMinutes Job运行时长硬上限，单位分钟
	MaxJobMinutes int `yaml:"MaxJobMinutes" envconfig:"ENGINE_MONITOR_MAX_JOB_MINUTES"`
	//MaxQueueDays 排队时长硬上限，单位天
	MaxQueueDays int `yaml:"MaxQueueDays" envconfig:"ENGINE_MONITOR_MAX_QUEUE_DAYS"`
}

// DefaultEngine 默认配置
func DefaultEngine() Engine {
	return Engine{
		Redis: Redis{
			Addr: "127.0.0.1:6379",
		},
		Database: Database{
			Driver: "sqlite3",
			DSN:    "file:engine.db?cache=shared",
		},
		Queue: Queue{
			Concurrency:         20,
			MaxQueue:            10,
			QueueTimeoutMinutes: 480,
		},
		Monitor: Monitor{
			SweepCron:     "0 */5 * * * *",
			MaxJobMinutes: 900,
			MaxQueueDays:  7,
		},
	}
}

// NewEngineConfig 解析yaml配置并应用环境变量覆盖
func NewEngineConfig(content string) (Engine, error) {
	cfg := DefaultEngine()
	if content != "" {
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return cfg, errors.Wrap(err, "配置文件格式错误，请检查配置文件")
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "环境变量解析失败")
	}
	return cfg, nil
}

// NewEngineConfigFromFile 从文件加载配置，文件不存在时返回纯默认配置
func NewEngineConfigFromFile(path string) (Engine, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewEngineConfig("")
		}
		return Engine{}, errors.Wrapf(err, "读取配置文件失败 %s", path)
	}
	return NewEngineConfig(string(content))
}
