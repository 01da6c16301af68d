package mutex

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/chenyingqiao/pipeline-engine/engine"
	"github.com/chenyingqiao/pipeline-engine/engine/model"
	"github.com/chenyingqiao/pipeline-engine/engine/util"
)

// Outcome 互斥组裁决结果
type Outcome int

const (
	//OutcomePass 拿到互斥锁或无需互斥，Job可以继续
	OutcomePass Outcome = iota
	//OutcomeWait 进排队，稍后重试
	OutcomeWait
	//OutcomeFail 排队满或排队超时，Job按失败处理
	OutcomeFail
)

// Control 互斥组控制，锁的粒度是项目+组名
type Control struct {
	client  redis.UniversalClient
	printer engine.BuildLogPrinter
}

// NewControl 创建互斥组控制
func NewControl(client redis.UniversalClient, printer engine.BuildLogPrinter) *Control {
	return &Control{client: client, printer: printer}
}

// DecorateMutexGroup 互斥组组名支持变量占位，运行前展开成实际组名
func DecorateMutexGroup(group *model.MutexGroup, variables map[string]string) {
	if group == nil || !group.Enable || group.MutexGroupName == "" {
		return
	}
	name := group.MutexGroupName
	if util.HasReplaceFlag(name) {
		name = util.ParseEnv(name, variables)
	}
	group.RuntimeMutexGroup = name
}

func lockKey(projectID, groupName string) string {
	return fmt.Sprintf("engine:mutex:lock:%s:%s", projectID, groupName)
}

func queueKey(projectID, groupName string) string {
	return fmt.Sprintf("engine:mutex:queue:%s:%s", projectID, groupName)
}

func holderID(buildID, containerID string) string {
	return buildID + "_" + containerID
}

// AcquireMutex 互斥组裁决：锁空闲就抢，被自己持有直接过，
// 否则按排队配置进有界队列等待，排队满或排队超时判失败
func (c *Control) AcquireMutex(
	ctx context.Context,
	group *model.MutexGroup,
	projectID, buildID, containerID, jobID string,
	executeCount int,
) (Outcome, error) {
	if group == nil || !group.Enable || group.RuntimeMutexGroup == "" {
		return OutcomePass, nil
	}
	groupName := group.RuntimeMutexGroup
	holder := holderID(buildID, containerID)
	lock := lockKey(projectID, groupName)
	queue := queueKey(projectID, groupName)

	//锁过期兜底取排队超时加十分钟，防止释放丢失后组内永久卡死
	expired := time.Duration(group.Timeout)*time.Second + 10*time.Minute

	acquired, err := c.client.SetNX(ctx, lock, holder, expired).Result()
	if err != nil {
		return OutcomeWait, errors.Wrapf(err, "互斥组抢锁失败 %s", groupName)
	}
	if acquired {
		c.client.ZRem(ctx, queue, holder)
		c.printer.AddYellowLine(buildID, fmt.Sprintf("互斥组[%s]抢锁成功", groupName), "", jobID, executeCount)
		return OutcomePass, nil
	}

	current, err := c.client.Get(ctx, lock).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return OutcomeWait, errors.Wrapf(err, "互斥组查锁失败 %s", groupName)
	}
	if current == holder {
		return OutcomePass, nil
	}

	if !group.QueueEnable {
		c.printer.AddRedLine(buildID, fmt.Sprintf("互斥组[%s]被[%s]占用且未开启排队，直接失败", groupName, current), "", jobID, executeCount)
		return OutcomeFail, nil
	}

	score, err := c.client.ZScore(ctx, queue, holder).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return OutcomeWait, errors.Wrapf(err, "互斥组查排队失败 %s", groupName)
	}
	if errors.Is(err, redis.Nil) {
		//还没排上队，先校验队列容量
		size, err := c.client.ZCard(ctx, queue).Result()
		if err != nil {
			return OutcomeWait, errors.Wrapf(err, "互斥组统计排队失败 %s", groupName)
		}
		if int(size) >= group.Queue {
			c.printer.AddRedLine(buildID, fmt.Sprintf("互斥组[%s]排队已满(%d)，直接失败", groupName, group.Queue), "", jobID, executeCount)
			return OutcomeFail, nil
		}
		if err := c.client.ZAdd(ctx, queue, redis.Z{
			Score:  float64(time.Now().Unix()),
			Member: holder,
		}).Err(); err != nil {
			return OutcomeWait, errors.Wrapf(err, "互斥组入队失败 %s", groupName)
		}
		c.printer.AddYellowLine(buildID, fmt.Sprintf("互斥组[%s]被[%s]占用，进入排队", groupName, current), "", jobID, executeCount)
		return OutcomeWait, nil
	}

	if time.Since(time.Unix(int64(score), 0)) > time.Duration(group.Timeout)*time.Second {
		c.client.ZRem(ctx, queue, holder)
		c.printer.AddRedLine(buildID, fmt.Sprintf("互斥组[%s]排队超时(%ds)，直接失败", groupName, group.Timeout), "", jobID, executeCount)
		return OutcomeFail, nil
	}
	return OutcomeWait, nil
}

// ReleaseMutex 释放互斥锁并退出排队，可重复调用
func (c *Control) ReleaseMutex(ctx context.Context, group *model.MutexGroup, projectID, buildID, containerID string) error {
	if group == nil || !group.Enable || group.RuntimeMutexGroup == "" {
		return nil
	}
	groupName := group.RuntimeMutexGroup
	holder := holderID(buildID, containerID)
	lock := lockKey(projectID, groupName)
	queue := queueKey(projectID, groupName)

	current, err := c.client.Get(ctx, lock).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrapf(err, "互斥组释放查锁失败 %s", groupName)
	}
	if current == holder {
		if err := c.client.Del(ctx, lock).Err(); err != nil {
			return errors.Wrapf(err, "互斥组释放失败 %s", groupName)
		}
		glog.Infof("互斥组[%s]释放成功 holder=%s", groupName, holder)
	}
	if err := c.client.ZRem(ctx, queue, holder).Err(); err != nil {
		return errors.Wrapf(err, "互斥组退出排队失败 %s", groupName)
	}
	return nil
}
