package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zzzyqyf/MAB/internal/dedup"
	"github.com/zzzyqyf/MAB/internal/evaluator"
	"github.com/zzzyqyf/MAB/internal/models"
	"github.com/zzzyqyf/MAB/internal/notifier"
	"github.com/zzzyqyf/MAB/internal/parser"
)

// ErrNoPushTarget 设备归属用户没有可用的推送目标（fcmToken 缺失）
// 消息丢弃，不写任何状态；与普通抑制区分开，单独可上报
var ErrNoPushTarget = errors.New("device owner has no push target")

// ErrStoreWriteFailed 推送已成功但状态提交失败
// 危险情形：冷却窗口内的下一条合格消息可能重复报警，必须以最高级别记录
var ErrStoreWriteFailed = errors.New("alarm state write failed after successful delivery")

// OwnerResolver 设备归属解析（§ Owner Resolver）
type OwnerResolver interface {
	Resolve(ctx context.Context, deviceID string) (*models.Owner, error)
}

// AlarmCommitter 推送成功后的条件状态提交（存储侧 CAS，false 表示条件未满足）
type AlarmCommitter interface {
	CommitAlarm(ctx context.Context, userID, deviceID string) (bool, error)
}

// Pusher 推送投递调用：send(token, payload) → 投递标识或错误
type Pusher interface {
	Send(ctx context.Context, token string, notification notifier.Notification) (string, error)
}

// Status 管道处理结果类别
type Status string

const (
	StatusDispatched Status = "dispatched" // 通知已发出且状态已提交
	StatusNoIssues   Status = "no_issues"  // 所有读数在安全范围内
	StatusSuppressed Status = "suppressed" // 去重关卡抑制（正常预期结果，不是错误）
)

// Outcome 一次消息处理的结果
type Outcome struct {
	Status     Status
	Reason     dedup.Reason   // Status == StatusSuppressed 时的抑制原因
	DeliveryID string         // Status == StatusDispatched 时的投递标识
	Issues     []models.Issue // 本次评估出的越界问题
}

// Pipeline 报警评估与去重管道
// 每条入站消息触发一次完整处理；不同设备的消息可并发处理，
// 同一设备的并发重复由存储侧条件更新（而非进程内锁）串行化
type Pipeline struct {
	resolver OwnerResolver
	store    AlarmCommitter
	pusher   Pusher
	logger   *zap.Logger

	// Now 当前时间来源（测试中可替换）
	Now func() time.Time
}

// NewPipeline 创建管道
func NewPipeline(resolver OwnerResolver, store AlarmCommitter, pusher Pusher, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		resolver: resolver,
		store:    store,
		pusher:   pusher,
		logger:   logger,
		Now:      time.Now,
	}
}

// HandleMessage 处理一条传输层报警消息（主题 topic/{deviceId}/alarm）
func (p *Pipeline) HandleMessage(ctx context.Context, topic, payload string) (Outcome, error) {
	deviceID, err := parser.DeviceIDFromTopic(topic)
	if err != nil {
		p.logger.Warn("Dropping message with invalid topic",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return Outcome{}, err
	}
	return p.Process(ctx, deviceID, payload)
}

// Process 按设备ID处理一条报警消息（手动/测试入口与传输入口语义等价）
// 控制流：解析 → 阈值评估 →（无问题则停）→ 归属解析 → 去重关卡 →
// （抑制则停）→ 推送投递 → 条件状态提交
func (p *Pipeline) Process(ctx context.Context, deviceID, payload string) (Outcome, error) {
	log := p.logger.With(zap.String("device_id", deviceID))

	// 1. 解析消息负载
	reading, err := parser.Parse(payload)
	if err != nil {
		log.Warn("Dropping malformed payload",
			zap.String("payload", payload),
			zap.Error(err),
		)
		return Outcome{}, err
	}

	// 2. 阈值评估
	issues := evaluator.Evaluate(reading)
	if len(issues) == 0 {
		log.Info("All sensors within safe range",
			zap.Float64("temperature", reading.Temperature),
			zap.Float64("humidity", reading.Humidity),
			zap.Float64("water", reading.Water),
			zap.String("mode", string(reading.Mode)),
		)
		return Outcome{Status: StatusNoIssues}, nil
	}

	log.Info("Sensor readings out of range",
		zap.Int("issue_count", len(issues)),
		zap.String("primary", string(issues[0].Sensor)),
		zap.String("mode", string(reading.Mode)),
	)

	// 3. 归属解析
	owner, err := p.resolver.Resolve(ctx, deviceID)
	if err != nil {
		log.Warn("Dropping alarm for unresolvable device", zap.Error(err))
		return Outcome{}, err
	}

	// 4. 去重关卡
	now := p.Now()
	decision := dedup.Check(owner.AlarmState, now)
	if !decision.Permitted {
		log.Info("Alarm suppressed",
			zap.String("user_id", owner.UserID),
			zap.String("reason", string(decision.Reason)),
		)
		return Outcome{Status: StatusSuppressed, Reason: decision.Reason, Issues: issues}, nil
	}

	// 放行还要求推送目标存在
	if owner.PushToken == "" {
		log.Warn("Alarm dropped: owner has no push token",
			zap.String("user_id", owner.UserID),
		)
		return Outcome{}, fmt.Errorf("%w: user %s", ErrNoPushTarget, owner.UserID)
	}

	// 5. 构造并发送通知
	notification, err := notifier.BuildNotification(owner.Device, reading, issues)
	if err != nil {
		return Outcome{}, err
	}

	deliveryID, err := p.pusher.Send(ctx, owner.PushToken, notification)
	if err != nil {
		// 投递失败不写任何状态：事件保留重试资格（宁可再报一次也不静默丢失）
		log.Error("Push delivery failed, state unmodified",
			zap.String("user_id", owner.UserID),
			zap.Error(err),
		)
		return Outcome{}, err
	}

	// 6. 条件状态提交（lastAlarm=服务端时间, alarmActive=true, alarmAcknowledged=false）
	committed, err := p.store.CommitAlarm(ctx, owner.UserID, deviceID)
	if err != nil {
		// 通知已发出但状态未提交：冷却窗口内存在重复报警风险
		log.Error("ALARM STATE COMMIT FAILED AFTER DELIVERY: duplicate notification possible within cooldown window",
			zap.String("user_id", owner.UserID),
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
		return Outcome{}, fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}
	if !committed {
		// 并发的另一次评估先完成了 false→true 转换；本次的推送构成重复
		log.Warn("Concurrent evaluation committed first, notification may have been duplicated",
			zap.String("user_id", owner.UserID),
			zap.String("delivery_id", deliveryID),
		)
		return Outcome{Status: StatusSuppressed, Reason: dedup.ReasonAlreadyActive, Issues: issues}, nil
	}

	log.Info("Alarm dispatched",
		zap.String("user_id", owner.UserID),
		zap.String("delivery_id", deliveryID),
		zap.String("primary", string(issues[0].Sensor)),
	)
	return Outcome{Status: StatusDispatched, DeliveryID: deliveryID, Issues: issues}, nil
}
