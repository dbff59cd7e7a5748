package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zzzyqyf/MAB/internal/dedup"
	"github.com/zzzyqyf/MAB/internal/models"
	"github.com/zzzyqyf/MAB/internal/notifier"
	"github.com/zzzyqyf/MAB/internal/parser"
)

const (
	alarmPayload = "[72.2,47.0,31.5,60.5,n]" // 温度和湿度越界
	safePayload  = "[82.0,47.0,25.0,50.0,n]" // 全部在安全范围内
)

// memStore 内存版记录存储：同时充当归属解析和条件提交的假实现
// CommitAlarm 在互斥锁内做 active false→true 的 CAS，模拟存储侧条件更新
type memStore struct {
	mu       sync.Mutex
	owner    models.Owner
	state    models.StoredState
	resolves int
	commits  int

	resolveErr error
	commitErr  error
	// staleRead 为 true 时 Resolve 返回旧状态（模拟读取与提交之间被并发写入）
	staleRead bool
}

func newMemStore() *memStore {
	return &memStore{
		owner: models.Owner{
			UserID: "user-1",
			Device: models.Device{
				MqttID:   "94B97EC04AD4",
				DeviceID: "dev-1",
				Name:     "Grow Tent A",
			},
			PushToken: "fcm-token-abc",
		},
	}
}

func (s *memStore) Resolve(ctx context.Context, deviceID string) (*models.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolves++
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	owner := s.owner
	if s.staleRead {
		owner.AlarmState = models.AbsentState()
	} else {
		owner.AlarmState = s.state
	}
	return &owner, nil
}

func (s *memStore) CommitAlarm(ctx context.Context, userID, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return false, s.commitErr
	}
	if s.state.Present && s.state.State.Active {
		return false, nil
	}
	now := time.Now()
	s.state = models.PresentState(models.AlarmState{
		Active:    true,
		LastAlarm: &now,
	})
	s.commits++
	return true, nil
}

// fakePusher 推送投递假实现
type fakePusher struct {
	mu      sync.Mutex
	sends   int
	lastMsg notifier.Notification
	err     error
}

func (p *fakePusher) Send(ctx context.Context, token string, n notifier.Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sends++
	p.lastMsg = n
	return "delivery-1", nil
}

func setupPipeline(t *testing.T) (*memStore, *fakePusher, *Pipeline) {
	store := newMemStore()
	pusher := &fakePusher{}
	p := NewPipeline(store, store, pusher, zap.NewNop())
	return store, pusher, p
}

func TestProcess_Dispatch(t *testing.T) {
	store, pusher, p := setupPipeline(t)

	outcome, err := p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	require.NoError(t, err)

	assert.Equal(t, StatusDispatched, outcome.Status)
	assert.Equal(t, "delivery-1", outcome.DeliveryID)
	require.Len(t, outcome.Issues, 2)
	assert.Equal(t, models.SensorTemperature, outcome.Issues[0].Sensor)

	assert.Equal(t, 1, pusher.sends)
	assert.Equal(t, "Grow Tent A: Temperature critical (31.5°C > 30.0°C), Humidity too low (72.2% < 80.0%)", pusher.lastMsg.Body)

	// 状态已提交：active=true
	assert.Equal(t, 1, store.commits)
	require.True(t, store.state.Present)
	assert.True(t, store.state.State.Active)
	assert.False(t, store.state.State.Acknowledged)
	assert.NotNil(t, store.state.State.LastAlarm)
}

func TestProcess_NoIssuesStopsEarly(t *testing.T) {
	store, pusher, p := setupPipeline(t)

	outcome, err := p.Process(context.Background(), "94B97EC04AD4", safePayload)
	require.NoError(t, err)

	assert.Equal(t, StatusNoIssues, outcome.Status)
	// 无问题时不做归属解析，不访问存储
	assert.Equal(t, 0, store.resolves)
	assert.Equal(t, 0, pusher.sends)
}

func TestProcess_MalformedPayload(t *testing.T) {
	store, pusher, p := setupPipeline(t)

	_, err := p.Process(context.Background(), "94B97EC04AD4", "[1,2,3]")
	assert.ErrorIs(t, err, parser.ErrMalformedPayload)
	assert.Equal(t, 0, store.resolves)
	assert.Equal(t, 0, pusher.sends)
}

func TestProcess_NoPushTarget(t *testing.T) {
	store, pusher, p := setupPipeline(t)
	store.owner.PushToken = ""

	_, err := p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	assert.ErrorIs(t, err, ErrNoPushTarget)

	// 不调用推送，不写状态
	assert.Equal(t, 0, pusher.sends)
	assert.Equal(t, 0, store.commits)
	assert.False(t, store.state.Present)
}

func TestProcess_IdempotenceWithinCooldown(t *testing.T) {
	_, pusher, p := setupPipeline(t)
	ctx := context.Background()

	// 第一条消息触发推送并置 active=true
	first, err := p.Process(ctx, "94B97EC04AD4", alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, first.Status)

	// 5分钟内的相同消息：恰好一次投递，第二次被抑制
	second, err := p.Process(ctx, "94B97EC04AD4", alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, StatusSuppressed, second.Status)
	assert.Equal(t, dedup.ReasonAlreadyActive, second.Reason)

	assert.Equal(t, 1, pusher.sends)
}

func TestProcess_CooldownSuppresses(t *testing.T) {
	store, pusher, p := setupPipeline(t)

	// 上次报警已清除（active=false）但只过了2分钟
	lastAlarm := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store.state = models.PresentState(models.AlarmState{LastAlarm: &lastAlarm})
	p.Now = func() time.Time { return lastAlarm.Add(2 * time.Minute) }

	outcome, err := p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, StatusSuppressed, outcome.Status)
	assert.Equal(t, dedup.ReasonCooldown, outcome.Reason)
	assert.Equal(t, 0, pusher.sends)

	// 冷却期过后放行
	p.Now = func() time.Time { return lastAlarm.Add(6 * time.Minute) }
	outcome, err = p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, outcome.Status)
	assert.Equal(t, 1, pusher.sends)
}

func TestProcess_AcknowledgedSuppresses(t *testing.T) {
	store, pusher, p := setupPipeline(t)
	store.state = models.PresentState(models.AlarmState{Acknowledged: true})

	outcome, err := p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, StatusSuppressed, outcome.Status)
	assert.Equal(t, dedup.ReasonAcknowledged, outcome.Reason)
	assert.Equal(t, 0, pusher.sends)
}

func TestProcess_DeliveryFailureLeavesStateUntouched(t *testing.T) {
	store, pusher, p := setupPipeline(t)
	pusher.err = notifier.ErrDeliveryFailed

	_, err := p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	assert.ErrorIs(t, err, notifier.ErrDeliveryFailed)
	assert.Equal(t, 0, store.commits)
	assert.False(t, store.state.Present)

	// 状态未变：下一条合格消息仍可触发
	pusher.err = nil
	outcome, err := p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, outcome.Status)
}

func TestProcess_StoreWriteFailedAfterDelivery(t *testing.T) {
	store, pusher, p := setupPipeline(t)
	store.commitErr = errors.New("connection reset")

	_, err := p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	assert.ErrorIs(t, err, ErrStoreWriteFailed)

	// 通知已发出，这正是已知的重复风险窗口
	assert.Equal(t, 1, pusher.sends)
}

func TestProcess_ConcurrentCommitLost(t *testing.T) {
	store, pusher, p := setupPipeline(t)

	// 读取到旧状态（放行），但提交时 active 已被并发评估置为 true
	store.state = models.PresentState(models.AlarmState{Active: true})
	store.staleRead = true

	outcome, err := p.Process(context.Background(), "94B97EC04AD4", alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, StatusSuppressed, outcome.Status)
	assert.Equal(t, dedup.ReasonAlreadyActive, outcome.Reason)

	// 推送已发出（重复窗口），但状态转换没有发生第二次
	assert.Equal(t, 1, pusher.sends)
	assert.Equal(t, 0, store.commits)
}

func TestProcess_ConcurrentEvaluationsSingleTransition(t *testing.T) {
	store, pusher, p := setupPipeline(t)
	ctx := context.Background()

	const n = 8
	outcomes := make([]Outcome, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = p.Process(ctx, "94B97EC04AD4", alarmPayload)
		}(i)
	}
	wg.Wait()

	// 恰好一次 active=true 状态转换；其余评估观察到转换后的状态并被抑制
	assert.Equal(t, 1, store.commits)

	dispatched := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		switch outcomes[i].Status {
		case StatusDispatched:
			dispatched++
		case StatusSuppressed:
			assert.Equal(t, dedup.ReasonAlreadyActive, outcomes[i].Reason)
		default:
			t.Fatalf("unexpected outcome status: %s", outcomes[i].Status)
		}
	}
	assert.Equal(t, 1, dispatched)
	assert.GreaterOrEqual(t, pusher.sends, 1)
}

func TestHandleMessage_TopicRouting(t *testing.T) {
	_, pusher, p := setupPipeline(t)

	outcome, err := p.HandleMessage(context.Background(), "topic/94B97EC04AD4/alarm", alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, outcome.Status)
	assert.Equal(t, 1, pusher.sends)
}

func TestHandleMessage_InvalidTopic(t *testing.T) {
	store, _, p := setupPipeline(t)

	_, err := p.HandleMessage(context.Background(), "topic/94B97EC04AD4/status", alarmPayload)
	assert.ErrorIs(t, err, parser.ErrMalformedPayload)
	assert.Equal(t, 0, store.resolves)
}
