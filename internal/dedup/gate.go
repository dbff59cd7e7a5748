package dedup

import (
	"time"

	"github.com/zzzyqyf/MAB/internal/models"
)

// Cooldown 同一设备两次报警之间的最小间隔
// 防止前一次报警刚清除后又立刻重复触发
const Cooldown = 5 * time.Minute

// Reason 抑制原因（用于日志和观测，不是错误）
type Reason string

const (
	ReasonAlreadyActive Reason = "already_active"    // 报警已激活，尚未清除
	ReasonAcknowledged  Reason = "user_acknowledged" // 用户已确认本次报警
	ReasonSnoozed       Reason = "snoozed"           // 用户暂停报警至未来某时刻
	ReasonCooldown      Reason = "cooldown"          // 距上次报警不足5分钟
)

// Decision 去重判定结果
type Decision struct {
	Permitted bool
	Reason    Reason // 仅在 Permitted == false 时有效
}

// Check 按固定顺序对存储的报警状态执行抑制规则，第一条命中的规则生效：
//  1. 报警已激活 → AlreadyActive
//  2. 用户已确认 → Acknowledged
//  3. 暂停截止时间在未来 → Snoozed
//  4. 距上次报警不足冷却时间 → Cooldown
//  5. 其余情况放行
//
// 状态不存在（设备首次报警）直接放行
func Check(stored models.StoredState, now time.Time) Decision {
	if !stored.Present {
		return Decision{Permitted: true}
	}

	state := stored.State

	if state.Active {
		return Decision{Reason: ReasonAlreadyActive}
	}
	if state.Acknowledged {
		return Decision{Reason: ReasonAcknowledged}
	}
	if state.SnoozeUntil != nil && state.SnoozeUntil.After(now) {
		return Decision{Reason: ReasonSnoozed}
	}
	if state.LastAlarm != nil && now.Sub(*state.LastAlarm) < Cooldown {
		return Decision{Reason: ReasonCooldown}
	}

	return Decision{Permitted: true}
}
