package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zzzyqyf/MAB/internal/models"
)

// ErrDeviceNotFound 没有任何用户的 devices 列表包含该设备
// 属于数据/运维异常，不会推送给任何用户
var ErrDeviceNotFound = errors.New("device not found in any user record")

// UserRepository 用户记录仓库
// 表结构（users）：
//
//	user_id              TEXT PRIMARY KEY
//	fcm_token            TEXT
//	fcm_token_updated_at TIMESTAMPTZ
//	devices              JSONB  -- [{"mqttId","deviceId","name"}, ...]
//	alarm_state          JSONB  -- {"<mqttId>": {"alarmActive",...}, ...}
//
// 设备归属查询通过 devices 的 JSONB 包含查询完成；在 devices 上建 GIN 索引后
// 为索引查找，否则退化为全表扫描（O(用户数)）。上层的 Redis 二级索引
// （DeviceIndex）用于避免重复扫描，不改变可观测语义
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// userRow 一行用户记录的扫描结果
type userRow struct {
	userID     string
	fcmToken   string
	devices    []byte
	alarmState []byte
}

// FindDeviceOwner 扫描用户集合，返回 devices 列表中包含该设备的第一个用户
// 按 user_id 排序保证迭代顺序确定；多个用户认领同一设备属于数据完整性异常，
// 按第一个匹配处理，只记录警告（不改变行为）
func (r *UserRepository) FindDeviceOwner(ctx context.Context, deviceID string) (*models.Owner, error) {
	match, err := json.Marshal([]map[string]string{{"mqttId": deviceID}})
	if err != nil {
		return nil, fmt.Errorf("failed to build containment query: %w", err)
	}

	query := `
		SELECT user_id, COALESCE(fcm_token, ''), devices, alarm_state
		FROM users
		WHERE devices @> $1::jsonb
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query, string(match))
	if err != nil {
		return nil, fmt.Errorf("failed to query device owner: %w", err)
	}
	defer rows.Close()

	var first *userRow
	claimCount := 0
	for rows.Next() {
		var row userRow
		if err := rows.Scan(&row.userID, &row.fcmToken, &row.devices, &row.alarmState); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		claimCount++
		if first == nil {
			first = &row
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}

	if first == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if claimCount > 1 {
		r.logger.Warn("Multiple users claim the same device, using first match",
			zap.String("device_id", deviceID),
			zap.Int("claim_count", claimCount),
			zap.String("user_id", first.userID),
		)
	}

	return buildOwner(first, deviceID)
}

// GetOwnerByUserID 按用户ID直接读取设备归属（二级索引命中后的快速路径）
// 若该用户的 devices 列表已不包含此设备（索引过期），返回 ErrDeviceNotFound，
// 调用方应失效索引并回落到 FindDeviceOwner
func (r *UserRepository) GetOwnerByUserID(ctx context.Context, userID, deviceID string) (*models.Owner, error) {
	query := `
		SELECT user_id, COALESCE(fcm_token, ''), devices, alarm_state
		FROM users
		WHERE user_id = $1
	`

	var row userRow
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&row.userID, &row.fcmToken, &row.devices, &row.alarmState)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s no longer exists", ErrDeviceNotFound, userID)
		}
		return nil, fmt.Errorf("failed to query user %s: %w", userID, err)
	}

	return buildOwner(&row, deviceID)
}

// buildOwner 从一行用户记录构造归属结果
func buildOwner(row *userRow, deviceID string) (*models.Owner, error) {
	var devices []models.Device
	if err := json.Unmarshal(row.devices, &devices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal devices for user %s: %w", row.userID, err)
	}

	var device *models.Device
	for i := range devices {
		if devices[i].MqttID == deviceID {
			device = &devices[i]
			break
		}
	}
	if device == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	// alarmState 映射中没有该设备的键 = 从未报过警（显式 Absent 状态）
	stored := models.AbsentState()
	if len(row.alarmState) > 0 {
		var stateMap map[string]json.RawMessage
		if err := json.Unmarshal(row.alarmState, &stateMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alarm state for user %s: %w", row.userID, err)
		}
		if raw, ok := stateMap[deviceID]; ok {
			var state models.AlarmState
			if err := json.Unmarshal(raw, &state); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alarm state entry for device %s: %w", deviceID, err)
			}
			stored = models.PresentState(state)
		}
	}

	// 推送目标优先取用户级 fcmToken，设备条目自带的 pushToken 作为回落
	pushToken := row.fcmToken
	if pushToken == "" {
		pushToken = device.PushToken
	}

	return &models.Owner{
		UserID:     row.userID,
		Device:     *device,
		PushToken:  pushToken,
		AlarmState: stored,
	}, nil
}

// CommitAlarm 推送成功后的唯一状态写入：
// 单条条件更新，在 alarmActive 仍为 false（或状态不存在）时原子地置
// lastAlarm=服务端当前时间、alarmActive=true、alarmAcknowledged=false，
// 并刷新 fcm_token_updated_at。
// 返回 false 表示条件不满足（并发的另一次评估先完成了 false→true 转换），
// 本次不写入任何内容
func (r *UserRepository) CommitAlarm(ctx context.Context, userID, deviceID string) (bool, error) {
	// lastAlarm 由数据库赋值（保证分布式写入者之间的单调性），
	// 序列化为 RFC3339 便于读取侧反序列化
	query := `
		UPDATE users
		SET alarm_state = jsonb_set(
				COALESCE(alarm_state, '{}'::jsonb),
				ARRAY[$2],
				COALESCE(alarm_state -> $2, '{}'::jsonb) || jsonb_build_object(
					'lastAlarm', to_char(NOW() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'),
					'alarmActive', true,
					'alarmAcknowledged', false
				),
				true
			),
			fcm_token_updated_at = NOW()
		WHERE user_id = $1
		  AND COALESCE(alarm_state -> $2 ->> 'alarmActive', 'false') <> 'true'
	`

	result, err := r.db.ExecContext(ctx, query, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to commit alarm state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}
