package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DeviceIndex 设备归属二级索引（deviceId → userId，Redis 缓存）
// 纯优化：命中时省掉用户集合扫描，未命中或过期时回落到扫描并回填，
// 不改变 Owner Resolver 的可观测语义。索引失效（设备改绑）由读取侧
// 校验后调用 Invalidate 处理
type DeviceIndex struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewDeviceIndex 创建设备归属索引
func NewDeviceIndex(redisClient *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *DeviceIndex {
	return &DeviceIndex{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		logger:      logger,
	}
}

func (i *DeviceIndex) key(deviceID string) string {
	return i.keyPrefix + deviceID
}

// Get 查询索引，返回 (userID, 是否命中)
// Redis 故障按未命中处理（调用方回落到扫描），不向上传播错误
func (i *DeviceIndex) Get(ctx context.Context, deviceID string) (string, bool) {
	userID, err := i.redisClient.Get(ctx, i.key(deviceID)).Result()
	if err != nil {
		if err != redis.Nil {
			i.logger.Warn("Device index lookup failed, falling back to scan",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
		return "", false
	}
	return userID, true
}

// Set 回填索引（带 TTL）
func (i *DeviceIndex) Set(ctx context.Context, deviceID, userID string) error {
	if err := i.redisClient.Set(ctx, i.key(deviceID), userID, i.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set device index: %w", err)
	}
	return nil
}

// Invalidate 失效索引项（缓存的归属已过期时调用）
func (i *DeviceIndex) Invalidate(ctx context.Context, deviceID string) {
	if err := i.redisClient.Del(ctx, i.key(deviceID)).Err(); err != nil {
		i.logger.Warn("Failed to invalidate device index",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}
}
