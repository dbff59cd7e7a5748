package resolver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zzzyqyf/MAB/internal/models"
	"github.com/zzzyqyf/MAB/internal/repository"
)

// Resolver 设备归属解析器
// 先查 Redis 二级索引（deviceId → userId），命中则按用户ID直接读取；
// 未命中或索引过期则回落到用户集合扫描并回填索引。
// 两条路径返回的结果语义一致
type Resolver struct {
	repo   *repository.UserRepository
	index  *repository.DeviceIndex // 可为 nil（纯扫描模式）
	logger *zap.Logger
}

// NewResolver 创建归属解析器
func NewResolver(repo *repository.UserRepository, index *repository.DeviceIndex, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		index:  index,
		logger: logger,
	}
}

// Resolve 解析设备归属，返回拥有该设备的用户及其报警上下文
// 设备不属于任何用户时返回 repository.ErrDeviceNotFound
func (r *Resolver) Resolve(ctx context.Context, deviceID string) (*models.Owner, error) {
	if r.index != nil {
		if userID, ok := r.index.Get(ctx, deviceID); ok {
			owner, err := r.repo.GetOwnerByUserID(ctx, userID, deviceID)
			if err == nil {
				return owner, nil
			}
			if !errors.Is(err, repository.ErrDeviceNotFound) {
				return nil, err
			}
			// 索引过期（设备改绑或用户删除）：失效后走扫描
			r.logger.Info("Device index stale, invalidating and rescanning",
				zap.String("device_id", deviceID),
				zap.String("cached_user_id", userID),
			)
			r.index.Invalidate(ctx, deviceID)
		}
	}

	owner, err := r.repo.FindDeviceOwner(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if r.index != nil {
		if err := r.index.Set(ctx, deviceID, owner.UserID); err != nil {
			r.logger.Warn("Failed to backfill device index",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
	}

	return owner, nil
}
