package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flick_kiosk/internal/models"
)

// ErrCacheMiss signals the snapshot is not cached.
var ErrCacheMiss = errors.New("cart snapshot not cached")

// ErrEmptyCart is returned when checkout is attempted with nothing selected.
var ErrEmptyCart = errors.New("cart is empty")

// CartRepository persists cart line items across restarts.
type CartRepository interface {
	List(ctx context.Context) ([]models.CartItem, error)
	Upsert(ctx context.Context, item models.CartItem) error
	UpdateQuantity(ctx context.Context, productID int64, quantity int) error
	Remove(ctx context.Context, productID int64) error
	Clear(ctx context.Context) error
}

// SnapshotCache caches the assembled cart snapshot between reads.
type SnapshotCache interface {
	Get(ctx context.Context) (*models.CartSnapshot, error)
	Set(ctx context.Context, snapshot *models.CartSnapshot) error
	Delete(ctx context.Context) error
}

// GormCartRepository is the durable cart store.
type GormCartRepository struct {
	db *gorm.DB
}

func NewGormCartRepository(db *gorm.DB) *GormCartRepository {
	return &GormCartRepository{db: db}
}

func (r *GormCartRepository) List(ctx context.Context) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := r.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *GormCartRepository) Upsert(ctx context.Context, item models.CartItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("cart_items.quantity + ?", item.Quantity),
			"unit_price": item.UnitPrice,
			"name":       item.Name,
			"updated_at": time.Now(),
		}),
	}).Create(&item).Error
}

func (r *GormCartRepository) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	result := r.db.WithContext(ctx).Model(&models.CartItem{}).
		Where("product_id = ?", productID).
		Update("quantity", quantity)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("product %d is not in the cart", productID)
	}
	return nil
}

func (r *GormCartRepository) Remove(ctx context.Context, productID int64) error {
	return r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Delete(&models.CartItem{}).Error
}

func (r *GormCartRepository) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&models.CartItem{}).Error
}

// RedisSnapshotCache keeps the cart snapshot in Redis so repeated session
// reads by the display shell skip the database.
type RedisSnapshotCache struct {
	cache *RedisCache
	ttl   time.Duration
}

const cartSnapshotKey = "kiosk:cart:snapshot"

func NewRedisSnapshotCache(cache *RedisCache) *RedisSnapshotCache {
	return &RedisSnapshotCache{cache: cache, ttl: 15 * time.Minute}
}

func (c *RedisSnapshotCache) Get(ctx context.Context) (*models.CartSnapshot, error) {
	var snapshot models.CartSnapshot
	err := c.cache.Get(ctx, cartSnapshotKey, &snapshot)
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return &snapshot, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, snapshot *models.CartSnapshot) error {
	return c.cache.Set(ctx, cartSnapshotKey, snapshot, c.ttl)
}

func (c *RedisSnapshotCache) Delete(ctx context.Context) error {
	return c.cache.Delete(ctx, cartSnapshotKey)
}

// CartService fronts the durable cart store with a cache-aside snapshot.
// Cache failures are logged and absorbed; the database is the source of
// truth.
type CartService struct {
	repo   CartRepository
	cache  SnapshotCache
	logger *zap.SugaredLogger
}

func NewCartService(repo CartRepository, cache SnapshotCache, logger *zap.SugaredLogger) *CartService {
	return &CartService{repo: repo, cache: cache, logger: logger}
}

func (s *CartService) AddItem(ctx context.Context, productID int64, name string, unitPrice int64, quantity int) error {
	if quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	err := s.repo.Upsert(ctx, models.CartItem{
		ProductID: productID,
		Name:      name,
		UnitPrice: unitPrice,
		Quantity:  quantity,
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// UpdateQuantity sets the quantity for a line; zero or below removes it.
func (s *CartService) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	var err error
	if quantity <= 0 {
		err = s.repo.Remove(ctx, productID)
	} else {
		err = s.repo.UpdateQuantity(ctx, productID, quantity)
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CartService) RemoveItem(ctx context.Context, productID int64) error {
	if err := s.repo.Remove(ctx, productID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Clear empties the cart. Called when a payment session reaches a terminal
// outcome and when the customer abandons the order.
func (s *CartService) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Snapshot assembles the cart lines and total, serving from cache when it
// can.
func (s *CartService) Snapshot(ctx context.Context) (*models.CartSnapshot, error) {
	if s.cache != nil {
		if snapshot, err := s.cache.Get(ctx); err == nil {
			return snapshot, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warnw("cart cache read failed", "err", err)
		}
	}

	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &models.CartSnapshot{Items: items}
	for _, item := range items {
		snapshot.Total += item.UnitPrice * int64(item.Quantity)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, snapshot); err != nil {
			s.logger.Warnw("cart cache write failed", "err", err)
		}
	}
	return snapshot, nil
}

func (s *CartService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx); err != nil {
		s.logger.Warnw("cart cache invalidation failed", "err", err)
	}
}
