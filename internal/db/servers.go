package db

import (
	"context"

	"gorm.io/gorm"
)

type ServerRepo struct {
	db *gorm.DB
}

func NewServerRepo(db *gorm.DB) *ServerRepo {
	return &ServerRepo{db: db}
}

// ListEnabled возвращает включённые серверы в порядке id.
func (r *ServerRepo) ListEnabled(ctx context.Context) ([]Server, error) {
	var servers []Server
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&servers).Error
	return servers, err
}

func (r *ServerRepo) CountEnabled(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Server{}).Where("enabled = ?", true).Count(&count).Error
	return count, err
}

func (r *ServerRepo) List(ctx context.Context) ([]Server, error) {
	var servers []Server
	err := r.db.WithContext(ctx).Order("id").Find(&servers).Error
	return servers, err
}

func (r *ServerRepo) Get(ctx context.Context, id uint) (*Server, error) {
	var server Server
	if err := r.db.WithContext(ctx).First(&server, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &server, nil
}

func (r *ServerRepo) Create(ctx context.Context, server *Server) error {
	if server.Protocol == "" {
		server.Protocol = ProtocolVLESS
	}
	return r.db.WithContext(ctx).Create(server).Error
}

// Update применяет patch к серверу и сохраняет результат.
func (r *ServerRepo) Update(ctx context.Context, id uint, patch ServerPatch) (*Server, error) {
	var updated Server
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Server
		if err := tx.First(&current, id).Error; err != nil {
			return notFound(err)
		}
		updated = patch.Apply(current)
		return tx.Save(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *ServerRepo) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&Server{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound)
	}
	return nil
}

// InboundIDs возвращает уникальные id инбаундов панели в порядке серверов.
func (r *ServerRepo) InboundIDs(ctx context.Context, enabledOnly bool) ([]int, error) {
	var raw []int
	q := r.db.WithContext(ctx).Model(&Server{}).Where("inbound_id IS NOT NULL")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if err := q.Order("id").Pluck("inbound_id", &raw).Error; err != nil {
		return nil, err
	}
	seen := make(map[int]struct{}, len(raw))
	ids := make([]int, 0, len(raw))
	for _, id := range raw {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
