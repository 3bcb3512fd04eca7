package domain

import (
	"context"

	"itemstore/internal/models"
)

type ItemStore interface {
	List(ctx context.Context) ([]models.Item, error)
	Get(ctx context.Context, id int64) (models.Item, error)
	Create(ctx context.Context, name, description string) (models.Item, error)
	Update(ctx context.Context, id int64, update models.ItemUpdate) (models.Item, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
