package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-terminal/internal/localstore"
	"pos-terminal/internal/models"
	"pos-terminal/internal/upstream"
	"pos-terminal/internal/util"
)

// ProductGateway creates products on the backoffice
type ProductGateway interface {
	CreateProduct(ctx context.Context, p *models.NewProduct) error
}

// ProductPublisher publishes ProductSynced events
type ProductPublisher interface {
	PublishProductSynced(ctx context.Context, event *models.ProductSyncedEvent) error
}

// CreateResult describes where a product creation ended up
type CreateResult struct {
	Queued bool                  `json:"queued"`
	Record *models.QueuedProduct `json:"record,omitempty"`
}

// ReplayReport summarizes one queue replay pass
type ReplayReport struct {
	Synced     int `json:"synced"`
	Duplicates int `json:"duplicates"`
	Kept       int `json:"kept"`
}

// ProductService creates products upstream, buffering them in the
// offline queue when the backoffice cannot be reached.
type ProductService struct {
	store     *localstore.Store
	gateway   ProductGateway
	publisher ProductPublisher
	logger    *zap.Logger
}

// NewProductService creates a product service
func NewProductService(store *localstore.Store, gateway ProductGateway, publisher ProductPublisher) *ProductService {
	s := &ProductService{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
	s.refreshQueueGauge()
	return s
}

// CreateProduct tries the backoffice first. Only a transport-level
// failure falls back to the queue; a server-side rejection (duplicate,
// validation) is the caller's problem to correct.
func (s *ProductService) CreateProduct(ctx context.Context, p *models.NewProduct) (*CreateResult, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.CreateProduct")
	defer span.End()

	err := s.gateway.CreateProduct(ctx, p)
	if err == nil {
		return &CreateResult{}, nil
	}
	if !errors.Is(err, upstream.ErrUnreachable) {
		return nil, err
	}

	rec, qerr := s.store.EnqueueProduct(*p)
	if qerr != nil {
		return nil, qerr
	}

	util.ProductsQueuedTotal.Inc()
	s.refreshQueueGauge()
	s.logger.Info("Backoffice unreachable, product queued",
		zap.Uint64("key", rec.Key),
		zap.String("name", p.Name))

	return &CreateResult{Queued: true, Record: rec}, nil
}

// ReplayQueue re-issues every queued creation in insertion order, one
// in-flight call at a time. A record the backoffice reports as a
// duplicate is dropped silently: once reachable, the server is the
// source of truth. Any other failure keeps the record for the next
// replay; there is no backoff and no retry counter.
func (s *ProductService) ReplayQueue(ctx context.Context) (*ReplayReport, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.ReplayQueue")
	defer span.End()

	records, err := s.store.QueuedProducts()
	if err != nil {
		return nil, err
	}

	report := &ReplayReport{}
	for _, rec := range records {
		err := s.gateway.CreateProduct(ctx, &rec.Product)

		var dupErr *upstream.DuplicateProductError
		switch {
		case err == nil:
			if rmErr := s.store.RemoveQueued(rec.Key); rmErr != nil {
				s.logger.Error("Failed to remove replayed record",
					zap.Uint64("key", rec.Key), zap.Error(rmErr))
			}
			report.Synced++
			util.QueueReplayTotal.WithLabelValues("synced").Inc()
			s.publishSynced(ctx, rec)

		case errors.As(err, &dupErr):
			// Already exists server-side; the local copy is superseded.
			if rmErr := s.store.RemoveQueued(rec.Key); rmErr != nil {
				s.logger.Error("Failed to remove superseded record",
					zap.Uint64("key", rec.Key), zap.Error(rmErr))
			}
			report.Duplicates++
			util.QueueReplayTotal.WithLabelValues("duplicate").Inc()
			s.logger.Info("Queued product already exists upstream, dropping",
				zap.Uint64("key", rec.Key),
				zap.String("name", rec.Product.Name))

		default:
			report.Kept++
			util.QueueReplayTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("Replay failed, keeping record",
				zap.Uint64("key", rec.Key),
				zap.String("name", rec.Product.Name),
				zap.Error(err))
		}
	}

	s.refreshQueueGauge()
	s.logger.Info("Queue replay finished",
		zap.Int("synced", report.Synced),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("kept", report.Kept))
	return report, nil
}

// Queue returns the pending records in insertion order
func (s *ProductService) Queue() ([]models.QueuedProduct, error) {
	return s.store.QueuedProducts()
}

func (s *ProductService) publishSynced(ctx context.Context, rec models.QueuedProduct) {
	if s.publisher == nil {
		return
	}
	event := &models.ProductSyncedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeProductSynced,
			Timestamp: time.Now(),
		},
		LocalKey: rec.Key,
		Name:     rec.Product.Name,
	}
	if err := s.publisher.PublishProductSynced(ctx, event); err != nil {
		s.logger.Error("Failed to publish ProductSynced event", zap.Error(err))
	}
}

func (s *ProductService) refreshQueueGauge() {
	depth, err := s.store.QueueDepth()
	if err != nil {
		s.logger.Warn("Failed to read queue depth", zap.Error(err))
		return
	}
	util.QueueDepth.Set(float64(depth))
}
