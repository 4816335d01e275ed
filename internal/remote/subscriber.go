package remote

import (
	"context"
	"sync"

	"wisefido-session/internal/models"
	"wisefido-session/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Subscription 订阅句柄
// Unsubscribe 之后，已在途的变更回调一律作废（不再触发 onChange）。
type Subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Unsubscribe 取消订阅
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.pubsub.Close()
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscriber 远端变更订阅器
// 写入方每次成功写库后向变更频道发一条通知，订阅方收到通知
// 即重新拉取全量列表并回调——与后端的最终一致镜像由此收敛。
type Subscriber struct {
	client          *redis.Client
	patientRepo     *repository.PatientRepository
	alertRepo       *repository.AlertRepository
	logger          *zap.Logger
	patientsChannel string
	alertsChannel   string
}

// NewSubscriber 创建订阅器
func NewSubscriber(
	client *redis.Client,
	patientRepo *repository.PatientRepository,
	alertRepo *repository.AlertRepository,
	logger *zap.Logger,
	patientsChannel string,
	alertsChannel string,
) *Subscriber {
	return &Subscriber{
		client:          client,
		patientRepo:     patientRepo,
		alertRepo:       alertRepo,
		logger:          logger,
		patientsChannel: patientsChannel,
		alertsChannel:   alertsChannel,
	}
}

// SubscribePatients 订阅病人表变更
// 收到通知后重新拉取全量病人列表并回调。
func (s *Subscriber) SubscribePatients(ctx context.Context, onChange func([]models.Patient)) (*Subscription, error) {
	return s.subscribe(ctx, s.patientsChannel, func(fetchCtx context.Context) error {
		patients, err := s.patientRepo.GetPatients(fetchCtx)
		if err != nil {
			return err
		}
		onChange(patients)
		return nil
	})
}

// SubscribeAlerts 订阅提醒表变更
// 收到通知后重新拉取全量提醒列表并回调。
func (s *Subscriber) SubscribeAlerts(ctx context.Context, onChange func([]models.Alert)) (*Subscription, error) {
	return s.subscribe(ctx, s.alertsChannel, func(fetchCtx context.Context) error {
		alerts, err := s.alertRepo.GetAlerts(fetchCtx)
		if err != nil {
			return err
		}
		onChange(alerts)
		return nil
	})
}

func (s *Subscriber) subscribe(ctx context.Context, channel string, refetch func(context.Context) error) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	pubsub := s.client.Subscribe(subCtx, channel)

	// 确认订阅建立，失败立刻返回
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	sub := &Subscription{
		pubsub: pubsub,
		cancel: cancel,
	}

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				if sub.isClosed() {
					return
				}

				s.logger.Debug("Remote change notification received",
					zap.String("channel", msg.Channel),
				)

				if err := refetch(subCtx); err != nil {
					// 拉取失败只记日志，下一条通知再试
					s.logger.Error("Failed to refetch after change notification",
						zap.String("channel", msg.Channel),
						zap.Error(err),
					)
				}
			}
		}
	}()

	return sub, nil
}

// NotifyPatientsChanged 发布病人表变更通知
func (s *Subscriber) NotifyPatientsChanged(ctx context.Context) {
	if err := s.client.Publish(ctx, s.patientsChannel, "changed").Err(); err != nil {
		s.logger.Warn("Failed to publish patients change notification",
			zap.Error(err),
		)
	}
}

// NotifyAlertsChanged 发布提醒表变更通知
func (s *Subscriber) NotifyAlertsChanged(ctx context.Context) {
	if err := s.client.Publish(ctx, s.alertsChannel, "changed").Err(); err != nil {
		s.logger.Warn("Failed to publish alerts change notification",
			zap.Error(err),
		)
	}
}
