package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-session/internal/clock"
	"wisefido-session/internal/config"
	"wisefido-session/internal/evaluator"
	"wisefido-session/internal/models"
	"wisefido-session/internal/notify"
	"wisefido-session/internal/remote"
	"wisefido-session/internal/repository"
	"wisefido-session/internal/store"
	"wisefido-session/pkg/database"
	pkgmqtt "wisefido-session/pkg/mqtt"
	pkgredis "wisefido-session/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DashboardService 疗程看板服务（整合各层）
// 本地内存库是渲染的唯一写入方，远端是最终一致的镜像。
// 全部状态变更（tick、远端快照、用户命令）都在同一个事件循环
// 协程里串行执行；后端写入一律 fire-and-forget，完成回调只记日志，
// 绝不阻塞 tick 路径。
type DashboardService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *pkgmqtt.Client

	patientRepo *repository.PatientRepository
	alertRepo   *repository.AlertRepository
	subscriber  *remote.Subscriber

	patients *store.PatientStore
	alerts   *store.AlertStore

	clock       *clock.Clock
	sessionEval *evaluator.SessionEvaluator
	alertEval   *evaluator.AlertEvaluator
	dispatcher  *notify.Dispatcher
	banner      *notify.BannerChannel

	// offline 为 true 时全部写入只落本地，远端调用整体跳过
	offline bool
	// updating tick 驱动的状态变更重入保护
	updating bool

	commands     chan func()
	patientSnaps chan []models.Patient
	alertSnaps   chan []models.Alert

	subs []*remote.Subscription
}

// NewDashboardService 创建看板服务
// 后端未配置或初始连接失败不视为致命错误：服务降级为纯本地模式。
func NewDashboardService(cfg *config.Config, logger *zap.Logger) (*DashboardService, error) {
	s := &DashboardService{
		config:       cfg,
		logger:       logger,
		patients:     store.NewPatientStore(logger, cfg.Session.Sync.BucketSeconds),
		alerts:       store.NewAlertStore(logger),
		clock:        clock.New(nil),
		sessionEval:  evaluator.NewSessionEvaluator(logger),
		alertEval:    evaluator.NewAlertEvaluator(logger, cfg.Session.Evaluation.ReannounceSeconds),
		commands:     make(chan func(), 64),
		patientSnaps: make(chan []models.Patient, 4),
		alertSnaps:   make(chan []models.Alert, 4),
	}

	// 1. 数据库（仅在后端已配置时连接）
	if cfg.Configured() {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			logger.Warn("Failed to connect to database, falling back to local-only mode",
				zap.Error(err),
			)
			s.offline = true
		} else {
			s.db = db
			s.patientRepo = repository.NewPatientRepository(db, logger)
			s.alertRepo = repository.NewAlertRepository(db, logger)
		}
	} else {
		logger.Info("Backend not configured, running in local-only mode")
		s.offline = true
	}

	// 2. Redis（横幅通道与变更通知，独立尽力而为）
	redisClient := pkgredis.NewRedisClient(&cfg.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := pkgredis.Ping(pingCtx, redisClient); err != nil {
		logger.Warn("Failed to connect to redis, banner channel and change notifications disabled",
			zap.Error(err),
		)
		_ = redisClient.Close()
		redisClient = nil
	}
	s.redisClient = redisClient

	if s.db != nil && redisClient != nil {
		s.subscriber = remote.NewSubscriber(
			redisClient,
			s.patientRepo,
			s.alertRepo,
			logger,
			cfg.Session.Channels.Patients,
			cfg.Session.Channels.Alerts,
		)
	}

	// 3. MQTT（提示音与原生推送通道，独立尽力而为）
	mqttClient, err := pkgmqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		logger.Warn("Failed to connect to MQTT broker, tone and push channels disabled",
			zap.Error(err),
		)
		mqttClient = nil
	}
	s.mqttClient = mqttClient

	// 4. 通知通道：声音 → 横幅 → 原生推送，每个独立失败
	var channels []notify.Channel
	if mqttClient != nil {
		channels = append(channels, notify.NewToneChannel(
			mqttClient,
			cfg.Session.Topics.Tone,
			cfg.Session.Topics.ToneFallback,
			cfg.MQTT.QoS,
		))
	}
	if redisClient != nil {
		s.banner = notify.NewBannerChannel(redisClient, cfg.Session.Channels.Banner)
		channels = append(channels, s.banner)
	}
	if mqttClient != nil {
		channels = append(channels, notify.NewNativeChannel(
			mqttClient,
			cfg.Session.Topics.Push,
			cfg.MQTT.QoS,
			cfg.Session.PushGranted,
		))
	}
	s.dispatcher = notify.NewDispatcher(logger, channels...)

	return s, nil
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *DashboardService) Start(ctx context.Context) error {
	s.loadInitialData(ctx)

	if !s.offline {
		s.setupSubscriptions(ctx)
	}

	s.logger.Info("Dashboard service started",
		zap.Bool("offline", s.offline),
		zap.Int("patients", len(s.patients.Snapshot())),
	)

	// 时钟循环单独跑：每累计满 1 秒向事件循环投递一次推进。
	// 时钟内部状态只归时钟协程所有，事件循环只消费投递的快照。
	ticks := make(chan tick)
	go s.clock.Run(ctx,
		time.Duration(s.config.Session.Clock.PollIntervalMs)*time.Millisecond,
		func(secondsElapsed, currentTime int) {
			select {
			case ticks <- tick{seconds: secondsElapsed, currentTime: currentTime}:
			case <-ctx.Done():
			}
		},
	)

	// 事件循环：tick、远端快照、用户命令都在这里串行执行
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Dashboard service stopped")
			return nil
		case tk := <-ticks:
			s.handleTick(tk.seconds, tk.currentTime)
		case snapshot := <-s.patientSnaps:
			s.patients.ApplyRemoteSnapshot(snapshot)
		case snapshot := <-s.alertSnaps:
			s.alerts.ApplyRemoteSnapshot(snapshot)
		case fn := <-s.commands:
			fn()
		}
	}
}

// Stop 释放全部外部资源
func (s *DashboardService) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if s.db != nil {
		_ = database.Close(s.db)
	}
	if s.redisClient != nil {
		_ = pkgredis.Close(s.redisClient)
	}
	if s.mqttClient != nil {
		s.mqttClient.Close()
	}
}

// Offline 当前是否处于纯本地模式
func (s *DashboardService) Offline() bool {
	return s.offline
}

// ============================================
// 用户命令（投递到事件循环执行）
// ============================================

// StartTimer 开表
func (s *DashboardService) StartTimer(patientID int) {
	s.enqueue(func() { s.handleStartTimer(patientID) })
}

// PauseTimer 停表
func (s *DashboardService) PauseTimer(patientID int) {
	s.enqueue(func() { s.handlePauseTimer(patientID) })
}

// ResetTimer 重置（清零已计时间与疗程目标）
func (s *DashboardService) ResetTimer(patientID int) {
	s.enqueue(func() { s.handleResetTimer(patientID) })
}

// SetSessionDuration 设置疗程目标时长（分钟）
// 非正分钟数在入口处拒绝，不做任何变更。
func (s *DashboardService) SetSessionDuration(patientID int, minutes int) {
	if minutes <= 0 {
		s.logger.Debug("Rejected non-positive session duration",
			zap.Int("patient_id", patientID),
			zap.Int("minutes", minutes),
		)
		return
	}
	s.enqueue(func() { s.handleSetSessionDuration(patientID, minutes) })
}

// ScheduleAlert 从当前已计时间向后预约提醒（分钟）
// 非正分钟数或非法类型在入口处拒绝，不做任何变更。
func (s *DashboardService) ScheduleAlert(patientID int, typ models.AlertType, minutesFromNow int) {
	if minutesFromNow <= 0 {
		s.logger.Debug("Rejected non-positive alert offset",
			zap.Int("patient_id", patientID),
			zap.Int("minutes", minutesFromNow),
		)
		return
	}
	if typ != models.AlertNeedles && typ != models.AlertPulse {
		s.logger.Debug("Rejected alert type for scheduling",
			zap.String("type", string(typ)),
		)
		return
	}
	s.enqueue(func() { s.handleScheduleAlert(patientID, typ, minutesFromNow) })
}

// DismissAlert 确认提醒（终态）
func (s *DashboardService) DismissAlert(alertID string) {
	s.enqueue(func() { s.handleDismissAlert(alertID) })
}

// DeleteAlert 删除提醒
func (s *DashboardService) DeleteAlert(alertID string) {
	s.enqueue(func() { s.handleDeleteAlert(alertID) })
}

// ============================================
// 事件循环内的处理逻辑
// ============================================

// tick 一次时钟推进的投递内容（同一次 Advance 的一致快照）
type tick struct {
	seconds     int
	currentTime int
}

// handleTick 一次时钟推进
func (s *DashboardService) handleTick(secondsElapsed, currentTime int) {
	// 重入保护：上一次 tick 的同步变更尚未结束时直接跳过
	if s.updating {
		return
	}
	s.updating = true
	defer func() { s.updating = false }()

	// 无人计时则跳过病人推进，只评估提醒（已触发提醒的重播不依赖计时）
	if s.patients.HasRunning() {
		result := s.patients.Tick(secondsElapsed)

		for _, p := range result.Completed {
			s.handleSessionComplete(p, currentTime)
		}

		for _, p := range result.SyncDue {
			s.asyncPatientWrite(p.ID, map[string]interface{}{
				"timer_running": true,
				"time_elapsed":  p.TimeElapsed,
			})
		}
	}

	evalResult := s.alertEval.Evaluate(s.alerts.Snapshot(), s.patients.Snapshot(), currentTime)

	for _, a := range evalResult.Changed {
		s.alerts.Update(a)
		s.asyncAlertWrite(a)
	}

	for _, firing := range evalResult.Firings {
		s.dispatchFiring(firing)
	}
}

// handleSessionComplete 疗程完成转变
// 停表已由 PatientStore.Tick 原子完成，这里合成 session 提醒、
// 调度持久化，并恰好分发一次通知。
func (s *DashboardService) handleSessionComplete(patient models.Patient, currentTime int) {
	alert := s.sessionEval.OnComplete(patient, currentTime)
	added := s.alerts.ApplyLocalAdd(alert)

	s.asyncPatientWrite(patient.ID, map[string]interface{}{
		"timer_running": false,
		"time_elapsed":  patient.TimeElapsed,
	})
	s.asyncAlertCreate(added)

	s.dispatcher.Dispatch(notify.Notification{
		Kind:        models.AlertSession,
		PatientName: patient.Name,
		PatientBed:  patient.Bed,
		Elapsed:     models.FormatElapsed(patient.TimeElapsed),
	})
}

func (s *DashboardService) handleStartTimer(patientID int) {
	running := true
	s.patients.ApplyLocalUpdate(patientID, store.PatientUpdate{TimerRunning: &running})

	if p, ok := s.patients.Get(patientID); ok {
		s.asyncPatientWrite(patientID, map[string]interface{}{
			"timer_running": true,
			"time_elapsed":  p.TimeElapsed,
		})
	}
}

func (s *DashboardService) handlePauseTimer(patientID int) {
	running := false
	s.patients.ApplyLocalUpdate(patientID, store.PatientUpdate{TimerRunning: &running})

	if p, ok := s.patients.Get(patientID); ok {
		s.asyncPatientWrite(patientID, map[string]interface{}{
			"timer_running": false,
			"time_elapsed":  p.TimeElapsed,
		})
	}
}

func (s *DashboardService) handleResetTimer(patientID int) {
	running := false
	zero := 0
	s.patients.ApplyLocalUpdate(patientID, store.PatientUpdate{
		TimerRunning:    &running,
		TimeElapsed:     &zero,
		SessionDuration: &zero,
	})

	s.asyncPatientWrite(patientID, map[string]interface{}{
		"timer_running":    false,
		"time_elapsed":     0,
		"session_duration": 0,
	})
}

func (s *DashboardService) handleSetSessionDuration(patientID int, minutes int) {
	seconds := minutes * 60
	s.patients.ApplyLocalUpdate(patientID, store.PatientUpdate{SessionDuration: &seconds})

	s.asyncPatientWrite(patientID, map[string]interface{}{
		"session_duration": seconds,
	})
}

func (s *DashboardService) handleScheduleAlert(patientID int, typ models.AlertType, minutesFromNow int) {
	patient, ok := s.patients.Get(patientID)
	if !ok {
		s.logger.Warn("Schedule alert for unknown patient ignored",
			zap.Int("patient_id", patientID),
		)
		return
	}

	added := s.alerts.ApplyLocalAdd(models.Alert{
		PatientID: patientID,
		Type:      typ,
		TriggerAt: patient.TimeElapsed + minutesFromNow*60,
	})

	s.logger.Info("Alert scheduled",
		zap.String("alert_id", added.ID),
		zap.Int("patient_id", patientID),
		zap.String("type", string(typ)),
		zap.Int("trigger_at", added.TriggerAt),
		zap.Int("pending_same_type", len(s.alerts.PendingAlerts(patientID, typ))),
	)

	s.asyncAlertCreate(added)
}

func (s *DashboardService) handleDismissAlert(alertID string) {
	if !s.alerts.Dismiss(alertID) {
		s.logger.Warn("Dismiss for unknown alert ignored",
			zap.String("alert_id", alertID),
		)
		return
	}

	if a, ok := s.alerts.Get(alertID); ok {
		s.logger.Info("Alert dismissed",
			zap.String("alert_id", alertID),
			zap.Int("patient_id", a.PatientID),
			zap.Int("active_remaining", len(s.alerts.ActiveAlerts(a.PatientID))),
		)
		s.asyncAlertWrite(a)
	}
}

func (s *DashboardService) handleDeleteAlert(alertID string) {
	if !s.alerts.Remove(alertID) {
		s.logger.Warn("Delete for unknown alert ignored",
			zap.String("alert_id", alertID),
		)
		return
	}
	s.asyncAlertDelete(alertID)
}

// dispatchFiring 将一次触发决定交给通知分发器
func (s *DashboardService) dispatchFiring(firing evaluator.Firing) {
	patient, ok := s.patients.Get(firing.Alert.PatientID)
	if !ok {
		return
	}

	s.dispatcher.Dispatch(notify.Notification{
		Kind:        firing.Alert.Type,
		PatientName: patient.Name,
		PatientBed:  patient.Bed,
		Elapsed:     models.FormatElapsed(patient.TimeElapsed),
		Reannounce:  firing.Reannounce,
	})
}

// ============================================
// 初始加载与订阅
// ============================================

// loadInitialData 初始加载
// 后端不可达时本次会话余下时间都走纯本地模式，不自动重试初始加载。
func (s *DashboardService) loadInitialData(ctx context.Context) {
	if s.offline {
		s.seedLocalRoster()
		return
	}

	patients, err := s.patientRepo.GetPatients(ctx)
	if err != nil || len(patients) == 0 {
		if err != nil {
			s.logger.Error("Initial patient load failed",
				zap.Error(err),
			)
		}
		s.forceOffline("initial load failed, data will not sync this session")
		s.seedLocalRoster()
		return
	}
	s.patients.Load(patients)

	// 提醒拉取失败不致整体离线，从空列表开始
	alerts, err := s.alertRepo.GetAlerts(ctx)
	if err != nil {
		s.logger.Error("Initial alert load failed",
			zap.Error(err),
		)
		alerts = nil
	}
	s.alerts.Load(alerts)
}

// seedLocalRoster 离线模式下的本地初始病床
func (s *DashboardService) seedLocalRoster() {
	n := s.config.Session.SeedPatients
	if n <= 0 {
		n = 3
	}

	patients := make([]models.Patient, n)
	for i := 0; i < n; i++ {
		patients[i] = models.Patient{
			ID:   i + 1,
			Name: fmt.Sprintf("Patient %d", i+1),
			Bed:  fmt.Sprintf("Bed %d", i+1),
		}
	}
	s.patients.Load(patients)
}

// setupSubscriptions 建立远端变更订阅
// 回调把快照投递到事件循环，与 tick 在同一队列上串行合入。
func (s *DashboardService) setupSubscriptions(ctx context.Context) {
	if s.subscriber == nil {
		s.logger.Warn("Change subscriptions unavailable, remote edits will not be reflected live")
		return
	}

	patientSub, err := s.subscriber.SubscribePatients(ctx, func(patients []models.Patient) {
		select {
		case s.patientSnaps <- patients:
		case <-ctx.Done():
		}
	})
	if err != nil {
		s.logger.Error("Failed to subscribe to patient changes",
			zap.Error(err),
		)
	} else {
		s.subs = append(s.subs, patientSub)
	}

	alertSub, err := s.subscriber.SubscribeAlerts(ctx, func(alerts []models.Alert) {
		select {
		case s.alertSnaps <- alerts:
		case <-ctx.Done():
		}
	})
	if err != nil {
		s.logger.Error("Failed to subscribe to alert changes",
			zap.Error(err),
		)
	} else {
		s.subs = append(s.subs, alertSub)
	}
}

// ============================================
// 后端写入（fire-and-forget）
// ============================================

// asyncPatientWrite 异步写病人记录
func (s *DashboardService) asyncPatientWrite(patientID int, updates map[string]interface{}) {
	if s.offline || s.patientRepo == nil {
		return
	}

	go func() {
		ctx := context.Background()
		if err := s.patientRepo.UpdatePatient(ctx, patientID, updates); err != nil {
			s.handleWriteError("update patient", err)
			return
		}
		if s.subscriber != nil {
			s.subscriber.NotifyPatientsChanged(ctx)
		}
	}()
}

// asyncAlertCreate 异步插入提醒，成功后把本地ID换成服务端ID
// 显式用户操作的写入失败要给一次性提示。
func (s *DashboardService) asyncAlertCreate(alert models.Alert) {
	if s.offline || s.alertRepo == nil {
		return
	}

	go func() {
		ctx := context.Background()
		serverID, err := s.alertRepo.CreateAlert(ctx, &alert)
		if err != nil {
			s.handleWriteError("create alert", err)
			s.warnBanner("Failed to save alert", "The alert was only stored on this device.")
			return
		}

		s.enqueue(func() { s.alerts.ReconcileServerID(alert.ID, serverID) })
		if s.subscriber != nil {
			s.subscriber.NotifyAlertsChanged(ctx)
		}
	}()
}

// asyncAlertWrite 异步写提醒状态字段
func (s *DashboardService) asyncAlertWrite(alert models.Alert) {
	if s.offline || s.alertRepo == nil {
		return
	}

	updates := map[string]interface{}{
		"triggered": alert.Triggered,
		"dismissed": alert.Dismissed,
	}
	if alert.LastTriggeredAt != nil {
		updates["last_triggered_at"] = *alert.LastTriggeredAt
	}

	alertID := alert.ID
	go func() {
		ctx := context.Background()
		if err := s.alertRepo.UpdateAlert(ctx, alertID, updates); err != nil {
			s.handleWriteError("update alert", err)
			return
		}
		if s.subscriber != nil {
			s.subscriber.NotifyAlertsChanged(ctx)
		}
	}()
}

// asyncAlertDelete 异步删除提醒（本地ID在仓库层直接按成功处理）
func (s *DashboardService) asyncAlertDelete(alertID string) {
	if s.offline || s.alertRepo == nil {
		return
	}

	go func() {
		ctx := context.Background()
		if err := s.alertRepo.DeleteAlert(ctx, alertID); err != nil {
			s.handleWriteError("delete alert", err)
			return
		}
		if s.subscriber != nil {
			s.subscriber.NotifyAlertsChanged(ctx)
		}
	}()
}

// handleWriteError 后端写入失败的统一出口
// 权限类失败再试也会失败，转入纯本地模式；其余只记日志后丢弃。
func (s *DashboardService) handleWriteError(op string, err error) {
	if errors.Is(err, repository.ErrAccessDenied) {
		s.enqueue(func() {
			s.forceOffline("writes rejected by backend policy")
		})
		return
	}

	s.logger.Error("Backend write failed",
		zap.String("op", op),
		zap.Error(err),
	)
}

// forceOffline 转入纯本地模式（本次会话内不再恢复）
func (s *DashboardService) forceOffline(reason string) {
	if s.offline {
		return
	}
	s.offline = true

	s.logger.Warn("Switched to local-only mode",
		zap.String("reason", reason),
	)
	s.warnBanner("Offline mode", "Changes will not sync to the server: "+reason)
}

// warnBanner 尽力而为的用户可见警告
func (s *DashboardService) warnBanner(title, body string) {
	if s.banner == nil {
		return
	}
	if err := s.banner.SendText(title, body); err != nil {
		s.logger.Warn("Failed to publish warning banner",
			zap.Error(err),
		)
	}
}

// enqueue 把闭包投递到事件循环
// 队列满（循环已停止）时丢弃并记日志。
func (s *DashboardService) enqueue(fn func()) {
	select {
	case s.commands <- fn:
	default:
		s.logger.Warn("Command queue full, dropping command")
	}
}
