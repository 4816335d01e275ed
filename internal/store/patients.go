package store

import (
	"wisefido-session/internal/models"

	"go.uber.org/zap"
)

// PatientUpdate 病人字段的部分更新
// nil 字段表示不修改。
type PatientUpdate struct {
	Name            *string
	Bed             *string
	TimerRunning    *bool
	TimeElapsed     *int
	SessionDuration *int
}

// TickResult 一次时钟推进的结果
type TickResult struct {
	// Completed 本次推进中越过疗程目标并被停表的病人（停表后的状态）
	Completed []models.Patient
	// SyncDue 计时写入节流桶前移、需要同步到后端的仍在计时的病人
	SyncDue []models.Patient
}

// PatientStore 病人内存库
// 渲染状态的唯一写入方。远端快照异步合入，本地正在计时的病人
// 保持本地权威：快照不得回拨其 running/elapsed 字段。
// 仅允许事件循环单线程访问，不加锁。
type PatientStore struct {
	logger        *zap.Logger
	patients      []models.Patient
	bucketSeconds int

	// 本地权威状态：id → 是否本地计时中 / 本地已计秒数
	localOwned map[int]bool
	localTimes map[int]int
}

// NewPatientStore 创建病人内存库
// bucketSeconds 为计时写入节流桶大小（秒）。
func NewPatientStore(logger *zap.Logger, bucketSeconds int) *PatientStore {
	if bucketSeconds <= 0 {
		bucketSeconds = 2
	}
	return &PatientStore{
		logger:        logger,
		bucketSeconds: bucketSeconds,
		localOwned:    make(map[int]bool),
		localTimes:    make(map[int]int),
	}
}

// Load 全量替换病人列表（初始加载或离线种子数据）
func (s *PatientStore) Load(patients []models.Patient) {
	s.patients = make([]models.Patient, len(patients))
	copy(s.patients, patients)
}

// Snapshot 返回当前病人列表的副本
func (s *PatientStore) Snapshot() []models.Patient {
	out := make([]models.Patient, len(s.patients))
	copy(out, s.patients)
	return out
}

// Get 按ID查找病人
func (s *PatientStore) Get(id int) (models.Patient, bool) {
	for i := range s.patients {
		if s.patients[i].ID == id {
			return s.patients[i], true
		}
	}
	return models.Patient{}, false
}

// ApplyLocalUpdate 合并本地部分更新
// running false→true 时以合并后的 elapsed 为基线建立本地权威；
// true→false 时释放本地权威。未知ID记日志后忽略。
func (s *PatientStore) ApplyLocalUpdate(id int, upd PatientUpdate) {
	idx := s.indexOf(id)
	if idx < 0 {
		s.logger.Warn("Local update for unknown patient ignored",
			zap.Int("patient_id", id),
		)
		return
	}

	p := &s.patients[idx]
	wasRunning := p.TimerRunning

	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Bed != nil {
		p.Bed = *upd.Bed
	}
	if upd.TimeElapsed != nil {
		p.TimeElapsed = *upd.TimeElapsed
	}
	if upd.SessionDuration != nil {
		p.SessionDuration = *upd.SessionDuration
	}
	if upd.TimerRunning != nil {
		p.TimerRunning = *upd.TimerRunning
	}

	switch {
	case !wasRunning && p.TimerRunning:
		// 开表：当前已计秒数作为本地权威基线
		s.localOwned[id] = true
		s.localTimes[id] = p.TimeElapsed
	case wasRunning && !p.TimerRunning:
		s.localOwned[id] = false
	}
}

// ApplyRemoteSnapshot 合入远端快照
// 本地计时中的病人保留本地 running/elapsed，其余字段接受远端值；
// 其他病人整条接受远端记录。保证看板上正在走的计时不会因
// 过期的远端读数而回拨。
func (s *PatientStore) ApplyRemoteSnapshot(remote []models.Patient) {
	merged := make([]models.Patient, len(remote))
	for i, rp := range remote {
		if s.localOwned[rp.ID] {
			rp.TimerRunning = true
			if local, ok := s.localTimes[rp.ID]; ok {
				rp.TimeElapsed = local
			}
		}
		merged[i] = rp
	}
	s.patients = merged
}

// Tick 为所有计时中的病人累加秒数
// 越过疗程目标的病人在同一次更新中停表（不允许观察到
// running 且 elapsed 超过目标的中间态），并进入 Completed；
// 节流桶 floor(elapsed/bucket) 前移的病人进入 SyncDue。
func (s *PatientStore) Tick(secondsElapsed int) TickResult {
	var result TickResult
	if secondsElapsed < 1 {
		return result
	}

	for i := range s.patients {
		p := &s.patients[i]
		if !p.TimerRunning {
			continue
		}

		oldElapsed := p.TimeElapsed
		newElapsed := oldElapsed + secondsElapsed
		s.localTimes[p.ID] = newElapsed
		p.TimeElapsed = newElapsed

		if p.SessionComplete() {
			// 停表与计时更新必须在同一次更新里完成
			p.TimerRunning = false
			s.localOwned[p.ID] = false
			result.Completed = append(result.Completed, *p)
			continue
		}

		if newElapsed/s.bucketSeconds > oldElapsed/s.bucketSeconds {
			result.SyncDue = append(result.SyncDue, *p)
		}
	}

	return result
}

// HasRunning 是否存在计时中的病人
func (s *PatientStore) HasRunning() bool {
	for i := range s.patients {
		if s.patients[i].TimerRunning {
			return true
		}
	}
	return false
}

func (s *PatientStore) indexOf(id int) int {
	for i := range s.patients {
		if s.patients[i].ID == id {
			return i
		}
	}
	return -1
}
