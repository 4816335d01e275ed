package models

import "fmt"

// Patient 病人（对应 patients 表）
// TimeElapsed 为当前疗程已累计的秒数，仅由时钟循环推进，
// 显式重置之外不允许回退。
type Patient struct {
	ID              int    `json:"id" db:"id"`
	Name            string `json:"name" db:"name"`
	Bed             string `json:"bed" db:"bed"`
	TimerRunning    bool   `json:"timer_running" db:"timer_running"`
	TimeElapsed     int    `json:"time_elapsed" db:"time_elapsed"`
	SessionDuration int    `json:"session_duration" db:"session_duration"` // 疗程目标时长（秒），0 表示未设置
}

// SessionComplete 疗程是否已达到目标时长
func (p *Patient) SessionComplete() bool {
	return p.SessionDuration > 0 && p.TimeElapsed >= p.SessionDuration
}

// FormatElapsed 将秒数格式化为 mm:ss（用于通知内容）
func FormatElapsed(seconds int) string {
	mins := seconds / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d", mins, secs)
}
