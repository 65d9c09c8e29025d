package report

import "github.com/KevinKickass/OpenMotionCore/internal/machine"

// AlarmInfo is the operator-facing description of an alarm.
type AlarmInfo struct {
	Code  int    `json:"code"`
	Name  string `json:"name"`
	Fatal bool   `json:"fatal"`
}

// Alarm describes one alarm code.
func Alarm(code machine.AlarmCode) AlarmInfo {
	return AlarmInfo{Code: int(code), Name: code.String(), Fatal: code.IsFatal()}
}

// AlarmTable describes every alarm code in numeric order.
func AlarmTable() []AlarmInfo {
	out := make([]AlarmInfo, 0, len(machine.Alarms))
	for _, code := range machine.Alarms {
		out = append(out, Alarm(code))
	}
	return out
}
