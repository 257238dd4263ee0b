package signin

import "strings"

// Status is the verdict of the sign-in check.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusAlreadySigned Status = "already_signed"
	StatusUnknown       Status = "unknown"
	StatusError         Status = "error"
)

// Message is the line shown in the notification.
func (s Status) Message() string {
	switch s {
	case StatusSuccess:
		return "🎉 签到成功！"
	case StatusAlreadySigned:
		return "ℹ️ 今日已签到"
	case StatusError:
		return "❌ 执行异常"
	default:
		return "⚠️ 签到状态未知，请手动检查"
	}
}

const (
	markerSignedToday = "今日已签到"
	markerSuccess     = "签到成功"
)

var alreadySignedMarkers = []string{"已签到", "已经签到"}

// Classify reads the action title and page content after a captcha run. The
// second return is false when neither shows a definitive marker.
func Classify(title, content string) (Status, bool) {
	if strings.Contains(title, markerSignedToday) {
		return StatusSuccess, true
	}
	if strings.Contains(content, markerSuccess) || strings.Contains(content, markerSignedToday) {
		return StatusSuccess, true
	}
	for _, m := range alreadySignedMarkers {
		if strings.Contains(content, m) {
			return StatusAlreadySigned, true
		}
	}
	return StatusUnknown, false
}
