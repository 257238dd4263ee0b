package signin

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const unknown = "未知"

// Report is the outcome of one run, as sent to the user.
type Report struct {
	Title          string
	Username       string
	LoggedIn       bool
	APILink        string
	ExpireTime     string
	RemainingDays  string
	Status         Status
	Detail         string
	TodayCount     string
	ContinuousDays string
	Time           time.Time
	Location       *time.Location

	RunID          string
	CaptchaOutcome string
	CaptchaTries   int
}

// NewReport starts a report with every value unknown.
func NewReport(title, username string, now time.Time, loc *time.Location) *Report {
	if loc == nil {
		loc = time.Local
	}
	return &Report{
		Title:          title,
		Username:       username,
		APILink:        unknown,
		ExpireTime:     unknown,
		RemainingDays:  unknown,
		Status:         StatusUnknown,
		TodayCount:     unknown,
		ContinuousDays: unknown,
		Time:           now,
		Location:       loc,
	}
}

// SetError marks the run as failed with err.
func (r *Report) SetError(err error) {
	r.Status = StatusError
	r.Detail = err.Error()
}

// SetRemainingDays stores the day count.
func (r *Report) SetRemainingDays(days int) {
	r.RemainingDays = strconv.Itoa(days)
}

// StatusLine is the human-readable verdict.
func (r *Report) StatusLine() string {
	if r.Status == StatusError && r.Detail != "" {
		return fmt.Sprintf("%s: %s", r.Status.Message(), r.Detail)
	}
	return r.Status.Message()
}

// Markdown renders the notification text.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 *%s*\n\n", r.Title)
	fmt.Fprintf(&b, "👤 用户名：%s\n", orUnknown(r.Username))
	fmt.Fprintf(&b, "🔗 专属链接：%s\n", orUnknown(r.APILink))
	fmt.Fprintf(&b, "📆 到期时间：%s\n", orUnknown(r.ExpireTime))
	fmt.Fprintf(&b, "📊 剩余天数：%s 天\n\n", orUnknown(r.RemainingDays))
	fmt.Fprintf(&b, "%s\n", r.StatusLine())
	fmt.Fprintf(&b, "📈 今日签到次数：%s\n", orUnknown(r.TodayCount))
	fmt.Fprintf(&b, "🔥 连续签到天数：%s\n", orUnknown(r.ContinuousDays))
	fmt.Fprintf(&b, "🕒 时间：%s\n", r.Time.In(r.Location).Format(expireLayout))
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}
