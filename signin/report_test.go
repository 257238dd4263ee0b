package signin

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReportMarkdownDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC)
	r := NewReport("逐觅签到通知", "alice", now, time.FixedZone("CST", 8*60*60))

	md := r.Markdown()

	assert.True(t, strings.HasPrefix(md, "📅 *逐觅签到通知*\n\n"))
	assert.Contains(t, md, "👤 用户名：alice\n")
	assert.Contains(t, md, "🔗 专属链接：未知\n")
	assert.Contains(t, md, "📊 剩余天数：未知 天\n")
	assert.Contains(t, md, "⚠️ 签到状态未知，请手动检查\n")
	assert.Contains(t, md, "🔥 连续签到天数：未知\n")
	assert.Contains(t, md, "🕒 时间：2026-03-01 08:05:00\n")
}

func TestReportMarkdownFilled(t *testing.T) {
	r := NewReport("Daily", "bob", time.Now(), time.UTC)
	r.APILink = "https://example.test/api/x"
	r.ExpireTime = "2026-12-31 23:59:59"
	r.SetRemainingDays(42)
	r.Status = StatusSuccess
	r.TodayCount = "1"
	r.ContinuousDays = "7"

	md := r.Markdown()

	assert.Contains(t, md, "🔗 专属链接：https://example.test/api/x\n")
	assert.Contains(t, md, "📊 剩余天数：42 天\n")
	assert.Contains(t, md, "\n🎉 签到成功！\n")
	assert.Contains(t, md, "📈 今日签到次数：1\n")
	assert.Contains(t, md, "🔥 连续签到天数：7\n")
}

func TestReportError(t *testing.T) {
	r := NewReport("Daily", "bob", time.Now(), nil)
	r.SetError(errors.New("browser crashed"))

	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, "❌ 执行异常: browser crashed", r.StatusLine())
	assert.Contains(t, r.Markdown(), "❌ 执行异常: browser crashed\n")
}
