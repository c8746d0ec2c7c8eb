package notifier

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
	"github.com/saifullahBUET144/webCrawler/pkg/config"
)

var at = time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

func sampleChanges() []model.ChangeEntry {
	return []model.ChangeEntry{
		{ItemID: "a_1", Timestamp: at, FieldChanged: "price_incl_tax", OldValue: "51.77", NewValue: "45"},
		{ItemID: "a_1", Timestamp: at, FieldChanged: "rating", OldValue: "3", NewValue: "4"},
		{ItemID: "b_2", Timestamp: at, FieldChanged: "price_incl_tax", OldValue: "10", NewValue: "12"},
		{ItemID: "c_3", Timestamp: at, FieldChanged: "name", OldValue: "Tom & Jerry", NewValue: "<b>Tom</b>"},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleChanges())
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.Items)
	assert.Equal(t, []FieldCount{
		{Field: "price_incl_tax", Count: 2},
		{Field: "name", Count: 1},
		{Field: "rating", Count: 1},
	}, s.ByField)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := &LogNotifier{Log: zap.New(core)}

	require.NoError(t, n.Notify(context.Background(), sampleChanges()))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.EqualValues(t, 4, fields["changes"])
	assert.EqualValues(t, 3, fields["items"])
	assert.EqualValues(t, 2, fields["price_incl_tax"])
}

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSMTP(alert config.AlertConfig, sendErr error) (*SMTPNotifier, *[]sentMail, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	var sent []sentMail
	n := NewSMTPNotifier(zap.New(core), alert)
	n.now = func() time.Time { return at }
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return sendErr
	}
	return n, &sent, logs
}

func TestSMTPNotifier_Sends(t *testing.T) {
	n, sent, _ := newTestSMTP(config.AlertConfig{
		SMTPHost: "smtp.example.com",
		SMTPPort: 2525,
		Username: "bot",
		Password: "pw",
		From:     "crawler@example.com",
		To:       "ops@example.com, dev@example.com",
	}, nil)

	require.NoError(t, n.Notify(context.Background(), sampleChanges()))
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "smtp.example.com:2525", mail.addr)
	assert.Equal(t, "crawler@example.com", mail.from)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "Subject: Book catalog: 4 change(s) detected\r\n")
	assert.Contains(t, mail.msg, "Content-Type: text/html")
	assert.Contains(t, mail.msg, "<td>price_incl_tax</td><td>2</td>")
	// 值要转义
	assert.Contains(t, mail.msg, "Tom &amp; Jerry")
	assert.NotContains(t, mail.msg, "<b>Tom</b>")
}

func TestSMTPNotifier_SkipsWhenIncomplete(t *testing.T) {
	n, sent, logs := newTestSMTP(config.AlertConfig{SMTPHost: "smtp.example.com", SMTPPort: 25}, nil)

	require.NoError(t, n.Notify(context.Background(), sampleChanges()))
	assert.Empty(t, *sent)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestSMTPNotifier_SendError(t *testing.T) {
	n, _, _ := newTestSMTP(config.AlertConfig{
		SMTPHost: "smtp.example.com",
		SMTPPort: 25,
		From:     "a@example.com",
		To:       "b@example.com",
	}, errors.New("421 service not available"))

	err := n.Notify(context.Background(), sampleChanges())
	assert.ErrorContains(t, err, "421")
}

func TestRenderHTML_Truncates(t *testing.T) {
	changes := make([]model.ChangeEntry, maxEmailRows+5)
	for i := range changes {
		changes[i] = model.ChangeEntry{ItemID: "x", Timestamp: at, FieldChanged: "rating", OldValue: "1", NewValue: "2"}
	}
	body, err := RenderHTML(changes, at)
	require.NoError(t, err)
	assert.Contains(t, string(body), "5 more change(s) not shown")
	assert.Equal(t, maxEmailRows, strings.Count(string(body), "<td>x</td>"))
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, []model.ChangeEntry) error { return f.err }

func TestMulti(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	boom := errors.New("boom")

	m := Multi{failingNotifier{err: boom}, &LogNotifier{Log: zap.New(core)}}
	err := m.Notify(context.Background(), sampleChanges())

	require.ErrorIs(t, err, boom)
	// 前一个失败不影响后面的通知器
	assert.Equal(t, 1, logs.Len())
}
