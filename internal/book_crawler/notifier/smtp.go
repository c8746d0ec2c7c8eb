package notifier

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saifullahBUET144/webCrawler/internal/book_crawler/model"
	"github.com/saifullahBUET144/webCrawler/pkg/config"
)

// maxEmailRows 邮件正文中最多列出的变更条数
const maxEmailRows = 200

var reportTmpl = template.Must(template.New("report").Parse(`<html><body>
<h2>Book catalog changes</h2>
<p>{{.Summary.Total}} change(s) across {{.Summary.Items}} book(s), detected {{.Generated}}.</p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Field</th><th>Changes</th></tr>
{{range .Summary.ByField}}<tr><td>{{.Field}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
<h3>Details</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Book</th><th>Field</th><th>Old</th><th>New</th><th>Time (UTC)</th></tr>
{{range .Rows}}<tr><td>{{.ItemID}}</td><td>{{.FieldChanged}}</td><td>{{.OldValue}}</td><td>{{.NewValue}}</td><td>{{.Timestamp.Format "2006-01-02 15:04:05"}}</td></tr>
{{end}}</table>
{{if .Truncated}}<p>{{.Truncated}} more change(s) not shown; see /changes/report.</p>{{end}}
</body></html>`))

// sendMailFunc 与 smtp.SendMail 签名一致，测试时替换
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier 通过 SMTP 发送 HTML 变更报告
type SMTPNotifier struct {
	Log   *zap.Logger
	Alert config.AlertConfig

	send sendMailFunc
	now  func() time.Time
}

func NewSMTPNotifier(log *zap.Logger, alert config.AlertConfig) *SMTPNotifier {
	return &SMTPNotifier{Log: log, Alert: alert, send: smtp.SendMail, now: time.Now}
}

// Notify 配置不完整时只记警告并返回 nil
func (n *SMTPNotifier) Notify(_ context.Context, changes []model.ChangeEntry) error {
	if !n.Alert.Enabled() {
		n.Log.Warn("SMTP alert settings incomplete, skipping email alert")
		return nil
	}

	body, err := RenderHTML(changes, n.now())
	if err != nil {
		return err
	}

	recipients := config.SplitList(n.Alert.To)
	subject := fmt.Sprintf("Book catalog: %d change(s) detected", len(changes))
	msg := buildMessage(n.Alert.From, recipients, subject, body)

	var auth smtp.Auth
	if n.Alert.Username != "" {
		auth = smtp.PlainAuth("", n.Alert.Username, n.Alert.Password, n.Alert.SMTPHost)
	}

	addr := net.JoinHostPort(n.Alert.SMTPHost, strconv.Itoa(n.Alert.SMTPPort))
	n.Log.Info("Sending email alert", zap.Strings("to", recipients), zap.Int("changes", len(changes)))
	if err := n.send(addr, auth, n.Alert.From, recipients, msg); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

// RenderHTML 渲染邮件正文
func RenderHTML(changes []model.ChangeEntry, generated time.Time) ([]byte, error) {
	rows := changes
	truncated := 0
	if len(rows) > maxEmailRows {
		truncated = len(rows) - maxEmailRows
		rows = rows[:maxEmailRows]
	}

	var buf bytes.Buffer
	err := reportTmpl.Execute(&buf, map[string]any{
		"Summary":   Summarize(changes),
		"Rows":      rows,
		"Truncated": truncated,
		"Generated": generated.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return nil, fmt.Errorf("render alert email: %w", err)
	}
	return buf.Bytes(), nil
}

func buildMessage(from string, to []string, subject string, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.Write(body)
	return b.Bytes()
}
