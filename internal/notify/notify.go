// Package notify emails a summary when a suite ends with unexpected outcomes.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"

	"github.com/kuitang/uiscenario/internal/logutil"
	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/report"
	"github.com/kuitang/uiscenario/internal/runner"
)

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Mock captures messages instead of sending them.
type Mock struct {
	mu       sync.Mutex
	Messages []Message
	// Err, when set, is returned by every Send.
	Err error
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msg)
	obs.From(ctx).Info("mock email captured", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Last returns the most recent message, or the zero value.
func (m *Mock) Last() Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return Message{}
	}
	return m.Messages[len(m.Messages)-1]
}

// Count returns the number of captured messages.
func (m *Mock) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

var failureEmail = template.Must(template.New("failure").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.5; color: #333; max-width: 640px; margin: 0 auto; padding: 20px;">
<h2 style="margin-top: 0;">{{.Subject}}</h2>
<p>{{.Summary.Total}} scenarios: {{.Summary.Passed}} passed, {{.Summary.Failed}} failed, {{.Summary.Errored}} errored.</p>
<ul>
{{range .Unexpected}}<li><strong>{{.ScenarioID}}</strong> {{.Outcome}} (expected {{.ExpectedOutcome}}){{if .Message}}: {{.Message}}{{end}}{{if .LastURL}} at {{.LastURL}}{{end}}</li>
{{end}}</ul>
{{if .ReportURL}}<p><a href="{{.ReportURL}}">Full report</a></p>{{end}}
<p style="color: #999; font-size: 12px;">Sent by uiscenario.</p>
</body>
</html>`))

// SuiteFailure builds the failure email for rep. ok is false when every
// scenario matched its expected outcome and nothing should be sent.
func SuiteFailure(rep *report.Report, to []string, reportURL string) (msg Message, ok bool, err error) {
	if rep.Summary.OK() {
		return Message{}, false, nil
	}
	var unexpected []runner.Result
	for _, res := range rep.Results {
		if !res.Matched() {
			res.Message = logutil.TruncateForLog(res.Message, 300)
			unexpected = append(unexpected, res)
		}
	}
	subject := fmt.Sprintf("uiscenario: %d of %d scenarios did not match", rep.Summary.Mismatched, rep.Summary.Total)
	if rep.Suite != "" {
		subject = fmt.Sprintf("uiscenario %s: %d of %d scenarios did not match", rep.Suite, rep.Summary.Mismatched, rep.Summary.Total)
	}

	var body bytes.Buffer
	err = failureEmail.Execute(&body, struct {
		Subject    string
		Summary    runner.Summary
		Unexpected []runner.Result
		ReportURL  string
	}{subject, rep.Summary, unexpected, reportURL})
	if err != nil {
		return Message{}, false, fmt.Errorf("notify: render email: %w", err)
	}
	return Message{To: to, Subject: subject, HTML: body.String()}, true, nil
}

// Suite sends the failure email for rep through n when the suite did not
// match. Recipients must be non-empty.
func Suite(ctx context.Context, n Notifier, rep *report.Report, to []string, reportURL string) error {
	if len(to) == 0 {
		return fmt.Errorf("notify: no recipients")
	}
	msg, ok, err := SuiteFailure(rep, to, reportURL)
	if err != nil || !ok {
		return err
	}
	if err := n.Send(ctx, msg); err != nil {
		return err
	}
	obs.From(ctx).Info("failure summary sent", "recipients", len(to), "mismatched", rep.Summary.Mismatched)
	return nil
}
