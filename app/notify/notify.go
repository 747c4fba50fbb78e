// Package notify delivers run results to webhooks and email via go-pkgz/notify
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"

	"github.com/agenclip/agenclip/app/engine"
)

// Params configures the notification service
type Params struct {
	Destinations []string // http(s) webhook urls and mailto: urls
	SMTP         notify.SMTPParams
	Timeout      time.Duration // per destination, 10s if not set
	OnCompletion bool
	OnError      bool
}

// Service sends run results to all destinations. Nil Service is valid and sends nothing.
type Service struct {
	notifiers    []notify.Notifier
	destinations []string
	timeout      time.Duration
	onCompletion bool
	onError      bool
}

// NewService makes notification service, returns nil if no destinations configured
func NewService(p Params) *Service {
	if len(p.Destinations) == 0 {
		return nil
	}
	res := &Service{destinations: p.Destinations, timeout: p.Timeout, onCompletion: p.OnCompletion, onError: p.OnError}
	if res.timeout <= 0 {
		res.timeout = 10 * time.Second
	}

	res.notifiers = append(res.notifiers, notify.NewWebhook(notify.WebhookParams{Timeout: res.timeout}))
	for _, d := range p.Destinations {
		if strings.HasPrefix(d, "mailto:") {
			smtp := p.SMTP
			if smtp.ContentType == "" {
				smtp.ContentType = "text/html"
			}
			if smtp.TimeOut == 0 {
				smtp.TimeOut = res.timeout
			}
			res.notifiers = append(res.notifiers, notify.NewEmail(smtp))
			break
		}
	}
	log.Printf("[INFO] notifications enabled for %d destination(s), completion: %v, error: %v",
		len(p.Destinations), p.OnCompletion, p.OnError)
	return res
}

// RunCompleted reports a completed run
func (s *Service) RunCompleted(ctx context.Context, filename string, clips []engine.ClipResult) {
	if s == nil || !s.onCompletion {
		return
	}
	text := fmt.Sprintf("agenclip: %d clips ready for %s", len(clips), filename)
	html, err := MakeCompletionHTML(filename, clips)
	if err != nil {
		log.Printf("[WARN] can't make completion html, %v", err)
		html = text
	}
	if err := s.send(ctx, text, html); err != nil {
		log.Printf("[WARN] can't send completion notification for %s, %v", filename, err)
	}
}

// RunFailed reports a failed run
func (s *Service) RunFailed(ctx context.Context, filename, errMsg string) {
	if s == nil || !s.onError {
		return
	}
	text := fmt.Sprintf("agenclip: run failed for %s: %s", filename, errMsg)
	html, err := MakeErrorHTML(filename, errMsg)
	if err != nil {
		log.Printf("[WARN] can't make error html, %v", err)
		html = text
	}
	if err := s.send(ctx, text, html); err != nil {
		log.Printf("[WARN] can't send error notification for %s, %v", filename, err)
	}
}

// send delivers text to webhooks and html to email destinations, all errors are collected
func (s *Service) send(ctx context.Context, text, html string) error {
	var errs []error
	for _, dest := range s.destinations {
		msg := text
		if strings.HasPrefix(dest, "mailto:") {
			msg = html
		}
		sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
		if err := notify.Send(sendCtx, s.notifiers, dest, msg); err != nil {
			errs = append(errs, fmt.Errorf("destination %s: %w", redact(dest), err))
		}
		cancel()
	}
	return errors.Join(errs...)
}

// redact drops query and credentials from destination for logging
func redact(dest string) string {
	if idx := strings.Index(dest, "?"); idx > 0 {
		dest = dest[:idx]
	}
	if at := strings.LastIndex(dest, "@"); at > 0 && strings.Contains(dest, "://") {
		return dest[:strings.Index(dest, "://")+3] + dest[at+1:]
	}
	return dest
}

var completionTmpl = template.Must(template.New("completion").Parse(`<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body { font-family: "Arial"; font-size: 1.0em; }
			.bold { color: #059669; font-weight: 900; }
		</style>
	</head>
	<body>
		<p>AgenClip run for <span class="bold">{{.Filename}}</span> completed at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
		{{range .Clips}}<li><a href="{{.URL}}">{{.Title}}</a>, score {{.Score}}{{if .Reason}}: {{.Reason}}{{end}}</li>
		{{end}}</ul>
	</body>
</html>
`))

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body { font-family: "Arial"; font-size: 1.0em; }
			pre { padding: 0.6em; font-size: 0.8em; background-color: #FDE2E2; white-space: pre-wrap; }
			.bold { color: #882828; font-weight: 900; }
		</style>
	</head>
	<body>
		<p>AgenClip run for <span class="bold">{{.Filename}}</span> failed at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<pre>{{.Error}}</pre>
	</body>
</html>
`))

// MakeCompletionHTML renders the email body for a completed run
func MakeCompletionHTML(filename string, clips []engine.ClipResult) (string, error) {
	data := struct {
		Filename string
		Clips    []engine.ClipResult
		TS       time.Time
	}{Filename: filename, Clips: clips, TS: time.Now()}
	buf := bytes.Buffer{}
	if err := completionTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// MakeErrorHTML renders the email body for a failed run
func MakeErrorHTML(filename, errMsg string) (string, error) {
	data := struct {
		Filename string
		Error    string
		TS       time.Time
	}{Filename: filename, Error: errMsg, TS: time.Now()}
	buf := bytes.Buffer{}
	if err := errorTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}
