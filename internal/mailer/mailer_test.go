package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gopkg.in/gomail.v2"

	"filevault/pkg/queue"
)

func TestSMTPMailerBuildsMessage(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", FromName: "File Vault"})
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	var sent []*gomail.Message
	m.send = func(msgs ...*gomail.Message) error {
		sent = append(sent, msgs...)
		return nil
	}

	if err := m.SendPasscode(context.Background(), PasscodeMessage{To: "bob@example.com", Name: "Bob", Code: "123456"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	msg := sent[0]
	if to := msg.GetHeader("To"); len(to) != 1 || to[0] != "bob@example.com" {
		t.Fatalf("unexpected To header %v", to)
	}
	if subj := msg.GetHeader("Subject"); len(subj) != 1 || subj[0] != passcodeSubject {
		t.Fatalf("unexpected subject %v", subj)
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("render message: %v", err)
	}
	if !strings.Contains(buf.String(), "123456") || !strings.Contains(buf.String(), "Hi Bob") {
		t.Fatalf("body missing passcode: %s", buf.String())
	}
}

func TestSMTPMailerTimesOut(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 25, From: "a@example.com", Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	m.send = func(...*gomail.Message) error {
		<-release
		return nil
	}
	err = m.SendPasscode(context.Background(), PasscodeMessage{To: "bob@example.com", Code: "123456"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSMTPConfigValidation(t *testing.T) {
	for _, cfg := range []SMTPConfig{
		{Port: 25, From: "a@example.com"},
		{Host: "h", From: "a@example.com"},
		{Host: "h", Port: 25},
	} {
		if _, err := NewSMTPMailer(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestLogMailerMasksRecipient(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := m.SendPasscode(context.Background(), PasscodeMessage{To: "alice@example.com", Code: "654321"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Fatalf("email must be masked: %s", out)
	}
	if !strings.Contains(out, "654321") || !strings.Contains(out, `"level":"WARN"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if err := m.SendPasscode(context.Background(), PasscodeMessage{Code: "1"}); err == nil {
		t.Fatalf("expected missing recipient error")
	}
}

type recordingMailer struct {
	mu   sync.Mutex
	msgs []PasscodeMessage
	err  error
}

func (r *recordingMailer) SendPasscode(_ context.Context, pm PasscodeMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, pm)
	return r.err
}

func (r *recordingMailer) sent() []PasscodeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PasscodeMessage(nil), r.msgs...)
}

func TestQueueMailerDeliversThroughWorker(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	outbox, err := queue.NewRedisQueue(queue.RedisQueueConfig{
		Client: client,
		Stream: "test:mail",
		Block:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recordingMailer{}
	if err := outbox.Start(ctx, 1, Worker(rec)); err != nil {
		t.Fatalf("start worker: %v", err)
	}

	qm := NewQueueMailer(outbox)
	if err := qm.SendPasscode(ctx, PasscodeMessage{To: "carol@example.com", Name: "Carol", Code: "111222"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	delivered := false
	for time.Now().Before(deadline) {
		if got := rec.sent(); len(got) == 1 {
			if got[0].To != "carol@example.com" || got[0].Code != "111222" {
				t.Fatalf("unexpected delivered message %+v", got[0])
			}
			delivered = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !delivered {
		t.Fatalf("message was not delivered")
	}
	// The plaintext code must not outlive delivery in the stream.
	for time.Now().Before(deadline) {
		if n, err := client.XLen(ctx, "test:mail").Result(); err == nil && n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("delivered mail task still in stream")
}

func TestWorkerDropsUnknownTasks(t *testing.T) {
	rec := &recordingMailer{}
	h := Worker(rec)
	if err := h(context.Background(), queue.Task{Kind: "other"}); err != nil {
		t.Fatalf("unknown kind should be dropped: %v", err)
	}
	if err := h(context.Background(), queue.Task{Kind: TaskKindPasscode, Payload: []byte("{")}); err != nil {
		t.Fatalf("bad payload should be dropped: %v", err)
	}
	rec.err = errors.New("smtp down")
	payload, _ := json.Marshal(PasscodeMessage{To: "a@example.com", Code: "1"})
	if err := h(context.Background(), queue.Task{Kind: TaskKindPasscode, Payload: payload}); err == nil {
		t.Fatalf("delivery errors must be returned for retry")
	}
	if len(rec.sent()) != 1 {
		t.Fatalf("expected one delivery attempt")
	}
}
