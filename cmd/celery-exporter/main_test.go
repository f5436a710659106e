// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	celery "github.com/OvalMoney/celery-exporter"
	"github.com/OvalMoney/celery-exporter/config"
	"github.com/OvalMoney/celery-exporter/transport"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("CELERY_EXPORTER_NAMESPACE", "from-env")
	t.Setenv("CELERY_EXPORTER_MAX_TASKS", "7")

	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"-m", "5", "-q", "priority", "--verbose", "--event-filter", `category == "task"`}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig unexpected error: %v", err)
	}

	want := config.Default()
	want.MaxTasks = 5
	want.Namespace = "from-env"
	want.Queue = "priority"
	want.LogLevel = "debug"
	want.EventFilter = `category == "task"`
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("loadConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--max-tasks", "0"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if _, err := loadConfig(cmd); !errors.Is(err, celery.ErrInvalidConfiguration) {
		t.Errorf("loadConfig error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	logger, err := newLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("unexpected log output %q", out)
	}
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	base := "http://" + ln.Addr().String()

	cfg := config.Default()
	cfg.RegisteredTasks = []string{"tasks.add", "tasks.report"}
	cfg.TaskRoutes = map[string]string{"tasks.*": "math"}

	stdin := strings.NewReader(strings.Join([]string{
		`{"type":"task-received","uuid":"s1","name":"tasks.add","queue":"math","local_received":1.0}`,
		`{"type":"task-started","uuid":"s1","local_received":1.5}`,
		`{"type":"task-succeeded","uuid":"s1","local_received":2.0,"runtime":0.5}`,
		`{"type":"task-received"}`,
	}, "\n"))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), ln, stdin)
	}()

	resp, err := http.Post(base+transport.EventsPath, transport.MediaTypeJSON,
		strings.NewReader(`{"type":"task-sent","uuid":"h1","name":"tasks.report","local_received":3}`))
	if err != nil {
		t.Fatalf("POST events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST events status = %d", resp.StatusCode)
	}

	wants := []string{
		`celery_tasks_total{name="tasks.add",namespace="celery",queue="math",state="SUCCESS"} 1`,
		`celery_tasks_total{name="tasks.report",namespace="celery",queue="math",state="REVOKED"} 0`,
		`celery_tasks_total{name="tasks.report",namespace="celery",queue="undefined",state="PENDING"} 1`,
		`celery_tasks_latency_seconds_count{name="tasks.add",namespace="celery",queue="math"} 1`,
		`celery_events_malformed_total{namespace="celery"} 1`,
	}

	deadline := time.Now().Add(5 * time.Second)
	var missing []string
	for {
		missing = missingSeries(t, base+metricsPath, wants)
		if len(missing) == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(missing) != 0 {
		t.Errorf("series missing from %s: %q", metricsPath, missing)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

// missingSeries scrapes url and returns the wanted series not found. Each
// want is a series line with exporter added labels removed.
func missingSeries(t *testing.T, url string, wants []string) []string {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	got := make(map[string]bool)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		got[stripScopeLabels(sc.Text())] = true
	}

	var missing []string
	for _, want := range wants {
		if !got[want] {
			missing = append(missing, want)
		}
	}
	return missing
}

// stripScopeLabels drops the otel_scope_* labels the exporter adds to
// every series.
func stripScopeLabels(line string) string {
	open := strings.IndexByte(line, '{')
	end := strings.LastIndexByte(line, '}')
	if open < 0 || end < open {
		return line
	}

	var kept []string
	for _, label := range strings.Split(line[open+1:end], ",") {
		if !strings.HasPrefix(label, "otel_scope_") {
			kept = append(kept, label)
		}
	}
	return line[:open+1] + strings.Join(kept, ",") + line[end:]
}
