package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"wasmtoolchain/internal/fetch"
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/source"
)

func testIdentity() registry.ToolIdentity {
	return registry.ToolIdentity{Name: "wasm-tools", Version: "1.240.0", Platform: "linux_amd64"}
}

func TestEventFields(t *testing.T) {
	tests := []struct {
		name       string
		ev         fetch.Event
		wantStatus string
		wantDetail string
	}{
		{"resolving", fetch.Event{Stage: fetch.StageResolving}, "resolving", ""},
		{"progress", fetch.Event{Stage: fetch.StageDownloading, Bytes: 2048, Total: 4096}, "downloading", "2.0 KiB / 4.0 KiB"},
		{"unknown total", fetch.Event{Stage: fetch.StageDownloading, Bytes: 512}, "downloading", "512 B"},
		{"retry", fetch.Event{Stage: fetch.StageDownloading, Attempt: 3}, "retrying", "attempt 3"},
		{"failed", fetch.Event{Stage: fetch.StageFailed, Err: errors.New("checksum mismatch")}, "failed", "checksum mismatch"},
		{"cached", fetch.Event{Stage: fetch.StageCached}, "cached", "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.Identity = testIdentity()
			got := EventFields(tt.ev)
			if got["STATUS"] != tt.wantStatus {
				t.Errorf("STATUS = %q, want %q", got["STATUS"], tt.wantStatus)
			}
			if got["DETAIL"] != tt.wantDetail {
				t.Errorf("DETAIL = %q, want %q", got["DETAIL"], tt.wantDetail)
			}
			if got["VERSION"] != "1.240.0" {
				t.Errorf("VERSION = %q", got["VERSION"])
			}
		})
	}
}

func TestEventFieldsOrigin(t *testing.T) {
	got := EventFields(fetch.Event{Identity: testIdentity(), Stage: fetch.StageInstalled, Origin: source.OriginMirror})
	if got["SOURCE"] != "mirror" {
		t.Errorf("SOURCE = %q, want mirror", got["SOURCE"])
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := HumanBytes(tt.in); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEventMsgUpdatesKnownRow(t *testing.T) {
	m := NewProgressModel("Fetching", FetchColumns)
	m.AddRow(RowKey("wasm-tools", "linux_amd64"), []string{"wasm-tools", "linux_amd64", "-", "pending", "-", "-"})

	updated, _ := m.Update(EventMsg{Event: fetch.Event{Identity: testIdentity(), Stage: fetch.StageInstalled, Origin: source.OriginPublic}})
	m = updated.(ProgressModel)

	if len(m.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(m.rows))
	}
	fields := m.rows[0].Fields
	if fields[2] != "1.240.0" || fields[3] != "installed" || fields[4] != "origin" {
		t.Errorf("fields = %v", fields)
	}
	if processed, total := m.progressCounts(); processed != 1 || total != 1 {
		t.Errorf("progress = %d/%d, want 1/1", processed, total)
	}
}

func TestEventMsgAddsUnknownRow(t *testing.T) {
	m := NewProgressModel("Fetching", FetchColumns)

	id := registry.ToolIdentity{Name: "wac", Version: "0.8.0", Platform: "darwin_arm64"}
	updated, _ := m.Update(EventMsg{Event: fetch.Event{Identity: id, Stage: fetch.StageResolving}})
	m = updated.(ProgressModel)

	if len(m.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(m.rows))
	}
	if m.rows[0].Key != "wac/darwin_arm64" {
		t.Errorf("key = %q", m.rows[0].Key)
	}
	want := []string{"wac", "darwin_arm64", "0.8.0", "resolving", "-", "-"}
	for i, w := range want {
		if m.rows[0].Fields[i] != w {
			t.Errorf("field %d = %q, want %q", i, m.rows[0].Fields[i], w)
		}
	}
	if !strings.Contains(m.View(), "wac") {
		t.Error("expected view to contain new row")
	}
}

func TestRelay(t *testing.T) {
	var (
		mu  sync.Mutex
		got []tea.Msg
	)
	var r Relay
	r.Report(fetch.Event{Stage: fetch.StageResolving})

	r.Attach(func(msg tea.Msg) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	r.Report(fetch.Event{Identity: testIdentity(), Stage: fetch.StageCached})
	r.Detach()
	r.Report(fetch.Event{Stage: fetch.StageFailed})

	if len(got) != 1 {
		t.Fatalf("forwarded %d messages, want 1", len(got))
	}
	ev, ok := got[0].(EventMsg)
	if !ok || ev.Event.Stage != fetch.StageCached {
		t.Errorf("forwarded %#v", got[0])
	}
}
