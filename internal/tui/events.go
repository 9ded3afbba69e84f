package tui

import (
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"wasmtoolchain/internal/fetch"
)

// FetchColumns is the column layout for fetch and vendor progress tables.
var FetchColumns = []Column{
	{Header: "TOOL", Width: 14},
	{Header: "PLATFORM", Width: 13},
	{Header: "VERSION", Width: 10},
	{Header: "STATUS", Width: 11},
	{Header: "SOURCE", Width: 7},
	{Header: "DETAIL", Width: 24},
}

// RowKey identifies the progress row of a tool on a platform. Versions are
// not part of the key since they are only known once resolution finishes.
func RowKey(tool, platform string) string {
	return tool + "/" + platform
}

// EventFields maps a fetch event onto column values.
func EventFields(ev fetch.Event) map[string]string {
	fields := map[string]string{"STATUS": string(ev.Stage)}
	if ev.Identity.Version != "" {
		fields["VERSION"] = ev.Identity.Version
	}
	if ev.Origin != "" {
		fields["SOURCE"] = string(ev.Origin)
	}
	switch {
	case ev.Stage == fetch.StageFailed && ev.Err != nil:
		fields["DETAIL"] = ev.Err.Error()
	case ev.Stage == fetch.StageDownloading && ev.Attempt > 1:
		fields["STATUS"] = "retrying"
		fields["DETAIL"] = fmt.Sprintf("attempt %d", ev.Attempt)
	case ev.Stage == fetch.StageDownloading && ev.Total > 0:
		fields["DETAIL"] = fmt.Sprintf("%s / %s", HumanBytes(ev.Bytes), HumanBytes(ev.Total))
	case ev.Stage == fetch.StageDownloading && ev.Bytes > 0:
		fields["DETAIL"] = HumanBytes(ev.Bytes)
	case ev.Stage.Done():
		fields["DETAIL"] = "-"
	}
	return fields
}

// HumanBytes renders a byte count with a binary unit suffix.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Relay forwards fetch events to a running program. Events reported before
// Attach or after Detach are dropped.
type Relay struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// Attach starts forwarding to send.
func (r *Relay) Attach(send func(tea.Msg)) {
	r.mu.Lock()
	r.send = send
	r.mu.Unlock()
}

// Detach stops forwarding.
func (r *Relay) Detach() {
	r.Attach(nil)
}

// Report is a fetch progress callback.
func (r *Relay) Report(ev fetch.Event) {
	r.mu.Lock()
	send := r.send
	r.mu.Unlock()
	if send != nil {
		send(EventMsg{Event: ev})
	}
}
