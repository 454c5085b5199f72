package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/canvas/internal/protocol"
)

// printer renders a successful result in text mode.
type printer func(w io.Writer, raw json.RawMessage) error

// call sends one request and prints the result.
func call(cmd *cobra.Command, method string, params any, p printer) error {
	raw, err := newClient().Call(cmd.Context(), method, params)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), raw, p)
}

func printResult(w io.Writer, raw json.RawMessage, p printer) error {
	if jsonOutput || p == nil {
		return printJSON(w, raw)
	}
	return p(w, raw)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}

// FormatError renders err for the terminal. Daemon errors show their code,
// category and suggestion; with --json they are printed as the error object.
func FormatError(err error) string {
	var pe *protocol.Error
	if !errors.As(err, &pe) {
		return "Error: " + err.Error()
	}
	if jsonOutput {
		out, _ := json.MarshalIndent(map[string]any{"ok": false, "error": pe}, "", "  ")
		return string(out)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Error %d (%s): %s", pe.Code, pe.Data.Category, pe.Message)
	if pe.Data.Param != "" {
		fmt.Fprintf(&b, "\n  param: %s", pe.Data.Param)
	}
	if pe.Data.Suggestion != "" {
		fmt.Fprintf(&b, "\n  suggestion: %s", pe.Data.Suggestion)
	}
	if pe.Data.Retryable {
		b.WriteString("\n  (retryable)")
	}
	return b.String()
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

func printPing(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Version         string `json:"version"`
		ProtocolVersion string `json:"protocolVersion"`
	}](raw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "pong (daemon %s, protocol %s)\n", r.Version, r.ProtocolVersion)
	return err
}

type sessionView struct {
	Connected    *bool    `json:"connected"`
	ConnectedURL *string  `json:"connectedUrl"`
	Engine       string   `json:"engine"`
	Headless     bool     `json:"headless"`
	WatchPaths   []string `json:"watchPaths"`
	Viewport     struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"viewport"`
}

func writeSession(w io.Writer, s sessionView) {
	if s.ConnectedURL == nil {
		fmt.Fprintln(w, "Session:  not connected")
		return
	}
	mode := "headless"
	if !s.Headless {
		mode = "headed"
	}
	fmt.Fprintf(w, "Session:  %s (%s, %s, %dx%d)\n", *s.ConnectedURL, s.Engine, mode, s.Viewport.Width, s.Viewport.Height)
	if len(s.WatchPaths) > 0 {
		fmt.Fprintf(w, "Watching: %s\n", strings.Join(s.WatchPaths, ", "))
	}
}

func printSession(w io.Writer, raw json.RawMessage) error {
	s, err := decode[sessionView](raw)
	if err != nil {
		return err
	}
	writeSession(w, s)
	return nil
}

func printDaemonStatus(w io.Writer, raw json.RawMessage) error {
	s, err := decode[struct {
		PID             int         `json:"pid"`
		Version         string      `json:"version"`
		ProtocolVersion string      `json:"protocolVersion"`
		Socket          string      `json:"socket"`
		UptimeMs        int64       `json:"uptimeMs"`
		Connections     int         `json:"connections"`
		Session         sessionView `json:"session"`
		Watch           struct {
			Subscribers     int  `json:"subscribers"`
			LiveSubscribers int  `json:"liveSubscribers"`
			LiveRunning     bool `json:"liveRunning"`
		} `json:"watch"`
		Viewer struct {
			Running bool   `json:"running"`
			URL     string `json:"url"`
		} `json:"viewer"`
	}](raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Daemon:   pid %d, %s (protocol %s), up %s\n", s.PID, s.Version, s.ProtocolVersion, formatUptime(s.UptimeMs))
	fmt.Fprintf(w, "Socket:   %s (%d connection(s))\n", s.Socket, s.Connections)
	writeSession(w, s.Session)
	fmt.Fprintf(w, "Watch:    %d subscriber(s), %d live", s.Watch.Subscribers, s.Watch.LiveSubscribers)
	if s.Watch.LiveRunning {
		fmt.Fprint(w, ", capturing")
	}
	fmt.Fprintln(w)
	if s.Viewer.Running {
		fmt.Fprintf(w, "Viewer:   %s\n", s.Viewer.URL)
	}
	return nil
}

func formatUptime(ms int64) string {
	secs := ms / 1000
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%dh%02dm", secs/3600, (secs%3600)/60)
}

func printPath(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Path   string `json:"path"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}](raw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s (%dx%d)\n", r.Path, r.Width, r.Height)
	return err
}

func printStyles(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Styles map[string]string `json:"styles"`
	}](raw)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(r.Styles))
	for k := range r.Styles {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(w, "%s: %s\n", k, r.Styles[k])
	}
	return nil
}

type treeNode struct {
	Role     string      `json:"role"`
	Name     string      `json:"name"`
	Level    int         `json:"level"`
	Children []*treeNode `json:"children"`
}

func writeTree(w io.Writer, n *treeNode, indent int) {
	if n == nil {
		return
	}
	line := strings.Repeat("  ", indent) + "- " + n.Role
	if n.Name != "" {
		line += fmt.Sprintf(" %q", n.Name)
	}
	if n.Level > 0 {
		line += fmt.Sprintf(" [level=%d]", n.Level)
	}
	fmt.Fprintln(w, line)
	for _, c := range n.Children {
		writeTree(w, c, indent+1)
	}
}

func printDOM(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Tree *treeNode `json:"tree"`
	}](raw)
	if err != nil {
		return err
	}
	writeTree(w, r.Tree, 0)
	return nil
}

func printDescription(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Description string `json:"description"`
	}](raw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, r.Description)
	return err
}

func printContext(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Screenshot  json.RawMessage   `json:"screenshot"`
		Description json.RawMessage   `json:"description"`
		DOM         *treeNode         `json:"dom"`
		Styles      map[string]string `json:"styles"`
	}](raw)
	if err != nil {
		return err
	}
	fmt.Fprint(w, "Screenshot: ")
	if err := printPath(w, r.Screenshot); err != nil {
		return err
	}
	fmt.Fprintln(w)
	if err := printDescription(w, r.Description); err != nil {
		return err
	}
	fmt.Fprintln(w, "\nTree:")
	writeTree(w, r.DOM, 1)
	fmt.Fprintln(w, "\nStyles:")
	styles, _ := json.Marshal(map[string]any{"styles": r.Styles})
	return printStyles(w, styles)
}

func printExecute(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Result     json.RawMessage `json:"result"`
		Logs       []string        `json:"logs"`
		DurationMs int64           `json:"durationMs"`
	}](raw)
	if err != nil {
		return err
	}
	for _, l := range r.Logs {
		fmt.Fprintf(w, "[console] %s\n", l)
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return nil
	}
	return printJSON(w, r.Result)
}

func printA11y(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Level      string `json:"level"`
		Violations []struct {
			ID     string `json:"id"`
			Impact string `json:"impact"`
			Help   string `json:"help"`
			Nodes  []any  `json:"nodes"`
		} `json:"violations"`
		Passes     []any  `json:"passes"`
		Incomplete []any  `json:"incomplete"`
		Note       string `json:"note"`
	}](raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "WCAG %s: %d violation(s), %d pass(es), %d incomplete\n",
		r.Level, len(r.Violations), len(r.Passes), len(r.Incomplete))
	for _, v := range r.Violations {
		fmt.Fprintf(w, "\033[31m✗\033[0m [%s] %s: %s (%d node(s))\n", v.Impact, v.ID, v.Help, len(v.Nodes))
	}
	if r.Note != "" {
		fmt.Fprintf(w, "note: %s\n", r.Note)
	}
	return nil
}

func printDiff(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		BaselinePath        string  `json:"baselinePath"`
		CurrentPath         string  `json:"currentPath"`
		DiffPath            string  `json:"diffPath"`
		OverlayPath         string  `json:"overlayPath"`
		MismatchedPixels    int     `json:"mismatchedPixels"`
		MismatchedRatio     float64 `json:"mismatchedRatio"`
		BaselineInitialized bool    `json:"baselineInitialized"`
		Summary             string  `json:"summary"`
	}](raw)
	if err != nil {
		return err
	}
	if r.BaselineInitialized {
		fmt.Fprintf(w, "baseline initialized: %s\n", r.BaselinePath)
		return nil
	}
	fmt.Fprintf(w, "%s\n", r.Summary)
	fmt.Fprintf(w, "mismatched: %d px (%.4f%%)\n", r.MismatchedPixels, r.MismatchedRatio*100)
	fmt.Fprintf(w, "baseline:   %s\ncurrent:    %s\n", r.BaselinePath, r.CurrentPath)
	if r.DiffPath != "" {
		fmt.Fprintf(w, "diff:       %s\n", r.DiffPath)
	}
	if r.OverlayPath != "" {
		fmt.Fprintf(w, "overlay:    %s\n", r.OverlayPath)
	}
	return nil
}

func printViewer(w io.Writer, raw json.RawMessage) error {
	r, err := decode[struct {
		Running bool   `json:"running"`
		URL     string `json:"url"`
		Clients int    `json:"clients"`
	}](raw)
	if err != nil {
		return err
	}
	if !r.Running {
		_, err = fmt.Fprintln(w, "viewer is not running")
		return err
	}
	_, err = fmt.Fprintf(w, "viewer at %s (%d client(s))\n", r.URL, r.Clients)
	return err
}

func printEvent(w io.Writer, ev protocol.Event) error {
	if jsonOutput {
		line, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(line))
		return err
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		if k != "type" && k != "ts" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Data[k]))
	}
	_, err := fmt.Fprintf(w, "%v %-13s %s\n", ev.Data["ts"], ev.Event, strings.Join(parts, " "))
	return err
}
