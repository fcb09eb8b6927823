package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Coding-Lml/love-space/cmd/internal/chat"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

const (
	consoleMinWidth     = 40
	consoleDefaultWidth = 100
	consoleIndent       = "    "
)

// console renders the ledger and notices to the terminal.
type console struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	width int

	self  int64
	names map[int64]string
}

func newConsole(out io.Writer, color bool, width int) *console {
	return &console{
		out:   out,
		color: color,
		width: terminalWidth(width),
		names: make(map[int64]string),
	}
}

// terminalWidth prefers the explicit override, then $COLUMNS, then a default.
func terminalWidth(override int) int {
	if override >= consoleMinWidth {
		return override
	}
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil && n >= consoleMinWidth {
		return n
	}
	return consoleDefaultWidth
}

func (c *console) setSelf(u v1.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = u.ID
	c.names[u.ID] = displayName(u)
}

func (c *console) setName(u v1.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[u.ID] = displayName(u)
}

func displayName(u v1.User) string {
	if n := strings.TrimSpace(u.Nickname); n != "" {
		return n
	}
	if n := strings.TrimSpace(u.Username); n != "" {
		return n
	}
	return "user" + strconv.FormatInt(u.ID, 10)
}

// notice prints a dimmed status line.
func (c *console) notice(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := "-- " + fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintln(c.out, paint(line, ansiDim, c.color))
}

func (c *console) message(m v1.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range c.formatMessage(m) {
		_, _ = fmt.Fprintln(c.out, line)
	}
}

func (c *console) messages(msgs []v1.Message) {
	for _, m := range msgs {
		c.message(m)
	}
}

// formatMessage must be called with c.mu held.
func (c *console) formatMessage(m v1.Message) []string {
	name, ok := c.names[m.FromUserID]
	if !ok {
		name = "user" + strconv.FormatInt(m.FromUserID, 10)
	}
	nameColor := ansiMagenta
	if m.FromUserID == c.self {
		nameColor = ansiCyan
	}

	header := paint(fmt.Sprintf("#%d %s", m.ID, shortTime(m.CreatedAt)), ansiDim, c.color) +
		" " + paint(name+":", nameColor, c.color)

	segs := []string{header}
	if m.Type == v1.TypeText {
		segs = append(segs, strings.Fields(m.Content)...)
	} else {
		segs = append(segs, "["+m.Type+"]", m.MediaURL)
	}
	if m.FromUserID == c.self && m.IsRead() {
		segs = append(segs, paint("(read)", ansiGreen, c.color))
	}
	return wrapSegments(segs, " ", c.width, consoleIndent)
}

func shortTime(createdAt string) string {
	s := strings.TrimSpace(createdAt)
	if i := strings.IndexByte(s, 'T'); i >= 0 && len(s) >= i+6 {
		return s[i+1 : i+6]
	}
	if s == "" {
		return "--:--"
	}
	return s
}

func (c *console) status(st chat.Status) {
	parts := []string{"state=" + colorizeState(st.State.String(), c.color)}
	if st.ConnID != "" {
		parts = append(parts, "conn="+st.ConnID)
	}
	if st.State == chat.Reconnecting {
		parts = append(parts, fmt.Sprintf("attempt=%d in=%s", st.Attempts, st.ReconnectIn.Round(time.Millisecond)))
	}
	if st.LastClose != nil {
		parts = append(parts, fmt.Sprintf("last_close=%d/%s clean=%t", st.LastClose.Code, quoteIfNeeded(st.LastClose.Reason), st.LastClose.WasClean))
	}
	if !st.LastDisconnectAt.IsZero() {
		parts = append(parts, "since="+st.LastDisconnectAt.Local().Format("15:04:05"))
	}
	parts = append(parts,
		fmt.Sprintf("messages=%d", st.Messages),
		fmt.Sprintf("unread=%d", st.Unread),
		fmt.Sprintf("active=%t", st.Active),
		fmt.Sprintf("more_history=%t", st.HasMore),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range wrapSegments(parts, " ", c.width, consoleIndent) {
		_, _ = fmt.Fprintln(c.out, line)
	}
}

// wrapSegments packs segments into lines no wider than width. Continuation lines
// start with cont; a segment that cannot fit on its own is truncated with an ellipsis.
func wrapSegments(segs []string, sep string, width int, cont string) []string {
	var (
		lines  []string
		cur    string
		prefix string
	)
	for _, s := range segs {
		if s == "" {
			continue
		}
		if cur == "" {
			cur = prefix + truncateVisual(s, width-visualLen(prefix))
			continue
		}
		if visualLen(cur)+visualLen(sep)+visualLen(s) <= width {
			cur += sep + s
			continue
		}
		lines = append(lines, cur)
		prefix = cont
		cur = prefix + truncateVisual(s, width-visualLen(prefix))
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func truncateVisual(s string, n int) string {
	if n < 1 {
		n = 1
	}
	if visualLen(s) <= n {
		return s
	}
	r := []rune(stripANSI(s))
	return string(r[:n-1]) + "…"
}

// ---- commands ----

type command struct {
	name string
	args []string
}

// parseCommand splits a "/name arg..." line. Plain text (and "//" escapes) is not a command.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return command{}, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, false
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}, true
}

// unescapeText turns a leading "//" into a literal "/".
func unescapeText(line string) string {
	t := strings.TrimSpace(line)
	if strings.HasPrefix(t, "//") {
		return t[1:]
	}
	return line
}

// parseMediaArgs reads "<url> [extra-json]".
func parseMediaArgs(args []string) (string, json.RawMessage, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("usage: /<image|video|voice> <url> [extra-json]")
	}
	url := args[0]
	if len(args) == 1 {
		return url, nil, nil
	}
	raw := json.RawMessage(strings.Join(args[1:], " "))
	if !json.Valid(raw) {
		return "", nil, fmt.Errorf("extra is not valid JSON")
	}
	return url, raw, nil
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("usage: /active on|off")
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("usage: /active on|off")
	}
}

const consoleHelp = `commands:
  <text>                       send a text message (start with // to send a leading /)
  /image|/video|/voice <url> [extra-json]
                               send a media message
  /history                     load older messages
  /read                        mark the partner's messages read
  /active on|off               foreground flag (on clears the unread counter)
  /list                        print the ledger
  /status                      connection status
  /reconnect                   reconnect now if disconnected
  /reset                       drop the connection and local state
  /quit                        exit`
