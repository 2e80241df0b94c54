package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/internal/core/services"
)

var errQuit = errors.New("quit")

const consoleHelp = `commands:
  camera | screen          toggle a capture (presenter)
  mute | unmute            microphone (presenter)
  record | stop            composited recording (presenter)
  start | end              session control (presenter, moderator)
  chat <text>
  share <url> [title]
  poll <question> | <option> | <option> ...
  vote <poll id> <option index>
  status | help | quit`

// roomActions is the part of the room controller the console drives.
type roomActions interface {
	ToggleCamera(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	SetMuted(muted bool) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*services.RecordingResult, error)
	StartSession(ctx context.Context) error
	EndSession(ctx context.Context) error
	SendChat(text string) error
	ShareResource(url, title string) error
	CreatePoll(question string, options []string) (string, error)
	VotePoll(pollID string, option int) error
	Snapshot() services.Snapshot
}

// console prints room activity and executes typed commands.
type console struct {
	mu   sync.Mutex
	w    io.Writer
	last services.Snapshot
}

var (
	_ ports.RoomFeed = (*console)(nil)
	_ ports.Notifier = (*console)(nil)
)

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *console) Notify(n ports.Notification) {
	if n.Err != nil {
		c.printf("[%s] %s: %v", n.Level, n.Message, n.Err)
		return
	}
	c.printf("[%s] %s", n.Level, n.Message)
}

func (c *console) Deliver(env *domain.Envelope) {
	switch env.Type {
	case domain.MsgChat:
		var msg domain.ChatMessage
		if env.Decode(&msg) == nil {
			c.printf("<%s> %s", env.From, msg.Message)
		}
	case domain.MsgResourceShare:
		var msg domain.ResourceShareMessage
		if env.Decode(&msg) == nil {
			c.printf("* %s shared %s %s", env.From, msg.URL, msg.Title)
		}
	case domain.MsgPollCreate:
		var msg domain.PollCreateMessage
		if env.Decode(&msg) == nil {
			c.printf("* poll %s: %s %v", msg.PollID, msg.Question, msg.Options)
		}
	case domain.MsgPollVote:
		var msg domain.PollVoteMessage
		if env.Decode(&msg) == nil {
			c.printf("* %s voted %d on %s", env.From, msg.Option, msg.PollID)
		}
	}
}

// Snapshot prints status, broadcast and roster changes.
func (c *console) Snapshot(s services.Snapshot) {
	c.mu.Lock()
	last := c.last
	c.last = s
	c.mu.Unlock()

	if s.Status != last.Status {
		c.printf("* room is %s", s.Status)
	}
	if s.Mode != last.Mode {
		c.printf("* broadcast mode %s", s.Mode)
	}
	if len(s.Participants) != len(last.Participants) {
		c.printf("* %d participant(s)", len(s.Participants))
	}
	if s.Recorder != last.Recorder {
		c.printf("* recorder %s", s.Recorder)
	}
}

// Run reads commands until quit, EOF or ctx is done.
func (c *console) Run(ctx context.Context, room roomActions, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("type \"help\" for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			out, err := c.exec(ctx, room, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v", err)
				continue
			}
			if out != "" {
				c.printf("%s", out)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, room roomActions, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "help":
		return consoleHelp, nil
	case "quit", "exit":
		return "", errQuit
	case "camera":
		return "", room.ToggleCamera(ctx)
	case "screen":
		return "", room.ToggleScreenShare(ctx)
	case "mute":
		return "", room.SetMuted(true)
	case "unmute":
		return "", room.SetMuted(false)
	case "record":
		return "", room.StartRecording(ctx)
	case "stop":
		result, err := room.StopRecording(ctx)
		if err != nil {
			return "", err
		}
		return "recording saved to " + result.URL, nil
	case "start":
		return "", room.StartSession(ctx)
	case "end":
		return "", room.EndSession(ctx)
	case "chat":
		if rest == "" {
			return "", fmt.Errorf("usage: chat <text>")
		}
		return "", room.SendChat(rest)
	case "share":
		url, title, _ := strings.Cut(rest, " ")
		if url == "" {
			return "", fmt.Errorf("usage: share <url> [title]")
		}
		return "", room.ShareResource(url, strings.TrimSpace(title))
	case "poll":
		parts := strings.Split(rest, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 3 || parts[0] == "" {
			return "", fmt.Errorf("usage: poll <question> | <option> | <option> ...")
		}
		id, err := room.CreatePoll(parts[0], parts[1:])
		if err != nil {
			return "", err
		}
		return "poll " + id, nil
	case "vote":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: vote <poll id> <option index>")
		}
		option, err := strconv.Atoi(fields[1])
		if err != nil || option < 0 {
			return "", fmt.Errorf("option must be a non-negative index")
		}
		return "", room.VotePoll(fields[0], option)
	case "status":
		return formatSnapshot(room.Snapshot()), nil
	}
	return "", fmt.Errorf("unknown command %q, try help", verb)
}

func formatSnapshot(s services.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "room %s (%s) as %s/%s\n", s.RoomID, s.Status, s.Self.Name, s.Self.Role)
	fmt.Fprintf(&b, "mode %s, muted %t, recorder %s, links %d\n", s.Mode, s.Muted, s.Recorder, s.Links)
	for _, p := range s.Participants {
		fmt.Fprintf(&b, "  %s %s (%s)\n", p.ConnID, p.Name, p.Role)
	}
	return strings.TrimRight(b.String(), "\n")
}
