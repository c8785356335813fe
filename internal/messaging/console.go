package messaging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/ReEngage/internal/flow"
	"github.com/BTreeMap/ReEngage/internal/models"
)

// ConsoleService is a line-oriented adapter for driving flows from a terminal. Each input
// line becomes one event for a single conversant:
//
//	/start <flow>         start a flow
//	/pick <value>         select an option
//	/page <n>             show page n
//	/voice <file> <secs>  send a voice note
//	/cancel               cancel
//	anything else         free text
//
// Replies are written as one JSON object per line.
type ConsoleService struct {
	conversantID string
	in           io.Reader
	out          io.Writer

	mu      sync.Mutex
	inbound chan Inbound
	done    chan struct{}
	once    sync.Once
}

// NewConsoleService creates a console adapter speaking as conversantID.
func NewConsoleService(conversantID string, in io.Reader, out io.Writer) *ConsoleService {
	return &ConsoleService{
		conversantID: conversantID,
		in:           in,
		out:          out,
		inbound:      make(chan Inbound),
		done:         make(chan struct{}),
	}
}

// Start reads input lines until EOF, Stop or ctx is done.
func (c *ConsoleService) Start(ctx context.Context) error {
	go func() {
		defer close(c.inbound)
		scanner := bufio.NewScanner(c.in)
		n := 0
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			n++
			in, err := ParseConsoleLine(c.conversantID, line)
			if err != nil {
				slog.Warn("ConsoleService.Start: unreadable line", "line", n, "error", err)
				continue
			}
			in.MessageID = "console-" + strconv.Itoa(n)
			select {
			case c.inbound <- in:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("ConsoleService.Start: read failed", "error", err)
		}
	}()
	return nil
}

// Stop ends reading. A read blocked on the underlying reader finishes on its next line.
func (c *ConsoleService) Stop() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Inbound returns the parsed events.
func (c *ConsoleService) Inbound() <-chan Inbound {
	return c.inbound
}

// Deliver writes one JSON line per instruction.
func (c *ConsoleService) Deliver(_ context.Context, conversantID string, render []flow.RenderInstruction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc := json.NewEncoder(c.out)
	for _, r := range render {
		if err := enc.Encode(struct {
			To string `json:"to"`
			flow.RenderInstruction
		}{conversantID, r}); err != nil {
			return fmt.Errorf("write render: %w", err)
		}
	}
	return nil
}

// ParseConsoleLine converts one console line into an Inbound event.
func ParseConsoleLine(conversantID, line string) (Inbound, error) {
	in := Inbound{ConversantID: conversantID}
	if !strings.HasPrefix(line, "/") {
		in.Event = flow.Text{Body: line}
		return in, nil
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "start":
		if arg == "" {
			return in, fmt.Errorf("/start needs a flow: %w", flow.ErrValidation)
		}
		in.Flow = models.FlowType(arg)
		in.Event = flow.Start{}
	case "pick":
		if arg == "" {
			return in, fmt.Errorf("/pick needs a value: %w", flow.ErrValidation)
		}
		in.Event = flow.Selection{Value: arg}
	case "page":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return in, fmt.Errorf("/page %q: %w", arg, flow.ErrValidation)
		}
		in.Event = flow.Page{Number: n}
	case "voice":
		fields := strings.Fields(arg)
		if len(fields) != 2 {
			return in, fmt.Errorf("/voice needs a file id and duration: %w", flow.ErrValidation)
		}
		secs, err := strconv.Atoi(fields[1])
		if err != nil {
			return in, fmt.Errorf("/voice duration %q: %w", fields[1], flow.ErrValidation)
		}
		in.Event = flow.Voice{FileID: fields[0], Duration: secs}
	case "cancel":
		in.Event = flow.Cancel{}
	default:
		return in, fmt.Errorf("unknown command /%s: %w", cmd, flow.ErrValidation)
	}
	return in, nil
}
