// Package probe is an interactive smoke test for a relay endpoint: it sends
// each line typed by the operator as one message and prints the answer.
package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nypyp/metahuman-stream/pkg/transport"
)

// ExitCommand ends the session.
const ExitCommand = "exit"

const prompt = "Enter message to send (type 'exit' to quit): "

// Session is one interactive probe session.
type Session struct {
	dialer transport.Dialer
	in     io.Reader
	out    io.Writer
}

// New creates a Session reading lines from in and writing to out.
func New(d transport.Dialer, in io.Reader, out io.Writer) *Session {
	return &Session{dialer: d, in: in, out: out}
}

// Run connects and loops until the operator types [ExitCommand], input ends,
// ctx is done, or the endpoint closes the connection.
func (s *Session) Run(ctx context.Context) error {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("probe: connect: %w", err)
	}
	defer conn.Close()
	fmt.Fprintln(s.out, "Connected to the server.")

	lines := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, prompt)
		if !lines.Scan() {
			fmt.Fprintln(s.out)
			return lines.Err()
		}
		msg := strings.TrimRight(lines.Text(), "\r")
		if msg == ExitCommand {
			return nil
		}

		if err := conn.Send(ctx, msg); err != nil {
			return fmt.Errorf("probe: send: %w", err)
		}
		reply, err := conn.Receive(ctx)
		if errors.Is(err, transport.ErrClosed) {
			fmt.Fprintln(s.out, "Connection closed by server.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("probe: receive: %w", err)
		}
		slog.Debug("probe reply", "bytes", len(reply))
		fmt.Fprintf(s.out, "Received response: %s\n", reply)
	}
}
