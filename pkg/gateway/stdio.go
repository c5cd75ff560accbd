package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
)

// MaxMessageSize bounds one line of the stdio transport
const MaxMessageSize = 10 * 1024 * 1024

// StdioTransport names the stdio transport in logs and metrics
const StdioTransport = "stdio"

// ServeStdio reads newline-delimited JSON-RPC messages from in and writes
// responses to out, one per line. Each message is handled in its own
// goroutine. It returns once in is exhausted (or ctx is cancelled) and every
// in-flight request has been answered.
func ServeStdio(ctx context.Context, router *Router, in io.Reader, out io.Writer) error {
	ctx = toolexecutor.ContextWithCaller(ctx, StdioTransport)

	w := &lineWriter{enc: json.NewEncoder(out)}
	w.enc.SetEscapeHTML(false)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			msg := make([]byte, len(line))
			copy(msg, line)
			select {
			case lines <- msg:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	var inFlight sync.WaitGroup
	defer inFlight.Wait()

	for {
		select {
		case <-ctx.Done():
			router.logger.Info().Msg("Stdio transport stopping")
			return nil
		case msg, ok := <-lines:
			if !ok {
				inFlight.Wait()
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read stdin: %w", err)
					}
				default:
				}
				router.logger.Info().Msg("Stdin closed, stdio transport finished")
				return nil
			}

			inFlight.Add(1)
			go func() {
				defer inFlight.Done()
				resp := router.Handle(ctx, StdioTransport, msg)
				if resp == nil {
					return
				}
				if err := w.write(resp); err != nil {
					router.logger.Error().Err(err).Msg("Failed to write response")
				}
			}()
		}
	}
}

// lineWriter serialises responses so concurrent calls never interleave
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) write(resp *RPCResponse) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(resp)
}
