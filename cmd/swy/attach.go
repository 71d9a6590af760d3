package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// terminalEnvelope mirrors the relay's websocket frame.
type terminalEnvelope struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
	Error string `json:"error,omitempty"`
}

func newAttachCmd() *cobra.Command {
	var (
		gatewayURL string
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "attach <instance-id>",
		Short: "Attach this terminal to a live instance",
		Long: `Streams the instance's terminal to this one and forwards your
keystrokes. --kind directory opens a shell in the session's worktree
instead of the agent's terminal. Detach with Ctrl-].`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd, gatewayURL, args[0], kind)
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	cmd.Flags().StringVar(&kind, "kind", "agent", "terminal kind: agent or directory")
	return cmd
}

func runAttach(cmd *cobra.Command, gatewayURL, instanceID, kind string) error {
	wsURL := strings.Replace(strings.TrimRight(gatewayURL, "/"), "http", "ws", 1) +
		"/ws/instances/" + instanceID + "/terminal?kind=" + kind

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	stdinFd := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		restore = func() { term.Restore(stdinFd, oldState) }
		defer restore()
	}

	sendResize := func() {
		if !term.IsTerminal(stdinFd) {
			return
		}
		cols, rows, err := term.GetSize(stdinFd)
		if err != nil {
			return
		}
		conn.WriteJSON(terminalEnvelope{Type: "resize", Cols: uint16(cols), Rows: uint16(rows)})
	}
	sendResize()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			sendResize()
		}
	}()

	done := make(chan error, 2)

	// Server to local terminal.
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				done <- nil
				return
			}
			var env terminalEnvelope
			if err := json.Unmarshal(message, &env); err != nil {
				continue
			}
			switch env.Type {
			case "data":
				data, err := base64.StdEncoding.DecodeString(env.Data)
				if err != nil {
					continue
				}
				os.Stdout.Write(data)
			case "error":
				done <- fmt.Errorf("%s", env.Error)
				return
			}
		}
	}()

	// Local keystrokes to server. Ctrl-] (0x1d) detaches.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				done <- nil
				return
			}
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, 0x1d); i >= 0 {
				if i > 0 {
					writeData(conn, chunk[:i])
				}
				done <- nil
				return
			}
			if err := writeData(conn, chunk); err != nil {
				done <- nil
				return
			}
		}
	}()

	err = <-done
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	if restore != nil {
		restore()
	}
	fmt.Fprintln(cmd.OutOrStdout(), "\nDetached.")
	return err
}

func writeData(conn *websocket.Conn, p []byte) error {
	return conn.WriteJSON(terminalEnvelope{
		Type: "data",
		Data: base64.StdEncoding.EncodeToString(p),
	})
}
