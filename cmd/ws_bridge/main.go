// Command ws_bridge exposes a stdio agent, by default `spark acp`, over a
// websocket. Every websocket connection gets its own subprocess; client
// messages are written to its stdin one per line and every output line comes
// back as a JSON frame.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/m4xw311/spark/logging"
)

type frame struct {
	Type string `json:"type"` // stdout, stderr or exit
	Data string `json:"data"`
}

func main() {
	var (
		addr     string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:          "ws_bridge [-- command args...]",
		Short:        "Serve a stdio agent over a websocket",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"spark", "acp"}
			}
			logger := logging.Setup(logging.Options{Level: logLevel})
			mux := http.NewServeMux()
			mux.Handle("/ws", newBridge(args, logger))

			logger.Info("websocket bridge running", "url", fmt.Sprintf("ws://localhost%s/ws", addr), "command", args)
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type bridge struct {
	args     []string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newBridge(args []string, logger *slog.Logger) *bridge {
	return &bridge{
		args:   args,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	logger := b.logger.With("remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	cmd := exec.CommandContext(ctx, b.args[0], b.args[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		logger.Error("stdin pipe", "error", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logger.Error("stdout pipe", "error", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logger.Error("stderr pipe", "error", err)
		return
	}
	if err := cmd.Start(); err != nil {
		logger.Error("starting agent", "command", b.args, "error", err)
		return
	}
	logger.Info("agent started", "pid", cmd.Process.Pid)

	var writeMu sync.Mutex
	send := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	var pumps sync.WaitGroup
	pump := func(kind string, r io.Reader) {
		defer pumps.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			if err := send(frame{Type: kind, Data: scanner.Text()}); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
	pumps.Add(2)
	go pump("stdout", stdout)
	go pump("stderr", stderr)

	go func() {
		pumps.Wait()
		state := "exited"
		if err := cmd.Wait(); err != nil {
			state = err.Error()
		}
		send(frame{Type: "exit", Data: state})
		logger.Info("agent stopped", "state", state)
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("websocket closed", "error", err)
			return
		}
		if _, err := stdin.Write(append(msg, '\n')); err != nil {
			logger.Warn("writing to agent", "error", err)
			return
		}
	}
}
