// Command sessiond wires the session core's components together and
// starts a root session, the way the teacher's cmd/kandev entrypoint
// wires its orchestrator graph before accepting work.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kandev/session-core/internal/corecfg"
	"github.com/kandev/session-core/internal/corelog"
	"github.com/kandev/session-core/internal/eventbus"
	"github.com/kandev/session-core/internal/session"
)

func main() {
	cfg, err := corecfg.Load("sessiond", ".", "/etc/sessiond")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := corelog.New(corelog.Config{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPath:       cfg.Logging.OutputPath,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		FlushInterval:    cfg.Logging.FlushInterval,
		DisableRedaction: cfg.Logging.DisableRedaction,
		DisableConsole:   cfg.Logging.DisableConsole,
	})
	corelog.SetDefault(logger)
	defer logger.Shutdown()

	bus := eventbus.NewBus(logger)
	bus.Subscribe(func(e eventbus.Event) {
		logger.Debug("event", map[string]interface{}{
			"type":       string(e.Type),
			"session_id": e.SessionID,
		}, nil)
	})

	manager := session.NewManager(bus, logger)

	rootID, err := manager.CreateSession(session.CreateParams{
		Name: "root",
		Config: session.Config{
			Interactive: true,
			MaxDepth:    cfg.Session.DefaultMaxDepth,
			AutoSwitch:  true,
		},
	})
	if err != nil {
		logger.Error("failed to create root session", err, nil, nil)
		os.Exit(1)
	}
	fmt.Printf("root session: %s\n", rootID)

	// A real deployment binds a host-supplied subagent.ChatClient/ToolRegistry
	// pair to rootID here via subagent.NewScope(...).RunInteractive(...); this
	// module draws that as an opaque boundary and ships none itself.

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if err := manager.Abort(rootID, "shutdown"); err != nil {
		logger.Error("failed to abort root session on shutdown", err, nil, nil)
	}
}
