package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cyberdesk-hq/cyberdriver/internal/activity"
	"github.com/cyberdesk-hq/cyberdriver/internal/config"
	"github.com/cyberdesk-hq/cyberdriver/internal/fingerprint"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalivelink"
	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
	"github.com/cyberdesk-hq/cyberdriver/internal/session"
	"github.com/cyberdesk-hq/cyberdriver/internal/supervisor"
	"github.com/cyberdesk-hq/cyberdriver/internal/surface"
	"github.com/cyberdesk-hq/cyberdriver/internal/tlsconfig"
)

// Exit codes, per the documented contract: 0 clean, 2 bad config, 3 fatal
// handshake rejection, 130 on interrupt.
const (
	exitOK            = 0
	exitConfigInvalid = 2
	exitRejected      = 3
	exitInterrupted   = 130
)

var (
	version     = "0.1.0"
	cfgFile     string
	secret      string
	interactive bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "cyberdriver",
	Short: "Host-resident desktop-control agent",
	Long:  "cyberdriver exposes screen capture, keyboard, mouse, and shell over HTTP, and bridges that API to a remote controller over a persistent WebSocket tunnel.",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the local HTTP surface and, if configured, the cloud tunnel",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runStart())
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <host>",
	Short: "Configure this agent to join a controller and persist the secret",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runJoin(args[0]))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cyberdriver v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/.cyberdriver/config.yaml)")
	joinCmd.Flags().StringVar(&secret, "secret", "", "shared secret issued by the controller")
	startCmd.Flags().BoolVar(&interactive, "interactive", false, "toggle the tunnel on/off from the keyboard (space to pause/resume, q to quit)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runJoin(host string) int {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}
	cfg.Host = host
	if secret != "" {
		cfg.Secret = secret
	}
	if cfg.Secret == "" {
		fmt.Fprintln(os.Stderr, "a secret is required: pass --secret")
		return exitConfigInvalid
	}

	fp, err := fingerprint.LoadOrCreate(version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load or create fingerprint: %v\n", err)
		return exitConfigInvalid
	}
	cfg.Fingerprint = fp
	cfg.Version = version

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitConfigInvalid
	}
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save configuration: %v\n", err)
		return exitConfigInvalid
	}

	fmt.Printf("Joined %s as %s\n", host, fp)
	return exitOK
}

func runStart() int {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitConfigInvalid
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	fp, err := fingerprint.LoadOrCreate(version)
	if err != nil {
		log.Error("failed to load or create fingerprint", "error", err)
		return exitConfigInvalid
	}
	cfg.Fingerprint = fp
	cfg.Version = version
	if interactive {
		cfg.Interactive = true
	}

	srv := surface.New(surface.Options{
		Version:      cfg.Version,
		Fingerprint:  cfg.Fingerprint,
		ShellEnabled: cfg.ShellEnabled,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler: srv,
	}
	go func() {
		log.Info("local HTTP surface listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("local HTTP surface stopped unexpectedly", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exitCode := exitOK

	if cfg.Secret == "" {
		log.Warn("no secret configured, running with local HTTP surface only (run 'cyberdriver join' to enable the tunnel)")
		<-ctx.Done()
	} else {
		exitCode = runTunnel(ctx, cfg, srv)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if ctx.Err() != nil && exitCode == exitOK {
		return exitInterrupted
	}
	return exitCode
}

func runTunnel(ctx context.Context, cfg *config.Config, srv *surface.Server) int {
	tlsCfg, err := tlsconfig.Build(cfg)
	if err != nil {
		log.Error("failed to build TLS config", "error", err)
		return exitConfigInvalid
	}

	clock := activity.New()
	gate := &keepalive.Gate{}
	device := srv.Device()
	link := keepalivelink.New(cfg.RegisterAsKeepaliveFor)

	var kw *keepalive.Worker
	if cfg.KeepaliveEnabled {
		kw = keepalive.NewWorker(keepalive.Config{
			Threshold: time.Duration(cfg.KeepaliveThresholdMinutes) * time.Minute,
			ClickX:    cfg.KeepaliveClickX,
			ClickY:    cfg.KeepaliveClickY,
			ClickSet:  cfg.KeepaliveClickSet,
		}, clock, gate, device)
		go kw.Run(ctx)
	}

	newSession := func() *session.Session {
		return session.New(session.Config{
			URL:          cfg.Host,
			Secret:       cfg.Secret,
			Fingerprint:  cfg.Fingerprint,
			Version:      cfg.Version,
			Capabilities: srv.Capabilities(),
			KeepaliveFor: link.Target(),
			TLSConfig:    tlsCfg,
			Invoker:      srv,
			Gate:         gate,
			Clock:        clock,
		})
	}

	sup := supervisor.New(supervisor.Options{
		NewSession: newSession,
		OnReject:   keepalivelink.HandleRejection,
	})

	ctx, quit := context.WithCancel(ctx)
	defer quit()
	if cfg.Interactive {
		go runInteractive(ctx, sup, kw, quit)
	}

	sup.Run(ctx)
	return exitOK
}

// runInteractive toggles the supervisor Enabled/Disabled pseudostate from
// the keyboard: space pauses/resumes the tunnel, q requests shutdown by
// calling quit.
func runInteractive(ctx context.Context, sup *supervisor.Supervisor, kw *keepalive.Worker, quit context.CancelFunc) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		log.Warn("--interactive requires a terminal, ignoring")
		return
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		log.Warn("failed to enter raw terminal mode", "error", err)
		return
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		switch buf[0] {
		case ' ':
			if sup.Enabled() {
				sup.Disable()
				if kw != nil {
					kw.Pause()
				}
			} else {
				sup.Enable()
				if kw != nil {
					kw.Resume()
				}
			}
		case 'q', 'Q', 3: // 3 == Ctrl-C
			quit()
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
