package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterje/runbox/internal/config"
	"github.com/peterje/runbox/internal/db"
	"github.com/peterje/runbox/internal/logging"
	"github.com/peterje/runbox/internal/preflight"
	ptymgr "github.com/peterje/runbox/internal/pty"
	"github.com/peterje/runbox/internal/server"
	"github.com/peterje/runbox/internal/shepherd"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	configPath string
	port       int
	dbPath     string
	logLevel   string
	noShepherd bool
}

func parseFlags(name string, args []string) (*pflag.FlagSet, *options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "config file")
	fs.IntVarP(&opts.port, "port", "p", config.DefaultPort, "server port")
	fs.StringVar(&opts.dbPath, "db", "", "run history database path")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&opts.noShepherd, "no-shepherd", false, "host sessions in this process")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return fs, opts, nil
}

func exitCode(flagErr error) int {
	if errors.Is(flagErr, pflag.ErrHelp) {
		return 0
	}
	return 2
}

// loadConfig applies flags over the file and environment.
func loadConfig(fs *pflag.FlagSet, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("port") {
		cfg.Port = opts.port
	}
	if fs.Changed("db") {
		cfg.DBPath = opts.dbPath
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if opts.noShepherd {
		cfg.Shepherd = false
	}
	return cfg, cfg.Validate()
}

func main() {
	// Subcommand dispatch: "runbox shepherd" runs the shepherd process
	if len(os.Args) > 1 && os.Args[1] == "shepherd" {
		os.Exit(runShepherd(os.Args[2:]))
	}
	os.Exit(runServer(os.Args[1:]))
}

func runShepherd(args []string) int {
	fs, opts, err := parseFlags("runbox shepherd", args)
	if err != nil {
		return exitCode(err)
	}
	cfg, err := loadConfig(fs, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := shepherd.Run(cfg, log); err != nil {
		log.Errorf("shepherd failed: %v", err)
		return 1
	}
	return 0
}

func runServer(args []string) int {
	fs, opts, err := parseFlags("runbox", args)
	if err != nil {
		return exitCode(err)
	}
	cfg, err := loadConfig(fs, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	fmt.Println("runbox - interactive interpreter sessions")
	fmt.Println("=========================================")
	fmt.Println()

	fmt.Println("Running preflight checks...")
	interp := preflight.CheckInterpreter(cfg.Interpreter)
	fmt.Println()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Errorf("failed to open database: %v", err)
		return 1
	}
	defer database.Close()
	store := db.NewStore(database)

	// Connect to or start the shepherd process
	var mgr ptymgr.SessionManager
	var shepherdClient *shepherd.Client
	var localMgr *ptymgr.Manager
	if cfg.Shepherd {
		shepherdClient, err = connectOrStartShepherd(opts.configPath, log)
		if err != nil {
			log.Warnf("shepherd unavailable, falling back to in-process session manager: %v", err)
		}
	}
	if shepherdClient != nil {
		mgr = shepherdClient
	} else {
		localMgr = shepherd.NewManager(cfg, log)
		mgr = localMgr
	}

	reconcileRuns(store, mgr, log)

	srv := server.New(mgr, server.Options{
		Store:        store,
		Executor:     ptymgr.NewExecutor(cfg.Interpreter, cfg.InterpreterArgs...),
		ExecTimeout:  cfg.ExecTimeout,
		PollInterval: cfg.PollInterval,
		Interpreter:  interp,
		Shepherd:     shepherdClient != nil,
		Log:          log,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.WithMiddleware(srv, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		fmt.Printf("\nReceived %s, shutting down...\n", sig)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	fmt.Printf("Server running at http://%s\n", addr)
	err = httpSrv.ListenAndServe()

	// Sessions hosted by the shepherd keep running; local ones die with us.
	if shepherdClient != nil {
		shepherdClient.Disconnect()
	}
	if localMgr != nil {
		localMgr.CloseAll()
		if _, rerr := store.MarkStaleRunning(nil); rerr != nil {
			log.Warnf("failed to close run history: %v", rerr)
		}
	}

	if !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("server failed: %v", err)
		return 1
	}
	fmt.Println("Server stopped.")
	return 0
}

// connectOrStartShepherd connects to an existing shepherd or launches a new one.
func connectOrStartShepherd(configPath string, log *logrus.Logger) (*shepherd.Client, error) {
	socketPath, err := shepherd.SocketPath()
	if err != nil {
		return nil, err
	}

	if client, err := dialShepherd(socketPath, log); err == nil {
		log.Info("connected to existing shepherd")
		return client, nil
	}

	log.Info("starting shepherd process...")
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("get executable path: %w", err)
	}

	cmd := exec.Command(exe, "shepherd", "--config", configPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start shepherd: %w", err)
	}
	// Detach, the shepherd outlives this process
	cmd.Process.Release()

	for i := 0; i < 40; i++ { // 40 * 50ms = 2s
		time.Sleep(50 * time.Millisecond)
		if client, err := dialShepherd(socketPath, log); err == nil {
			log.Info("shepherd started and connected")
			return client, nil
		}
	}
	return nil, fmt.Errorf("shepherd did not become available within 2s")
}

func dialShepherd(socketPath string, log *logrus.Logger) (*shepherd.Client, error) {
	client, err := shepherd.NewClient(socketPath, log)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(); err != nil {
		client.Disconnect()
		return nil, err
	}
	return client, nil
}

// reconcileRuns closes run rows whose session is no longer hosted, e.g.
// after the shepherd restarted or an in-process manager went away.
func reconcileRuns(store *db.Store, mgr ptymgr.SessionManager, log *logrus.Logger) {
	active := mgr.List()
	if client, ok := mgr.(*shepherd.Client); ok {
		ids, err := client.ListSessions()
		if err != nil {
			log.Warnf("failed to list shepherd sessions: %v", err)
			return
		}
		active = ids
	}

	n, err := store.MarkStaleRunning(active)
	if err != nil {
		log.Warnf("failed to reconcile run history: %v", err)
		return
	}
	if n > 0 {
		log.Infof("marked %d orphaned runs as closed", n)
	}
}
