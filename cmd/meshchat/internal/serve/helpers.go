package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"

	"github.com/tinyland-inc/meshchat/pkg/bus"
	"github.com/tinyland-inc/meshchat/pkg/config"
	"github.com/tinyland-inc/meshchat/pkg/frontend"
	"github.com/tinyland-inc/meshchat/pkg/logger"
	"github.com/tinyland-inc/meshchat/pkg/messenger"
	"github.com/tinyland-inc/meshchat/pkg/model"
	"github.com/tinyland-inc/meshchat/pkg/overlay"
	"github.com/tinyland-inc/meshchat/pkg/storage"
)

type Options struct {
	ConfigPath string
	Port       int
	JoinToken  string
	QR         bool
	Debug      bool
}

func serveCmd(ctx context.Context, opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.Debug || cfg.Debug {
		logger.SetLevel(logger.DEBUG)
	}

	selfID, err := loadIdentity(cfg.DataPath())
	if err != nil {
		return fmt.Errorf("loading node identity: %w", err)
	}
	logger.InfoCF("serve", "starting node", map[string]any{
		"id": selfID, "addr": fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(cfg.ReplayWindow)
	defer b.Close()

	store := storage.New(selfID)
	network := overlay.New(selfID, cfg, b)
	msgr := messenger.New(selfID, b, store, network)
	ui := frontend.New(msgr)

	mux := http.NewServeMux()
	network.Routes(mux)
	ui.Routes(mux)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}

	go network.Run(ctx)
	go msgr.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	printToken(network.Token(), opts.QR)

	if opts.JoinToken != "" {
		if err := network.ConnectToNetwork(ctx, opts.JoinToken); err != nil {
			_ = srv.Close()
			return fmt.Errorf("joining network: %w", err)
		}
		logger.InfoC("serve", "joined network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.InfoC("serve", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(opts Options) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = filepath.Join(config.DefaultConfig().DataDir, "config.json")
	}
	cfg, err := config.LoadConfig(expand(path))
	if err != nil {
		return nil, err
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	return cfg, nil
}

func expand(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// loadIdentity reads the node id persisted under the data directory,
// minting and saving a fresh one on first start.
func loadIdentity(dataDir string) (model.ID, error) {
	path := filepath.Join(dataDir, "node_id")
	data, err := os.ReadFile(path)
	if err == nil {
		id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("corrupt identity file %s", path)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return 0, err
	}
	id := model.NewID()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(id, 10)), 0o600); err != nil {
		return 0, err
	}
	return id, nil
}

func printToken(token string, qr bool) {
	fmt.Printf("invite token: %s\n", token)
	if qr {
		qrterminal.GenerateWithConfig(token, qrterminal.Config{
			Level:     qrterminal.L,
			Writer:    os.Stdout,
			BlackChar: qrterminal.BLACK,
			WhiteChar: qrterminal.WHITE,
			QuietZone: 1,
		})
	}
}
