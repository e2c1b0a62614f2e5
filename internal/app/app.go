package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"marketnotify/internal/bridge"
	"marketnotify/internal/config"
	"marketnotify/internal/domain/linkresolver"
	"marketnotify/internal/domain/notification"
	"marketnotify/internal/domain/realtime"
	"marketnotify/internal/pkg/apiclient"
	"marketnotify/internal/pkg/jwt"
	"marketnotify/internal/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// App is one notification daemon bound to one signed-in user.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	client   *apiclient.Client
	store    *notification.Store
	window   *notification.Window
	redis    *notification.RedisWindow
	poller   *notification.Poller
	manager  *realtime.Manager
	resolver *linkresolver.Resolver
	server   *http.Server

	userID string
	role   string
}

// New signs in and wires every component. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: log}
	a.client = apiclient.New(cfg.API.BaseURL, cfg.API.Timeout, log.Named("api"))

	if err := a.signIn(ctx); err != nil {
		return nil, err
	}

	a.store = notification.NewStore(a.client, notification.StoreOptions{
		ToastTTL: cfg.Toast.TTL,
		Alerter:  &terminalAlerter{out: os.Stderr, sound: cfg.Toast.Sound, logger: log.Named("alert")},
		Logger:   log.Named("store"),
	})

	var seen notification.SeenSet
	switch cfg.Dedup.Backend {
	case "redis":
		rw, err := notification.NewRedisWindow(ctx, cfg.Dedup.RedisURL, cfg.Dedup.Window, log.Named("dedup"))
		if err != nil {
			return nil, fmt.Errorf("dedup: %w", err)
		}
		a.redis = rw
		seen = rw
	default:
		a.window = notification.NewWindow(cfg.Dedup.Window, nil, log.Named("dedup"))
		seen = a.window
	}

	a.poller = notification.NewPoller(a.client, a.store, cfg.Poll.InitInterval, log.Named("poller"))
	ingestor := notification.NewIngestor(a.store, seen, log.Named("ingest"))

	a.manager = realtime.NewManager(
		&pushHandler{ingestor: ingestor, poller: a.poller, logger: log.Named("push")},
		realtime.Options{
			URL:        a.pushURL,
			Header:     a.pushHeader,
			MinBackoff: cfg.Push.MinBackoff,
			MaxBackoff: cfg.Push.MaxBackoff,
			PingPeriod: cfg.Push.PingPeriod,
			Logger:     log.Named("push"),
		},
	)

	a.resolver = linkresolver.New(productSearch{client: a.client}, log.Named("links"))

	a.ctx, a.cancel = context.WithCancel(context.Background())
	h := bridge.NewHandler(bridge.Deps{
		Ctx:           a.ctx,
		Store:         a.store,
		Navigator:     a.resolver,
		Poller:        a.poller,
		Connection:    a.manager,
		InitInterval:  cfg.Poll.InitInterval,
		PanelInterval: cfg.Poll.PanelInterval,
		SessionToken:  a.client.Token,
		Logger:        log.Named("bridge"),
	})
	a.server = &http.Server{
		Addr: cfg.Bridge.Addr,
		Handler: bridge.NewRouter(h, bridge.RouterConfig{
			Token:          cfg.Bridge.Token,
			AllowedOrigins: cfg.Bridge.AllowedOrigins,
		}, log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// signIn uses the configured token or logs in with credentials.
func (a *App) signIn(ctx context.Context) error {
	s := a.cfg.Session
	if s.Token != "" {
		a.client.SetToken(s.Token)
		a.userID, a.role = s.UserID, s.Role
		if claims, err := jwt.PeekClaims(s.Token); err == nil {
			if a.userID == "" {
				a.userID = claims.UserID
			}
			if claims.Role != "" {
				a.role = claims.Role
			}
		}
	} else {
		res, err := a.client.Login(ctx, s.Email, s.Password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		a.userID, a.role = res.User.ID, res.User.Role
	}

	if a.userID == "" {
		return errors.New("session user id is unknown: set session.user_id")
	}
	a.logger.Info("session established", zap.String("user_id", a.userID), zap.String("role", a.role))
	return nil
}

func (a *App) pushURL(userID string) (string, error) {
	u, err := url.Parse(a.cfg.Push.URL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	q.Set("token", a.client.Token())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *App) pushHeader() http.Header {
	h := http.Header{}
	if token := a.client.Token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// Handler returns the bridge HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Store() *notification.Store {
	return a.store
}

func (a *App) Manager() *realtime.Manager {
	return a.manager
}

func (a *App) UserID() string {
	return a.userID
}

// Run starts the daemon and blocks until ctx is cancelled or the bridge
// fails. Components are stopped before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.cancel()

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	a.logger.Info("bridge listening", zap.String("addr", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	if a.window != nil {
		go a.window.Run(runCtx)
	}
	go a.poller.Run(runCtx)

	if err := a.manager.Connect(a.userID); err != nil {
		a.logger.Error("push channel not started", zap.Error(err))
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("bridge: %w", err)
		}
	}

	a.logger.Info("shutting down")
	a.manager.Teardown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("bridge shutdown", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close", zap.Error(err))
		}
	}
	return runErr
}

// WatchLogLevel applies logging.level edits from the config file at runtime.
func WatchLogLevel(v *viper.Viper, level zap.AtomicLevel, log *zap.Logger) {
	config.Watch(v, func(c *config.Config) {
		next := logger.ParseLevel(c.Logging.Level)
		if level.Level() != next {
			level.SetLevel(next)
			log.Info("log level changed", zap.String("level", next.String()))
		}
	}, func(err error) {
		log.Warn("config reload failed", zap.Error(err))
	})
}
