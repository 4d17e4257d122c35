package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"signalflow/internal/accounts"
	"signalflow/internal/broker"
	"signalflow/internal/broker/binance"
	"signalflow/internal/broker/kotakneo"
	"signalflow/internal/broker/paper"
	sfcfg "signalflow/internal/config"
	"signalflow/internal/dispatch"
	"signalflow/internal/indicator"
	"signalflow/internal/ingest"
	"signalflow/internal/ledger"
	"signalflow/internal/logger"
	"signalflow/internal/notify"
	"signalflow/internal/report"
	"signalflow/internal/session"
	"signalflow/internal/store/dispatchlog"
	"signalflow/internal/store/orderstore"
	apihttp "signalflow/internal/transport/http/api"
)

// venueStack bundles the wired venues with the optional candle source a
// configured Binance client doubles as.
type venueStack struct {
	venues  map[string]ingest.Venue
	candles indicator.Source
}

type AppBuilder struct {
	cfg *sfcfg.Config

	venuesFn   func(*sfcfg.Config, *ledger.Ledger, journalFanout, dispatch.Notifier) (*venueStack, error)
	accountsFn func(*sfcfg.Config) (ingest.AccountSource, error)
	notifierFn func(sfcfg.NotifyConfig) dispatch.Notifier
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *sfcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		venuesFn:   buildVenues,
		accountsFn: loadAccounts,
		notifierFn: buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithAccountSource replaces the file-backed registry, used by tests.
func WithAccountSource(src ingest.AccountSource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.accountsFn = func(*sfcfg.Config) (ingest.AccountSource, error) { return src, nil }
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	orders, err := orderstore.New(cfg.Store.OrdersPath)
	if err != nil {
		return nil, fmt.Errorf("opening order store: %w", err)
	}
	attempts, err := dispatchlog.New(cfg.Store.DispatchLogPath)
	if err != nil {
		orders.Close()
		return nil, fmt.Errorf("opening dispatch log: %w", err)
	}
	journal := journalFanout{orders: orders, attempts: attempts}
	notifier := b.notifierFn(cfg.Notify)

	book := ledger.New()
	stack, err := b.venuesFn(cfg, book, journal, notifier)
	if err != nil {
		orders.Close()
		attempts.Close()
		return nil, err
	}

	accountSrc, err := b.accountsFn(cfg)
	if err != nil {
		orders.Close()
		attempts.Close()
		return nil, fmt.Errorf("loading accounts: %w", err)
	}

	var atr ingest.ATRSource
	if stack.candles != nil {
		atr = indicator.NewService(stack.candles, indicator.Config{
			Period:      cfg.Indicator.Period,
			Interval:    cfg.Indicator.Interval,
			CacheTTLSec: cfg.Indicator.CacheTTLSeconds,
		})
	}

	ing, err := ingest.New(ingest.Deps{
		Accounts: accountSrc,
		Venues:   stack.venues,
		Ledger:   book,
		ATR:      atr,
		Outcomes: orders,
	})
	if err != nil {
		orders.Close()
		attempts.Close()
		return nil, err
	}

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Router: &apihttp.Router{
			Ingestor: ing,
			Book:     book,
			Orders:   orders,
			Attempts: attempts,
			Reports:  report.New(orders),
		},
	})
	if err != nil {
		orders.Close()
		attempts.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		server:   server,
		ingestor: ing,
		orders:   orders,
		attempts: attempts,
		Summary:  buildSummary(cfg, stack, accountSrc),
	}, nil
}

func loadAccounts(cfg *sfcfg.Config) (ingest.AccountSource, error) {
	return accounts.NewRegistry(cfg.Accounts.Path)
}

func buildNotifier(cfg sfcfg.NotifyConfig) dispatch.Notifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notify.NewAlerter(notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
}

func buildVenues(cfg *sfcfg.Config, book *ledger.Ledger, journal journalFanout, notifier dispatch.Notifier) (*venueStack, error) {
	stack := &venueStack{venues: make(map[string]ingest.Venue)}
	dispatchCfg := dispatch.Config{
		MaxAttempts:       cfg.Dispatch.MaxAttempts,
		BaseDelay:         time.Duration(cfg.Dispatch.BaseDelayMS) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.Dispatch.MaxDelayMS) * time.Millisecond,
		UpstreamBaseDelay: time.Duration(cfg.Dispatch.UpstreamBaseDelayMS) * time.Millisecond,
		BreakerThreshold:  cfg.Dispatch.BreakerThreshold,
		BreakerCooloff:    time.Duration(cfg.Dispatch.BreakerCooloffSeconds) * time.Second,
	}
	addVenue := func(name string, transport broker.Transport, auth session.Authenticator) {
		sessions := session.NewCache(auth)
		stack.venues[name] = ingest.Venue{
			Transport: transport,
			Sessions:  sessions,
			Dispatcher: dispatch.New(dispatch.Deps{
				Transport: transport,
				Sessions:  sessions,
				Ledger:    book,
				Journal:   journal,
				Closes:    journal,
				Notifier:  notifier,
			}, dispatchCfg),
		}
	}

	if cfg.Brokers.Paper.Enabled {
		venue := paper.New(cfg.Brokers.Paper.StartingCash)
		addVenue(venue.Name(), venue, paper.Auth{})
	}
	if cfg.Brokers.KotakNeo.Enabled {
		kCfg := kotakneo.Config{
			BaseURL:        cfg.Brokers.KotakNeo.BaseURL,
			ConsumerKey:    cfg.Brokers.KotakNeo.ConsumerKey,
			ConsumerSecret: cfg.Brokers.KotakNeo.ConsumerSecret,
			MobileNumber:   cfg.Brokers.KotakNeo.MobileNumber,
			Password:       cfg.Brokers.KotakNeo.Password,
			TimeoutSeconds: cfg.Brokers.KotakNeo.TimeoutSeconds,
		}
		client, err := kotakneo.NewClient(kCfg)
		if err != nil {
			return nil, fmt.Errorf("wiring kotak neo: %w", err)
		}
		auth, err := kotakneo.NewAuthenticator(kCfg, otpFromEnv)
		if err != nil {
			return nil, fmt.Errorf("wiring kotak neo auth: %w", err)
		}
		addVenue(client.Name(), client, auth)
	}
	if cfg.Brokers.Binance.Enabled {
		client, err := binance.New(binance.Config{
			APIKey:         cfg.Brokers.Binance.APIKey,
			APISecret:      cfg.Brokers.Binance.APISecret,
			BaseURL:        cfg.Brokers.Binance.BaseURL,
			TimeoutSeconds: cfg.Brokers.Binance.TimeoutSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("wiring binance: %w", err)
		}
		addVenue(client.Name(), client, binance.Auth{})
		stack.candles = client
	}
	if len(stack.venues) == 0 {
		return nil, fmt.Errorf("no brokers enabled")
	}
	return stack, nil
}

// otpFromEnv reads the interactive second factor for Kotak Neo logins.
// Operators refresh SIGNALFLOW_KOTAK_OTP before the session expires.
func otpFromEnv(context.Context) (string, error) {
	otp := strings.TrimSpace(os.Getenv("SIGNALFLOW_KOTAK_OTP"))
	if otp == "" {
		return "", fmt.Errorf("SIGNALFLOW_KOTAK_OTP is not set")
	}
	return otp, nil
}

func buildSummary(cfg *sfcfg.Config, stack *venueStack, src ingest.AccountSource) *StartupSummary {
	venues := make([]string, 0, len(stack.venues))
	for name := range stack.venues {
		venues = append(venues, name)
	}
	sort.Strings(venues)

	summary := &StartupSummary{
		HTTPAddr:        cfg.App.HTTPAddr,
		Venues:          venues,
		OrdersPath:      cfg.Store.OrdersPath,
		DispatchLogPath: cfg.Store.DispatchLogPath,
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		ATRWired:        stack.candles != nil,
	}
	if src != nil {
		for _, acct := range src.Snapshot().Active() {
			summary.Accounts = append(summary.Accounts, AccountSummary{
				ID:     acct.ID,
				Broker: acct.Broker,
				Sizing: string(acct.Sizing.Method),
			})
		}
	}
	return summary
}
