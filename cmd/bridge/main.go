package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tonkeeper/walletbridge/internal/config"
	"github.com/tonkeeper/walletbridge/pkg/app"
	"github.com/tonkeeper/walletbridge/pkg/bridge"
	"github.com/tonkeeper/walletbridge/pkg/engine"
	"github.com/tonkeeper/walletbridge/pkg/engine/quickjs"
	"github.com/tonkeeper/walletbridge/pkg/engine/webengine"
	"github.com/tonkeeper/walletbridge/pkg/storage"
	"github.com/tonkeeper/walletbridge/pkg/walletkit"
)

func main() {
	config.Load()
	log := app.Logger(config.App.LogLevel)

	store, err := storage.NewFileStore(config.Bridge.StoragePath)
	if err != nil {
		log.Fatal("open storage", zap.Error(err))
	}

	var eng engine.Engine
	var web *webengine.Engine
	switch config.Bridge.Engine {
	case "web", "webview":
		web = webengine.New(log, webengine.Config{BundlePath: config.Bridge.BundlePath, Store: store})
		eng = web
	case "quickjs":
		eng = quickjs.New(log, quickjs.Config{BundlePath: config.Bridge.BundlePath, Store: store})
	default:
		log.Fatal("unknown engine", zap.String("engine", config.Bridge.Engine))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b := bridge.New(log, eng)
	if err := b.Start(ctx); err != nil {
		log.Fatal("bridge start", zap.Error(err))
	}
	defer b.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if web != nil {
		mux.HandleFunc("/bridge", web.Handler())
		mux.HandleFunc("/walletkit.js", web.BundleHandler())
	}
	httpServer := http.Server{
		Addr:    fmt.Sprintf(":%v", config.Bridge.Port),
		Handler: mux,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen and serve", zap.Error(err))
		}
	}()
	defer httpServer.Close()

	if web != nil {
		log.Info("waiting for script host to connect", zap.Int("port", config.Bridge.Port))
	}
	ready, err := b.AwaitReady(ctx)
	if err != nil {
		log.Fatal("await ready", zap.Error(err))
	}
	log.Info("script environment ready",
		zap.String("network", string(ready.Network)),
		zap.String("tonApiUrl", ready.TonAPIURL))

	kit := walletkit.New(b, walletkit.DefaultTimeouts())
	if _, err := kit.Init(ctx, walletkit.InitParams{
		Network:   bridge.Network(config.Bridge.Network),
		TonAPIURL: config.Bridge.TonAPIURL,
	}); err != nil {
		log.Fatal("walletkit init", zap.Error(err))
	}

	var wallets []walletkit.Wallet
	err = retry.Do(
		func() error {
			var err error
			wallets, err = kit.GetWallets(ctx)
			return err
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.Context(ctx),
	)
	if err != nil {
		log.Error("get wallets", zap.Error(err))
	}
	for _, w := range wallets {
		log.Info("wallet",
			zap.String("address", w.Address),
			zap.String("version", w.Version),
			zap.String("network", string(w.Network)))
	}

	events, cancelSub := b.Subscribe(
		bridge.EventConnectRequest,
		bridge.EventTransactionRequest,
		bridge.EventSignDataRequest,
		bridge.EventDisconnect,
	)
	defer cancelSub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			log.Info("wallet event",
				zap.String("type", string(ev.Type)),
				zap.String("data", string(ev.Data)))
		}
	}
}
