package config

import (
	"log"

	"github.com/caarlos0/env/v6"
)

var Bridge struct {
	Port        int    `env:"PORT" envDefault:"8081"`
	Engine      string `env:"BRIDGE_ENGINE" envDefault:"quickjs"`
	BundlePath  string `env:"WALLETKIT_BUNDLE" envDefault:"assets/walletkit.js"`
	StoragePath string `env:"WALLET_STORAGE" envDefault:"walletkit-storage.json"`
	Network     string `env:"TON_NETWORK" envDefault:"testnet"`
	TonAPIURL   string `env:"TON_API_URL" envDefault:"https://testnet.tonapi.io"`
}

var App struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
}

func Load() {
	if err := env.Parse(&Bridge); err != nil {
		log.Panicf("[‼️  Config parsing failed] %+v\n", err)
	}
	if err := env.Parse(&App); err != nil {
		log.Panicf("[‼️  Config parsing failed] %+v\n", err)
	}
}
