package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string `yaml:"env" env-default:"local"`
	Identity string `yaml:"identity" env-default:""`
	Telegram struct {
		ApiKey  string `yaml:"api_key" env-default:""`
		AdminId int64  `yaml:"admin_id" env-default:"0"`
		BotName string `yaml:"bot_name" env-default:"ChatCoreBot"`
		Enabled bool   `yaml:"enabled" env-default:"false"`
	} `yaml:"telegram"`
	Server struct {
		WsURL            string        `yaml:"ws_url" env-default:"ws://127.0.0.1:8800/ws"`
		PingPeriod       time.Duration `yaml:"ping_period" env-default:"30s"`
		PongWait         time.Duration `yaml:"pong_wait" env-default:"60s"`
		WriteWait        time.Duration `yaml:"write_wait" env-default:"10s"`
		ReconnectBackoff time.Duration `yaml:"reconnect_backoff" env-default:"5s"`
	} `yaml:"server"`
	History struct {
		BaseURL   string `yaml:"base_url" env-default:"http://127.0.0.1:8800/api"`
		ApiKey    string `yaml:"api_key" env-default:""`
		PageLimit int    `yaml:"page_limit" env-default:"50"`
	} `yaml:"history"`
	Reconcile struct {
		// DisableHeuristic turns off the body+sender+time-window confirmation
		// fallback used for peers that do not echo correlation tokens.
		DisableHeuristic bool          `yaml:"disable_heuristic" env-default:"false"`
		PendingWindow    time.Duration `yaml:"pending_window" env-default:"2m"`
	} `yaml:"reconcile"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:"admin"`
		Password string `yaml:"password" env-default:"pass"`
		Database string `yaml:"database" env-default:""`
	} `yaml:"mongo"`
	Listen struct {
		BindIP string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port   string `yaml:"port" env-default:"9200"`
		ApiKey string `yaml:"key" env-default:""`
	} `yaml:"listen"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("%s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}
