package main

import (
	"ChatCore/bot"
	"ChatCore/impl/core"
	"ChatCore/internal/chat"
	"ChatCore/internal/config"
	repository "ChatCore/internal/database"
	"ChatCore/internal/http-server/api"
	"ChatCore/internal/lib/logger"
	"ChatCore/internal/lib/sl"
	"ChatCore/internal/notify"
	"ChatCore/internal/service/history"
	"ChatCore/internal/ws"
	"context"
	"flag"
	"log/slog"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	// Initialize Telegram bot if enabled
	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		var err error
		tgBot, err = bot.NewTgBot(conf.Telegram.BotName, conf.Telegram.ApiKey, conf.Telegram.AdminId, lg)
		if err != nil {
			lg.Error("failed to initialize telegram bot", slog.String("error", err.Error()))
		} else {
			// Set up Telegram handler for the logger
			lg = logger.SetupTelegramHandler(lg, tgBot, slog.LevelDebug)
			lg.With(
				slog.String("bot_name", conf.Telegram.BotName),
			).Info("telegram bot initialized")

			// Start the bot in a goroutine
			go func() {
				if err := tgBot.Start(); err != nil {
					lg.Error("telegram bot error", slog.String("error", err.Error()))
				}
			}()
		}
	}

	lg.Info("starting chatcore", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	handler := core.New(lg)
	handler.SetAuthKey(conf.Listen.ApiKey)
	handler.SetIdentity(conf.Identity)

	var presenter notify.Presenter
	if tgBot != nil {
		presenter = tgBot
	}
	coordinator := notify.NewCoordinator(conf.Identity, presenter, lg)
	handler.SetCoordinator(coordinator)

	historyClient := history.NewClient(conf, lg)
	handler.SetConversationAPI(historyClient)
	lg.With(
		slog.String("url", conf.History.BaseURL),
		sl.Secret("api_key", conf.History.ApiKey),
	).Info("history client initialized")

	manager := ws.NewManager(ws.Conf{
		URL:              conf.Server.WsURL,
		PingPeriod:       conf.Server.PingPeriod,
		PongWait:         conf.Server.PongWait,
		WriteWait:        conf.Server.WriteWait,
		ReconnectBackoff: conf.Server.ReconnectBackoff,
	}, lg)
	handler.SetConnection(manager)

	matcher := chat.NewMatcher(conf.Reconcile.DisableHeuristic)
	engine := chat.NewEngine(chat.Conf{
		UserID:        conf.Identity,
		PendingWindow: conf.Reconcile.PendingWindow,
		PageLimit:     conf.History.PageLimit,
	}, manager, historyClient, coordinator, matcher, lg)
	handler.SetEngine(engine)
	manager.SetHandler(engine)

	manager.OnStateChange(func(s ws.State) {
		lg.Info("connection state changed", slog.String("state", s.String()))
	})

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.With(
			sl.Err(err),
		).Error("mongo client")
	}
	if db != nil {
		engine.SetCache(db)
		if err := engine.WarmStart(context.Background()); err != nil {
			lg.With(
				sl.Err(err),
			).Warn("warm start")
		}
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("user", conf.Mongo.User),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo client initialized")
	}

	if err := handler.StartSession(context.Background()); err != nil {
		lg.With(
			sl.Err(err),
		).Error("start session")
	}

	// *** blocking start with http server ***
	err = api.New(conf, lg, handler)
	if err != nil {
		lg.Error("server start", sl.Err(err))
		return
	}
	lg.Error("service stopped")
}
