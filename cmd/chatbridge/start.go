package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/keepmind9/chatbridge/internal/bot"
	"github.com/keepmind9/chatbridge/internal/core"
	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the configured platform bots",
	Long: `Load the YAML configuration, register an adapter for every enabled
platform, connect them, and run until interrupted.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
}

func runStart(cmd *cobra.Command, args []string) error {
	config, err := core.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:        config.Logging.Level,
		File:         config.Logging.File,
		MaxSize:      config.Logging.MaxSize,
		MaxBackups:   config.Logging.MaxBackups,
		MaxAge:       config.Logging.MaxAge,
		Compress:     config.Logging.Compress,
		EnableStdout: config.Logging.EnableStdout,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := registerAdapters(config); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bots []*core.Bot
	for name, platform := range config.Platforms {
		if !platform.Enabled {
			continue
		}
		b, err := core.New(name, nil)
		if err != nil {
			return fmt.Errorf("failed to create %s bot: %w", name, err)
		}
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s bot: %w", name, err)
		}
		bots = append(bots, b)
	}

	logger.WithFields(logrus.Fields{
		"platforms": len(bots),
	}).Info("chatbridge-running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.WithFields(logrus.Fields{
		"signal": sig.String(),
	}).Info("shutting-down")
	cancel()

	for _, b := range bots {
		if err := b.Stop(); err != nil {
			logger.WithFields(logrus.Fields{
				"platform": b.Platform(),
				"error":    err,
			}).Error("failed-to-stop-bot")
		}
	}
	return nil
}

// registerAdapters constructs an adapter per enabled platform and registers
// it in the default registry. Each platform is named explicitly; adding a
// platform means adding a case here.
func registerAdapters(config *core.Config) error {
	for name, platform := range config.Platforms {
		if !platform.Enabled {
			continue
		}
		switch name {
		case "slack":
			bot.DefaultRegistry.Register(name, bot.NewSlackAdapter(bot.SlackConfig{
				BotToken:   platform.BotToken,
				AppToken:   platform.AppToken,
				SocketMode: platform.SocketMode,
				Port:       platform.Port,
				CacheSize:  platform.CacheSize,
				CacheTTL:   platform.CacheTTLDuration(),
			}))
		case "discord":
			bot.DefaultRegistry.Register(name, bot.NewDiscordAdapter(bot.DiscordConfig{
				Token:     platform.Token,
				GuildID:   platform.GuildID,
				CacheSize: platform.CacheSize,
				CacheTTL:  platform.CacheTTLDuration(),
			}))
		case "telegram":
			bot.DefaultRegistry.Register(name, bot.NewTelegramAdapter(bot.TelegramConfig{
				Token:     platform.Token,
				CacheSize: platform.CacheSize,
				CacheTTL:  platform.CacheTTLDuration(),
			}))
		case "feishu":
			bot.DefaultRegistry.Register(name, bot.NewFeishuAdapter(bot.FeishuConfig{
				AppID:             platform.AppID,
				AppSecret:         platform.AppSecret,
				EncryptKey:        platform.EncryptKey,
				VerificationToken: platform.VerificationToken,
			}))
		default:
			return fmt.Errorf("unknown platform %q", name)
		}
	}
	return nil
}
