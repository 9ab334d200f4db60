package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/zulandar/trellis/internal/config"
	"github.com/zulandar/trellis/internal/db"
	"github.com/zulandar/trellis/internal/notify"
	"github.com/zulandar/trellis/internal/notify/discord"
	"github.com/zulandar/trellis/internal/notify/slack"
	"github.com/zulandar/trellis/internal/registry"
	"github.com/zulandar/trellis/internal/workitem"
	"gorm.io/gorm"
)

// connectFromConfig loads config and returns a GORM DB connection.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// buildSink constructs the notification sink for the configured platform.
// An unset platform logs notifications instead of delivering them.
func buildSink(cfg *config.Config, gormDB *gorm.DB) (notify.Sink, error) {
	directory := notify.DBDirectory{DB: gormDB}
	switch cfg.Notify.Platform {
	case "slack":
		sink, err := slack.New(slack.Opts{
			Token:     cfg.Notify.Token,
			ChannelID: cfg.Notify.ChannelID,
			Directory: directory,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "discord":
		sink, err := discord.New(discord.Opts{
			BotToken:  cfg.Notify.Token,
			ChannelID: cfg.Notify.ChannelID,
			Directory: directory,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "":
		return notify.LogSink{Dir: directory}, nil
	default:
		return nil, fmt.Errorf("unsupported notify platform %q", cfg.Notify.Platform)
	}
}

// buildService wires the full work item service from a loaded config.
func buildService(cfg *config.Config, gormDB *gorm.DB) (*workitem.Service, error) {
	reg, err := registry.New(gormDB)
	if err != nil {
		return nil, err
	}
	sink, err := buildSink(cfg, gormDB)
	if err != nil {
		return nil, err
	}
	return workitem.New(gormDB, reg, sink, nil, cfg.Automation.Workers), nil
}

// resolveUser picks the acting user: the --user flag, then TRELLIS_USER,
// then the OS username.
func resolveUser(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("TRELLIS_USER"); env != "" {
		return env
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// parseFieldFlags turns repeated name=value flags into a map.
func parseFieldFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	fields := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q, want name=value", pair)
		}
		fields[name] = value
	}
	return fields, nil
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
