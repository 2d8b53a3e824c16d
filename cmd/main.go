package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"

	"github.com/Tim-Conrad/audio-player/config"
	"github.com/Tim-Conrad/audio-player/constant"
	"github.com/Tim-Conrad/audio-player/errutil"
	"github.com/Tim-Conrad/audio-player/fetchcache"
	"github.com/Tim-Conrad/audio-player/log"
	"github.com/Tim-Conrad/audio-player/player"
	"github.com/Tim-Conrad/audio-player/playlist"
	"github.com/Tim-Conrad/audio-player/settings"
	"github.com/Tim-Conrad/audio-player/sleeptimer"
	"github.com/Tim-Conrad/audio-player/sliceutil"
	"github.com/Tim-Conrad/audio-player/stats"
)

const (
	flagConfigFilePath = "config"
	flagPlaylistPath   = "playlist"
)

func main() {
	logger := log.NewPretty(os.Stdout).Level(zerolog.InfoLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     "audio-player",
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "Offline-first folder audio player",
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Run the player",
				Action:  run,
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagConfigFilePath,
						Aliases:  []string{"c"},
						Usage:    "Config file path",
						Required: false,
					},
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagPlaylistPath,
						Aliases:  []string{"p"},
						Usage:    "Folder path or URL to open on startup",
						Required: false,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
			logger.Fatal().Func(log.Flaw(flawErr)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

func run(cliCtx *cli.Context) error {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.NewPretty(os.Stdout).Level(zerolog.InfoLevel)

	var cfg *config.Config
	cfgEnv := os.Getenv("CONFIG")
	cfgFilePath := cliCtx.String(flagConfigFilePath)
	switch {
	case cfgFilePath != "" && cfgEnv != "":
		return errors.New("config file path and config environment variable are both set. specify only one")
	case cfgFilePath == "" && cfgEnv == "":
		return errors.New("config file path and config environment variable are both empty. specify one")
	case cfgFilePath != "":
		logger.Debug().Str("config_file_path", cfgFilePath).Msg("Loading config from file")
		c, err := config.FromFile(cfgFilePath)
		if nil != err {
			return fmt.Errorf("failed to load config file: %v", err)
		}
		cfg = c
	default:
		logger.Debug().Msg("Loading config from environment variable")
		c, err := config.FromString(cfgEnv)
		if nil != err {
			return fmt.Errorf("failed to load config from environment variable: %v", err)
		}
		cfg = c
	}

	if cfg.StateDir == "" {
		return errors.New("state directory is not configured")
	}
	if _, err := os.ReadDir(cfg.StateDir); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read state directory: %v", err)
		}
		logger.Warn().Msg("State directory does not exist. Creating...")
		if err := os.MkdirAll(cfg.StateDir, 0o0755); nil != err {
			return fmt.Errorf("failed to create state directory: %v", err)
		}
	}

	store := settings.NewFileStore(filepath.Join(cfg.StateDir, "settings.json"), logger)
	statsStore := settings.NewFileStatsStore(filepath.Join(cfg.StateDir, "stats.json"), logger)

	router := fetchcache.NewRouter(cfg, fetchcache.NewPartitionStore(), nil, logger)
	installCtx, installCancel := context.WithTimeout(ctx, 1*time.Minute)
	err := router.Install(installCtx, cfg.ShellAssets)
	installCancel()
	if nil != err {
		switch {
		case errors.Is(err, context.Canceled):
			return context.Canceled
		case errors.Is(err, context.DeadlineExceeded):
			logger.Warn().Msg("Application shell install timed out. Continuing without offline fallback")
		case errutil.IsFlaw(err):
			logger.Warn().Func(log.Flaw(err)).Msg("Failed to install application shell. Continuing without offline fallback")
		default:
			panic(errutil.UnknownError(err))
		}
	}
	router.Activate()
	client := router.Client()

	transport := player.NewExecTransport(cfg.FFplayPath, logger)
	defer func() {
		if err := transport.Close(); nil != err {
			logger.Warn().Err(err).Msg("Failed to stop playback process")
		}
	}()
	pl := player.New(transport, logger)
	persister := player.NewPersister(store, logger)
	persister.Attach(pl)

	resolver := playlist.NewResolver(cfg, client, store, pl, persister, logger)
	refresher := stats.NewRefresher(cfg, client, statsStore, logger)

	status := func(msg string) { fmt.Println(msg) }
	timer := sleeptimer.New(store, pl.Pause, statusNotifier{status: status}, status, logger)
	defer timer.Cancel()
	if s := store.Get(); s.Sleep != nil && s.Sleep.Target > 0 {
		timer.Resume(s.Sleep.Target)
	}

	s := store.Get()
	switch {
	case cliCtx.String(flagPlaylistPath) != "":
		reportOutcome(logger, status, resolver.LoadFromFolder(ctx, cliCtx.String(flagPlaylistPath)))
	case s.Last != nil && s.Last.PlaylistPath != "":
		reportOutcome(logger, status, resolver.LoadFromFolder(ctx, s.Last.PlaylistPath))
	default:
		if err := printHomeGrid(ctx, refresher, cfg.RootPath, status); nil != err {
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			logger.Warn().Err(err).Msg("Failed to build the home grid")
		}
	}

	return controlLoop(ctx, logger, status, resolver, pl, timer, refresher, store, cfg.RootPath)
}

// statusNotifier is the no-dependency Notifier: warnings land on the
// status line like every other message.
type statusNotifier struct {
	status func(msg string)
}

func (n statusNotifier) Notify(remaining time.Duration) error {
	n.status(fmt.Sprintf("Sleeping in %d seconds.", int(remaining.Seconds())))
	return nil
}

func reportOutcome(logger zerolog.Logger, status func(msg string), out playlist.LoadOutcome) {
	if out.Message != "" {
		status(out.Message)
	}
	if nil != out.Err {
		if errutil.IsFlaw(out.Err) {
			logger.Error().Func(log.Flaw(out.Err)).Msg("Folder load failed")
			return
		}
		logger.Error().Err(out.Err).Msg("Folder load failed")
	}
}

func printHomeGrid(ctx context.Context, refresher *stats.Refresher, rootPath string, status func(msg string)) error {
	entries, err := refresher.Snapshot(ctx, rootPath, false)
	if nil != err {
		return err
	}
	if len(entries) == 0 {
		status("No folders with tracks found.")
		return nil
	}
	status("Folders:")
	rows := sliceutil.Map(entries, func(e stats.Entry) string {
		return fmt.Sprintf("  %-40s %4d tracks", e.Name, e.Count)
	})
	for _, row := range rows {
		status(row)
	}
	status(`Open one with "open <path>".`)
	return nil
}

func controlLoop(
	ctx context.Context,
	logger zerolog.Logger,
	status func(msg string),
	resolver *playlist.Resolver,
	pl *player.Player,
	timer *sleeptimer.Timer,
	refresher *stats.Refresher,
	store settings.Store,
	rootPath string,
) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			arg = strings.TrimSpace(arg)
			var err error
			switch cmd {
			case "":
			case "quit", "q":
				return nil
			case "next", "n":
				err = resolver.PlayNext(ctx)
			case "prev":
				err = resolver.PlayPrevious(ctx)
			case "pause":
				err = pl.Pause()
			case "play":
				err = pl.Play()
			case "goto":
				idx, convErr := strconv.Atoi(arg)
				if nil != convErr {
					status("Usage: goto <track number>")
					continue
				}
				err = resolver.PlayIndex(ctx, idx-1)
			case "open":
				if arg == "" {
					status("Usage: open <folder path or URL>")
					continue
				}
				reportOutcome(logger, status, resolver.LoadFromFolder(ctx, arg))
			case "list", "ls":
				current, idx := resolver.Current()
				if current == nil || len(current.Tracks) == 0 {
					status("Playlist is empty.")
					continue
				}
				for i, track := range current.Tracks {
					marker := "  "
					if i == idx {
						marker = "> "
					}
					status(fmt.Sprintf("%s%2d. %s", marker, i+1, track.Name))
				}
			case "shuffle":
				resolver.SetShuffle(!resolver.Shuffle())
				status(fmt.Sprintf("Shuffle: %t", resolver.Shuffle()))
			case "loop":
				resolver.SetLoop(!resolver.Loop())
				status(fmt.Sprintf("Loop: %t", resolver.Loop()))
			case "sleep":
				switch arg {
				case "off":
					timer.Cancel()
					status("Sleep timer cancelled.")
				case "":
					if minutes, armed := timer.RemainingMinutes(); armed {
						status(fmt.Sprintf("Sleeping in %d minutes.", minutes))
					} else {
						status("Sleep timer is off.")
					}
				default:
					minutes, convErr := strconv.Atoi(arg)
					if nil != convErr {
						status("Usage: sleep <minutes>|off")
						continue
					}
					timer.Start(minutes)
				}
			case "reset":
				if err = store.Reset(); nil == err {
					status("Settings reset to defaults.")
				}
			case "home":
				if gridErr := printHomeGrid(ctx, refresher, rootPath, status); nil != gridErr {
					if errors.Is(ctx.Err(), context.Canceled) {
						return context.Canceled
					}
					logger.Warn().Err(gridErr).Msg("Failed to build the home grid")
				}
			default:
				status("Commands: open <path>, list, goto <n>, next, prev, play, pause, shuffle, loop, sleep <minutes>|off, home, reset, quit")
			}
			if nil != err {
				if errors.Is(ctx.Err(), context.Canceled) {
					return context.Canceled
				}
				if errutil.IsFlaw(err) {
					logger.Error().Func(log.Flaw(err)).Msg("Command failed")
					continue
				}
				logger.Error().Err(err).Msg("Command failed")
			}
		}
	}
}
