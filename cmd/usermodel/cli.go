package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cognicore/usermodel/internal/schedule"
	"github.com/cognicore/usermodel/internal/scrape"
	"github.com/cognicore/usermodel/internal/visits"
	"github.com/cognicore/usermodel/pkg/usermodel"
	"github.com/cognicore/usermodel/pkg/usermodel/config"
	"github.com/cognicore/usermodel/pkg/usermodel/events"
	"github.com/cognicore/usermodel/pkg/usermodel/gate"
	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/model"
	"github.com/cognicore/usermodel/pkg/usermodel/netprobe"
	"github.com/cognicore/usermodel/pkg/usermodel/notify"
	"github.com/cognicore/usermodel/pkg/usermodel/state"
	"github.com/cognicore/usermodel/pkg/usermodel/store"
	"github.com/cognicore/usermodel/pkg/usermodel/store/sqlite"
)

// Replaced in tests.
var (
	now      = time.Now
	newProbe = func() netprobe.Probe { return netprobe.New() }
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "usermodel",
		Usage:   "On-device interest model and ad eligibility",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"USERMODEL_CONFIG"}, Usage: "Config file (YAML)"},
			&cli.StringFlag{Name: "db", Usage: "State database path (overrides config)"},
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "Profile name (overrides config)"},
		},
		Commands: []*cli.Command{
			classifyCmd(),
			replayCmd(),
			serveCmd(),
			watchCmd(),
			enableCmd(true),
			enableCmd(false),
			frequencyCmd(),
			resetCmd(),
			statusCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runtime is everything a command needs, opened from the global flags.
type runtime struct {
	cfg      *config.Config
	comp     *config.Components
	store    store.Store
	engine   *usermodel.Engine
	notifier *notify.Async
	logger   *slog.Logger
	profile  string
	out      io.Writer

	networkID chan string
}

func openRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("db") {
		cfg.Store.Path = c.String("db")
	}
	if c.IsSet("profile") {
		cfg.Store.Profile = c.String("profile")
	}

	logger := events.ConfigureLogging(cfg.Log.Level, cfg.Log.Format, c.App.ErrWriter)

	comp, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	st, err := sqlite.OpenSQLite(c.Context, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}

	rt := &runtime{
		cfg:       cfg,
		comp:      comp,
		store:     st,
		logger:    logger,
		profile:   cfg.Store.Profile,
		out:       c.App.Writer,
		networkID: make(chan string, 1),
	}

	sink := events.Tee{events.NewSlogSink(logger), events.NewJournal(st, logger)}
	rt.notifier = notify.NewAsync(notify.NewWriter(rt.out), sink)
	rt.engine = usermodel.New(usermodel.Options{
		Classifier: comp.Classifier,
		Gate:       comp.Gate,
		Tracker:    comp.Tracker,
		Sink:       sink,
		Notifier:   rt.notifier,
		Probe:      newProbe(),
		Store:      st,
		Capacity:   comp.Capacity,
		OnNetworkID: func(id string) {
			select {
			case rt.networkID <- id:
			default:
			}
		},
	})
	return rt, nil
}

func (rt *runtime) Close() error {
	rt.notifier.Wait()
	return rt.engine.Close()
}

// begin loads the profile and runs Initialize, waiting for the model and
// network probe so a short-lived command sees their results.
func (rt *runtime) begin(ctx context.Context) (state.Snapshot, error) {
	s, err := rt.engine.LoadState(ctx, rt.profile)
	if err != nil {
		return state.Snapshot{}, err
	}

	s = rt.engine.Initialize(ctx, s, rt.comp.Loader)
	rt.engine.Wait()

	select {
	case id := <-rt.networkID:
		s = rt.engine.RecordNetworkID(s, id)
	default:
	}
	return s, nil
}

func (rt *runtime) save(ctx context.Context, s state.Snapshot) error {
	return rt.engine.SaveCachedInfo(ctx, rt.profile, s)
}

// withRuntime opens the runtime, runs fn and closes it again.
func withRuntime(fn func(c *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := openRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(c, rt)
	}
}

// classifyCmd creates the classify command.
func classifyCmd() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Scrape an HTML file, classify it and update intent flags",
		ArgsUsage: "<file.html>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Required: true, Usage: "URL the page was loaded from"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if c.NArg() != 1 {
				return fmt.Errorf("classify needs exactly one HTML file")
			}
			page, err := scrape.File(c.Args().First(), c.String("url"))
			if err != nil {
				return err
			}

			s, err := rt.begin(c.Context)
			if err != nil {
				return err
			}
			s = rt.engine.Visit(s, page, now())
			if err := rt.save(c.Context, s); err != nil {
				return err
			}
			return rt.outputStatus(c.Context, s, 0)
		}),
	}
}

// replayCmd creates the replay command.
func replayCmd() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Feed a JSONL visit log through the model",
		ArgsUsage: "<visits.jsonl>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "serve", Usage: "Run the eligibility gate on every idle visit"},
			&cli.IntFlag{Name: "window", Value: 1, Usage: "Window id for notifications"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if c.NArg() != 1 {
				return fmt.Errorf("replay needs exactly one visit log")
			}
			path := c.Args().First()
			items, err := visits.LoadFromJSONL(path)
			if err != nil {
				return err
			}

			s, err := rt.begin(c.Context)
			if err != nil {
				return err
			}

			var decisions []decisionOutput
			for i, v := range items {
				page := v.Page()
				if v.HTMLPath != "" {
					htmlPath := v.HTMLPath
					if !filepath.IsAbs(htmlPath) {
						htmlPath = filepath.Join(filepath.Dir(path), htmlPath)
					}
					if page, err = scrape.File(htmlPath, v.URL); err != nil {
						rt.logger.Warn("skipping visit", "index", i, "url", v.URL, "error", err)
						continue
					}
				}

				s = rt.engine.Visit(s, page, v.At)
				if v.Idle {
					s = rt.engine.RecordUnIdle(s, v.At)
					if c.Bool("serve") {
						var d gate.Decision
						s, d = rt.engine.CheckReadyAdServe(c.Context, s, c.Int("window"), v.At)
						decisions = append(decisions, newDecisionOutput(d, v.At))
					}
				}
			}
			if err := rt.save(c.Context, s); err != nil {
				return err
			}
			rt.notifier.Wait()

			st := rt.status(c.Context, s, 0)
			return outputJSON(rt.out, replayOutput{Visits: len(items), Decisions: decisions, Status: st})
		}),
	}
}

// serveCmd creates the serve command.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the eligibility gate once and show the ad if it passes",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "window", Aliases: []string{"w"}, Value: 1, Usage: "Window id for the notification"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			s, err := rt.begin(c.Context)
			if err != nil {
				return err
			}
			d, err := rt.serveOnce(c.Context, s, c.Int("window"))
			if err != nil {
				return err
			}
			rt.notifier.Wait()
			return outputJSON(rt.out, d)
		}),
	}
}

func (rt *runtime) serveOnce(ctx context.Context, s state.Snapshot, windowID int) (decisionOutput, error) {
	at := now()
	s = rt.engine.RecordUnIdle(s, at)
	s, d := rt.engine.CheckReadyAdServe(ctx, s, windowID, at)
	if err := rt.save(ctx, s); err != nil {
		return decisionOutput{}, err
	}
	return newDecisionOutput(d, at), nil
}

// watchCmd creates the watch command.
func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Run the eligibility gate on a schedule until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schedule", Usage: "Cron schedule (overrides config)"},
			&cli.IntFlag{Name: "window", Aliases: []string{"w"}, Usage: "Window id for notifications (overrides config)"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			spec := rt.cfg.Watch.Schedule
			if c.IsSet("schedule") {
				spec = c.String("schedule")
			}
			windowID := rt.cfg.Watch.WindowID
			if c.IsSet("window") {
				windowID = c.Int("window")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := rt.begin(ctx)
			if err != nil {
				return err
			}
			if err := rt.save(ctx, s); err != nil {
				return err
			}

			job := func() {
				s, err := rt.engine.LoadState(ctx, rt.profile)
				if err != nil {
					rt.logger.Error("watch: load state", "error", err)
					return
				}
				d, err := rt.serveOnce(ctx, s, windowID)
				if err != nil {
					rt.logger.Error("watch: serve", "error", err)
					return
				}
				rt.logger.Info("watch: decision", "decision", d.Decision)
			}

			sched, err := schedule.New(spec, job, rt.logger)
			if err != nil {
				return err
			}
			rt.logger.Info("watching", "schedule", spec, "next", sched.Next(now()), "profile", rt.profile)
			sched.Run(ctx)
			return nil
		}),
	}
}

// enableCmd creates the enable or disable command.
func enableCmd(enabled bool) *cli.Command {
	name, usage := "enable", "Turn ads on (creates the anonymous identity)"
	if !enabled {
		name, usage = "disable", "Turn ads off"
	}
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			s, err := rt.begin(c.Context)
			if err != nil {
				return err
			}
			s = rt.engine.SetAdsEnabled(s, enabled)
			if err := rt.save(c.Context, s); err != nil {
				return err
			}
			return rt.outputStatus(c.Context, s, 0)
		}),
	}
}

// frequencyCmd creates the frequency command.
func frequencyCmd() *cli.Command {
	return &cli.Command{
		Name:      "frequency",
		Usage:     "Set the ads-per-day preference",
		ArgsUsage: "<ads-per-day>",
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if c.NArg() != 1 {
				return fmt.Errorf("frequency needs exactly one value")
			}
			freq, err := strconv.ParseFloat(c.Args().First(), 64)
			if err != nil || freq < 0 {
				return fmt.Errorf("invalid frequency %q", c.Args().First())
			}

			s, err := rt.begin(c.Context)
			if err != nil {
				return err
			}
			s = rt.engine.ChangeAdFrequency(s, freq)
			if err := rt.save(c.Context, s); err != nil {
				return err
			}
			return rt.outputStatus(c.Context, s, 0)
		}),
	}
}

// resetCmd creates the reset command.
func resetCmd() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Remove all browsing history (the anonymous identity is kept)",
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			s, err := rt.begin(c.Context)
			if err != nil {
				return err
			}
			s = rt.engine.RemoveAllHistory(s)
			if err := rt.save(c.Context, s); err != nil {
				return err
			}
			return rt.outputStatus(c.Context, s, 0)
		}),
	}
}

// statusCmd creates the status command.
func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the profile state and recent events",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "events", Aliases: []string{"n"}, Value: 10, Usage: "Number of recent events to show"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			s, err := rt.begin(c.Context)
			if err != nil {
				return err
			}
			return rt.outputStatus(c.Context, s, c.Int("events"))
		}),
	}
}

type statusOutput struct {
	Profile     string         `json:"profile"`
	Model       string         `json:"model"`
	AdsEnabled  bool           `json:"ads_enabled"`
	AdUUID      string         `json:"ad_uuid,omitempty"`
	AdFrequency float64        `json:"ad_frequency"`
	Pages       int            `json:"pages"`
	Winner      string         `json:"winner,omitempty"`
	Shopping    bool           `json:"shopping"`
	Search      bool           `json:"search"`
	LastAd      state.AdRecord `json:"last_ad"`
	NetworkID   string         `json:"network_id,omitempty"`
	Events      []events.Event `json:"events,omitempty"`
}

type decisionOutput struct {
	Decision    string    `json:"decision"`
	Serve       bool      `json:"serve"`
	Reason      string    `json:"reason,omitempty"`
	Winner      string    `json:"winner,omitempty"`
	Category    string    `json:"category,omitempty"`
	CandidateID string    `json:"candidate_id,omitempty"`
	At          time.Time `json:"at"`
}

type replayOutput struct {
	Visits    int              `json:"visits"`
	Decisions []decisionOutput `json:"decisions,omitempty"`
	Status    statusOutput     `json:"status"`
}

func newDecisionOutput(d gate.Decision, at time.Time) decisionOutput {
	out := decisionOutput{
		Decision: d.String(),
		Serve:    d.Serve,
		Winner:   d.Winner,
		Category: d.Category,
		At:       at,
	}
	if !d.Serve {
		out.Reason = string(d.Reason)
	} else {
		out.CandidateID = d.Candidate.ID
	}
	return out
}

func (rt *runtime) status(ctx context.Context, s state.Snapshot, recent int) statusOutput {
	out := statusOutput{
		Profile:     rt.profile,
		Model:       rt.engine.Readiness().String(),
		AdsEnabled:  s.AdsEnabled,
		AdUUID:      s.AdUUID,
		AdFrequency: s.AdFrequency,
		Pages:       len(s.PageScores),
		Shopping:    s.Intent.Shopping.Active,
		Search:      s.Intent.Search.Active,
		LastAd:      s.AdHistory,
		NetworkID:   s.NetworkID,
	}
	if b, ready := rt.engine.Handle().Bundle(); ready == model.Ready {
		out.Winner, _ = history.Winner(s.PageScores, b.Model.Names, rt.comp.Policy)
	}
	if recent > 0 {
		evs, err := rt.store.RecentEvents(ctx, recent)
		if err != nil {
			rt.logger.Warn("recent events", "error", err)
		}
		out.Events = evs
	}
	return out
}

func (rt *runtime) outputStatus(ctx context.Context, s state.Snapshot, recent int) error {
	return outputJSON(rt.out, rt.status(ctx, s, recent))
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
