package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"

	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/js"
	"github.com/chrisuehlinger/overlaykit/network"
	"github.com/chrisuehlinger/overlaykit/overlay"
	"github.com/chrisuehlinger/overlaykit/placement"
	"github.com/chrisuehlinger/overlaykit/ui"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigPath string
	Debug      bool
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "overlaykit",
		Short: "Overlay positioning and stacking toolkit",
		Long: `overlaykit places floating panels against their triggers and manages the
portals, backdrops, dropdowns and modals of a document.`,
		Example: `  # Place a 200x150 panel below a trigger
  overlaykit place --trigger 100,100,200,40 --size 200,150

  # Run a script against a page and print the overlay state
  overlaykit run page.html script.js

  # Open a window showing the page
  overlaykit preview page.html script.js`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if g.Debug {
				level = slog.LevelDebug
			}
			g.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(g.logger)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.ConfigPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&g.Debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(placeCmd(&g), optimalCmd(&g), runCmd(&g), previewCmd(&g))
	return rootCmd
}

func (g *globalFlags) config() (config.Config, error) {
	if g.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.Load(g.ConfigPath)
}

// geometryFlags describe a trigger, a panel and the space around them.
type geometryFlags struct {
	Trigger   string
	Size      string
	Viewport  string
	Container string
	MinHeight float64
}

func (f *geometryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Trigger, "trigger", "", "trigger rectangle as x,y,width,height")
	cmd.Flags().StringVar(&f.Size, "size", "", "panel size as width,height")
	cmd.Flags().StringVar(&f.Viewport, "viewport", "1280,800", "viewport size as width,height")
	cmd.Flags().StringVar(&f.Container, "container", "", "boundary rectangle replacing the viewport, as x,y,width,height")
	cmd.Flags().Float64Var(&f.MinHeight, "min-height", 0, "smallest height the panel may shrink to")
	_ = cmd.MarkFlagRequired("trigger")
	_ = cmd.MarkFlagRequired("size")
}

type geometry struct {
	trigger   dom.DOMRect
	size      placement.Size
	viewport  dom.DOMRect
	container *dom.DOMRect
}

func (f *geometryFlags) parse() (geometry, error) {
	var g geometry
	t, err := parseNumbers("trigger", f.Trigger, 4)
	if err != nil {
		return g, err
	}
	s, err := parseNumbers("size", f.Size, 2)
	if err != nil {
		return g, err
	}
	vp, err := parseNumbers("viewport", f.Viewport, 2)
	if err != nil {
		return g, err
	}
	g.trigger = dom.NewDOMRect(t[0], t[1], t[2], t[3])
	g.size = placement.Size{Width: s[0], Height: s[1]}
	g.viewport = dom.NewDOMRect(0, 0, vp[0], vp[1])
	if f.Container != "" {
		c, err := parseNumbers("container", f.Container, 4)
		if err != nil {
			return g, err
		}
		r := dom.NewDOMRect(c[0], c[1], c[2], c[3])
		g.container = &r
	}
	return g, nil
}

// parseNumbers splits a comma separated list of exactly n numbers.
func parseNumbers(name, value string, n int) ([]float64, error) {
	parts := strings.Split(value, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("--%s: want %d comma separated numbers, got %q", name, n, value)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		out[i] = v
	}
	return out, nil
}

// placeResult is the JSON form of a placement result.
type placeResult struct {
	X           float64             `json:"x"`
	Y           float64             `json:"y"`
	Width       float64             `json:"width"`
	Height      float64             `json:"height"`
	Placement   placement.Placement `json:"placement"`
	Flipped     bool                `json:"flipped"`
	Constrained bool                `json:"constrained"`
}

func placeCmd(g *globalFlags) *cobra.Command {
	var (
		geo       geometryFlags
		position  string
		offset    float64
		flip      bool
		constrain bool
		padding   float64
	)
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Compute where a panel goes relative to its trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			in, err := geo.parse()
			if err != nil {
				return err
			}
			engine := placement.NewEngine(cfg.Positioning)

			var pos placement.Placement
			if position == "auto" {
				pos = engine.DetectOptimal(in.trigger, in.size, in.viewport, in.container, geo.MinHeight)
			} else if pos, err = placement.ParsePlacement(position); err != nil {
				return err
			}

			opts := engine.Options(pos, in.viewport)
			opts.Container = in.container
			opts.MinHeight = geo.MinHeight
			opts.Flip = flip
			opts.Constrain = constrain
			if cmd.Flags().Changed("offset") {
				opts.Offset = offset
			}
			if cmd.Flags().Changed("edge-padding") {
				opts.EdgePadding = padding
			}

			res := engine.Calculate(in.trigger, in.size, opts)
			g.logger.Debug("placed panel", "requested", pos, "placement", res.Placement, "flipped", res.Flipped)
			return writeJSON(cmd.OutOrStdout(), placeResult{
				X: res.X, Y: res.Y, Width: res.Width, Height: res.Height,
				Placement: res.Placement, Flipped: res.Flipped, Constrained: res.Constrained,
			})
		},
	}
	geo.register(cmd)
	cmd.Flags().StringVarP(&position, "position", "p", "bottom-start", "requested placement, or auto")
	cmd.Flags().Float64Var(&offset, "offset", 0, "gap between trigger and panel (default from config)")
	cmd.Flags().BoolVar(&flip, "flip", true, "flip to the opposite side when that overflows less")
	cmd.Flags().BoolVar(&constrain, "constrain", true, "keep the panel inside the boundary")
	cmd.Flags().Float64Var(&padding, "edge-padding", 0, "space kept from the boundary (default from config)")
	return cmd
}

func optimalCmd(g *globalFlags) *cobra.Command {
	var geo geometryFlags
	cmd := &cobra.Command{
		Use:   "optimal",
		Short: "Print the placement with the most room for a panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			in, err := geo.parse()
			if err != nil {
				return err
			}
			p := placement.NewEngine(cfg.Positioning).DetectOptimal(in.trigger, in.size, in.viewport, in.container, geo.MinHeight)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
			return err
		},
	}
	geo.register(cmd)
	return cmd
}

// session is a loaded page with a toolkit and script runtime bound to it.
type session struct {
	tk *overlay.Toolkit
	rt *js.Runtime
	// fetchErrs holds scripts the page referenced but that could not be
	// loaded.
	fetchErrs []error
}

// openSession loads the page, runs its own scripts in document order and
// then the extra script, when given. Pages and scripts may be paths or
// file, data or http(s) URLs.
func openSession(ctx context.Context, g *globalFlags, pageRef, scriptRef, viewport string) (*session, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	vp, err := parseNumbers("viewport", viewport, 2)
	if err != nil {
		return nil, err
	}
	client, err := network.NewClient()
	if err != nil {
		return nil, err
	}
	loader := network.NewLoader(client, g.logger.With("component", "network"))

	pageURL, err := network.Locate(pageRef)
	if err != nil {
		return nil, err
	}
	page, err := loader.LoadPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	page.Doc.Lock()
	page.Doc.SetViewport(vp[0], vp[1])
	page.Doc.Unlock()

	tk := overlay.New(page.Doc, cfg, overlay.WithLogger(g.logger))
	s := &session{tk: tk, rt: js.NewRuntime(tk, g.logger)}
	for _, script := range page.Scripts {
		if script.Err != nil {
			s.fetchErrs = append(s.fetchErrs, fmt.Errorf("loading %s: %w", script.Source, script.Err))
			continue
		}
		// Errors are recorded by the runtime; later scripts still run.
		_ = s.rt.ExecuteScript(script.Code, script.Source)
	}
	if scriptRef == "" {
		return s, nil
	}

	scriptURL, err := network.Locate(scriptRef)
	if err == nil {
		var res *network.Resource
		if res, err = loader.Load(ctx, scriptURL); err == nil {
			err = s.rt.ExecuteScript(string(res.Content), scriptRef)
		}
	}
	if err != nil {
		_ = s.close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *session) close(ctx context.Context) error {
	s.rt.Close()
	return s.tk.Dispose(ctx)
}

// failures returns fetch failures and script errors together.
func (s *session) failures() error {
	errs := append([]error{}, s.fetchErrs...)
	errs = append(errs, s.rt.Errors()...)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d error(s) while running the page: %w", len(errs), errors.Join(errs...))
}

func runCmd(g *globalFlags) *cobra.Command {
	var (
		viewport string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run page.html script.js",
		Short: "Run a script against a page and print the overlay state as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession(cmd.Context(), g, args[0], args[1], viewport)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, s.close(context.Background()))
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := s.rt.Wait(ctx); err != nil {
				g.logger.Warn("script still busy", "timeout", timeout, "error", err)
			}

			if err := writeJSON(cmd.OutOrStdout(), s.tk.Snapshot()); err != nil {
				return err
			}
			return s.failures()
		},
	}
	cmd.Flags().StringVar(&viewport, "viewport", "1280,800", "viewport size as width,height")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to let timers run")
	return cmd
}

func previewCmd(g *globalFlags) *cobra.Command {
	var viewport string
	cmd := &cobra.Command{
		Use:   "preview page.html [script.js]",
		Short: "Show a page and its overlays in a window",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			script := ""
			if len(args) == 2 {
				script = args[1]
			}
			s, err := openSession(cmd.Context(), g, args[0], script, viewport)
			if err != nil {
				return err
			}
			if err := s.failures(); err != nil {
				g.logger.Warn("page reported errors", "error", err)
			}
			ui.NewPreview(app.NewWithID("io.github.chrisuehlinger.overlaykit"), s.tk, s.rt, g.logger).Run()
			return s.close(context.Background())
		},
	}
	cmd.Flags().StringVar(&viewport, "viewport", "1280,800", "viewport size as width,height")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
