// Package config holds the tunable parameters of the overlay managers and
// loads them from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full toolkit configuration, one section per manager.
type Config struct {
	Positioning  Positioning  `toml:"positioning"`
	Portal       Portal       `toml:"portal"`
	Backdrop     Backdrop     `toml:"backdrop"`
	ClickOutside ClickOutside `toml:"click_outside"`
	Dropdown     Dropdown     `toml:"dropdown"`
	Modal        Modal        `toml:"modal"`
}

// Positioning configures the placement engine.
type Positioning struct {
	// EdgePadding is kept between a constrained panel and the boundary.
	EdgePadding float64 `toml:"edge_padding"`
	// MinWidth is the floor a constrained panel's width never shrinks below.
	MinWidth float64 `toml:"min_width"`
	// Buffer is subtracted from every direction's space when picking an
	// optimal placement.
	Buffer float64 `toml:"buffer"`
	// DefaultOffset is the gap between trigger and panel.
	DefaultOffset float64 `toml:"default_offset"`
}

// Portal configures the portal layer.
type Portal struct {
	RootID     string   `toml:"root_id"`
	BaseZIndex int      `toml:"base_z_index"`
	Increment  int      `toml:"z_index_increment"`
	Timeout    Duration `toml:"timeout"`
}

// Backdrop configures dimming backdrops.
type Backdrop struct {
	OpacityBase float64 `toml:"opacity_base"`
	OpacityStep float64 `toml:"opacity_step"`
	OpacityMax  float64 `toml:"opacity_max"`
	// DurationVariable names the CSS custom property the removal animation
	// duration is read from.
	DurationVariable string   `toml:"duration_variable"`
	FallbackDuration Duration `toml:"fallback_duration"`
}

// ClickOutside configures outside-click detection.
type ClickOutside struct {
	// ErrorCeiling is the number of evaluation errors tolerated before the
	// manager disables itself.
	ErrorCeiling int `toml:"error_ceiling"`
	// IDPatterns are fmt patterns (one %s for the tracked id) naming
	// elements that count as inside a tracked element.
	IDPatterns []string `toml:"id_patterns"`
}

// Dropdown configures the dropdown orchestrator.
type Dropdown struct {
	RepositionDebounce Duration `toml:"reposition_debounce"`
	// TriggerMinWidth and TriggerJitter drive the trigger stability
	// heuristic: a width collapsing below the floor, or an edge moving by
	// at most the jitter with an unchanged width, keeps the last good rect.
	TriggerMinWidth float64 `toml:"trigger_min_width"`
	TriggerJitter   float64 `toml:"trigger_jitter"`
	// Coexistence maps a component type to the types it closes on open.
	Coexistence map[string][]string `toml:"coexistence"`
}

// Modal configures the modal stack.
type Modal struct {
	BaseZIndex      int    `toml:"base_z_index"`
	Increment       int    `toml:"z_index_increment"`
	ScrollLockClass string `toml:"scroll_lock_class"`
}

// Default returns the configuration every manager uses when no file is given.
func Default() Config {
	exclusive := []string{"choice", "filter", "autosuggest", "datepicker"}
	return Config{
		Positioning: Positioning{
			EdgePadding:   16,
			MinWidth:      120,
			Buffer:        8,
			DefaultOffset: 4,
		},
		Portal: Portal{
			RootID:     "portal-root",
			BaseZIndex: 1000,
			Increment:  10,
			Timeout:    Duration(2000 * time.Millisecond),
		},
		Backdrop: Backdrop{
			OpacityBase:      0.5,
			OpacityStep:      0.1,
			OpacityMax:       0.9,
			DurationVariable: "--overlay-backdrop-duration",
			FallbackDuration: Duration(200 * time.Millisecond),
		},
		ClickOutside: ClickOutside{
			ErrorCeiling: 10,
			IDPatterns:   []string{"choice-%s", "filter-%s", "autosuggest-%s", "datepicker-%s"},
		},
		Dropdown: Dropdown{
			RepositionDebounce: Duration(10 * time.Millisecond),
			TriggerMinWidth:    48,
			TriggerJitter:      1,
			Coexistence: map[string][]string{
				"choice":      exclusive,
				"filter":      exclusive,
				"autosuggest": exclusive,
				"datepicker":  exclusive,
				"tooltip":     {},
			},
		},
		Modal: Modal{
			BaseZIndex:      1050,
			Increment:       10,
			ScrollLockClass: "overlay-scroll-locked",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
// Keys the file sets that no option recognizes are reported as errors.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults.
func Parse(text string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, err
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func checkUndecoded(md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Validate reports every out-of-range option at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Positioning.EdgePadding >= 0, "positioning.edge_padding must not be negative")
	check(c.Positioning.MinWidth >= 0, "positioning.min_width must not be negative")
	check(c.Positioning.Buffer >= 0, "positioning.buffer must not be negative")

	check(c.Portal.RootID != "", "portal.root_id must be set")
	check(c.Portal.Increment > 0, "portal.z_index_increment must be positive, got %d", c.Portal.Increment)
	check(c.Portal.Timeout > 0, "portal.timeout must be positive")

	check(c.Backdrop.OpacityMax >= c.Backdrop.OpacityBase, "backdrop.opacity_max must be at least opacity_base")
	check(c.Backdrop.FallbackDuration >= 0, "backdrop.fallback_duration must not be negative")

	check(c.ClickOutside.ErrorCeiling > 0, "click_outside.error_ceiling must be positive")
	for _, p := range c.ClickOutside.IDPatterns {
		check(strings.Count(p, "%s") == 1, "click_outside.id_patterns entry %q must contain exactly one %%s", p)
	}

	check(c.Dropdown.RepositionDebounce >= 0, "dropdown.reposition_debounce must not be negative")
	check(c.Dropdown.TriggerJitter >= 0, "dropdown.trigger_jitter must not be negative")

	check(c.Modal.Increment > 0, "modal.z_index_increment must be positive, got %d", c.Modal.Increment)
	check(c.Modal.ScrollLockClass != "" && !strings.ContainsAny(c.Modal.ScrollLockClass, " \t\n"),
		"modal.scroll_lock_class must be a single class name")

	return errors.Join(errs...)
}

// Opacity returns the backdrop opacity for a stacking level.
func (b Backdrop) Opacity(level int) float64 {
	return min(b.OpacityBase+float64(level)*b.OpacityStep, b.OpacityMax)
}

// Closes reports the component types that opening componentType closes.
func (d Dropdown) Closes(componentType string) []string {
	return d.Coexistence[componentType]
}
