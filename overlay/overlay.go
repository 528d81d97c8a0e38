// Package overlay builds the overlay managers for one document and tears
// them down together.
package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chrisuehlinger/overlaykit/backdrop"
	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/clickoutside"
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/dropdown"
	"github.com/chrisuehlinger/overlaykit/modal"
	"github.com/chrisuehlinger/overlaykit/placement"
	"github.com/chrisuehlinger/overlaykit/portal"
)

// Toolkit holds every manager bound to one document.
type Toolkit struct {
	Doc          *dom.Document
	Config       config.Config
	Bus          *bus.Bus
	Engine       *placement.Engine
	Portals      *portal.Manager
	Backdrops    *backdrop.Manager
	ClickOutside *clickoutside.Manager
	Modals       *modal.Manager
	Dropdowns    *dropdown.Manager

	logger   *slog.Logger
	disposed sync.Once
}

type options struct {
	logger      *slog.Logger
	portalOpts  []portal.Option
	busObserver bus.Handler
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger every manager uses.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPortalOptions passes options through to the portal manager.
func WithPortalOptions(opts ...portal.Option) Option {
	return func(o *options) { o.portalOpts = append(o.portalOpts, opts...) }
}

// WithObserver subscribes h to every notification before any manager
// is built.
func WithObserver(h bus.Handler) Option {
	return func(o *options) { o.busObserver = h }
}

// New builds the managers for doc in dependency order.
func New(doc *dom.Document, cfg config.Config, opts ...Option) *Toolkit {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	b := bus.New(logger.With("component", "bus"))
	if o.busObserver != nil {
		b.SubscribeAll(o.busObserver)
	}
	engine := placement.NewEngine(cfg.Positioning)
	portals := portal.New(doc, cfg.Portal, b, logger.With("component", "portal"), o.portalOpts...)
	backdrops := backdrop.New(doc, cfg.Backdrop, portals, b, logger.With("component", "backdrop"))
	clicks := clickoutside.New(doc, cfg.ClickOutside, b, logger.With("component", "clickoutside"))
	modals := modal.New(doc, cfg.Modal, portals, backdrops, b, logger.With("component", "modal"))
	dropdowns := dropdown.New(doc, cfg.Dropdown, engine, portals, clicks, b, logger.With("component", "dropdown"))

	return &Toolkit{
		Doc:          doc,
		Config:       cfg,
		Bus:          b,
		Engine:       engine,
		Portals:      portals,
		Backdrops:    backdrops,
		ClickOutside: clicks,
		Modals:       modals,
		Dropdowns:    dropdowns,
		logger:       logger,
	}
}

// Dispose closes every dropdown, force-unlocks the modal stack, removes
// all backdrops and portals and detaches the document listeners. Only the
// first call does anything.
func (t *Toolkit) Dispose(ctx context.Context) error {
	var err error
	t.disposed.Do(func() {
		err = t.dispose(ctx)
	})
	return err
}

func (t *Toolkit) dispose(ctx context.Context) error {
	var errs []error
	if err := t.Dropdowns.CloseAll(ctx); err != nil {
		errs = append(errs, err)
	}

	// Modals and click-outside tracking are independent once the
	// dropdowns are gone.
	var g errgroup.Group
	g.Go(func() error {
		t.Modals.Destroy()
		return nil
	})
	g.Go(func() error {
		t.ClickOutside.Destroy()
		return nil
	})
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	t.Dropdowns.Destroy()
	t.Backdrops.DestroyAll()
	t.Portals.DestroyAll()

	err := errors.Join(errs...)
	if err != nil {
		t.logger.Warn("overlay toolkit disposed with errors", "error", err)
	} else {
		t.logger.Debug("overlay toolkit disposed")
	}
	return err
}

// Click hit-tests (x, y) and dispatches a click on the element found.
func (t *Toolkit) Click(x, y float64) *dom.Element {
	target := t.Doc.ElementFromPoint(x, y)
	if target != nil {
		target.DispatchEvent(dom.NewMouseEvent("click", x, y))
	}
	return target
}

// PressKey dispatches keydown on the focused element, or the body.
func (t *Toolkit) PressKey(key string, shift bool) {
	t.Doc.Lock()
	target := t.Doc.ActiveElement()
	if target == nil {
		target = t.Doc.Body()
	}
	t.Doc.Unlock()
	if target == nil {
		t.Doc.DispatchEvent(nil, dom.NewKeyboardEvent("keydown", key, shift))
		return
	}
	target.DispatchEvent(dom.NewKeyboardEvent("keydown", key, shift))
}

// Resize changes the viewport and fires resize on the document.
func (t *Toolkit) Resize(width, height float64) {
	t.Doc.Lock()
	t.Doc.SetViewport(width, height)
	t.Doc.Unlock()
	t.Doc.DispatchEvent(nil, dom.NewEvent("resize"))
}

// Scroll scrolls the document by (dx, dy).
func (t *Toolkit) Scroll(dx, dy float64) {
	t.Doc.ScrollBy(dx, dy)
}
