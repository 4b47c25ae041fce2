// Package app assembles the dialer process from its parts.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sebas/dialer/internal/dialer/api"
	"github.com/sebas/dialer/internal/dialer/backend"
	"github.com/sebas/dialer/internal/dialer/campaign"
	"github.com/sebas/dialer/internal/dialer/channel"
	"github.com/sebas/dialer/internal/dialer/config"
	"github.com/sebas/dialer/internal/dialer/events"
	"github.com/sebas/dialer/internal/dialer/roster"
	"github.com/sebas/dialer/internal/dialer/session"
	"github.com/sebas/dialer/internal/dialer/sipline"
	"github.com/sebas/dialer/internal/dialer/store"
	"golang.org/x/sync/errgroup"
)

// Dialer is one operator's dialer process.
type Dialer struct {
	cfg *config.Config

	backend   *backend.Client
	ua        *sipline.UA
	device    *channel.Device
	session   *session.Manager
	campaigns *campaign.Controller
	store     *store.FileStore
	roster    *roster.Hub
	api       *api.Server

	broadcaster *events.Broadcaster
	publisher   events.Publisher
	nats        *nats.Conn
}

// New builds every component from cfg. Nothing is started.
func New(cfg *config.Config) (*Dialer, error) {
	cfg.ResolveAdvertise()
	d := &Dialer{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			d.release()
		}
	}()

	var err error
	d.backend, err = NewBackendClient(cfg)
	if err != nil {
		return nil, err
	}

	d.store, err = store.NewFileStore(cfg.StateDir, cfg.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("opening campaign store: %w", err)
	}

	builder := events.NewBuilder(cfg.NodeID).WithOperator(cfg.OperatorID)
	d.broadcaster = events.NewBroadcaster(256)
	sink := events.Publisher(events.NewLoggingPublisher(slog.Default()))
	if cfg.NATS.URL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.CredsFile = cfg.NATS.CredentialsFile
		natsCfg.Token = cfg.NATS.Token
		d.nats, err = events.Connect(natsCfg, "dialer-"+cfg.OperatorID)
		if err != nil {
			return nil, err
		}
		sink = events.NewNATSPublisher(d.nats, natsCfg.AsyncBufferSize)
		slog.Info("[App] Publishing events to NATS", "url", cfg.NATS.URL)
	}
	d.publisher = events.NewMultiPublisher(sink, d.broadcaster)

	d.ua, err = sipline.NewUA(sipline.Config{
		BindAddr:      cfg.SIP.BindAddr,
		AdvertiseAddr: cfg.SIP.AdvertiseAddr,
		Port:          cfg.SIP.Port,
		InternalURI:   cfg.SIP.InternalURI,
		ExternalURI:   cfg.SIP.ExternalURI,
		RTPPortMin:    cfg.SIP.RTPPortMin,
		RTPPortMax:    cfg.SIP.RTPPortMax,
	})
	if err != nil {
		return nil, err
	}

	d.device = channel.NewDevice(d.backend, d.ua.Factory())
	d.session = session.NewManager(session.Config{
		OperatorID:     cfg.OperatorID,
		SettleDelay:    cfg.Dialer.SettleDelay,
		CleanupTimeout: cfg.Dialer.CleanupTimeout,
		Events:         builder,
		Publisher:      d.publisher,
		Provider:       d.backend,
		Ready:          d.device.Ready,
	}, d.device.Channel(channel.KindInternal), d.device.Channel(channel.KindExternal))

	for _, kind := range channel.Kinds {
		ch := d.device.Channel(kind)
		ch.SetSink(d.session.HandleChannelEvent)
		d.ua.OnIncoming(kind, ch.Incoming)
	}

	d.campaigns = campaign.NewController(campaign.Config{
		OperatorID:       cfg.OperatorID,
		SkipLimit:        cfg.Dialer.SkipLimit,
		ProviderProfiles: cfg.Dialer.ProviderProfiles,
		Events:           builder,
		Publisher:        d.publisher,
		Ready:            d.device.Ready,
	}, d.store, d.backend, d.session)

	d.roster = roster.NewHub(func(conversationID string, participants []roster.Participant) {
		d.publisher.PublishAsync(builder.RosterChanged(conversationID, participants))
	})

	d.api = api.NewServer(cfg.API.ListenAddr, api.Deps{
		OperatorID: cfg.OperatorID,
		Calls:      d.session,
		Campaigns:  d.campaigns,
		Roster:     d.roster,
		Events:     d.broadcaster,
		Ready:      d.device.Ready,
	})

	ok = true
	return d, nil
}

// NewBackendClient creates the backend gRPC client from cfg.
func NewBackendClient(cfg *config.Config) (*backend.Client, error) {
	return backend.NewClient(backend.Config{
		Address:           cfg.Backend.Address,
		OperatorID:        cfg.OperatorID,
		CallTimeout:       cfg.Backend.CallTimeout,
		KeepaliveInterval: cfg.Backend.KeepaliveInterval,
		KeepaliveTimeout:  cfg.Backend.KeepaliveTimeout,
	})
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (d *Dialer) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var presence <-chan roster.PresenceEvent
	if d.nats != nil {
		var err error
		presence, err = events.SubscribePresence(gCtx, d.nats, "")
		if err != nil {
			d.release()
			return err
		}
	}

	g.Go(func() error {
		return ignoreCanceled(d.session.Run(gCtx))
	})
	g.Go(func() error {
		return d.ua.Serve(gCtx)
	})
	g.Go(func() error {
		return d.api.Run(gCtx)
	})
	if presence != nil {
		g.Go(func() error {
			return ignoreCanceled(d.roster.Run(gCtx, presence))
		})
	}

	g.Go(func() error {
		d.startup(gCtx)
		<-gCtx.Done()
		d.shutdown()
		return nil
	})

	slog.Info("[App] Dialer running",
		"operator", d.cfg.OperatorID,
		"sip", fmt.Sprintf("%s:%d", d.cfg.SIP.AdvertiseAddr, d.cfg.SIP.Port),
		"api", d.cfg.API.ListenAddr,
	)
	err := g.Wait()
	d.release()
	return err
}

// startup opens the device and cleans up any interrupted campaign. A
// failure here leaves the dialer up with calling disabled.
func (d *Dialer) startup(ctx context.Context) {
	if err := d.device.Open(ctx); err != nil {
		slog.Error("[App] Calling unavailable", "operator", d.cfg.OperatorID, "error", err)
	}
	if err := d.campaigns.Recover(ctx); err != nil {
		slog.Error("[App] Campaign recovery failed", "operator", d.cfg.OperatorID, "error", err)
	}
}

func (d *Dialer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("[App] Shutting down", "operator", d.cfg.OperatorID)
	if err := d.campaigns.Close(ctx); err != nil {
		slog.Warn("[App] Campaign close", "error", err)
	}
	if err := d.device.Close(ctx); err != nil {
		slog.Warn("[App] Device close", "error", err)
	}
}

// release frees connections. Safe on a partly built Dialer.
func (d *Dialer) release() {
	if d.ua != nil {
		d.ua.Close()
		d.ua = nil
	}
	if d.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = d.publisher.Flush(ctx)
		cancel()
		_ = d.publisher.Close()
		d.publisher = nil
	}
	if d.nats != nil {
		d.nats.Close()
		d.nats = nil
	}
	if d.backend != nil {
		_ = d.backend.Close()
		d.backend = nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RecoverCampaign stops and clears a campaign left active by a previous
// run, without starting the dialer.
func RecoverCampaign(ctx context.Context, cfg *config.Config) error {
	client, err := NewBackendClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := store.NewFileStore(cfg.StateDir, cfg.OperatorID)
	if err != nil {
		return fmt.Errorf("opening campaign store: %w", err)
	}
	ctrl := campaign.NewController(campaign.Config{
		OperatorID: cfg.OperatorID,
		Events:     events.NewBuilder(cfg.NodeID).WithOperator(cfg.OperatorID),
		Publisher:  events.NewLoggingPublisher(slog.Default()),
	}, st, client, nil)
	return ctrl.Recover(ctx)
}

// LoadCampaign returns the persisted campaign record, or nil when none.
func LoadCampaign(cfg *config.Config) (*store.Campaign, error) {
	st, err := store.NewFileStore(cfg.StateDir, cfg.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("opening campaign store: %w", err)
	}
	return st.Load()
}
