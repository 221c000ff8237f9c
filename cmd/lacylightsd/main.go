// Command lacylightsd is the Art-Net/DMX512 universe routing daemon: it
// wires the reactor event loop, the universe merge engine, the device
// registry, an Art-Net node, and an HTTP/websocket RPC surface into one
// running process. Flags and signal handling follow
// olad's CLI (original_source/olad/main_test.cpp): -f/--no-daemon,
// -d/--debug <0-4>, -s/--no-syslog, -h/--help.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lacylights/lacylightsd/internal/artnetnode"
	"github.com/lacylights/lacylightsd/internal/config"
	"github.com/lacylights/lacylightsd/internal/database"
	"github.com/lacylights/lacylightsd/internal/dmxbuf"
	"github.com/lacylights/lacylightsd/internal/httpapi"
	"github.com/lacylights/lacylightsd/internal/prefsstore"
	"github.com/lacylights/lacylightsd/internal/pubsub"
	"github.com/lacylights/lacylightsd/internal/reactor"
	"github.com/lacylights/lacylightsd/internal/registry"
	"github.com/lacylights/lacylightsd/internal/service"
	"github.com/lacylights/lacylightsd/internal/transport/usbpro"
	"github.com/lacylights/lacylightsd/internal/universe"
)

func main() {
	cmd := &cli.Command{
		Name:  "lacylightsd",
		Usage: "Art-Net/DMX512 universe routing daemon",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "no-daemon",
				Aliases: []string{"f"},
				Usage:   "don't fork into the background (this build never forks; accepted for CLI compatibility)",
			},
			&cli.IntFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Value:   2,
				Usage:   "debug level 0 (none) .. 4 (verbose)",
			},
			&cli.BoolFlag{
				Name:    "no-syslog",
				Aliases: []string{"s"},
				Usage:   "log to stderr rather than syslog (syslog is never used by this build)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "/etc/lacylightsd/lacylightsd.conf",
				Usage:   "static TOML config file (Art-Net interface selection, startup port patches)",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("lacylightsd: %v", err)
	}
}

// debugLevel is shared between the SIGUSR1 handler and whatever eventually
// consults it for log verbosity; an atomic avoids the race the original's
// own comment flags ("need to fix race conditions here").
var debugLevel atomic.Int32

func run(ctx context.Context, cmd *cli.Command) error {
	debugLevel.Store(int32(cmd.Int("debug")))

	if err := godotenv.Load(); err != nil {
		log.Printf("lacylightsd: no .env file found, using process environment")
	}

	cfg := config.Load()
	staticCfg, err := config.LoadStatic(cmd.String("config"))
	if err != nil {
		return err
	}

	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 2,
		MaxOpenConn: 10,
		Debug:       cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("lacylightsd: database connect: %w", err)
	}
	defer database.Close()

	prefs := prefsstore.NewStorePreferences(db)
	if err := prefs.Migrate(); err != nil {
		return fmt.Errorf("lacylightsd: preferences migrate: %w", err)
	}

	ps := pubsub.New()
	notifier := pubsub.NewDMXNotifier(ps)

	store := universe.NewStore(func(id universe.ID) *universe.Universe {
		return universe.New(id,
			universe.WithMaxMergeSources(cfg.UniverseMaxMergeSources),
			universe.WithMergeTimeout(cfg.UniverseMergeTimeout),
			universe.WithNotifier(notifier),
		)
	})

	reg := registry.New(prefs, store)

	react, err := reactor.New()
	if err != nil {
		return fmt.Errorf("lacylightsd: reactor: %w", err)
	}
	defer react.Close()

	var node *artnetnode.Node
	if cfg.ArtNetEnabled {
		node, err = setupArtNet(cfg, staticCfg, react, store)
		if err != nil {
			return fmt.Errorf("lacylightsd: artnet: %w", err)
		}
	}

	setupUSBProDevices(cfg, reg, store)

	applyStartupPatches(reg, staticCfg)

	svc := service.New(store, ps)
	router := httpapi.NewRouter(svc, ps, httpapi.Config{
		CORSOrigin: cfg.CORSOrigin,
		Debug:      cfg.IsDevelopment(),
	})
	httpServer := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}

	react.RegisterTimer(cfg.SourceExpiryTick, true, func() bool {
		for _, u := range store.All() {
			u.SourceExpiryTick()
		}
		store.GarbageCollect()
		return true
	})
	if node != nil {
		react.RegisterTimer(artnetnode.DefaultPollInterval, true, func() bool {
			if err := node.SendPoll(); err != nil {
				log.Printf("lacylightsd: artnet poll: %v", err)
			}
			node.ExpireSubscribers()
			return true
		})
		react.RegisterTimer(cfg.RDMRequestTimeout, true, func() bool {
			node.RDMTick()
			return true
		})
		react.RegisterTimer(cfg.RDMTodTimeout, true, func() bool {
			node.DiscoveryTick()
			return true
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go handleSignals(cancel)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return react.Run(gctx) })
	g.Go(func() error { return serveHTTP(gctx, httpServer) })

	log.Printf("lacylightsd: listening on :%s (debug level %d)", cfg.HTTPPort, debugLevel.Load())
	return g.Wait()
}

// setupArtNet opens the node's UDP socket, registers it with the reactor,
// and enables one input port (universe 0.0) and one output port (universe
// 0.0), matching the single default patch a fresh daemon starts with.
func setupArtNet(cfg *config.Config, staticCfg *config.StaticConfig, react *reactor.Reactor, store *universe.Store) (*artnetnode.Node, error) {
	localIP, broadcastIP, err := resolveArtNetAddrs(cfg, staticCfg)
	if err != nil {
		return nil, err
	}

	sender, err := artnetnode.NewUDPSender(cfg.ArtNetPort, broadcastIP)
	if err != nil {
		return nil, err
	}

	node := artnetnode.New(artnetnode.Config{
		NetAddress:         0,
		ShortName:          "lacylightsd",
		LongName:           "lacylightsd Art-Net routing daemon",
		LocalIP:            localIP,
		BroadcastThreshold: 30,
		RDMRequestTimeout:  cfg.RDMRequestTimeout,
		RDMTodTimeout:      cfg.RDMTodTimeout,
		RDMMissedTodLimit:  uint8(cfg.RDMMissedTodDataLimit),
	}, sender)

	// Default patch: Art-Net universe 0.0 out one InputPort (sends merged
	// DMX onto the network) and in one OutputPort (feeds received DMX into
	// the same universe, one merge source per sending node). Registry ports
	// are patched by applyStartupPatches or from persisted settings.
	in := node.InputPort(0)
	in.Enabled = true
	in.Net = 0
	in.UniverseAddress = 0

	defaultUniverse := store.GetOrCreate(universe.ID{Net: 0, Num: 0})
	defaultUniverse.AddOutputPort("artnet-in-0", artnetOutputSink{node: node, idx: 0})

	out := node.OutputPort(0)
	out.Enabled = true
	out.Net = 0
	out.UniverseAddress = 0
	out.OnData = func(sourceAddr string, data dmxbuf.Buffer) {
		store.GetOrCreate(universe.ID{Net: 0, Num: 0}).PortDataChanged(sourceAddr, data)
	}

	if err := react.RegisterReader(sender.Fd(), func() {
		buf := make([]byte, 1024)
		n, srcIP, err := sender.Recv(buf)
		if err != nil {
			return
		}
		if err := node.HandlePacket(buf[:n], srcIP); err != nil {
			log.Printf("lacylightsd: artnet: %v", err)
		}
	}); err != nil {
		return nil, err
	}

	return node, nil
}

// artnetOutputSink adapts one of a Node's InputPorts (wire-perspective:
// sends DMX out onto the network) to universe.OutputPort, so a universe's
// merge result reaches the Art-Net node through the same AddOutputPort
// fan-out every other output port uses.
type artnetOutputSink struct {
	node *artnetnode.Node
	idx  int
}

func (s artnetOutputSink) WriteDMX(data dmxbuf.Buffer) {
	if err := s.node.SendDMX(s.idx, data.Get()); err != nil {
		log.Printf("lacylightsd: artnet send: %v", err)
	}
}

// resolveArtNetAddrs picks the Art-Net node's local IP and broadcast
// address: an explicit override wins, otherwise the named interface (or
// the first usable non-loopback one) supplies both.
func resolveArtNetAddrs(cfg *config.Config, staticCfg *config.StaticConfig) (local, broadcast net.IP, err error) {
	ifaceName := cfg.ArtNetInterface
	if ifaceName == "" {
		ifaceName = staticCfg.ArtNet.Interface
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}

	for _, iface := range ifaces {
		if ifaceName != "" && iface.Name != ifaceName {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			local = ipNet.IP.To4()
			bcast := make(net.IP, 4)
			for i := range bcast {
				bcast[i] = local[i] | ^ipNet.Mask[i]
			}
			broadcast = bcast
			break
		}
		if local != nil {
			break
		}
	}

	if local == nil {
		return nil, nil, fmt.Errorf("no usable non-loopback IPv4 interface found (want %q)", ifaceName)
	}

	override := cfg.ArtNetBroadcast
	if override == "" {
		override = staticCfg.ArtNet.Broadcast
	}
	if override != "" {
		broadcast = net.ParseIP(override)
	}

	return local, broadcast, nil
}

// setupUSBProDevices opens one usbpro.Device per configured serial path and
// registers it with reg. Registration restores any patch persisted in the
// preferences store; ports with none start unpatched until
// applyStartupPatches assigns them to a universe.
func setupUSBProDevices(cfg *config.Config, reg *registry.PortRegistry, store *universe.Store) {
	for i, path := range cfg.USBProDevices {
		dev := usbpro.NewDevice(fmt.Sprintf("Enttec Usb Pro Device %d", i), path, [4]byte{})
		if err := reg.RegisterDevice(dev.RegistryDevice()); err != nil {
			log.Printf("lacylightsd: usbpro %s: %v", path, err)
			continue
		}
		dev.FeedInputPort(func(portID string, data dmxbuf.Buffer) {
			if dev.InputPort.UniverseID == nil {
				return
			}
			if u, ok := store.Get(*dev.InputPort.UniverseID); ok {
				u.PortDataChanged(portID, data)
			}
		})
		log.Printf("lacylightsd: usbpro device %q opened on %s", dev.RegistryDevice().UniqueID, path)
	}
}

// applyStartupPatches patches every port named in the static config's
// [[patch]] entries, by unique id, before any RPC client connects. A patch
// naming a port the daemon doesn't recognize yet (plugin not started, typo)
// is logged and skipped rather than treated as fatal.
func applyStartupPatches(reg *registry.PortRegistry, staticCfg *config.StaticConfig) {
	if len(staticCfg.Patches) == 0 {
		return
	}

	ports := make(map[string]*registry.Port)
	for _, d := range reg.Devices() {
		for _, p := range d.Ports {
			ports[p.UniqueID] = p
		}
	}

	for _, patch := range staticCfg.Patches {
		p, ok := ports[patch.Port]
		if !ok {
			log.Printf("lacylightsd: startup patch for unknown port %q skipped", patch.Port)
			continue
		}
		if err := reg.Patch(p, universe.ID{Net: patch.Net, Num: patch.Universe}); err != nil {
			log.Printf("lacylightsd: startup patch %q: %v", patch.Port, err)
			continue
		}
		if patch.Priority != 0 {
			if err := reg.SetPriority(p, patch.Priority); err != nil {
				log.Printf("lacylightsd: startup priority %q: %v", patch.Port, err)
			}
		}
	}
}

func serveHTTP(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleSignals installs SIGINT/SIGTERM/SIGHUP/SIGUSR1 handlers matching
// olad's: SIGINT/SIGTERM terminate cleanly, SIGHUP is logged and otherwise
// does nothing (the original's sig_hup is an empty handler - plugin reload
// was never implemented), SIGUSR1 bumps the debug level.
func handleSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			cancel()
			return
		case syscall.SIGHUP:
			log.Printf("lacylightsd: SIGHUP received (no-op)")
		case syscall.SIGUSR1:
			level := debugLevel.Add(1)
			log.Printf("lacylightsd: debug level now %d", level)
		}
	}
}
