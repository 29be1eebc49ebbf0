package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/David-ssnd/rayz-endpoint/clock"
	"github.com/David-ssnd/rayz-endpoint/game"
	"github.com/David-ssnd/rayz-endpoint/nvs"
	"github.com/David-ssnd/rayz-endpoint/peers"
	"github.com/David-ssnd/rayz-endpoint/server"
)

// restartExitCode tells the process supervisor to start us again; a restart
// is the authoritative way to switch boot modes.
const restartExitCode = 3

func main() {
	var (
		listenAddr   string
		peerPort     int
		dataPath     string
		defaultsPath string
		roleName     string
		factoryReset bool
	)

	rootCmd := &cobra.Command{
		Use:   "rayz-endpoint",
		Short: "Laser-tag endpoint firmware core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listenAddr, peerPort, dataPath, defaultsPath, roleName, factoryReset)
		},
	}
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP/WebSocket listen address")
	rootCmd.Flags().IntVar(&peerPort, "peer-port", 17500, "peer bus UDP port")
	rootCmd.Flags().StringVar(&dataPath, "data", "data/rayz.db", "NVS database path")
	rootCmd.Flags().StringVar(&defaultsPath, "defaults", "", "optional YAML rules preset")
	rootCmd.Flags().StringVar(&roleName, "role", "weapon", "endpoint role (weapon|target)")
	rootCmd.Flags().BoolVar(&factoryReset, "factory-reset", false, "erase all NVS namespaces and exit")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(listenAddr string, peerPort int, dataPath, defaultsPath, roleName string, factoryReset bool) error {
	log.Printf("rayz-endpoint starting")

	// NVS: sqlite when available, RAM-only degraded mode otherwise.
	var store nvs.Store
	sqlStore, err := nvs.OpenSQLite(dataPath)
	if err != nil {
		log.Printf("NVS unavailable, running RAM-only: %v", err)
		store = nvs.NewMemStore()
	} else {
		defer sqlStore.Close()
		store = sqlStore
	}

	clk := clock.NewWall()
	reg := prometheus.NewRegistry()
	metrics := server.NewMetrics(reg)

	restart := func(reason string) {
		log.Printf("restarting: %s", reason)
		if sqlStore != nil {
			sqlStore.Close()
		}
		os.Exit(restartExitCode)
	}

	// Peer bus over the shared channel.
	transport, err := peers.NewUDPTransport(peerPort)
	if err != nil {
		return err
	}
	defer transport.Close()
	table := peers.NewTable()
	bus := peers.NewBus(transport, table, clk)

	netif := server.NewSimNetif(transport.LocalMAC())
	sup := server.NewSupervisor(store, netif, bus, metrics, restart)

	if factoryReset {
		return sup.FactoryReset()
	}

	mode := sup.BootMode()
	log.Printf("boot mode: %s", mode)

	if mode == server.ModeProvisioning {
		return runProvisioning(listenAddr, sup)
	}
	return runStation(listenAddr, store, defaultsPath, roleName, clk, bus, table, netif, sup, metrics, reg)
}

// runProvisioning serves the captive configuration form until credentials
// arrive; Provision restarts the process.
func runProvisioning(listenAddr string, sup *server.Supervisor) error {
	if err := sup.StartProvisioning(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewProvisioningMux(sup),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Printf("provisioning portal on %s (AP %s)", listenAddr, sup.APSSID())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runStation wires the full endpoint and supervises the long-lived tasks.
func runStation(listenAddr string, store nvs.Store, defaultsPath, roleName string, clk *clock.Wall, bus *peers.Bus, table *peers.Table, netif server.Netif, sup *server.Supervisor, metrics *server.Metrics, reg *prometheus.Registry) error {
	// Role from NVS wins over the flag; provisioning stores it there.
	role := game.Role(roleName)
	if v, ok, _ := store.GetStr(nvs.NSWifi, nvs.KeyRole); ok && v != "" {
		role = game.Role(v)
	}
	if role != game.RoleWeapon && role != game.RoleTarget {
		role = game.RoleWeapon
	}

	defaults := game.DefaultRules()
	if defaultsPath != "" {
		loaded, err := game.LoadDefaultRules(defaultsPath)
		if err != nil {
			log.Printf("rules preset ignored: %v", err)
		} else {
			defaults = loaded
		}
	}

	identity := game.LoadIdentity(store, role)
	engine := game.NewEngine(clk, store, identity, defaults)
	ws := server.NewWSServer(engine, clk, metrics)
	ws.SetRSSI(sup.RSSI)
	ws.SetOnFirstClient(ws.BroadcastStatus)
	// The photodiode driver delivers raw frames through this port; the
	// router installs itself as the handler.
	irRX := server.NewSimIRReceiver()
	router := server.NewRouter(engine, bus, table, ws, server.NopIR{}, irRX, clk, metrics)

	if err := bus.Init(netif.Channel(), false, true); err != nil {
		return err
	}
	if csv, ok, _ := store.GetStr(nvs.NSWifi, nvs.KeyPeers); ok && csv != "" {
		if bus.LoadPeersFromCSV(csv) {
			log.Printf("loaded %d persisted peers", bus.PeerCount())
		}
	}

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewStationMux(ws, sup, bus, table, store, netif, reg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(ctx) })
	g.Go(func() error { return sup.Run(ctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Printf("station mode, admin surface on %s (player %d, role %s)", listenAddr, identity.PlayerID, role)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Printf("shut down cleanly")
		return nil
	}
	return err
}
