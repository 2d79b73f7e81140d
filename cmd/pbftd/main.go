// Command pbftd launches a full PBFT ensemble: n replicas and one
// client harness, each serving its wire endpoints over HTTP in the
// same process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/0xjeffro/pbftd/internal/config"
	"github.com/0xjeffro/pbftd/internal/pbft"
	"github.com/0xjeffro/pbftd/internal/transport"
	"github.com/0xjeffro/pbftd/internal/logging"
	"github.com/0xjeffro/pbftd/pkg/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagN int
	flagF int
)

var rootCmd = &cobra.Command{
	Use:   "pbftd",
	Short: "Launch a PBFT ensemble",
	Long:  "pbftd starts n replicas and a client harness implementing the three-phase PBFT agreement protocol, each bound to its own port in this process.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().IntVarP(&flagN, "n", "n", 0, "number of replicas (overrides PBFT_N)")
	rootCmd.Flags().IntVarP(&flagF, "f", "f", 0, "maximum tolerated faulty replicas (overrides PBFT_F)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cmd.Flags().Changed("n") {
		cfg.N = flagN
	}
	if cmd.Flags().Changed("f") {
		cfg.F = flagF
	}

	n, f := cfg.N, cfg.F
	if n < f {
		return fmt.Errorf("pbftd: n=%d is smaller than f=%d", n, f)
	}

	log := logging.Must(cfg.Logging.Level)
	defer log.Sync()

	peers := make(map[pbft.NodeID]string, n)
	for i := 0; i < n; i++ {
		peers[pbft.NodeID(i)] = cfg.ReplicaAddr(i)
	}
	clientID := uint32(0)
	clientAddrs := map[uint32]string{clientID: cfg.ClientAddr()}

	sender := transport.NewHTTPSender(cfg.Server.ReadTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	var servers []*http.Server
	var mu sync.Mutex

	// First f replicas by id are assigned faulty, mirroring the
	// ensemble's static fault-tolerance budget.
	for i := 0; i < n; i++ {
		id := pbft.NodeID(i)
		faulty := i < f
		m := metrics.New()
		replica := pbft.NewReplica(id, faulty, uint32(n), uint32(f), peers, clientAddrs, sender, log, m)
		router := transport.NewReplicaRouter(replica, log, cfg.RateLimit, m)

		srv := &http.Server{
			Addr:         peers[id],
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
		mu.Lock()
		servers = append(servers, srv)
		mu.Unlock()

		wg.Add(1)
		go func(id pbft.NodeID, faulty bool, srv *http.Server) {
			defer wg.Done()
			log.Info("replica listening", zap.Uint32("node_id", uint32(id)), zap.Bool("faulty", faulty), zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("replica server failed", zap.Uint32("node_id", uint32(id)), zap.Error(err))
			}
		}(id, faulty, srv)
	}

	cm := metrics.New()
	client := pbft.NewClient(clientID, uint32(f), peers, sender, log, cm)
	clientRouter := transport.NewClientRouter(client, log, cfg.RateLimit, cm)
	clientSrv := &http.Server{
		Addr:         cfg.ClientAddr(),
		Handler:      clientRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	mu.Lock()
	servers = append(servers, clientSrv)
	mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("client listening", zap.String("addr", clientSrv.Addr))
		if err := clientSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("client server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down ensemble")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	mu.Lock()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown error", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	mu.Unlock()

	wg.Wait()
	log.Info("ensemble exited")
	return nil
}
