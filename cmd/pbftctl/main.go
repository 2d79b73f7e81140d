// Command pbftctl is an operator tool for driving and inspecting a
// running PBFT ensemble from the client's HTTP front door.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/0xjeffro/pbftd/internal/pbft"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	flagClientAddr string
	flagOperation  string
	flagCount      int
	flagRPS        float64
	flagBurst      int
)

var rootCmd = &cobra.Command{
	Use:   "pbftctl",
	Short: "Operate a running PBFT ensemble",
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit one or more requests to the client's /req endpoint",
	RunE:  runSubmit,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the client's /healthz endpoint",
	RunE:  runHealth,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll the client's /status endpoint",
	RunE:  runStatus,
}

func init() {
	submitCmd.Flags().StringVar(&flagClientAddr, "client", "127.0.0.1:9000", "client address")
	submitCmd.Flags().StringVar(&flagOperation, "op", "noop", "operation string to submit")
	submitCmd.Flags().IntVar(&flagCount, "count", 1, "number of requests to submit")
	submitCmd.Flags().Float64Var(&flagRPS, "rps", 10, "maximum requests per second")
	submitCmd.Flags().IntVar(&flagBurst, "burst", 1, "burst size for the rate limiter")

	healthCmd.Flags().StringVar(&flagClientAddr, "client", "127.0.0.1:9000", "client address")
	statusCmd.Flags().StringVar(&flagClientAddr, "client", "127.0.0.1:9000", "client address")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limiter := rate.NewLimiter(rate.Limit(flagRPS), flagBurst)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	for i := 0; i < flagCount; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pbftctl: rate limiter: %w", err)
		}

		req := pbft.RequestMsg{
			Operation: flagOperation,
			Timestamp: uint64(time.Now().UnixNano()),
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("pbftctl: marshal request: %w", err)
		}

		url := "http://" + flagClientAddr + "/req"
		resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
		if err != nil {
			fmt.Fprintf(os.Stderr, "submit %d failed: %v\n", i, err)
			continue
		}
		resp.Body.Close()
		fmt.Printf("submit %d: %s\n", i, resp.Status)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	url := "http://" + flagClientAddr + "/healthz"
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("pbftctl: health check: %w", err)
	}
	defer resp.Body.Close()
	fmt.Println(resp.Status)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	url := "http://" + flagClientAddr + "/status"
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("pbftctl: status check: %w", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("pbftctl: read status body: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body.Bytes(), "", "  "); err != nil {
		fmt.Println(body.String())
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
