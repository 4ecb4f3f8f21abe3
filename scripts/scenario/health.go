package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"asset-rebalancer/internal/market"
	"asset-rebalancer/pkg/config"
	"asset-rebalancer/pkg/db"
	"asset-rebalancer/pkg/oracle"

	"github.com/spf13/cobra"
)

const (
	statusHealthy   = "HEALTHY"
	statusDegraded  = "DEGRADED"
	statusUnhealthy = "UNHEALTHY"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

var (
	healthJSON bool
	healthURL  string
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the database, the oracle and a running API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		url := healthURL
		if url == "" {
			url = fmt.Sprintf("http://localhost:%s/health", cfg.Port)
		}
		report := buildReport(
			checkDatabase(ctx, cfg.DBPath),
			checkOracle(ctx, cfg),
			checkAPIServer(ctx, url),
		)
		out := cmd.OutOrStdout()
		printReport(out, report)
		if healthJSON {
			data, _ := json.MarshalIndent(report, "", "  ")
			fmt.Fprintln(out, string(data))
		}
		if report.Overall == statusUnhealthy {
			return fmt.Errorf("overall status %s", report.Overall)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "also print the report as JSON")
	healthCmd.Flags().StringVar(&healthURL, "url", "", "health endpoint (default http://localhost:$PORT/health)")
	rootCmd.AddCommand(healthCmd)
}

func buildReport(services ...HealthStatus) HealthReport {
	report := HealthReport{Overall: statusHealthy, Services: services}
	for _, svc := range services {
		if svc.Status == statusUnhealthy {
			report.Overall = statusUnhealthy
			break
		} else if svc.Status == statusDegraded {
			report.Overall = statusDegraded
		}
	}
	return report
}

func printReport(out io.Writer, report HealthReport) {
	for _, svc := range report.Services {
		fmt.Fprintf(out, "%-10s %-10s %s\n", svc.Service, svc.Status, svc.Message)
	}
	fmt.Fprintf(out, "overall    %s\n", report.Overall)
}

func checkDatabase(ctx context.Context, path string) HealthStatus {
	status := HealthStatus{Service: "database", Status: statusHealthy, Timestamp: time.Now()}
	database, err := db.New(path)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("open failed: %v", err)
		return status
	}
	defer database.Close()

	if err := database.Ping(ctx); err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("ping failed: %v", err)
		return status
	}
	status.Message = path
	return status
}

// checkOracle reads every configured feed and applies the price policy.
func checkOracle(ctx context.Context, cfg *config.Config) HealthStatus {
	status := HealthStatus{Service: "oracle", Status: statusHealthy, Timestamp: time.Now()}
	if cfg.OracleSource != "hermes" {
		status.Message = cfg.OracleSource + " prices, nothing to reach"
		return status
	}
	markets, err := config.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = err.Error()
		return status
	}
	policy := oracle.Policy{MaxAge: cfg.OracleMaxAge, MaxConfBps: cfg.OracleMaxConfBp, ClockSkew: 5 * time.Second}
	client := oracle.NewHermesClient(cfg.HermesURL)
	for _, a := range markets.Assets {
		q, err := client.ReadPrice(ctx, a.Feed)
		if err != nil {
			status.Status = statusUnhealthy
			status.Message = fmt.Sprintf("%s: %v", a.Symbol, err)
			return status
		}
		if err := policy.Check(q, time.Now()); err != nil {
			status.Status = statusDegraded
			status.Message = fmt.Sprintf("%s: %v", a.Symbol, err)
			return status
		}
		status.Message += fmt.Sprintf("%s=%s ", a.Symbol, market.DisplayPrice(q))
	}
	return status
}

func checkAPIServer(ctx context.Context, url string) HealthStatus {
	status := HealthStatus{Service: "api", Status: statusHealthy, Timestamp: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = err.Error()
		return status
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("not responding: %v", err)
		return status
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	switch {
	case resp.StatusCode == http.StatusOK:
		status.Message = url
	case body.Status == "degraded":
		status.Status = statusDegraded
		status.Message = fmt.Sprintf("status %d", resp.StatusCode)
	default:
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return status
}
