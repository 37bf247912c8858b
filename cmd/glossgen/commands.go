package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/glosshq/glossgen/internal/catalog"
	"github.com/glosshq/glossgen/internal/config"
	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/engine"
	"github.com/glosshq/glossgen/internal/estimator"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/guard"
	"github.com/glosshq/glossgen/internal/intake"
	"github.com/glosshq/glossgen/internal/ledger"
	"github.com/glosshq/glossgen/internal/monitor"
	"github.com/glosshq/glossgen/internal/notify"
	"github.com/glosshq/glossgen/internal/queue"
	"github.com/glosshq/glossgen/internal/registry"
	"github.com/glosshq/glossgen/internal/scheduler"
	"github.com/glosshq/glossgen/web/api"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	// estimate command
	estimateCmd := &cobra.Command{
		Use:   "estimate FILE",
		Short: "Estimate the cost of a batch request without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runEstimate,
	}
	rootCmd.AddCommand(estimateCmd)

	// submit command
	submitCmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit a batch request file to the running server",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	rootCmd.AddCommand(submitCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show one operation",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// ops command
	opsCmd := &cobra.Command{
		Use:   "ops",
		Short: "List active operations",
		RunE:  runOps,
	}
	rootCmd.AddCommand(opsCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List finished operations, newest first",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of operations to show")
	rootCmd.AddCommand(historyCmd)

	// stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show system-wide counters",
		RunE:  runStats,
	}
	rootCmd.AddCommand(statsCmd)

	// lifecycle commands
	for _, action := range []string{"pause", "resume", "cancel"} {
		action := action
		rootCmd.AddCommand(&cobra.Command{
			Use:   action + " ID",
			Short: capitalize(action) + " an operation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLifecycle(action, args[0])
			},
		})
	}

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the batch engine and web API",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func apiURL(cfg *config.Config, path string) string {
	return fmt.Sprintf("http://%s:%d%s", cfg.Web.Host, cfg.Web.Port, path)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func postJSON(url string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := httpClient.Post(url, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := intake.ParseRequestFile(args[0])
	if err != nil {
		return err
	}

	cat, err := catalog.New(cfg.Storage.CatalogPath)
	if err != nil {
		return err
	}
	defer cat.Close()

	led, err := ledger.New(cfg.Storage.LedgerPath)
	if err != nil {
		return err
	}
	defer led.Close()

	est, err := estimator.New(cat, led, cfg.ModelRates()).Estimate(cmd.Context(), req)
	if err != nil {
		return err
	}

	fmt.Printf("Section:        %s\n", est.Section)
	fmt.Printf("Eligible terms: %d\n", est.EligibleTerms)
	fmt.Printf("Tokens/term:    %d\n", est.TokensPerTerm)
	fmt.Printf("Cost/term:      $%.4f\n", est.CostPerTerm)
	fmt.Printf("Total cost:     $%.2f (best $%.2f, worst $%.2f)\n", est.TotalCost, est.BestCase, est.WorstCase)
	for _, rec := range est.Recommendations {
		fmt.Printf("  note: %s\n", rec)
	}
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := intake.ParseRequestFile(args[0])
	if err != nil {
		return err
	}

	var resp api.SubmitResponse
	if err := postJSON(apiURL(cfg, "/api/operations"), req, &resp); err != nil {
		return err
	}

	fmt.Printf("Submitted operation %s (%d terms, estimated $%.2f)\n",
		resp.Operation.ID, resp.Estimate.EligibleTerms, resp.Estimate.TotalCost)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var op domain.BatchOperation
	if err := getJSON(apiURL(cfg, "/api/operations/"+args[0]), &op); err != nil {
		return err
	}

	fmt.Printf("Operation: %s\n", op.ID)
	fmt.Printf("Status:    %s\n", op.Status)
	fmt.Printf("Progress:  %d/%d processed, %d failed, %d skipped (%.1f%%)\n",
		op.Progress.ProcessedTerms, op.Progress.TotalTerms,
		op.Progress.FailedTerms, op.Progress.SkippedTerms, op.Progress.Percent)
	fmt.Printf("Batch:     %d/%d\n", op.Progress.CurrentBatch, op.Progress.TotalBatches)
	fmt.Printf("Cost:      $%.2f actual / $%.2f estimated\n", op.Costs.Actual, op.Costs.Estimated)
	if op.Timing.EstimatedCompletion != nil {
		fmt.Printf("ETA:       %s\n", op.Timing.EstimatedCompletion.Format(time.RFC3339))
	}
	if op.Result != nil {
		fmt.Printf("Result:    %s\n", op.Result.Message)
	}
	for _, te := range op.Errors {
		fmt.Printf("  failed %s: %s\n", te.TermID, te.Message)
	}
	return nil
}

func runOps(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var ops []*domain.BatchOperation
	if err := getJSON(apiURL(cfg, "/api/operations"), &ops); err != nil {
		return err
	}

	if len(ops) == 0 {
		fmt.Println("No active operations")
		return nil
	}
	printOperations(ops)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var ops []*domain.BatchOperation
	url := fmt.Sprintf("%s?limit=%d", apiURL(cfg, "/api/history"), historyLimit)
	if err := getJSON(url, &ops); err != nil {
		return err
	}

	if len(ops) == 0 {
		fmt.Println("No finished operations")
		return nil
	}
	printOperations(ops)
	return nil
}

func printOperations(ops []*domain.BatchOperation) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSECTION\tPROGRESS\tCOST")
	for _, op := range ops {
		section := ""
		if op.Request != nil {
			section = op.Request.Section
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t$%.2f\n",
			op.ID, op.Status, section,
			op.Progress.ProcessedTerms, op.Progress.TotalTerms, op.Costs.Actual)
	}
	w.Flush()
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var stats registry.SystemStats
	if err := getJSON(apiURL(cfg, "/api/stats"), &stats); err != nil {
		return err
	}

	fmt.Printf("Operations:      %d total, %d active\n", stats.Total, stats.Active)
	fmt.Printf("Finished:        %d completed, %d failed, %d cancelled\n",
		stats.Completed, stats.Failed, stats.Cancelled)
	fmt.Printf("Terms:           %d processed, %d failed\n", stats.TermsProcessed, stats.TermsFailed)
	fmt.Printf("Total cost:      $%.2f\n", stats.TotalCost)
	return nil
}

func runLifecycle(action, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var resp map[string]string
	if err := postJSON(apiURL(cfg, "/api/operations/"+id+"/"+action), nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Operation %s %s\n", id, resp["status"])
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cat, err := catalog.New(cfg.Storage.CatalogPath)
	if err != nil {
		return err
	}
	defer cat.Close()

	led, err := ledger.New(cfg.Storage.LedgerPath)
	if err != nil {
		return err
	}
	defer led.Close()

	q := queue.NewMemoryQueue(cfg.Engine.QueueWorkers)
	defer q.Close()
	q.RegisterHandler(cfg.Engine.TaskType, generationHandler(cat, cfg.ModelRates()))

	reg := registry.New(nil)
	bus := events.NewBus()
	est := estimator.New(cat, led, cfg.ModelRates())
	sched := scheduler.New(reg, q, led, cat, bus, nil, cfg.SchedulerConfig())
	mon := monitor.New(reg, bus, nil, cfg.MonitorOptions())

	eng := engine.New(engine.Deps{
		Guard:     guard.New(cfg.Limits, reg, est),
		Estimator: est,
		Registry:  reg,
		Scheduler: sched,
		Monitor:   mon,
		Queue:     q,
		Bus:       bus,
	})
	defer eng.Close()

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notifications.SlackWebhook != "" {
		notifier = notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)
	}
	stopBridge := notify.NewBridge(reg, notifier).Listen(bus)
	defer stopBridge()

	if cfg.Intake.Enabled {
		watcher, err := intake.NewWatcher(cfg.Intake.Dir, eng)
		if err != nil {
			return err
		}
		watcher.Start(cmd.Context())
		defer watcher.Stop()
		fmt.Printf("Watching %s for request files\n", cfg.Intake.Dir)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(eng, bus, addr)
	defer server.Stop()

	// Shut down cleanly on SIGINT/SIGTERM so deferred closers run
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Printf("glossgen listening on %s\n", addr)
	select {
	case <-ctx.Done():
		fmt.Println("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// generationHandler is the in-process stand-in for an external
// generation worker: it writes placeholder content for the term's
// section and prices the call from the configured rate table
func generationHandler(cat *catalog.Store, rates map[string]estimator.ModelRate) queue.Handler {
	return func(ctx context.Context, payload map[string]interface{}) (*queue.TaskResult, error) {
		termID, _ := payload["term_id"].(string)
		termName, _ := payload["term_name"].(string)
		section, _ := payload["section"].(string)
		model, _ := payload["model"].(string)

		content := fmt.Sprintf("%s: generated %s content", termName, section)
		if err := cat.UpsertSection(termID, section, content, true); err != nil {
			return nil, err
		}

		total := estimator.BaselineTokens(section)
		in := total * 3 / 10
		out := total - in
		rate := rates[model]
		cost := float64(in)*rate.InputPer1K/1000 + float64(out)*rate.OutputPer1K/1000
		return &queue.TaskResult{InputTokens: in, OutputTokens: out, Cost: cost, Content: content}, nil
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
