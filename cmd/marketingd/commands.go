package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/config"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
)

// --- tenant ---

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a tenant",
	Long: `Create a tenant, optionally with units.

Examples:
  marketingd tenant add "Acme Coffee" --plan starter
  marketingd tenant add "Acme" --id acme --unit beans --unit cafe`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		plan, _ := cmd.Flags().GetString("plan")
		unitNames, _ := cmd.Flags().GetStringSlice("unit")

		units := make([]map[string]string, 0, len(unitNames))
		for _, u := range unitNames {
			if u = strings.TrimSpace(u); u != "" {
				units = append(units, map[string]string{"name": u})
			}
		}
		req := map[string]any{"id": id, "name": args[0], "plan": plan, "units": units}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/tenants", req)
		if err != nil {
			return err
		}
		var tenant struct {
			ID    string `json:"id"`
			Plan  string `json:"plan"`
			Units []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"units"`
		}
		if err := decodeJSON(resp, &tenant); err != nil {
			return err
		}

		printSuccess("Created tenant %s (%s plan)", tenant.ID, tenant.Plan)
		for _, u := range tenant.Units {
			fmt.Fprintf(cmd.OutOrStdout(), "  unit %s  %s\n", u.ID, u.Name)
		}
		return nil
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/tenants")
		if err != nil {
			return err
		}
		var tenants []struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Plan  string `json:"plan"`
			Units []struct {
				Name string `json:"name"`
			} `json:"units"`
		}
		if err := decodeJSON(resp, &tenants); err != nil {
			return err
		}

		if len(tenants) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tenants.")
			return nil
		}
		for _, t := range tenants {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s %s", colorize(colorCyan, t.ID), t.Plan, t.Name)
			if len(t.Units) > 0 {
				names := make([]string, len(t.Units))
				for i, u := range t.Units {
					names[i] = u.Name
				}
				fmt.Fprintf(cmd.OutOrStdout(), " [%s]", strings.Join(names, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

func init() {
	tenantAddCmd.Flags().String("id", "", "tenant id (generated when empty)")
	tenantAddCmd.Flags().String("plan", "free", "billing plan: free, starter, pro or unlimited")
	tenantAddCmd.Flags().StringSlice("unit", nil, "unit name; repeat for several units")

	tenantCmd.AddCommand(tenantAddCmd)
	tenantCmd.AddCommand(tenantListCmd)
}

// --- orchestrate / learn ---

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate <tenant-id>",
	Short: "Run one orchestration cycle for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Planning for %s", args[0])
		resp, err := client.post(cmd.Context(), "/v1/tenants/"+url.PathEscape(args[0])+"/orchestrate", nil)
		if err != nil {
			return err
		}
		var out struct {
			Cycles []struct {
				UnitID     string `json:"unitId"`
				DecisionID string `json:"decisionId"`
				Degraded   bool   `json:"degraded"`
				Dispatched struct {
					Content       int `json:"content"`
					Optimizations int `json:"optimizations"`
					Experiments   int `json:"experiments"`
					Capped        int `json:"capped"`
				} `json:"dispatched"`
				Error string `json:"error"`
			} `json:"cycles"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, c := range out.Cycles {
			unit := c.UnitID
			if unit == "" {
				unit = "(tenant)"
			}
			if c.Error != "" {
				printError("%s: %s", unit, c.Error)
				continue
			}
			d := c.Dispatched
			fmt.Fprintf(w, "%s  decision %s: %d content, %d optimizations, %d experiments",
				colorize(colorBold, unit), c.DecisionID, d.Content, d.Optimizations, d.Experiments)
			if d.Capped > 0 {
				fmt.Fprintf(w, " (%d capped by quota)", d.Capped)
			}
			if c.Degraded {
				fmt.Fprint(w, colorize(colorYellow, " degraded"))
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

var learnCmd = &cobra.Command{
	Use:   "learn <tenant-id>",
	Short: "Run the learning loop for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/tenants/"+url.PathEscape(args[0])+"/learn", nil)
		if err != nil {
			return err
		}
		var report map[string]any
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage <tenant-id> [feature]",
	Short: "Show quota usage for a feature (default content)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		feature := "content"
		if len(args) == 2 {
			feature = args[1]
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/tenants/"+url.PathEscape(args[0])+"/usage/"+url.PathEscape(feature))
		if err != nil {
			return err
		}
		var v struct {
			Allowed   bool   `json:"allowed"`
			Remaining int    `json:"remaining"`
			Unlimited bool   `json:"unlimited"`
			Used      int    `json:"used"`
			Limit     int    `json:"limit"`
			Reason    string `json:"reason"`
		}
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		printStatus(w, "Feature", "%s", feature)
		printStatus(w, "Used", "%d", v.Used)
		if v.Unlimited {
			printStatus(w, "Limit", "unlimited")
		} else {
			printStatus(w, "Limit", "%d", v.Limit)
			printStatus(w, "Remaining", "%d", v.Remaining)
		}
		if !v.Allowed {
			printStatus(w, "Denied", "%s", v.Reason)
		}
		return nil
	},
}

// --- jobs ---

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process one batch of pending jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/jobs/drain", nil)
		if err != nil {
			return err
		}
		var report struct {
			Requeued  []any `json:"requeued"`
			Claimed   int   `json:"claimed"`
			Completed int   `json:"completed"`
			Failed    int   `json:"failed"`
			Skipped   int   `json:"skipped"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}
		printSuccess("Claimed %d: %d completed, %d failed, %d skipped, %d stale requeued",
			report.Claimed, report.Completed, report.Failed, report.Skipped, len(report.Requeued))
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and run queued jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list <tenant-id>",
	Short: "List a tenant's jobs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if status != "" {
			q.Set("status", status)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/tenants/"+url.PathEscape(args[0])+"/jobs?"+q.Encode())
		if err != nil {
			return err
		}
		var list []struct {
			ID       string `json:"id"`
			Kind     string `json:"kind"`
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			Error    string `json:"error"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(w, "No jobs.")
			return nil
		}
		for _, j := range list {
			fmt.Fprintf(w, "%s  %-22s %-9s %3d%%", j.ID, j.Kind, statusColor(j.Status), j.Progress)
			if j.Error != "" {
				fmt.Fprintf(w, "  %s", j.Error)
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job map[string]any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Execute a single pending job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/jobs/"+url.PathEscape(args[0])+"/execute", nil)
		if err != nil {
			return err
		}
		var res struct {
			Status  string `json:"status"`
			Skipped bool   `json:"skipped"`
			Reason  string `json:"reason"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if res.Skipped {
			printWarning("Job %s skipped: %s", args[0], res.Reason)
			return nil
		}
		printSuccess("Job %s %s", args[0], res.Status)
		return nil
	},
}

func statusColor(status string) string {
	switch status {
	case "completed":
		return colorize(colorGreen, status)
	case "failed":
		return colorize(colorRed, status)
	case "running":
		return colorize(colorYellow, status)
	}
	return status
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status: pending, running, completed or failed")
	jobsListCmd.Flags().Int("limit", 20, "maximum number of jobs to list")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsRunCmd)
}

// --- decisions ---

var decisionsCmd = &cobra.Command{
	Use:   "decisions <tenant-id>",
	Short: "Show recent orchestration decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/tenants/%s/decisions?limit=%d", url.PathEscape(args[0]), limit))
		if err != nil {
			return err
		}
		var decisions []map[string]any
		if err := decodeJSON(resp, &decisions); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), decisions)
	},
}

func init() {
	decisionsCmd.Flags().Int("limit", 5, "maximum number of decisions to show")
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Save, search and import tenant memory",
}

var memorySaveCmd = &cobra.Command{
	Use:   "save <tenant-id> <text>",
	Short: "Save one memory entry",
	Long: `Save one memory entry.

Examples:
  marketingd memory save acme "We never discount the flagship blend" --kind identity --importance 9
  marketingd memory save acme "Cold brew demand spikes in May" --kind trend`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		importance, _ := cmd.Flags().GetInt("importance")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		req := map[string]any{
			"kind":       kind,
			"text":       args[1],
			"importance": importance,
			"metadata":   map[string]string{"source": "cli"},
		}
		resp, err := client.post(cmd.Context(), "/v1/tenants/"+url.PathEscape(args[0])+"/memories", req)
		if err != nil {
			return err
		}
		var entry struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		printSuccess("Saved %s memory %s", kind, entry.ID)
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <tenant-id> <query>",
	Short: "Search memory by meaning",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("q", args[1])
		q.Set("limit", strconv.Itoa(limit))
		if kind != "" {
			q.Set("kind", kind)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/tenants/"+url.PathEscape(args[0])+"/memories/search?"+q.Encode())
		if err != nil {
			return err
		}
		var results []struct {
			Kind  string  `json:"kind"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(w, "No matches.")
			return nil
		}
		for _, r := range results {
			fmt.Fprintf(w, "%s %-9s %s\n", colorize(colorCyan, fmt.Sprintf("%.3f", r.Score)), r.Kind, r.Text)
		}
		return nil
	},
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <tenant-id> <file>",
	Short: "Import a brand document (PDF, HTML or text) as identity memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		importance, _ := cmd.Flags().GetInt("importance")

		text, err := memory.ExtractText(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}
		paras := memory.SplitParagraphs(text, memory.MaxPassage)
		if len(paras) == 0 {
			return fmt.Errorf("no text found in %s", args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/v1/tenants/" + url.PathEscape(args[0]) + "/memories"
		for i, p := range paras {
			req := map[string]any{
				"kind":       string(memory.KindIdentity),
				"text":       p,
				"importance": importance,
				"metadata":   map[string]string{"source": args[1], "part": strconv.Itoa(i + 1)},
			}
			resp, err := client.post(cmd.Context(), path, req)
			if err != nil {
				return err
			}
			var entry map[string]any
			if err := decodeJSON(resp, &entry); err != nil {
				return fmt.Errorf("part %d of %d: %w", i+1, len(paras), err)
			}
		}
		printSuccess("Imported %d passages from %s", len(paras), args[1])
		return nil
	},
}

func init() {
	memorySaveCmd.Flags().String("kind", "identity", "memory kind: identity, learning, trend or template")
	memorySaveCmd.Flags().Int("importance", 5, "importance from 1 to 10")
	memorySearchCmd.Flags().String("kind", "", "restrict to one memory kind")
	memorySearchCmd.Flags().Int("limit", 5, "maximum number of matches")
	memoryImportCmd.Flags().Int("importance", 7, "importance from 1 to 10")

	memoryCmd.AddCommand(memorySaveCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(configPath, key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
