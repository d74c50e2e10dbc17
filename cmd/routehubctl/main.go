// routehubctl is a thin CLI over the routehub HTTP API: inspect the model
// catalog and rankings, drive scheduler jobs, and manage budget, quota, and
// vault state from a shell.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"

	"github.com/routehub/routehub/internal/app"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("routehubctl %s\n", app.Version)
	case "status":
		doStatus()
	case "model", "models":
		doModels(args)
	case "rankings":
		doRankings(args)
	case "profiles":
		doProfiles()
	case "analytics":
		doAnalytics(args)
	case "budget":
		doBudget(args)
	case "quota":
		doQuota(args)
	case "review":
		doReview(args)
	case "jobs":
		doJobs(args)
	case "sources":
		doSources()
	case "breakers":
		doBreakers()
	case "streaming":
		doStreaming()
	case "vault":
		doVault(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `routehubctl is the CLI for the routehub API

Usage: routehubctl <command> [arguments]

Environment:
  ROUTEHUB_URL        Base URL (default: http://localhost:8080)
  ROUTEHUB_API_TOKEN  Bearer token when the server enforces auth

Commands:
  status                        Show server version and catalog counts
  models [--all]                List models (--all includes inactive)
  models metrics <id>           Show latest metric values for one model
  rankings [--profile P] [--limit N]
                                Rank models under a routing profile
  profiles                      List routing profiles and their weights

  analytics summary [--period P]   Aggregated request stats (1h 24h 7d 30d)
  analytics usage [--period P]     Bucketed request/cost timeseries
  analytics models [--period P]    Per-model usage breakdown

  budget get                    Show budget config and current spend
  budget set <json>             Update budget config
  quota                         Show quota windows for this identity
  quota reset                   Clear quota windows for this identity

  review list                   List alias resolutions awaiting review
  review <alias> approve        Confirm a low-confidence alias
  review <alias> reject         Discard a low-confidence alias

  jobs                          List scheduler jobs
  jobs run <id>                 Trigger a job immediately
  sources                       Show benchmark source sync bookkeeping
  breakers                      Show per-model circuit breaker states
  streaming                     Show live streaming client stats

  vault unlock <password>       Unlock the secret vault
  vault lock                    Lock the vault
  vault list                    List secret names
  vault set <name> <value>      Store a secret
  vault delete <name>           Delete a secret

  version                       Show version
  help                          Show this help

Examples:
  routehubctl rankings --profile quality --limit 5
  routehubctl budget set '{"daily_limit_usd":10,"hard_limit":true}'
  routehubctl jobs run refresh-openrouter
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("ROUTEHUB_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := os.Getenv("ROUTEHUB_API_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPut(path, bodyJSON string) map[string]any {
	resp, err := doRequest("PUT", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doDelete(path string) map[string]any {
	resp, err := doRequest("DELETE", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: routehubctl %s\n", usage)
		os.Exit(1)
	}
}

func flagValue(args []string, name, def string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return def
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func periodQuery(args []string) string {
	if p := flagValue(args, "--period", ""); p != "" {
		return "?period=" + p
	}
	return ""
}

// --- Commands ---

func doStatus() {
	info := doGet("/")
	models := doGet("/v1/models")
	stream := doGet("/v1/streaming/stats")

	fmt.Printf("Server:   %s\n", baseURL())
	fmt.Printf("Version:  %v\n", info["version"])
	fmt.Printf("Models:   %v\n", models["count"])
	fmt.Printf("Clients:  %v/%v streaming\n", stream["clients"], stream["max_clients"])
}

func doModels(args []string) {
	if len(args) > 0 && args[0] == "metrics" {
		requireArgs(args, 2, "models metrics <id>")
		data := doGet("/v1/models/" + args[1] + "/metrics")
		fmt.Println(prettyJSON(data))
		return
	}

	path := "/v1/models"
	if hasFlag(args, "--all") {
		path += "?all=true"
	}
	data := doGet(path)
	models, _ := data["models"].([]any)
	if len(models) == 0 {
		fmt.Println("No models in the catalog. Has a source sync run yet?")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tPROVIDER\tCONTEXT\tACTIVE")
	for _, m := range models {
		row, ok := m.(map[string]any)
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\n",
			row["id"], row["name"], row["provider"], fmtNum(row["context_length"]), row["active"])
	}
	_ = tw.Flush()
}

func doRankings(args []string) {
	profile := flagValue(args, "--profile", "balanced")
	limit := flagValue(args, "--limit", "10")
	if _, err := strconv.Atoi(limit); err != nil {
		fmt.Fprintln(os.Stderr, "--limit must be an integer")
		os.Exit(1)
	}
	data := doGet("/v1/models/rankings?profile=" + profile + "&limit=" + limit)
	rankings, _ := data["rankings"].([]any)
	if len(rankings) == 0 {
		fmt.Printf("No rankings for profile %q.\n", profile)
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RANK\tMODEL\tCOMPOSITE\tQUALITY\tLATENCY\tCOST\tOK")
	for i, r := range rankings {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%d\t%v\t%s\t%s\t%s\t%s\t%v\n",
			i+1, row["name"],
			fmtScore(row["composite"]), fmtScore(row["quality_score"]),
			fmtScore(row["latency_score"]), fmtScore(row["cost_score"]),
			row["meets_constraints"])
	}
	_ = tw.Flush()
}

func doProfiles() {
	data := doGet("/v1/routing/profiles")
	fmt.Println(prettyJSON(data["profiles"]))
}

func doAnalytics(args []string) {
	requireArgs(args, 1, "analytics <summary|usage|models> [--period P]")
	switch args[0] {
	case "summary":
		fmt.Println(prettyJSON(doGet("/v1/analytics/summary" + periodQuery(args))))
	case "usage":
		fmt.Println(prettyJSON(doGet("/v1/analytics/usage" + periodQuery(args))))
	case "models":
		data := doGet("/v1/analytics/models" + periodQuery(args))
		models, _ := data["models"].([]any)
		if len(models) == 0 {
			fmt.Println("No usage recorded in this period.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "MODEL\tREQUESTS\tSUCCESS\tAVG LATENCY\tCOST")
		for _, m := range models {
			row, ok := m.(map[string]any)
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(tw, "%v\t%s\t%s\t%sms\t$%s\n",
				row["model_name"], fmtNum(row["requests"]), fmtScore(row["success_rate"]),
				fmtNum(row["avg_latency_ms"]), fmtScore(row["estimated_cost"]))
		}
		_ = tw.Flush()
	default:
		fmt.Fprintf(os.Stderr, "unknown analytics command: %s\n", args[0])
		os.Exit(1)
	}
}

func doBudget(args []string) {
	requireArgs(args, 1, "budget <get|set> [json]")
	switch args[0] {
	case "get":
		fmt.Println(prettyJSON(doGet("/v1/budget")))
	case "set":
		requireArgs(args, 2, "budget set <json>")
		fmt.Println(prettyJSON(doPut("/v1/budget", args[1])))
	default:
		fmt.Fprintf(os.Stderr, "unknown budget command: %s\n", args[0])
		os.Exit(1)
	}
}

func doQuota(args []string) {
	if len(args) > 0 && args[0] == "reset" {
		fmt.Println(prettyJSON(doPost("/v1/quota/reset", "{}")))
		return
	}
	fmt.Println(prettyJSON(doGet("/v1/quota")))
}

func doReview(args []string) {
	if len(args) == 0 || args[0] == "list" {
		data := doGet("/v1/resolution/review")
		aliases, _ := data["aliases"].([]any)
		if len(aliases) == 0 {
			fmt.Println("No aliases awaiting review.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ALIAS\tCANONICAL\tCONFIDENCE")
		for _, a := range aliases {
			row, ok := a.(map[string]any)
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(tw, "%v\t%s\t%s\n",
				row["alias"], fmtNum(row["canonical_id"]), fmtScore(row["confidence"]))
		}
		_ = tw.Flush()
		return
	}

	requireArgs(args, 2, "review <alias> <approve|reject>")
	alias, action := args[0], args[1]
	body := fmt.Sprintf(`{"action":%s}`, jsonStr(action))
	result := doPost("/v1/resolution/review/"+alias, body)
	fmt.Println(prettyJSON(result))
}

func doJobs(args []string) {
	if len(args) > 0 && args[0] == "run" {
		requireArgs(args, 2, "jobs run <id>")
		fmt.Println(prettyJSON(doPost("/v1/scheduler/jobs/"+args[1]+"/run", "{}")))
		return
	}
	data := doGet("/v1/scheduler/jobs")
	jobs, _ := data["jobs"].([]any)
	if len(jobs) == 0 {
		fmt.Println("No scheduled jobs.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tLAST RUN\tNEXT RUN\tPAUSED\tRUNNING")
	for _, j := range jobs {
		row, ok := j.(map[string]any)
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%v\t%s\t%s\t%v\t%v\n",
			row["id"], fmtTime(row["last_run"]), fmtTime(row["next_run"]),
			row["paused"], row["running"])
	}
	_ = tw.Flush()
}

func doSources() {
	data := doGet("/v1/sources")
	fmt.Println(prettyJSON(data["sources"]))
}

func doBreakers() {
	data := doGet("/v1/breakers")
	breakers, _ := data["breakers"].(map[string]any)
	if len(breakers) == 0 {
		fmt.Println("No breakers yet. They appear after the first routed request.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MODEL\tSTATE")
	for model, state := range breakers {
		_, _ = fmt.Fprintf(tw, "%s\t%v\n", model, state)
	}
	_ = tw.Flush()
}

func doStreaming() {
	fmt.Println(prettyJSON(doGet("/v1/streaming/stats")))
}

func doVault(args []string) {
	requireArgs(args, 1, "vault <unlock|lock|list|set|delete> [args]")
	switch args[0] {
	case "unlock":
		requireArgs(args, 2, "vault unlock <password>")
		doPost("/v1/vault/unlock", fmt.Sprintf(`{"password":%s}`, jsonStr(args[1])))
		fmt.Println("Vault unlocked.")
	case "lock":
		doPost("/v1/vault/lock", "{}")
		fmt.Println("Vault locked.")
	case "list":
		data := doGet("/v1/vault/secrets")
		secrets, _ := data["secrets"].([]any)
		if len(secrets) == 0 {
			fmt.Println("No secrets stored.")
			return
		}
		for _, s := range secrets {
			fmt.Println(s)
		}
	case "set":
		requireArgs(args, 3, "vault set <name> <value>")
		doPut("/v1/vault/secrets/"+args[1], fmt.Sprintf(`{"value":%s}`, jsonStr(args[2])))
		fmt.Printf("Secret %q stored.\n", args[1])
	case "delete":
		requireArgs(args, 2, "vault delete <name>")
		doDelete("/v1/vault/secrets/" + args[1])
		fmt.Printf("Secret %q deleted.\n", args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown vault command: %s\n", args[0])
		os.Exit(1)
	}
}

// --- formatting helpers ---

func jsonStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func fmtNum(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatInt(int64(f), 10)
	}
	return "0"
}

func fmtScore(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', 3, 64)
	}
	return "-"
}

func fmtTime(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
