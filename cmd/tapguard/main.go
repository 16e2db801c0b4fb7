// cmd/tapguard/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/colebrumley/tapguard/internal/client"
	"github.com/colebrumley/tapguard/internal/config"
	"gopkg.in/yaml.v3"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	requestLimit = 10 * time.Minute
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "validate":
		err = cmdValidate(args)
	case "list":
		err = cmdList(args)
	case "status":
		err = cmdStatus(args)
	case "attempt":
		err = cmdAttempt(args)
	case "history":
		err = cmdHistory(args)
	case "show":
		err = cmdShow(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(titleStyle.Render("tapguard") + " - debounced rule triggers")
	fmt.Println(`
Usage:
  tapguard <command> [arguments]

Commands:
  init                          Create config.yaml, the rules directory and an example rule
  validate [file|dir]           Validate rule files (default: the rules directory)
  list                          List rules loaded by the daemon
  status                        Show daemon health
  attempt <rule> [key=value...] Attempt a rule through its trigger
  history [rule]                Show recorded attempts (-outcome, -limit)
  show <attempt-id>             Show one recorded attempt with its output
  help                          Show this help`)
	fmt.Println(helpStyle.Render("\nThe daemon API defaults to " + client.DefaultBaseURL + "; override with -api or TAPGUARD_API."))
}

func configDir() string {
	return filepath.Dir(config.DefaultStatePath())
}

func rulesDir() string {
	if dir := os.Getenv("TAPGUARD_RULES_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(configDir(), "rules")
}

func configPath() string {
	if p := os.Getenv("TAPGUARD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(configDir(), "config.yaml")
}

// apiFlag registers the shared -api flag on fs.
func apiFlag(fs *flag.FlagSet) *string {
	return fs.String("api", os.Getenv("TAPGUARD_API"), "daemon API base URL")
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestLimit)
}

const exampleRule = `name: example
description: Print a line at most once every two seconds
enabled: false
source:
  type: manual
debounce:
  interval_ms: 2000
  stamp: after_action
  window: fixed
action:
  command: /bin/echo
  args: ["attempt {{attempt_id}} for {{rule}}"]
  timeout_seconds: 30
`

func cmdInit() error {
	dir := rulesDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}
	// MkdirAll leaves an existing directory's mode alone
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("setting rules directory permissions: %w", err)
	}

	cfgPath := configPath()
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		var cfg config.Global
		config.ApplyGlobalDefaults(&cfg)
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return fmt.Errorf("encoding default config: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Println(okStyle.Render("created") + " " + cfgPath)
	} else {
		fmt.Println(helpStyle.Render("exists ") + " " + cfgPath)
	}

	examplePath := filepath.Join(dir, "example.yaml")
	if _, err := os.Stat(examplePath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(examplePath, []byte(exampleRule), 0600); err != nil {
			return fmt.Errorf("writing example rule: %w", err)
		}
		fmt.Println(okStyle.Render("created") + " " + examplePath)
	}
	return nil
}

func cmdValidate(args []string) error {
	target := rulesDir()
	if len(args) > 0 {
		target = args[0]
	}

	info, err := os.Stat(target)
	if err != nil {
		return err
	}

	var rules []*config.Rule
	if info.IsDir() {
		rules, err = config.LoadRulesDir(target)
	} else {
		var rule *config.Rule
		rule, err = config.LoadRule(target)
		rules = []*config.Rule{rule}
	}
	if err != nil {
		return err
	}

	var global *config.Global
	if g, err := config.LoadGlobal(configPath()); err == nil {
		global = g
	}

	byName := make(map[string]*config.Rule, len(rules))
	for _, r := range rules {
		byName[r.Name] = r
	}

	invalid := 0
	for _, r := range rules {
		if err := config.ValidateRule(r); err != nil {
			invalid++
			fmt.Println(failStyle.Render("invalid") + " " + err.Error())
			continue
		}
		fmt.Println(okStyle.Render("ok     ") + " " + r.Name)
		for _, w := range config.ValidateRuleWithGlobal(r, global, byName) {
			fmt.Println(warnStyle.Render("warning") + " " + w)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d rules invalid", invalid, len(rules))
	}
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	api := apiFlag(fs)
	fs.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()

	rules, err := client.New(*api).Rules(ctx)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Println(helpStyle.Render("no rules loaded"))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%-20s %-10s %-9s %8s %8s %8s", "NAME", "SOURCE", "STATE", "INTERVAL", "ACCEPTED", "DROPPED")))
	for _, r := range rules {
		line := fmt.Sprintf("%-20s %-10s %-9s %8s %8d %8d",
			r.Name, r.SourceType, r.State,
			(time.Duration(r.IntervalMs) * time.Millisecond).String(),
			r.Accepted, r.Dropped)
		fmt.Println(stateStyle(r.State).Render(line))
	}
	return nil
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "cooling":
		return warnStyle
	case "disabled":
		return helpStyle
	default:
		return lipgloss.NewStyle()
	}
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	api := apiFlag(fs)
	fs.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()

	c := client.New(*api)
	h, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}

	fmt.Println(titleStyle.Render("tapguardd ") + okStyle.Render(h.Status))
	fmt.Printf("  uptime:      %s\n", h.Uptime)
	fmt.Printf("  rules:       %d loaded, %d enabled\n", h.RulesLoaded, h.RulesEnabled)
	fmt.Printf("  shared gate: %t\n", h.SharedGate)
	fmt.Printf("  history:     %t\n", h.History)

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println(titleStyle.Render(fmt.Sprintf("%-20s %8s %8s  %s", "RULE", "ACCEPTED", "DROPPED", "LAST ACCEPTED")))
	for _, s := range stats {
		last := "never"
		if !s.LastAccepted.IsZero() {
			last = s.LastAccepted.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-20s %8d %8d  %s\n", s.RuleName, s.Accepted, s.Dropped, last)
	}
	return nil
}

func cmdAttempt(args []string) error {
	fs := flag.NewFlagSet("attempt", flag.ExitOnError)
	api := apiFlag(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		return errors.New("usage: tapguard attempt <rule> [key=value...]")
	}
	data, err := parseKeyValues(fs.Args()[1:])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	res, err := client.New(*api).Attempt(ctx, fs.Arg(0), data)
	if err != nil {
		return err
	}

	if !res.Accepted {
		fmt.Println(warnStyle.Render(res.Outcome) + " " + res.Rule + " is inside its suppression window")
		return nil
	}

	style := okStyle
	if res.Error != "" {
		style = failStyle
	}
	fmt.Printf("%s %s in %s (attempt %s)\n", style.Render(res.Outcome), res.Rule,
		time.Duration(res.DurationMs)*time.Millisecond, res.AttemptID)
	if res.Output != "" {
		fmt.Println(helpStyle.Render(strings.TrimRight(res.Output, "\n")))
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	api := apiFlag(fs)
	outcome := fs.String("outcome", "", "only this outcome")
	limit := fs.Int("limit", 20, "maximum records")
	fs.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()

	records, err := client.New(*api).History(ctx, fs.Arg(0), *outcome, *limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(helpStyle.Render("no attempts recorded"))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%-20s %-20s %-15s %8s  %s", "TIME", "RULE", "OUTCOME", "MS", "SOURCE")))
	for _, r := range records {
		line := fmt.Sprintf("%-20s %-20s %-15s %8d  %s",
			r.AttemptedAt.Local().Format("2006-01-02 15:04:05"), r.RuleName, r.Outcome, r.DurationMs, r.SourceType)
		switch {
		case !r.Accepted():
			fmt.Println(helpStyle.Render(line))
		case r.Error != "":
			fmt.Println(failStyle.Render(line))
		default:
			fmt.Println(line)
		}
	}
	return nil
}

func cmdShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	api := apiFlag(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		return errors.New("usage: tapguard show <attempt-id>")
	}

	ctx, cancel := requestContext()
	defer cancel()

	r, err := client.New(*api).GetAttempt(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	outcome := okStyle.Render(r.Outcome)
	switch {
	case !r.Accepted():
		outcome = helpStyle.Render(r.Outcome)
	case r.Error != "":
		outcome = failStyle.Render(r.Outcome)
	}
	fmt.Println(titleStyle.Render("attempt "+r.AttemptID) + " " + outcome)
	fmt.Printf("  rule:     %s\n", r.RuleName)
	fmt.Printf("  source:   %s\n", r.SourceType)
	fmt.Printf("  time:     %s\n", r.AttemptedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  duration: %s\n", time.Duration(r.DurationMs)*time.Millisecond)
	if r.EventData != "" && r.EventData != "{}" {
		fmt.Printf("  data:     %s\n", r.EventData)
	}
	if r.Error != "" {
		fmt.Println(failStyle.Render("  error:    " + r.Error))
	}
	if r.Output != "" {
		fmt.Println(helpStyle.Render(strings.TrimRight(r.Output, "\n")))
	}
	return nil
}

// parseKeyValues turns key=value arguments into template data. Values that
// parse as integers, floats or booleans keep that type.
func parseKeyValues(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		data[key] = typedValue(value)
	}
	return data, nil
}

func typedValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
