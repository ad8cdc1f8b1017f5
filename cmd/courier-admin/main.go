// ABOUTME: Admin CLI for a running courier server
// ABOUTME: Lists users, queues announcements and inspects history over the HTTP admin API

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const banner = `
                            _                    _           _
  ___ ___  _   _ _ __ _ __ (_) ___ _ __     __ _| |_ __ ___ (_)_ __
 / __/ _ \| | | | '__| '__|| |/ _ \ '__|   / _' | | '_ ' _ \| | '_ \
| (_| (_) | |_| | |  | |   | |  __/ |     | (_| | | | | | | | | | | |
 \___\___/ \__,_|_|  |_|   |_|\___|_|      \__,_|_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	client := newAdminClient(getEnv("COURIER_URL", "http://localhost:5001"), getToken())

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(client, os.Stdout)
	case "users":
		err = cmdUsers(client, os.Stdout)
	case "active":
		err = cmdActive(client, os.Stdout)
	case "announce":
		err = cmdAnnounce(client, os.Stdout, args)
	case "history":
		err = cmdHistory(client, os.Stdout)
	case "deliveries":
		err = cmdDeliveries(client, os.Stdout, args)
	case "relays":
		err = cmdRelays(client, os.Stdout, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: courier-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                        Show server health and readiness")
	fmt.Println("  users                         List registered users")
	fmt.Println("  active                        Show the announcement being delivered")
	fmt.Println("  announce [flags] <text>       Queue an announcement")
	fmt.Println("      --file PATH               Read the text from a file ('-' for stdin)")
	fmt.Println("      --markdown                Treat the text as markdown")
	fmt.Println("      --to ID[,ID...]           Address only these user IDs")
	fmt.Println("  history                       List archived announcements")
	fmt.Println("  deliveries <message-id>       Show push attempts for an announcement")
	fmt.Println("  relays [--limit N]            List recently relayed messages")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  COURIER_URL      Server URL (default: http://localhost:5001)")
	fmt.Println("  COURIER_TOKEN    Admin token (or ~/.config/courier/token)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export COURIER_TOKEN=\"$(courier token)\"")
	fmt.Println("  courier-admin announce 'Office closed on Friday'")
	fmt.Println("  courier-admin announce --markdown --file notice.md")
	fmt.Println()
}

func cmdStatus(c *adminClient, out io.Writer) error {
	health, err := c.getText("/health")
	if err != nil {
		fmt.Fprintf(out, "  Server:  UNREACHABLE (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "  Server:  %s\n", health)

	ready, err := c.getText("/health/ready")
	if err != nil {
		fmt.Fprintf(out, "  Ready:   NO (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "  Ready:   %s\n", ready)
	return nil
}

func cmdUsers(c *adminClient, out io.Writer) error {
	var users []userView
	if err := c.getJSON("/api/users", &users); err != nil {
		return err
	}

	if len(users) == 0 {
		fmt.Fprintln(out, "  (no registered users)")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  USER ID\tNAME\tREGISTERED")
	fmt.Fprintln(w, "  -------\t----\t----------")
	for _, u := range users {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", u.UserID, truncate(u.Name, 24), formatMillis(u.RegisteredAt))
	}
	return w.Flush()
}

func cmdActive(c *adminClient, out io.Writer) error {
	var a announcementView
	err := c.getJSON("/api/announcements/active", &a)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == 404 {
		fmt.Fprintln(out, "  (no active announcement)")
		return nil
	}
	if err != nil {
		return err
	}
	printAnnouncement(out, &a)
	return nil
}

func cmdAnnounce(c *adminClient, out io.Writer, args []string) error {
	var file, to string
	var markdown bool
	fs := pflag.NewFlagSet("announce", pflag.ContinueOnError)
	fs.StringVarP(&file, "file", "f", "", "read the announcement from a file ('-' for stdin)")
	fs.BoolVar(&markdown, "markdown", false, "treat the text as markdown")
	fs.StringVar(&to, "to", "", "comma-separated user IDs (default: every user)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	content := strings.Join(fs.Args(), " ")
	if file != "" {
		data, err := readInput(file)
		if err != nil {
			return err
		}
		content = string(data)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("usage: announce [--markdown] [--to IDS] (<text> | --file PATH)")
	}

	req := createAnnouncementRequest{Content: content}
	if markdown {
		req.Format = "markdown"
	}
	for _, id := range strings.Split(to, ",") {
		if id = strings.TrimSpace(id); id != "" {
			req.Recipients = append(req.Recipients, id)
		}
	}

	var created announcementView
	if err := c.postJSON("/api/announcements", req, &created); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "✓ Queued announcement %s\n", created.MessageID)
	fmt.Fprintf(out, "  Recipients: %d\n", len(created.Recipients))
	return nil
}

func cmdHistory(c *adminClient, out io.Writer) error {
	var entries []historyView
	if err := c.getJSON("/api/announcements/history", &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "  (no archived announcements)")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  FILE\tMESSAGE ID\tSENT\tRECIPIENTS")
	fmt.Fprintln(w, "  ----\t----------\t----\t----------")
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\n", e.Name, truncate(e.MessageID, 20), formatMillis(e.SentAt), e.Recipients)
	}
	return w.Flush()
}

func cmdDeliveries(c *adminClient, out io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: deliveries <message-id>")
	}

	var deliveries []deliveryView
	if err := c.getJSON("/api/announcements/"+args[0]+"/deliveries", &deliveries); err != nil {
		return err
	}
	if len(deliveries) == 0 {
		fmt.Fprintln(out, "  (no delivery attempts recorded)")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  USER\tSTATUS\tATTEMPTED\tERROR")
	fmt.Fprintln(w, "  ----\t------\t---------\t-----")
	for _, d := range deliveries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", userLabel(d.UserName, d.UserID), d.Status, d.AttemptedAt.Local().Format("Jan 02 15:04:05"), truncate(d.Error, 40))
	}
	return w.Flush()
}

func cmdRelays(c *adminClient, out io.Writer, args []string) error {
	var limit int
	fs := pflag.NewFlagSet("relays", pflag.ContinueOnError)
	fs.IntVarP(&limit, "limit", "n", 20, "number of relays to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var relays []relayView
	if err := c.getJSON(fmt.Sprintf("/api/relays?limit=%d", limit), &relays); err != nil {
		return err
	}
	if len(relays) == 0 {
		fmt.Fprintln(out, "  (no relayed messages)")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WHEN\tFROM\tTO\tSTATUS\tMESSAGE")
	fmt.Fprintln(w, "  ----\t----\t--\t------\t-------")
	for _, r := range relays {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("Jan 02 15:04"),
			userLabel(r.SenderName, r.SenderID),
			userLabel(r.RecipientName, r.RecipientID),
			r.Status,
			truncate(strings.ReplaceAll(r.Body, "\n", " "), 40))
	}
	return w.Flush()
}

func printAnnouncement(out io.Writer, a *announcementView) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(out, "  Announcement %s\n", a.MessageID)
	fmt.Fprintf(out, "  Created:  %s\n", formatMillis(a.SentAt))
	if a.Format != "" {
		fmt.Fprintf(out, "  Format:   %s\n", a.Format)
	}
	fmt.Fprintf(out, "  Pending:  %d of %d\n", a.Pending, len(a.Recipients))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  USER ID\tNAME\tSTATUS")
	for _, r := range a.Recipients {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", r.UserID, truncate(r.Name, 24), r.Status)
	}
	_ = w.Flush()
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func userLabel(name, id string) string {
	if name == "" {
		return truncate(id, 16)
	}
	return truncate(name, 20)
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("Jan 02 15:04")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getToken reads COURIER_TOKEN, then the token file under the config directory.
func getToken() string {
	if token := os.Getenv("COURIER_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "courier", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
