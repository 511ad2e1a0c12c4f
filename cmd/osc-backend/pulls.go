package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/opensciencecatalog/osc-backend/internal/pullrequest"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// defaultFileWidth is the FILE column width when stdout is not a terminal.
const defaultFileWidth = 40

func newPullsCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "pulls",
		Short: "List submission pull requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPulls(cmd, configPath, user)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (optional)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "only show pull requests of this user")
	return cmd
}

func runPulls(cmd *cobra.Command, configPath, user string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	prs, err := newPullRequestService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	subs, err := prs.Submissions(ctx)
	if err != nil {
		return err
	}
	if user != "" {
		subs = filterByUser(subs, user)
	}
	writePullsTable(cmd.OutOrStdout(), subs, fileColumnWidth())
	return nil
}

func filterByUser(subs []pullrequest.Submission, user string) []pullrequest.Submission {
	var out []pullrequest.Submission
	for _, s := range subs {
		if s.Body.User == user {
			out = append(out, s)
		}
	}
	return out
}

// fileColumnWidth sizes the FILE column to the terminal, leaving room for
// the other columns.
func fileColumnWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultFileWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width < 100 {
		return defaultFileWidth
	}
	return width - 80
}

func writePullsTable(out io.Writer, subs []pullrequest.Submission, fileWidth int) {
	if len(subs) == 0 {
		fmt.Fprintln(out, "No pull requests found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTATE\tCHANGE\tUSER\tFILE\tTYPE\tURL")
	for _, s := range subs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Number, s.Body.State, s.Body.ChangeType, s.Body.User,
			truncate(s.Body.Filename, fileWidth), s.Body.ItemType, s.Body.URL)
	}
	w.Flush()
}

// truncate shortens s to max runes, adding "..." if truncated.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
