package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/hydrowatch/internal/api"
	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/internal/health"
	"github.com/obsidianstack/hydrowatch/internal/mirror"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

type inspectOptions struct {
	jsonOutput bool
	adapter    string
}

func newInspectCmd(load func() settings) *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show what a fresh instance would report, read from the durable mirror",
		Long: "inspect opens the badger mirror read-only, restores every adapter the way a\n" +
			"restarted server would, and prints the resulting statuses. The server must\n" +
			"not be running against the same data directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), cmd.OutOrStdout(), load(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().StringVar(&opts.adapter, "adapter", "", "Show one adapter with its error history")

	return cmd
}

func runInspect(ctx context.Context, w io.Writer, s settings, opts *inspectOptions) error {
	cfg, err := loadConfig(s)
	if err != nil {
		if s.dataDir == "" {
			return errors.WithHint(err, "pass --data-dir to inspect a mirror without a config file")
		}
		cfg = config.Defaults()
		s.override(cfg)
	}
	if cfg.Mirror.Backend != "badger" {
		return errors.WithHint(
			errors.Newf("inspect: mirror backend %q does not outlive its process", cfg.Mirror.Backend),
			"inspect needs mirror.backend: badger",
		)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, _, err := openStore(cfg.Mirror, true, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	m := mirror.New(st, logger)
	reader, err := freshReader(ctx, m, cfg.Sources, logger)
	if err != nil {
		return err
	}

	if opts.adapter != "" {
		a := reader.Adapter(ctx, opts.adapter)
		errs := reader.Errors(ctx, opts.adapter, "")
		if opts.jsonOutput {
			return writeJSON(w, struct {
				Adapter api.AdapterResponse `json:"adapter"`
				Errors  []types.ItemError   `json:"errors"`
			}{a, errs})
		}
		renderAdapter(w, a, errs)
		return nil
	}

	snap := api.BuildSnapshot(ctx, reader)
	if opts.jsonOutput {
		return writeJSON(w, snap)
	}
	renderSnapshot(w, snap)
	return nil
}

// freshReader rebuilds the registry a restarted server would hold: every
// configured source and every adapter with a config in the mirror is
// registered, then hydrated from its stored status.
func freshReader(ctx context.Context, m *mirror.Mirror, sources []config.Source, logger *slog.Logger) (*api.Reader, error) {
	reg := health.NewRegistry(nil, logger)
	for _, src := range sources {
		if err := reg.RegisterAdapter(src.HealthConfig()); err != nil {
			logger.Warn("inspect: skipping source", "source", src.ID, "err", err)
		}
	}

	stored, err := m.ReadAllStatuses(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "inspect: read mirror")
	}
	for _, st := range stored {
		if _, ok := reg.Config(st.AdapterID); ok {
			continue
		}
		cfg, err := m.ReadConfig(ctx, st.AdapterID)
		if err != nil {
			continue
		}
		if err := reg.RegisterAdapter(cfg); err != nil {
			logger.Warn("inspect: stored config rejected", "adapter", st.AdapterID, "err", err)
		}
	}
	reg.Hydrate(ctx, m)
	return api.NewReader(reg, m, logger), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- rendering --------------------------------------------------------------

type palette struct {
	title, header, dim lipgloss.Style
	status             map[types.HealthStatus]lipgloss.Style
	level              map[string]lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	green, amber, red := lipgloss.Color("42"), lipgloss.Color("214"), lipgloss.Color("196")
	return palette{
		title:  r.NewStyle().Bold(true),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("245")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("245")),
		status: map[types.HealthStatus]lipgloss.Style{
			types.StatusHealthy:   r.NewStyle().Foreground(green),
			types.StatusDegraded:  r.NewStyle().Foreground(amber),
			types.StatusUnhealthy: r.NewStyle().Foreground(red).Bold(true),
		},
		level: map[string]lipgloss.Style{
			"ok":       r.NewStyle().Foreground(green),
			"info":     r.NewStyle().Foreground(lipgloss.Color("39")),
			"warning":  r.NewStyle().Foreground(amber),
			"critical": r.NewStyle().Foreground(red).Bold(true),
		},
	}
}

type column struct {
	title string
	width int
}

var columns = []column{
	{"ADAPTER", 22},
	{"STATUS", 11},
	{"VALIDITY", 10},
	{"LAST SUCCESS", 21},
	{"RUNS S/P/F", 14},
	{"AVG MS", 9},
	{"ERRORS", 7},
	{"ORIGIN", 9},
}

func renderSnapshot(w io.Writer, snap api.SnapshotResponse) {
	p := newPalette(w)
	s := snap.Summary

	fmt.Fprintf(w, "%s %s  %s\n",
		p.title.Render("hydrowatch"),
		p.status[s.Status].Render(string(s.Status)),
		p.dim.Render(fmt.Sprintf("%d adapters: %d healthy, %d degraded, %d unhealthy",
			s.Total, s.Healthy, s.Degraded, s.Unhealthy)),
	)
	if len(snap.Adapters) == 0 {
		fmt.Fprintln(w, p.dim.Render("No adapters found in the mirror or the config."))
		return
	}
	fmt.Fprintln(w)

	var hdr strings.Builder
	for _, c := range columns {
		hdr.WriteString(p.header.Width(c.width).Render(c.title))
	}
	fmt.Fprintln(w, hdr.String())

	for _, a := range snap.Adapters {
		cells := []string{
			clip(a.AdapterID, columns[0].width-1),
			string(a.CurrentStatus),
			string(a.Validity),
			when(a.LastSuccessAt),
			fmt.Sprintf("%d/%d/%d", a.SuccessCount, a.PartialSuccessCount, a.FailureCount),
			fmt.Sprintf("%.0f", a.AverageDuration),
			fmt.Sprintf("%d", len(a.Errors)),
			a.Origin,
		}
		var row strings.Builder
		for i, c := range cells {
			style := p.dim.UnsetForeground()
			if i == 1 {
				style = p.status[a.CurrentStatus]
			}
			row.WriteString(style.Width(columns[i].width).Render(c))
		}
		fmt.Fprintln(w, row.String())
	}

	fmt.Fprintln(w)
	for _, a := range snap.Adapters {
		if len(a.Diagnostics) == 0 || a.Diagnostics[0].Level == "ok" {
			continue
		}
		d := a.Diagnostics[0]
		fmt.Fprintf(w, "%s %s: %s\n", p.level[d.Level].Render("["+d.Level+"]"), a.AdapterID, d.Title)
	}
}

func renderAdapter(w io.Writer, a api.AdapterResponse, errs []types.ItemError) {
	p := newPalette(w)

	fmt.Fprintf(w, "%s  %s / %s\n",
		p.title.Render(a.AdapterID),
		p.status[a.CurrentStatus].Render(string(a.CurrentStatus)),
		string(a.Validity),
	)
	if a.Name != "" {
		fmt.Fprintf(w, "%s (%s)\n", a.Name, a.SourceURL)
	}
	fmt.Fprintf(w, "last success %s, last failure %s\n", when(a.LastSuccessAt), when(a.LastFailureAt))
	fmt.Fprintf(w, "runs %d ok, %d partial, %d failed; average %.0fms\n\n",
		a.SuccessCount, a.PartialSuccessCount, a.FailureCount, a.AverageDuration)

	for _, d := range a.Diagnostics {
		fmt.Fprintf(w, "%s %s\n  %s\n", p.level[d.Level].Render("["+d.Level+"]"), d.Title, d.Detail)
	}

	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", p.header.Render("ERRORS (newest first)"))
	for _, e := range errs {
		fmt.Fprintf(w, "%s  %-10s %-9s %-16s %s\n",
			e.Timestamp.UTC().Format(time.RFC3339), clip(e.ItemID, 10), e.Stage, e.Code, e.Message)
	}
}

func when(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "~"
}
