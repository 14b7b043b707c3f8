package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/progress"
)

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := model.GenerateRequest{
		ProductName: genProduct,
		ProductURL:  genURL,
		Keywords:    genKeywords,
		Language:    genLanguage,
		Tone:        genTone,
		Audience:    genAudience,
	}

	var l progress.Listener = progress.Discard
	if !genQuiet {
		l = progress.ListenerFunc(func(e progress.Event) {
			fmt.Fprintln(cmd.ErrOrStderr(), formatEvent(e))
		})
	}

	out, err := a.orch.Run(ctx, req, l)
	if err != nil {
		return err
	}
	if err := a.cache.Flush(ctx); err != nil {
		a.log.Warn("cache flush", "error", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, out.Raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

// formatEvent renders one progress event as a single terminal line.
func formatEvent(e progress.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%3d%%] %-14s", e.Progress, e.Type)
	if e.Stage != "" {
		fmt.Fprintf(&b, " %-11s", e.Stage)
	}
	if e.Message != "" {
		b.WriteString(" ")
		b.WriteString(e.Message)
	}
	return strings.TrimRight(b.String(), " ")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	plan := a.orch.Plan()
	w := cmd.OutOrStdout()
	for i, group := range plan.Groups() {
		fmt.Fprintf(w, "group %d\n", i+1)
		for _, id := range group {
			spec, _ := plan.Spec(id)
			deps := "-"
			if len(spec.DependsOn) > 0 {
				names := make([]string, len(spec.DependsOn))
				for j, d := range spec.DependsOn {
					names[j] = string(d)
				}
				deps = strings.Join(names, ", ")
			}
			fmt.Fprintf(w, "  %-11s weight %3d  needs %s\n", id, spec.Weight, deps)
		}
	}
	return nil
}
