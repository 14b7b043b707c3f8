package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/copydeck/internal/cache"
)

func runCacheStats(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.cache.Stats(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func runCachePrune(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.cache.Prune(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired entries\n", n)
	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	fp := args[0]
	if !cache.ValidFingerprint(fp) {
		return fmt.Errorf("malformed fingerprint %q", fp)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cache.Invalidate(cmd.Context(), fp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", fp)
	return nil
}
