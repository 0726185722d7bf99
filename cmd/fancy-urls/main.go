package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/page-cache/pkg/cache"
	"github.com/Sternrassler/page-cache/pkg/config"
	"github.com/Sternrassler/page-cache/pkg/logging"
	"github.com/Sternrassler/page-cache/pkg/remember"
)

// openFunc opens the remembered-URL index and returns a function releasing
// the backend behind it.
type openFunc func(ctx context.Context) (*remember.Index, func() error, error)

func main() {
	if err := newRootCmd(openFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open openFunc) *cobra.Command {
	var (
		purge   bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "fancy-urls [pattern...]",
		Short: "List or purge remembered cached URLs",
		Long: `List the URLs remembered by the page cache, optionally filtered by glob
patterns where '*' matches any substring:

    fancy-urls /path1.html '/path3/*/*.json'

Without patterns every remembered URL is listed. --purge deletes the cached
pages of all listed URLs. When hit/miss statistics are enabled each URL is
printed with its tally.

The backend is selected with the PAGECACHE_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			matches := ix.FindMatching
			if purge {
				matches = ix.FindAndPurge
			}

			out := cmd.OutOrStdout()
			count := 0
			for m := range matches(cmd.Context(), args) {
				count++
				printMatch(out, m)
			}
			if verbose {
				fmt.Fprintf(out, "-- %d URLs cached --\n", count)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&purge, "purge", "p", false, "Purge found URLs")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the number of URLs found")

	return cmd
}

func printMatch(out io.Writer, m remember.Match) {
	if m.Stats == nil {
		fmt.Fprintln(out, m.URL)
		return
	}
	url := m.URL
	if len(url) > 70 {
		url = url[:70]
	}
	fmt.Fprintf(out, "%-65s HITS %-5d MISSES %-5d\n", url, m.Stats.Hits, m.Stats.Misses)
}

func openFromEnv(ctx context.Context) (*remember.Index, func() error, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	lc := settings.Logging()
	lc.Service = "fancy-urls"
	logging.Setup(lc)

	b, err := config.OpenBackend(ctx, settings)
	if err != nil {
		return nil, nil, err
	}
	ix := remember.New(cache.NewManager(b), remember.Options{
		UseCAS:   settings.UseCAS,
		Compress: settings.CompressRememberedURLs,
		Logger:   logging.NewLogger(logging.ComponentCLI),
	})
	return ix, b.Close, nil
}
