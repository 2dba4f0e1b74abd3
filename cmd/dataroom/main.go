// Package main is a smoke-test utility that fetches an organization's
// data-room listing through the same client and panel the portal pages use.
// It prints one line per document, or the rendered panel fragment with
// -html, which makes it useful for quick post-deployment checks of the
// documents endpoint and the signing backend. Defaults come from the portal
// configuration (CONFIG_PATH, SPARK_PORTAL_*); flags override them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/dataroom"
	"github.com/sparkcreatives/spark-portal/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg.Portal, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(portal config.PortalConfig, args []string) error {
	fs := flag.NewFlagSet("dataroom", flag.ContinueOnError)
	apiURL := fs.String("api", portal.APIBaseURL, "API base URL")
	org := fs.String("org", "", "organization identifier (default: "+portal.DefaultOrg+")")
	html := fs.Bool("html", false, "print the rendered panel instead of a table")
	timeout := fs.Duration("timeout", portal.RequestTimeout, "request timeout")
	verbose := fs.Bool("v", false, "log panel transitions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	telemetry.SetupLogger("text", level)

	client := dataroom.NewClient(*apiURL, portal.DefaultOrg, *timeout)
	panel := dataroom.NewPanel(client, portal.DefaultOrg)
	defer panel.Unmount()

	panel.Mount(*org)
	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	view, err := panel.Await(ctx)
	if err != nil {
		return err
	}

	if *html {
		if err := panel.Render(os.Stdout); err != nil {
			return err
		}
		fmt.Println()
	}

	switch view.State {
	case dataroom.StateError:
		var respErr *dataroom.ResponseError
		if errors.As(view.Err, &respErr) {
			return fmt.Errorf("documents endpoint answered %d: %w", respErr.StatusCode, view.Err)
		}
		return view.Err
	case dataroom.StateSuccess:
		if *html {
			return nil
		}
		if view.Empty() {
			fmt.Printf("No documents available for %s\n", view.Org)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "NAME\tURL\n")
		for _, d := range view.Documents {
			fmt.Fprintf(w, "%s\t%s\n", d.DisplayName(), d.URL)
		}
		return w.Flush()
	}
	return nil
}
