package main

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shehackedyou/kwcomplete"
)

var checkJobs int

var checkCmd = &cobra.Command{
	Use:   "check [PATH...]",
	Short: "Report calls to undefined keywords",
	Long: `Walks every suite file under each PATH (default ".") and prints one line per call to
a keyword that nothing reachable defines. Files ignored by .gitignore are skipped.
Exits with status 1 when anything is reported.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVarP(&checkJobs, "jobs", "j", runtime.NumCPU(), "Files analysed in parallel")
	rootCmd.AddCommand(checkCmd)
}

type fileReport struct {
	file     string
	findings []string
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := newContext()
	defer cancel()

	if len(args) == 0 {
		args = []string{"."}
	}
	var files []string
	for _, root := range args {
		found, err := kwcomplete.DiscoverSuiteFiles(root)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}
	slog.Debug("Suite files discovered", "count", len(files))

	reports := make([]fileReport, len(files))
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(checkJobs, 1))
	for i, file := range files {
		g.Go(func() error {
			undefined, err := completer.UndefinedKeywords(gctx, file, nil)
			if err != nil {
				slog.Warn("Skipping file", "file", file, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			report := fileReport{file: file}
			for name, sites := range undefined.All() {
				for _, site := range sites {
					if site.Call.File != file {
						continue
					}
					report.findings = append(report.findings, fmt.Sprintf("%s:%d: undefined keyword %q (%s)",
						file, site.Call.Line+1, name, site.Caller()))
				}
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	total := 0
	for _, r := range reports {
		for _, line := range r.findings {
			fmt.Println(line)
			total++
		}
	}
	slog.Info("Check finished", "files", len(files), "findings", total, "unreadable", failed)
	if total > 0 {
		return exitError{code: 1}
	}
	return nil
}
