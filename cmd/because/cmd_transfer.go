package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"because/internal/bookmarks"
	"because/internal/lifecycle"
	"because/internal/scraper"
)

var (
	importBookmarks bool
	fetchTitles     bool
	exportOut       string
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an export file or a browser bookmarks file",
	Long: `Import items from a file written by "because export", or, with
--bookmarks, from a browser's HTML bookmarks export.

Items in an export file replace existing items with the same id. Bookmarks
whose URL is already saved are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		return withApp(cmd.Context(), func(a *app) error {
			var (
				report lifecycle.ImportReport
				err    error
			)
			if importBookmarks {
				report, err = runBookmarkImport(cmd, a, f)
			} else {
				var data []byte
				data, err = io.ReadAll(io.LimitReader(f, lifecycle.MaxImportBytes+1))
				if err == nil {
					report, err = a.items.ImportSnapshot(cmd.Context(), data)
				}
			}
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d, skipped %d.\n", report.Imported, report.Skipped)
			return nil
		})
	},
}

func runBookmarkImport(cmd *cobra.Command, a *app, r io.Reader) (lifecycle.ImportReport, error) {
	marks, err := bookmarks.Parse(r)
	if err != nil {
		return lifecycle.ImportReport{}, err
	}
	if fetchTitles || cfg.FetchTitles {
		s := scraper.NewRodScraper(log)
		defer func() {
			if err := s.Close(); err != nil {
				log.WithError(err).Warn("Failed to close browser")
			}
		}()
		marks = bookmarks.Enrich(cmd.Context(), marks, s, log)
	}
	return a.items.ImportBookmarks(cmd.Context(), marks)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every item to a JSON file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if exportOut == "-" {
				return a.items.WriteExport(cmd.OutOrStdout())
			}
			path := exportOut
			if path == "" {
				path = lifecycle.ExportFilename(time.Now())
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := a.items.WriteExport(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d items to %s\n", len(a.items.Items()), path)
			return nil
		})
	},
}

func init() {
	importCmd.Flags().BoolVar(&importBookmarks, "bookmarks", false, "The file is a browser HTML bookmarks export")
	importCmd.Flags().BoolVar(&fetchTitles, "fetch-titles", false, "Open untitled bookmarks in a headless browser to read their titles")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", `Output file (default because-export-YYYY-MM-DD.json, "-" for stdout)`)
}
