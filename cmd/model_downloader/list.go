package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/italolelis/model_downloader/internal/downloader"
)

const (
	textOutput = "text"
	jsonOutput = "json"
)

func newListCommand(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog models and whether they are downloaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out != textOutput && out != jsonOutput {
				return errors.New("unknown output format")
			}

			ctx := cmd.Context()

			cat, err := a.loadCatalog(ctx)
			if err != nil {
				return err
			}

			models := a.newDownloader(cat, nil).Models()

			if out == jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(models)
			}

			renderModelTable(cmd.OutOrStdout(), models)

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", textOutput, "Output format to the console. Options: text, json.")

	return cmd
}

func renderModelTable(w io.Writer, models []downloader.ModelInfo) {
	if len(models) == 0 {
		fmt.Fprintln(w, "Cannot find any models")

		return
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "Name", "File", "Size", "Downloaded"})

	downloaded := 0

	for _, m := range models {
		if m.IsDownloaded {
			downloaded++
		}

		// the order of values must match the order of the header
		t.AppendRow(table.Row{
			m.ID,
			m.Name,
			m.Filename,
			humanize.IBytes(uint64(m.SizeGB * (1 << 30))),
			m.IsDownloaded,
		})
	}

	t.AppendFooter(table.Row{fmt.Sprintf("%d models, %d downloaded", len(models), downloaded)})

	fmt.Fprintln(w, t.Render())
}
