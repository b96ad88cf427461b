package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eringen/quill"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the post index and category counts from the post documents",
	Long: `Rebuild the analytics post index from the JSON documents in the blog
directory. Index rows without a document are removed and every category
count is recomputed. Safe to run while the server is up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := quill.LoadConfig(configPath)
		if err != nil {
			return err
		}
		app := quill.New(cfg)
		if err := app.Init(); err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Posts.Reindex(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d posts, removed %d stale entries\n", res.Indexed, res.Removed)
		return nil
	},
}
