package archivecmder

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/staffdesk/cmd/staffdesk/cliconfig"
	"github.com/papercomputeco/staffdesk/pkg/merkle"
)

const mergeLongDesc string = `Merge one or more source transcript archives into a target.

Content-addressing makes this a simple union: conversation nodes that
already exist in the target are skipped (deduped by hash). The target
defaults to archive.path from the config file.

Examples:
  staffdesk archive merge laptop.sqlite desktop.sqlite
  staffdesk archive merge --sqlite /tmp/merged.sqlite ~/alice/archive.db ~/bob/archive.db`

const mergeShortDesc string = "Merge transcript archives"

type mergeCommander struct {
	sqlitePath string
}

func NewMergeCmd() *cobra.Command {
	cmder := &mergeCommander{}

	cmd := &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to target SQLite archive")

	return cmd
}

func (c *mergeCommander) targetPath(cmd *cobra.Command) (string, error) {
	if c.sqlitePath != "" {
		return c.sqlitePath, nil
	}
	cfg, _, err := cliconfig.Load(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Archive.Path == "" || cfg.Archive.Path == ":memory:" {
		return "", errors.New("no target archive: pass --sqlite or set archive.path")
	}
	return cfg.Archive.Path, nil
}

func (c *mergeCommander) run(ctx context.Context, cmd *cobra.Command, sources []string) error {
	targetPath, err := c.targetPath(cmd)
	if err != nil {
		return err
	}

	target, err := merkle.NewSQLiteStorer(targetPath)
	if err != nil {
		return fmt.Errorf("could not open target archive %s: %w", targetPath, err)
	}
	defer target.Close()

	var totalNew, totalDuped int

	for _, srcPath := range sources {
		srcNew, srcDuped, err := mergeInto(ctx, target, srcPath)
		if err != nil {
			return err
		}

		totalNew += srcNew
		totalDuped += srcDuped

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d new, %d already existed\n", srcPath, srcNew, srcDuped)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d new nodes from %d sources (%d already existed) into %s\n",
		totalNew, len(sources), totalDuped, targetPath)

	return nil
}

func mergeInto(ctx context.Context, target merkle.Storer, srcPath string) (int, int, error) {
	source, err := merkle.NewSQLiteStorer(srcPath)
	if err != nil {
		return 0, 0, fmt.Errorf("could not open source archive %s: %w", srcPath, err)
	}
	defer source.Close()

	nodes, err := source.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("could not list nodes from %s: %w", srcPath, err)
	}

	var added, duped int
	for _, n := range nodes {
		isNew, err := target.Put(ctx, n)
		if err != nil {
			return 0, 0, fmt.Errorf("could not put node %s: %w", n.Hash, err)
		}
		if isNew {
			added++
		} else {
			duped++
		}
	}
	return added, duped, nil
}
