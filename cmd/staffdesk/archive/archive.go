package archivecmder

import "github.com/spf13/cobra"

func NewArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage the transcript archive",
	}
	cmd.AddCommand(NewMergeCmd())
	return cmd
}
