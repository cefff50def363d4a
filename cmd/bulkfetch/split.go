package main

import (
	"fmt"
	"time"

	"github.com/analytics-loaders/bulkfetch/pkg/period"
	"github.com/spf13/cobra"
)

func newSplitCmd() *cobra.Command {
	var (
		from   string
		to     string
		window int
		layout string
	)

	cmd := &cobra.Command{
		Use:   "split",
		Short: "Print the date windows a range is split into",
		Example: `  bulkfetch split --from 2024-01-01 --to 2024-03-31 --window 30
  bulkfetch split --from 01.01.2024 --to 31.01.2024 --window 7 --layout 02.01.2006`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := period.ParseRange(from, to, layout)
			if err != nil {
				return err
			}
			windows, err := period.Split(start, end, window)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, w := range windows {
				s, e := w.Format(layout)
				fmt.Fprintf(out, "%s\t%s\t%d\n", s, e, w.Days())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First day of the range")
	cmd.Flags().StringVar(&to, "to", "", "Last day of the range")
	cmd.Flags().IntVar(&window, "window", 0, "Maximum window span in days")
	cmd.Flags().StringVar(&layout, "layout", time.DateOnly, "Go time layout for dates")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("window")

	return cmd
}
