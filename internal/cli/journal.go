package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codewandler/eventum-go/core/es"
	"github.com/codewandler/eventum-go/provider"
)

func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read and append journals through the configured provider",
	}
	cmd.AddCommand(newJournalGetCommand(rootOpts), newJournalAppendCommand(rootOpts))
	return cmd
}

func newJournalGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <aggregate-id>",
		Short: "Print the journal of an aggregate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openConnector(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer conn.Close()

			j, err := conn.GetJournal(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), "json", j)
		},
	}
}

func newJournalAppendCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "append <aggregate-id> <event-type> [payload-json]",
		Short: "Append one event to the journal of an aggregate",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := es.EventInput{AggregateID: args[0], EventType: args[1]}
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				in.Payload = json.RawMessage(args[2])
			}

			conn, err := openConnector(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer conn.Close()

			saved, err := conn.SaveEvents(cmd.Context(), []es.EventInput{in})
			if err != nil {
				return err
			}
			e := saved[0]
			return writeLine(cmd.OutOrStdout(), rootOpts.Format,
				fmt.Sprintf("%s %s@%d", e.EventID, e.AggregateID, e.Sequence), e)
		},
	}
}

func openConnector(cmd *cobra.Command, rootOpts *RootOptions) (*provider.Connector, error) {
	cfg, err := rootOpts.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return provider.NewJournalConnector(cmd.Context(), cfg)
}
