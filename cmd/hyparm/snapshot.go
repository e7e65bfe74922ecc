package main

import (
	"encoding/json"
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/storage"
	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

func newSnapshotCmd(g *globalFlags) *cobra.Command {
	var dataPath string
	openStore := func() (*storage.SnapshotStore, error) {
		return storage.Open(dataPath)
	}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect saved guest snapshots",
	}
	cmd.PersistentFlags().StringVar(&dataPath, "data", "hyparm-data", "snapshot store directory")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List snapshot names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				names, err := store.List()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <name>",
			Short: "Print the saved context of a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				data, err := store.ContextJSON(args[0])
				if err != nil {
					return err
				}
				var snap storage.Snapshot
				if err := json.Unmarshal(data, &snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s saved %s\n%s", snap.Name, snap.Created.Format("2006-01-02 15:04:05"), snap.Context)
				return nil
			},
		},
		&cobra.Command{
			Use:   "diff <a> <b>",
			Short: "Show how the saved contexts of two snapshots differ",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				text, err := diffSnapshots(store, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a snapshot and its pages",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				return store.Delete(args[0])
			},
		},
	)
	return cmd
}

// contextDocument strips the snapshot envelope so only register state is compared.
func contextDocument(store *storage.SnapshotStore, name string) ([]byte, error) {
	data, err := store.ContextJSON(name)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Context json.RawMessage `json:"context"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", name, err)
	}
	return doc.Context, nil
}

func diffSnapshots(store *storage.SnapshotStore, a, b string) (string, error) {
	left, err := contextDocument(store, a)
	if err != nil {
		return "", err
	}
	right, err := contextDocument(store, b)
	if err != nil {
		return "", err
	}
	delta, err := gojsondiff.New().Compare(left, right)
	if err != nil {
		return "", err
	}
	if !delta.Modified() {
		return "identical\n", nil
	}
	var leftObj map[string]any
	if err := json.Unmarshal(left, &leftObj); err != nil {
		return "", err
	}
	f := formatter.NewAsciiFormatter(leftObj, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	return f.Format(delta)
}
