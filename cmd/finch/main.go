// Command finch is a thin demonstration CLI over the finch library: open
// a database file and insert, find, scan, or checkpoint it.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/finchdb/finch"
)

func parseObjectID(s string) (finch.ObjectID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return finch.ObjectID{}, err
	}
	if len(b) != 12 {
		return finch.ObjectID{}, fmt.Errorf("object id must be 12 bytes, got %d", len(b))
	}
	var id finch.ObjectID
	copy(id[:], b)
	return id, nil
}

var (
	dbPath string
	logger zerolog.Logger
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:   "finch",
		Short: "finch is an embedded document store",
	}
	root.PersistentFlags().StringVarP(&dbPath, "db", "d", "finch.db", "database file path")

	root.AddCommand(insertCmd(), findCmd(), scanCmd(), checkpointCmd())
	return root
}

func openDB() (*finch.DB, error) {
	cfg := finch.DefaultConfig()
	cfg.Logger = &logger
	return finch.Open(dbPath, cfg)
}

func insertCmd() *cobra.Command {
	var field, value string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "insert a document with a single string field",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			doc := finch.NewDoc()
			doc.Set(field, finch.NewString(value))
			id, err := db.Insert(doc)
			if err != nil {
				return err
			}
			fmt.Println(id.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&field, "field", "value", "field name to set")
	cmd.Flags().StringVar(&value, "value", "", "field value")
	return cmd
}

func findCmd() *cobra.Command {
	var idHex string
	cmd := &cobra.Command{
		Use:   "find",
		Short: "find a document by its hex-encoded object id",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := parseObjectID(idHex)
			if err != nil {
				return err
			}
			doc, ok, err := db.Find(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("not found: %s", idHex)
			}
			for _, f := range doc.Fields {
				fmt.Printf("%s: %v\n", f.Key, f.Value)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&idHex, "id", "", "hex object id")
	return cmd
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "print every document in ascending id order",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			cur, err := db.All()
			if err != nil {
				return err
			}
			defer cur.Close()

			for cur.Valid() {
				doc, err := cur.Document()
				if err != nil {
					return err
				}
				for _, f := range doc.Fields {
					fmt.Printf("%s=%v ", f.Key, f.Value)
				}
				fmt.Println()
				if err := cur.Next(); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "force-fold the journal back into the main file",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Checkpoint()
		},
	}
}
