package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shehackedyou/kwcomplete"
)

var (
	proposeLine   int
	proposeCol    int
	proposePrefix string
	proposeFormat string
)

var proposeCmd = &cobra.Command{
	Use:   "propose FILE",
	Short: "List undefined keywords that could be defined at a position",
	Long: `Lists the keywords FILE calls that nothing it imports defines.

With --line and --col (1-based) the cursor must be at a keyword definition name and
the name typed so far becomes the prefix. Otherwise --prefix filters the list.`,
	Args: cobra.ExactArgs(1),
	RunE: runPropose,
}

func init() {
	proposeCmd.Flags().IntVar(&proposeLine, "line", 0, "Cursor line (1-based)")
	proposeCmd.Flags().IntVar(&proposeCol, "col", 0, "Cursor column (1-based, UTF-16 units)")
	proposeCmd.Flags().StringVar(&proposePrefix, "prefix", "", "Case-insensitive name prefix, used without --line")
	proposeCmd.Flags().StringVar(&proposeFormat, "format", "human", "Output format (human, json)")
	rootCmd.AddCommand(proposeCmd)
}

type proposalJSON struct {
	Keyword string   `json:"keyword"`
	Callers []string `json:"callers"`
}

func runPropose(cmd *cobra.Command, args []string) error {
	ctx, cancel := newContext()
	defer cancel()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	req := kwcomplete.CompletionRequest{File: path, Prefix: proposePrefix}
	if proposeLine > 0 {
		content, err := completer.Content(path)
		if err != nil {
			return err
		}
		col := max(proposeCol-1, 0)
		_, _, offset, err := kwcomplete.LspPositionToBytePosition(content, kwcomplete.LSPPosition{Line: uint32(proposeLine - 1), Character: uint32(col)})
		if err != nil {
			return err
		}
		lines, err := completer.Lines(ctx, path)
		if err != nil {
			return err
		}
		at, ok := kwcomplete.KeywordContextAt(lines, offset)
		if !ok {
			return fmt.Errorf("%s:%d:%d is not at a keyword definition name", args[0], proposeLine, proposeCol)
		}
		at.File = path
		req = at
	}

	candidates, err := completer.ProposeKeywordDefinitions(ctx, req)
	if err != nil {
		return err
	}

	switch proposeFormat {
	case "json":
		out := make([]proposalJSON, 0, len(candidates))
		for _, c := range candidates {
			p := proposalJSON{Keyword: c.Text, Callers: make([]string, 0, len(c.Callers))}
			for _, caller := range c.Callers {
				p.Callers = append(p.Callers, caller.String())
			}
			out = append(out, p)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "human":
		for i, c := range candidates {
			if i > 0 {
				fmt.Println()
			}
			fmt.Println(c.Text)
			fmt.Println(c.Provenance())
		}
		return nil
	}
	return fmt.Errorf("unknown format %q", proposeFormat)
}
