package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the library keyword catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import PATH...",
	Short: "Import library specs (.json, .yaml) from files or directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := newContext()
		defer cancel()

		catalog := completer.Catalog()
		for _, path := range args {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				n, err := catalog.ImportDir(ctx, path)
				fmt.Printf("%s: imported %d libraries\n", path, n)
				if err != nil {
					return err
				}
				continue
			}
			spec, err := catalog.ImportSpecFile(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s: imported %s (%d keywords)\n", path, spec.Name, len(spec.Keywords))
		}
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list [LIBRARY]",
	Short: "List catalog libraries, or the keywords of one library",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := completer.Catalog()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		if len(args) == 1 {
			spec, ok := catalog.Get(args[0])
			if !ok {
				return fmt.Errorf("library %q is not in the catalog", args[0])
			}
			for _, kw := range spec.Keywords {
				fmt.Fprintf(w, "%s\t%v\n", kw.Name, kw.Args)
			}
			return nil
		}
		fmt.Fprintln(w, "LIBRARY\tVERSION\tKEYWORDS\tSOURCE")
		for _, name := range catalog.Libraries() {
			spec, _ := catalog.Get(name)
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", spec.Name, spec.Version, len(spec.Keywords), spec.Source)
		}
		return nil
	},
}

var catalogRemoveCmd = &cobra.Command{
	Use:   "remove LIBRARY",
	Short: "Remove a library from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return completer.Catalog().Delete(args[0])
	},
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd, catalogListCmd, catalogRemoveCmd)
	rootCmd.AddCommand(catalogCmd)
}
