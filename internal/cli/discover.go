package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/extloader/pkg/extension"
)

var discoverCmd = &cobra.Command{
	Use:   "discover [base-path...]",
	Short: "List extension packages under the base paths",
	Long: `List every immediate subdirectory of the base paths that carries an
extension manifest. Without arguments the configured extension paths are
scanned. Nothing is loaded or executed.`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.close()

	d := extension.NewDiscovery(h.zerolog(), h.cfg.Extensions.ManifestFile)
	paths, err := d.FindExtensions(cmd.Context(), h.basePaths(args)...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	return nil
}
