package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/extloader/pkg/extension"
)

var initRole string

var initCmd = &cobra.Command{
	Use:   "init [base-path...]",
	Short: "Initialize extensions for a role and report the outcome",
	Long: `Run one initialization pass for the worker or webapp role: discover,
load, order by weight and invoke every entry point. Prints the initialized,
failed and excluded extensions along with the mounts and routes they
registered. Modules are released before the command exits.`,
	RunE: runInitPass,
}

func init() {
	initCmd.Flags().StringVar(&initRole, "role", "worker", "role to initialize (worker, webapp)")
	rootCmd.AddCommand(initCmd)
}

func runInitPass(cmd *cobra.Command, args []string) error {
	role, err := extension.ParseRole(initRole)
	if err != nil {
		return err
	}

	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.close()

	p, err := h.runPass(cmd.Context(), role, h.basePaths(args))
	if err != nil {
		return err
	}
	defer p.result.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s)\n", p.result.RunID, role)

	initialized := make([]string, 0, len(p.result.Initialized))
	for _, ext := range p.result.Initialized {
		initialized = append(initialized, fmt.Sprintf("%s (weight %d) %s", ext.Name(), ext.Weight, ext.Path))
	}
	printList(out, "Initialized", initialized)

	failed := make([]string, 0, len(p.result.Failed))
	for _, path := range p.result.Failed {
		failed = append(failed, fmt.Sprintf("%s: %v", path, p.result.Errors[path]))
	}
	printList(out, "Failed", failed)
	printList(out, "Excluded", p.result.Excluded)

	if p.router != nil {
		printList(out, "Mounts", p.router.Mounts())
	}

	routes := make([]string, 0)
	for _, r := range p.rc.ExtensionRoutes() {
		routes = append(routes, fmt.Sprintf("%-6s %s (%s)", r.Method.HTTP(), r.Path, r.Extension))
	}
	printList(out, "Routes", routes)

	flags := make([]string, 0)
	for _, f := range p.rc.TransportMiddlewares() {
		flags = append(flags, fmt.Sprint(f))
	}
	sort.Strings(flags)
	printList(out, "Transport middleware", flags)

	if len(p.result.Failed) > 0 {
		return fmt.Errorf("%d extension(s) failed: %s", len(p.result.Failed), strings.Join(p.result.Failed, ", "))
	}
	return nil
}
