package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/extloader/pkg/extension"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <package-path>",
	Short: "Show the manifest and metadata of one extension package",
	Long: `Parse and validate the manifest and metadata of a single extension
package. Entry modules are resolved but never loaded.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(inspectCmd)
}

type inspection struct {
	Path        string             `json:"path"`
	Name        string             `json:"name"`
	Version     string             `json:"version,omitempty"`
	Description string             `json:"description,omitempty"`
	Weight      int                `json:"weight"`
	Worker      string             `json:"worker,omitempty"`
	Webapp      string             `json:"webapp,omitempty"`
	Static      string             `json:"static"`
	Manifest    extension.Manifest `json:"manifest"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.close()

	dir := filepath.Clean(args[0])
	ml := extension.NewManifestLoader(h.zerolog(), h.cfg.Extensions.ManifestFile, h.cfg.Extensions.MetadataFile)

	manifest, err := ml.LoadManifest(dir)
	if err != nil {
		return err
	}
	metadata, err := ml.LoadMetadata(dir)
	if err != nil {
		return err
	}

	ext := &extension.Extension{Path: dir, Manifest: *manifest, Metadata: *metadata, Weight: manifest.WeightOrDefault()}
	info := inspection{
		Path:        ext.Path,
		Name:        ext.Name(),
		Version:     metadata.Version,
		Description: metadata.Description,
		Weight:      ext.Weight,
		Static:      ext.StaticDir(),
		Manifest:    *manifest,
	}
	if manifest.Worker != "" {
		info.Worker = filepath.Join(dir, manifest.Worker)
	}
	if manifest.Webapp != "" {
		info.Webapp = filepath.Join(dir, manifest.Webapp)
	}

	out := cmd.OutOrStdout()
	if inspectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", info.Name)
	fmt.Fprintf(tw, "Version:\t%s\n", orNone(info.Version))
	fmt.Fprintf(tw, "Path:\t%s\n", info.Path)
	fmt.Fprintf(tw, "Weight:\t%d\n", info.Weight)
	fmt.Fprintf(tw, "Worker:\t%s\n", orNone(info.Worker))
	fmt.Fprintf(tw, "Webapp:\t%s\n", orNone(info.Webapp))
	fmt.Fprintf(tw, "Static:\t%s\n", info.Static)
	return tw.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
