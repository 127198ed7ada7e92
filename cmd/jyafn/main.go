// Command jyafn inspects, renders and evaluates compiled-function
// artifacts.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jyafn/jyafn/compiler"
	"github.com/jyafn/jyafn/extension"
	"github.com/jyafn/jyafn/graph"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:           "jyafn",
		Short:         "Work with jyafn function artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log backend activity")
	root.AddCommand(inspectCmd(), renderCmd(), evalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func logger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	extension.SetLogger(l)
	return l
}

func loadGraph(path string, initialize bool) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return graph.Load(data, initialize)
}

func inspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Describe an artifact without loading its extensions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger()
			g, err := loadGraph(args[0], false)
			if err != nil {
				return err
			}
			if asJSON {
				out, err := g.ToJSON()
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("name:      %s\n", g.Name())
			fmt.Printf("nodes:     %d\n", g.NodeCount())
			fmt.Printf("input:     %v\n", g.InputLayout())
			fmt.Printf("output:    %v\n", g.OutputLayout())
			fmt.Printf("mem size:  %s\n", humanize.Bytes(uint64(g.MemSize())))
			for _, m := range g.Mappings() {
				fmt.Printf("mapping:   %s (%d entries, %s)\n",
					m.Name(), m.Len(), humanize.Bytes(uint64(m.MemSize())))
			}
			for _, r := range g.Resources() {
				fmt.Printf("resource:  %s (%s.%s)\n", r.Name(), r.ExtensionName(), r.TypeName())
			}

			meta := g.Metadata()
			keys := make([]string, 0, len(meta))
			for k := range meta {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("meta %s: %s\n", k, meta[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "dump the whole graph as JSON")
	return cmd
}

func renderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <artifact>",
		Short: "Print the IR the artifact compiles to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger()
			g, err := loadGraph(args[0], true)
			if err != nil {
				return err
			}
			text, err := compiler.Render(g)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}

func evalCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "eval <artifact>",
		Short: "Compile an artifact and call it over a JSON input",
		Long: "Compile an artifact and call it over a JSON input, read from " +
			"--input or stdin. The result is printed as JSON.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()

			doc := []byte(input)
			if input == "" {
				var err error
				if doc, err = io.ReadAll(os.Stdin); err != nil {
					return err
				}
			}
			if !json.Valid(doc) {
				return fmt.Errorf("input is not valid JSON")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fn, err := compiler.CompileArtifact(data, compiler.Options{Logger: log})
			if err != nil {
				return err
			}
			defer fn.Close()

			out, err := fn.EvalJSON(doc)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON input document")
	return cmd
}
