package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonathan/ciencia/internal/structure"
	"github.com/spf13/cobra"
)

var (
	structureOut         string
	structureConcurrency int
)

var structureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Look up proteins and AlphaFold predictions",
}

var structureSearchCmd = &cobra.Command{
	Use:   "search GENE",
	Short: "Search reviewed UniProt entries by gene name",
	Args:  cobra.ExactArgs(1),
	RunE:  runStructureSearch,
}

var structureFetchCmd = &cobra.Command{
	Use:   "fetch UNIPROT_ID...",
	Short: "Download AlphaFold PDB files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStructureFetch,
}

func init() {
	structureFetchCmd.Flags().StringVarP(&structureOut, "out", "o", ".", "Directory for the PDB files")
	structureFetchCmd.Flags().IntVar(&structureConcurrency, "concurrency", 4, "Parallel downloads")
	structureCmd.AddCommand(structureSearchCmd, structureFetchCmd)
	rootCmd.AddCommand(structureCmd)
}

func newStructureClient() (*structure.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return structure.NewClient(
		structure.WithUniProtURL(cfg.Structure.UniProtURL),
		structure.WithAlphaFoldURL(cfg.Structure.AlphaFoldURL),
	), nil
}

func runStructureSearch(cmd *cobra.Command, args []string) error {
	c, err := newStructureClient()
	if err != nil {
		return err
	}
	hits, err := c.SearchGene(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, h := range hits {
		fmt.Fprintf(out, "%s\t%s\t%s\n", h.UniprotID, h.ProteinName, h.Organism)
	}
	return nil
}

func runStructureFetch(cmd *cobra.Command, args []string) error {
	c, err := newStructureClient()
	if err != nil {
		return err
	}
	predictions, err := c.Predictions(cmd.Context(), args, structureConcurrency)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(structureOut, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, p := range predictions {
		path := filepath.Join(structureOut, p.UniprotID+".pdb")
		if err := os.WriteFile(path, []byte(p.PDBData), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}
