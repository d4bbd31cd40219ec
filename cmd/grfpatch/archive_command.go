package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/korean"

	"grfpatch/internal/fileutil"
	"grfpatch/internal/grf"
	"grfpatch/internal/logging"
)

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect GRF archives",
		Long: "Inspect GRF archives. Commands default to the configured client archive;\n" +
			"pass --file to inspect another one.",
	}

	var archiveFlag string
	archiveCmd.PersistentFlags().StringVarP(&archiveFlag, "file", "f", "", "Archive path (defaults to the configured archive)")
	resolve := func() (string, error) {
		if path := strings.TrimSpace(archiveFlag); path != "" {
			return path, nil
		}
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return "", err
		}
		return cfg.ArchivePath(), nil
	}

	archiveCmd.AddCommand(newArchiveInfoCommand(resolve))
	archiveCmd.AddCommand(newArchiveListCommand(resolve))
	archiveCmd.AddCommand(newArchiveExtractCommand(resolve))

	return archiveCmd
}

func newArchiveInfoCommand(resolve func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the archive header",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			header, index, err := grf.Open(path, logging.NewNop())
			if err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			var stored, compressed int64
			encrypted := 0
			for _, entry := range index {
				stored += int64(entry.RealSize)
				compressed += int64(entry.CompressedSizeAligned)
				if entry.Encrypted() {
					encrypted++
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Archive:       %s\n", path)
			fmt.Fprintf(out, "File size:     %s\n", humanize.IBytes(uint64(info.Size())))
			fmt.Fprintf(out, "Version:       0x%X\n", header.Version)
			fmt.Fprintf(out, "Entries:       %s\n", humanize.Comma(int64(header.RealFileCount())))
			fmt.Fprintf(out, "Encrypted:     %s\n", humanize.Comma(int64(encrypted)))
			fmt.Fprintf(out, "Payload:       %s (%s compressed)\n", humanize.IBytes(uint64(stored)), humanize.IBytes(uint64(compressed)))
			fmt.Fprintf(out, "Table offset:  %d\n", header.FileTableOffset)
			fmt.Fprintf(out, "Seed:          %d\n", header.Seed)
			fmt.Fprintf(out, "Key:           %s\n", hex.EncodeToString(header.Key[:]))
			return nil
		},
	}
}

func newArchiveListCommand(resolve func() (string, error)) *cobra.Command {
	var match string
	var cp949 bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List archive entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			_, index, err := grf.Open(path, logging.NewNop())
			if err != nil {
				return err
			}

			needle := strings.ToLower(strings.TrimSpace(match))
			var rows [][]string
			var total int64
			for _, entry := range index.Sorted() {
				name := displayName(entry.Name, cp949)
				if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
					continue
				}
				total += int64(entry.RealSize)
				rows = append(rows, []string{
					name,
					humanize.IBytes(uint64(entry.RealSize)),
					humanize.IBytes(uint64(entry.CompressedSize)),
					flagLabel(entry.Flags),
				})
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No matching entries")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Name", "Size", "Compressed", "Flags"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				fmt.Sprintf("%s entries, %s", humanize.Comma(int64(len(rows))), humanize.IBytes(uint64(total))),
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "Only list entries whose name contains this text")
	cmd.Flags().BoolVar(&cp949, "cp949", false, "Decode entry names from CP949 (Korean clients)")
	return cmd
}

func newArchiveExtractCommand(resolve func() (string, error)) *cobra.Command {
	var outDir string
	var cp949 bool

	cmd := &cobra.Command{
		Use:   "extract <entry>...",
		Short: "Extract entries to a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			_, index, err := grf.Open(path, logging.NewNop())
			if err != nil {
				return err
			}
			reader := grf.NewReader(path, logging.NewNop())

			out := cmd.OutOrStdout()
			var failed []string
			for _, name := range args {
				entry, ok := index.Lookup(name)
				if !ok {
					fmt.Fprintf(out, "%s: not in archive\n", name)
					failed = append(failed, name)
					continue
				}
				data, err := reader.ReadEntry(entry)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", name, err)
					failed = append(failed, name)
					continue
				}
				rel := filepath.FromSlash(strings.ReplaceAll(displayName(entry.Name, cp949), `\`, "/"))
				dst, err := fileutil.SafeJoin(outDir, rel)
				if err != nil {
					return fmt.Errorf("extract %s: %w", name, err)
				}
				if _, err := fileutil.WriteStream(dst, bytes.NewReader(data), 0o644); err != nil {
					return fmt.Errorf("extract %s: %w", name, err)
				}
				fmt.Fprintf(out, "%s -> %s (%s)\n", entry.Name, dst, humanize.IBytes(uint64(len(data))))
			}
			if len(failed) > 0 {
				return fmt.Errorf("could not extract %d of %d entries: %s", len(failed), len(args), strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Destination directory")
	cmd.Flags().BoolVar(&cp949, "cp949", false, "Decode entry names from CP949 when writing files")
	return cmd
}

// displayName decodes a raw entry name. Names that are not valid CP949 are
// shown unchanged.
func displayName(name string, cp949 bool) string {
	if !cp949 {
		return name
	}
	decoded, err := korean.EUCKR.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return decoded
}

func flagLabel(flags grf.Flag) string {
	var parts []string
	if flags.Has(grf.FlagFile) {
		parts = append(parts, "file")
	}
	if flags.Has(grf.FlagMixedCipher) {
		parts = append(parts, "mixed")
	}
	if flags.Has(grf.FlagLegacyCipher) {
		parts = append(parts, "legacy")
	}
	if len(parts) == 0 {
		return "dir"
	}
	return strings.Join(parts, ",")
}
