package cmd

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/cobra"

	"github.com/veldt-db/veldt/internal/store"
)

// NewInspectCmd creates the inspect command: dump the footer of a vector
// file on local disk.
func NewInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <vector-file>",
		Short: "Decode a vector file footer and print its block metas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0])
		},
	}
}

func runInspect(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) < 4 {
		return fmt.Errorf("%s: too short to hold a footer", path)
	}

	footerSize := binary.LittleEndian.Uint32(data[len(data)-4:])
	if int(footerSize)+4 > len(data) {
		return fmt.Errorf("%s: footer size %d exceeds file size %d", path, footerSize, len(data))
	}
	meta, err := store.DecodeFileMeta(data[len(data)-4-int(footerSize) : len(data)-4])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d bytes, %d blocks, %d vectors\n", path, len(data), len(meta.BlockMetas), meta.VectorCount())
	for i, bm := range meta.BlockMetas {
		fmt.Fprintf(out, "  block %3d: ids [%d, %d)  offset %d  size %d\n",
			i, bm.StartVectorID, bm.NextVectorID(), bm.Offset, bm.Size)
	}

	// Verify against the upload-time checksum sidecar when present.
	if sidecar, err := os.ReadFile(path + ".xxh64"); err == nil {
		got := fmt.Sprintf("%016x", xxhash.Sum64(data))
		if got == string(sidecar) {
			fmt.Fprintf(out, "  checksum: ok (%s)\n", got)
		} else {
			return fmt.Errorf("%s: checksum %s does not match sidecar %s", path, got, sidecar)
		}
	}
	return nil
}
