package exporter

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"pulpfile/pkg/core"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/types"
)

// PrintObject describes any stored object in human readable form.
func (e *Exporter) PrintObject(ctx context.Context, hash types.Hash, w io.Writer) error {
	data, err := storage.ReadAll(ctx, e.store, hash)
	if err != nil {
		return err
	}
	ok, err := PrintStructure(data, w)
	if err != nil || ok {
		return err
	}
	fmt.Fprintf(w, "Type: Raw\nSize: %s\n\n", fmtSize(int64(len(data))))
	if isText(data) {
		_, err = w.Write(data)
		return err
	}
	fmt.Fprintf(w, "(binary data not shown)\n")
	return nil
}

// PrintStructure prints a structured object (tree, filenode, snapshot).
// It returns false for raw data such as chunks and manifests.
func PrintStructure(data []byte, w io.Writer) (bool, error) {
	var header struct {
		TypeVal core.ObjectType `cbor:"t"`
	}
	if err := core.DecodeObject(data, &header); err != nil {
		return false, nil
	}

	switch header.TypeVal {
	case core.TypeTree:
		return true, printTree(data, w)
	case core.TypeFileNode:
		return true, printFileNode(data, w)
	case core.TypeSnapshot:
		return true, printSnapshot(data, w)
	default:
		return false, nil
	}
}

func printTree(data []byte, w io.Writer) error {
	var t core.Tree
	if err := core.DecodeObject(data, &t); err != nil {
		return err
	}
	fmt.Fprintf(w, "Type: Tree\n\n")
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "TYPE\tHASH\tSIZE\tNAME\n")
	for _, entry := range t.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.Type, short(entry.Cid.Hash), fmtSize(entry.Size), entry.Name)
	}
	return tw.Flush()
}

func printFileNode(data []byte, w io.Writer) error {
	var f core.FileNode
	if err := core.DecodeObject(data, &f); err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:      FileNode\n")
	fmt.Fprintf(w, "Digest:    %s\n", f.Digest)
	fmt.Fprintf(w, "TotalSize: %s\n", fmtSize(f.TotalSize))
	fmt.Fprintf(w, "Chunks:    %d\n", len(f.Chunks))
	return nil
}

func printSnapshot(data []byte, w io.Writer) error {
	var s core.Snapshot
	if err := core.DecodeObject(data, &s); err != nil {
		return err
	}
	fmt.Fprintf(w, "Type:  Snapshot\nUnits: %d\n\n", len(s.Entries))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "DIGEST\tSIZE\tPATH\n")
	for _, e := range s.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", short(types.Hash(e.Digest)), fmtSize(e.Size), e.Path)
	}
	return tw.Flush()
}

func short(h types.Hash) string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

func isText(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

func fmtSize(s int64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
