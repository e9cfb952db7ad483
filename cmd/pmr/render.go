package main

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"pmr-go/internal/pmr"
)

// infoReport is what `pmr info` prints.
type infoReport struct {
	Commit *pmr.CommitInfo `yaml:"commit"`
	Path   string          `yaml:"path"`
	Object pmr.ObjectInfo  `yaml:"object"`
}

func newInfoReport(commit *pmr.CommitInfo, path string, info pmr.ObjectInfo) *infoReport {
	if path == "" {
		path = "/"
	}
	return &infoReport{Commit: commit, Path: path, Object: info}
}

func writeInfo(w io.Writer, r *infoReport, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case "text", "":
		return writeInfoText(w, r)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeInfoText(w io.Writer, r *infoReport) error {
	fmt.Fprintf(w, "commit    %s\n", r.Commit.CommitID)
	fmt.Fprintf(w, "author    %s\n", r.Commit.Author)
	fmt.Fprintf(w, "committer %s\n", r.Commit.Committer)
	fmt.Fprintf(w, "path      %s\n", r.Path)

	switch o := r.Object.(type) {
	case *pmr.FileInfo:
		fmt.Fprintf(w, "size      %d\n", o.Size)
		_, err := fmt.Fprintf(w, "binary    %t\n", o.Binary)
		return err
	case *pmr.TreeInfo:
		fmt.Fprintf(w, "filecount %d\n\n", o.FileCount)
		for _, e := range o.Entries {
			fmt.Fprintf(w, "%s %s %s\t%s\n", e.FileMode, e.Kind, e.ID, e.Name)
		}
		return nil
	default:
		return fmt.Errorf("cannot describe %T", r.Object)
	}
}

// checkBinaryOutput refuses to dump binary blobs onto a terminal.
func checkBinaryOutput(info pmr.ObjectInfo, terminal, force bool) error {
	file, ok := info.(*pmr.FileInfo)
	if !ok {
		return pmr.ErrNotBlob
	}
	if file.Binary && terminal && !force {
		return fmt.Errorf("refusing to write binary content to a terminal (use --force)")
	}
	return nil
}
