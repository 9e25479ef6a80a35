package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/babelcloud/camcast/config"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewSnapshotCmd creates the 'snapshot' command
func NewSnapshotCmd() *cobra.Command {
	var (
		port   int
		output string
	)

	cmd := &cobra.Command{
		Use:          "snapshot",
		Short:        "Save a single frame from the running server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := fetchSnapshot(fmt.Sprintf("http://localhost:%d", port), output)
			if err != nil {
				return err
			}
			fmt.Printf("Saved %d bytes to %s\n", n, color.CyanString(output))
			return nil
		},
		Example: `  # Save the current frame
  camcast snapshot -o frame.jpg`,
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", config.GetPort(), "Server port")
	flags.StringVarP(&output, "output", "o", "snapshot.jpg", "Output file")

	return cmd
}

// fetchSnapshot downloads one raw frame from baseURL into path.
func fetchSnapshot(baseURL, path string) (int64, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/frame?mode=raw")
	if err != nil {
		return 0, errors.Wrap(err, "server is not reachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, errors.Errorf("snapshot failed: %s: %s", resp.Status, string(body))
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", path)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrapf(err, "failed to write %s", path)
	}
	return n, nil
}
