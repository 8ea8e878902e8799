package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	jobsServer  string
	jobsRecords bool
	jobsCancel  bool
)

// jobsCmd talks to a running serve instance over HTTP. Job state lives in the
// server's memory, so there is nothing useful to read from the store directly.
var jobsCmd = &cobra.Command{
	Use:   "jobs [id]",
	Short: "List or inspect generation jobs on a running server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := strings.TrimRight(jobsServer, "/") + "/jobs"
		method := http.MethodGet
		if len(args) == 1 {
			url += "/" + args[0]
			switch {
			case jobsCancel:
				url += "/cancel"
				method = http.MethodPost
			case jobsRecords:
				url += "/records"
			}
		} else if jobsCancel || jobsRecords {
			return eris.New("--cancel and --records require a job id")
		}

		req, err := http.NewRequestWithContext(cmd.Context(), method, url, nil)
		if err != nil {
			return eris.Wrap(err, "jobs: build request")
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return eris.Wrap(err, "jobs: request server")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "jobs: read response")
		}
		if resp.StatusCode >= 400 {
			return eris.Errorf("jobs: server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			pretty.Write(body)
		}
		fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsServer, "server", "http://localhost:8080", "base URL of the running server")
	jobsCmd.Flags().BoolVar(&jobsRecords, "records", false, "fetch the job's generated records")
	jobsCmd.Flags().BoolVar(&jobsCancel, "cancel", false, "cancel the job")
	rootCmd.AddCommand(jobsCmd)
}
