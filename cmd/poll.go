package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bacalhau-project/armpoller/pkg/logger"
	"github.com/bacalhau-project/armpoller/pkg/lro"
	"github.com/bacalhau-project/armpoller/pkg/transport"
)

var (
	pollMethod        string
	pollURLs          []string
	pollBodyFile      string
	pollFinalStateVia string
	pollInterval      time.Duration
	pollTimeout       time.Duration
	pollNoAuth        bool
	pollResumeToken   string
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Start an ARM operation and poll it until it completes",
	Long: `Issues the initial request for each --url, then follows the
long-running-operation contract until a terminal status is reached.
With --resume-token, resumes a previously started operation instead.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)

	pollCmd.Flags().StringVar(&pollMethod, "method", http.MethodPut, "HTTP method of the initial request")
	pollCmd.Flags().StringArrayVar(&pollURLs, "url", nil, "operation URL (repeatable)")
	pollCmd.Flags().StringVar(&pollBodyFile, "body", "", "file holding the initial request body")
	pollCmd.Flags().
		StringVar(&pollFinalStateVia, "final-state-via", "", "azure-async-operation or location")
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "poll interval when no Retry-After is sent")
	pollCmd.Flags().DurationVar(&pollTimeout, "timeout", 0, "overall deadline for all operations")
	pollCmd.Flags().BoolVar(&pollNoAuth, "no-auth", false, "send requests without ARM authentication")
	pollCmd.Flags().StringVar(&pollResumeToken, "resume-token", "", "resume a previous session")
}

func pollOptions() lro.Options {
	opts := lro.DefaultOptions()
	if pollFinalStateVia != "" {
		opts.FinalStateVia = lro.FinalStateVia(pollFinalStateVia)
	}
	if pollInterval > 0 {
		opts.Interval = pollInterval
	}
	return opts
}

func newSender() (transport.Senderer, error) {
	if pollNoAuth {
		return transport.NewHTTPSender(nil), nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire Azure credentials: %w", err)
	}
	return transport.NewARMSender(cred, nil), nil
}

// deserializeJSON is the CLI's resource callback: the payload stays a
// generic JSON value, printing is the only consumer.
func deserializeJSON(resp *http.Response) (any, error) {
	return lro.AsJSON(resp)
}

func runPoll(cmd *cobra.Command, args []string) error {
	log := logger.Get()
	if pollResumeToken == "" && len(pollURLs) == 0 {
		return fmt.Errorf("at least one --url (or --resume-token) is required")
	}

	sender, err := newSender()
	if err != nil {
		return err
	}

	ctx := logger.IntoContext(cmd.Context(), log)
	if pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pollTimeout)
		defer cancel()
	}

	if pollResumeToken != "" {
		poller, err := lro.NewPollerFromResumeToken(
			pollResumeToken, deserializeJSON, sender, pollOptions())
		if err != nil {
			return err
		}
		resource, err := poller.PollUntilDone(ctx)
		if err != nil {
			return err
		}
		return printResource(cmd, resource)
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, operationURL := range pollURLs {
		operationURL := operationURL
		group.Go(func() error {
			resource, err := pollOne(ctx, sender, operationURL)
			if err != nil {
				log.Error("operation failed",
					logger.String("method", pollMethod),
					logger.String("url", operationURL),
					logger.Error(err))
				return err
			}
			return printResource(cmd, resource)
		})
	}
	return group.Wait()
}

// pollOne issues the initial request for one operation and drives it
// to a terminal status.
func pollOne(ctx context.Context, sender transport.Senderer, operationURL string) (any, error) {
	log := logger.FromContext(ctx)

	var body *strings.Reader
	if pollBodyFile != "" {
		raw, err := os.ReadFile(pollBodyFile)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(raw))
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(pollMethod), operationURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-ms-client-request-id", uuid.NewString())

	resp, err := sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Info("operation accepted",
		logger.String("method", req.Method),
		logger.String("url", operationURL),
		logger.Int("status", resp.StatusCode))

	poller, err := lro.NewPoller(resp, deserializeJSON, sender, pollOptions())
	if err != nil {
		return nil, err
	}
	return poller.PollUntilDone(ctx)
}

func printResource(cmd *cobra.Command, resource any) error {
	if resource == nil {
		cmd.Println("operation succeeded with no resource")
		return nil
	}
	out, err := json.MarshalIndent(resource, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
