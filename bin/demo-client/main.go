package main

// demo-client is a command line tool for talking to a demo master. It can
// run the two signing exchanges by hand, check a signed demo against a
// master's published key, and inspect the master's server list.

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/glowlabs-org/demo-master/client"
)

var (
	masterAddr string
	timeout    time.Duration
	retries    int
	gatherTime time.Duration
)

func main() {
	root := &cobra.Command{
		Use:          "demo-client",
		Short:        "Talk to a demo master",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&masterAddr, "master", "m", "127.0.0.1:2342", "UDP address of the demo master")
	root.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "how long to wait for each response")
	root.PersistentFlags().IntVar(&retries, "retries", client.DefaultRetries, "how many times to re-send an unanswered request")
	root.PersistentFlags().DurationVar(&gatherTime, "gather-time", client.DefaultGatherTime, "how long to wait for more packets of a server list")

	root.AddCommand(signStartCmd(), signEndCmd(), verifyCmd(), addCmd(), queryCmd(), metadataCmd())
	// Ctrl-C abandons a request that is still being retried.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newClient() *client.Client {
	r := retries
	if r == 0 {
		r = -1
	}
	return client.New(masterAddr, client.Options{Timeout: timeout, Retries: r, GatherTime: gatherTime})
}
