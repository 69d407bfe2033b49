package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"udpbench/capture"
	"udpbench/report"
	"udpbench/rtt"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect capture.pcap",
	Short: "Compute RTT statistics from a packet capture.",
	Long: "`inspect` reads a pcap or pcapng file, pairs the requests sent by " +
		"--client with the responses sent back to it, and prints the RTT " +
		"statistics using the capture timestamps.",
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("client", "", "client address as ip or ip:port")
	inspectCmd.Flags().String("raw", "", "write the RTT samples to this CSV file")
	_ = inspectCmd.MarkFlagRequired("client")
}

func runInspect(cmd *cobra.Command, args []string) error {
	clientAddr, _ := cmd.Flags().GetString("client")
	rawPath, _ := cmd.Flags().GetString("raw")

	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "open capture")
	}
	defer f.Close()

	table, res, err := capture.Analyze(f, clientAddr)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "packets %d, requests %d, responses %d, skipped %d\n",
		res.Packets, res.Requests, res.Responses, res.Skipped)

	samples := table.Snapshot()
	if rawPath != "" {
		if err := report.WriteRaw(rawPath, samples); err != nil {
			return err
		}
	}

	st, err := rtt.Evaluate(samples)
	if err != nil {
		return errors.Wrap(err, "evaluate round trips")
	}
	fmt.Fprintf(out, "completed %d of %d\n", st.Count, table.Len())
	fmt.Fprintf(out, "average %.2f us\nmedian %d us\nmin %d us\nmax %d us\nvariance %.2f\nstddev %.2f us\np95 %d us\n",
		st.Mean, st.Median, st.Min, st.Max, st.Variance, st.StdDev, st.P95)
	return nil
}
