package publish

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dStream/cmd/util"
	"github.com/ValentinKolb/dStream/lib/reliable"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf [stream]",
		Short:   "Measures the confirmed publish throughput of a broker",
		Args:    cobra.ExactArgs(1),
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfMessageSize = 100
	perfNumThreads  = 10
	perfSkip        = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. send,zstd)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines sending in parallel"))
	key = "size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("Size of each message (in bytes)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfMessageSize = viper.GetInt("size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark publishes batches of messages in parallel. One operation is one call of
// send creating the given number of entries, the timer includes waiting for all
// confirmations.
func benchmark(stream, test string, entries int, send func(ctx context.Context, producer *reliable.Producer, batch [][]byte) error) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(test) {
			return
		}

		// prepare messages
		batch := getBatch(viper.GetInt("batch"))

		ctx := context.Background()
		t := &tracker{}
		producer, err := newProducer(ctx, stream, t)
		if err != nil {
			log.Printf("(%s) - error creating producer: %v\n", test, err)
			return
		}

		// cleanup
		b.Cleanup(func() {
			if err := producer.Close(ctx); err != nil {
				log.Printf("(%s) - error closing producer: %v\n", test, err)
			}
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				t.wg.Add(entries)
				if err := send(ctx, producer, batch); err != nil {
					t.wg.Add(-entries)
					log.Printf("(%s) - error sending batch: %v\n", test, err)
				}
			}
		})
		t.wg.Wait()

		b.StopTimer()
		if n := t.unconfirmed.Load() + t.rejected.Load(); n > 0 {
			log.Printf("(%s) - %d entries were not confirmed\n", test, n)
		}
	})
}

func runPerf(_ *cobra.Command, args []string) error {
	stream := args[0]

	fmt.Println("Performance testing tool for stream brokers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(clientConfig.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Batch: %d x %d bytes\n", viper.GetInt("batch"), perfMessageSize)
	fmt.Println()

	fmt.Println("staring tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	sendResult := benchmark(stream, "send", 1, func(ctx context.Context, producer *reliable.Producer, batch [][]byte) error {
		_, err := producer.Send(ctx, batch[0])
		return err
	})

	results["send"] = sendResult
	printResult("send", sendResult)

	batchSendResult := benchmark(stream, "batch-send", viper.GetInt("batch"), func(ctx context.Context, producer *reliable.Producer, batch [][]byte) error {
		_, err := producer.BatchSend(ctx, batch)
		return err
	})

	results["batch-send"] = batchSendResult
	printResult("batch-send", batchSendResult)

	for c := protocol.CompressionNone; c <= protocol.CompressionZstd; c++ {
		result := benchmark(stream, c.String(), 1, func(ctx context.Context, producer *reliable.Producer, batch [][]byte) error {
			_, err := producer.SendCompressed(ctx, batch, c)
			return err
		})

		results[c.String()] = result
		printResult(c.String(), result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, clientConfig); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getBatch creates a batch of messages with a recognizable payload
func getBatch(size int) [][]byte {
	batch := make([][]byte, size)
	for i := range batch {
		msg := make([]byte, perfMessageSize)
		for j := range msg {
			msg[j] = byte('a' + (i+j)%26)
		}
		batch[i] = msg
	}
	return batch
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "Transport", "MaxFrameSize", "TimeoutSec",
		"Threads", "BatchSize", "MessageSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			viper.GetString("transport"),
			strconv.FormatUint(uint64(config.MaxFrameSize), 10),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(viper.GetInt("batch")),
			strconv.Itoa(perfMessageSize),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
