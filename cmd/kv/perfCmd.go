package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guildkv/guildkv/cmd/util"
	"github.com/guildkv/guildkv/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for guildKV clusters",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 1000
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfOpsPerTest       = 10000
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	KeyValueCommands.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	KeyValueCommands.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	KeyValueCommands.PersistentFlags().Int(key, 1000, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	KeyValueCommands.PersistentFlags().Int(key, 100, util.WrapString("How many different guilds to use for the tests"))
	key = "ops"
	KeyValueCommands.PersistentFlags().Int(key, 10000, util.WrapString("How many operations to run per benchmark"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfOpsPerTest = viper.GetInt("ops")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for guildKV clusters")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Ops per test: %d\n", perfOpsPerTest)
	fmt.Println()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]metrics.Timer)

	putResult := runBenchmark("put", false, func(getKey func(int) string, counter int) error {
		return putIgnoreRecord(getKey(counter), []byte("test"))
	})
	results["put"] = putResult
	printResult("put", putResult)

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	putLargeResult := runBenchmark("put-large", false, func(getKey func(int) string, counter int) error {
		return putIgnoreRecord(getKey(counter), largeValue)
	})
	results["put-large"] = putLargeResult
	printResult("put-large", putLargeResult)

	getResult := runBenchmark("get", true, func(getKey func(int) string, counter int) error {
		_, _, _, err := rpcCluster.Get(getKey(counter))
		return err
	})
	results["get"] = getResult
	printResult("get", getResult)

	getMissResult := runBenchmark("get-miss", false, func(getKey func(int) string, counter int) error {
		guild := fmt.Sprintf("%s/get-miss-%d", perfKeyPrefix, counter%perfKeySpread)
		_, _, _, err := rpcCluster.Get(guild) // not found expected
		return err
	})
	results["get-miss"] = getMissResult
	printResult("get-miss", getMissResult)

	deleteResult := runBenchmark("delete", true, func(getKey func(int) string, counter int) error {
		return rpcCluster.Delete(getKey(counter))
	})
	results["delete"] = deleteResult
	printResult("delete", deleteResult)

	mixedResult := runBenchmark("mixed", true, func(getKey func(int) string, counter int) error {
		key := getKey(counter)
		switch counter % 4 {
		case 0: // put
			return putIgnoreRecord(key, []byte("test"))
		case 1: // get
			_, _, _, err := rpcCluster.Get(key)
			return err
		case 2: // delete
			return rpcCluster.Delete(key)
		default: // get again
			_, _, _, err := rpcCluster.Get(key)
			return err
		}
	})
	results["mixed"] = mixedResult
	printResult("mixed", mixedResult)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runBenchmark runs op perfOpsPerTest times across perfNumThreads workers
// and samples every call latency into a timer. If seed is set, every test
// guild is written once before the run. All test guilds are deleted after.
func runBenchmark(name string, seed bool, op func(func(int) string, int) error) metrics.Timer {
	timer := metrics.NewTimer()

	if shouldSkip(name) {
		return timer
	}

	// prepare keys
	getKey, iter := getKeys(name)

	// set keys
	if seed {
		iter(func(k string) {
			if err := putIgnoreRecord(k, []byte("test")); err != nil {
				log.Printf("(%s) - error putting guild: %v\n", name, err)
			}
		})
	}

	// split the total op count across the workers
	opsPerThread := perfOpsPerTest / perfNumThreads
	if opsPerThread == 0 {
		opsPerThread = 1
	}

	var wg sync.WaitGroup
	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < opsPerThread; i++ {
				counter := offset + i
				timer.Time(func() {
					if err := op(getKey, counter); err != nil {
						log.Printf("(%s) - error performing operation: %v\n", name, err)
					}
				})
			}
		}(t * opsPerThread)
	}
	wg.Wait()

	// cleanup
	iter(func(k string) {
		if err := rpcCluster.Delete(k); err != nil {
			log.Printf("(%s) - error deleting guild: %v\n", name, err)
		}
	})

	return timer
}

func putIgnoreRecord(guildID string, value []byte) error {
	_, err := rpcCluster.Put(guildID, value)
	return err
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test guilds and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the sampled latencies of a benchmark in a formatted way
func printResult(test string, timer metrics.Timer) {
	if timer.Count() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0f ops/sec\tp50=%s\tp95=%s\tp99=%s\n",
		test,
		timer.RateMean(),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]metrics.Timer, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Count", "OpsPerSec", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, timer := range results {
		skipped := timer.Count() == 0
		ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})

		row := []string{
			test,
			strconv.FormatInt(timer.Count(), 10),
			fmt.Sprintf("%.0f", timer.RateMean()),
			fmt.Sprintf("%.0f", timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatBool(skipped),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
