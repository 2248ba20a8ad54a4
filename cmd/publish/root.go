package publish

import (
	"bufio"
	"context"
	"fmt"
	"github.com/ValentinKolb/dStream/cmd/util"
	"github.com/ValentinKolb/dStream/lib/reliable"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"sync"
	"sync/atomic"
)

var (
	clientConfig *common.ClientConfig
	connector    transport.IClientConnector
	codec        = protocol.CompressionNone

	// PublishCmd publishes messages from the arguments or from stdin (one per line)
	PublishCmd = &cobra.Command{
		Use:   "publish [stream] [message...]",
		Short: "Publishes messages to a stream",
		Long: util.WrapString(`Publishes every argument after the stream name as one message.
Without message arguments every line read from stdin is published.
The command waits until the broker confirmed all messages.`),
		Args:              cobra.MinimumNArgs(1),
		PersistentPreRunE: setupPublish,
		RunE:              runPublish,
	}
)

func init() {
	// Add subcommands
	PublishCmd.AddCommand(perfTestCmd)

	// Add flags
	key := "compression"
	PublishCmd.PersistentFlags().String(key, "none", util.WrapString("compress batches as one sub-entry (none, gzip, snappy, lz4, zstd)"))
	key = "batch"
	PublishCmd.PersistentFlags().Int(key, 100, util.WrapString("How many messages are sent in one frame"))
	key = "reference"
	PublishCmd.PersistentFlags().String(key, "", util.WrapString("producer reference for deduplication on the broker"))
}

// setupPublish reads the client configuration and the publish flags
func setupPublish(cmd *cobra.Command, _ []string) error {
	var err error
	clientConfig, connector, err = util.Setup(cmd)
	if err != nil {
		return err
	}

	codec, err = protocol.ParseCompressionType(viper.GetString("compression"))
	if err != nil {
		return err
	}
	if viper.GetInt("batch") < 1 {
		return fmt.Errorf("batch must be at least 1")
	}
	return nil
}

// --------------------------------------------------------------------------
// Confirmation tracking
// --------------------------------------------------------------------------

// tracker counts the outcome of every sent entry
type tracker struct {
	wg          sync.WaitGroup
	confirmed   atomic.Int64
	rejected    atomic.Int64
	unconfirmed atomic.Int64
}

func (t *tracker) onConfirm(c reliable.Confirmation) {
	switch c.Status {
	case reliable.Confirmed:
		t.confirmed.Add(int64(len(c.Messages)))
	case reliable.Rejected:
		t.rejected.Add(int64(len(c.Messages)))
		fmt.Fprintf(os.Stderr, "entry %d rejected: %s\n", c.PublishingID, c.Code)
	default:
		t.unconfirmed.Add(int64(len(c.Messages)))
	}
	t.wg.Done()
}

// send sends one frame and registers the entries it creates
func (t *tracker) send(ctx context.Context, producer *reliable.Producer, messages [][]byte) error {
	if codec != protocol.CompressionNone {
		t.wg.Add(1)
		if _, err := producer.SendCompressed(ctx, messages, codec); err != nil {
			t.wg.Done()
			return err
		}
		return nil
	}

	t.wg.Add(len(messages))
	if _, err := producer.BatchSend(ctx, messages); err != nil {
		t.wg.Add(-len(messages))
		return err
	}
	return nil
}

// newProducer creates a producer that reports to t
func newProducer(ctx context.Context, stream string, t *tracker) (*reliable.Producer, error) {
	return reliable.NewProducer(ctx, *clientConfig, connector, reliable.ProducerConfig{
		Stream:    stream,
		Reference: viper.GetString("reference"),
		OnConfirm: t.onConfirm,
		OnClosed: func(err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "producer closed: %v\n", err)
			}
		},
	})
}

// --------------------------------------------------------------------------
// Publish command
// --------------------------------------------------------------------------

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stream := args[0]

	t := &tracker{}
	producer, err := newProducer(ctx, stream, t)
	if err != nil {
		return err
	}
	if ref := viper.GetString("reference"); ref != "" {
		fmt.Fprintf(os.Stderr, "continuing after publishing id %d of %s\n", producer.LastPublishingID(), ref)
	}

	batchSize := viper.GetInt("batch")
	batch := make([][]byte, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := t.send(ctx, producer, batch)
		batch = make([][]byte, 0, batchSize)
		return err
	}

	if len(args) > 1 {
		for _, msg := range args[1:] {
			batch = append(batch, []byte(msg))
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), int(clientConfig.MaxFrameSize))
		for scanner.Scan() {
			batch = append(batch, append([]byte(nil), scanner.Bytes()...))
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}
	if err := flush(); err != nil {
		return err
	}

	// wait for the broker before closing, Close reports everything left as unconfirmed
	t.wg.Wait()
	if err := producer.Close(context.Background()); err != nil {
		return err
	}

	fmt.Printf("%d confirmed, %d rejected, %d unconfirmed\n", t.confirmed.Load(), t.rejected.Load(), t.unconfirmed.Load())
	if t.rejected.Load() > 0 || t.unconfirmed.Load() > 0 {
		return fmt.Errorf("not all messages were confirmed")
	}
	return nil
}
