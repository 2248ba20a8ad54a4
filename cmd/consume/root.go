package consume

import (
	"bufio"
	"context"
	"fmt"
	"github.com/ValentinKolb/dStream/cmd/util"
	"github.com/ValentinKolb/dStream/lib/reliable"
	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

var (
	// ConsumeCmd prints the messages of a stream until it is interrupted
	ConsumeCmd = &cobra.Command{
		Use:   "consume [stream]",
		Short: "Prints the messages of a stream",
		Long: util.WrapString(`Subscribes to a stream and prints every message as offset, tab and payload.
The consumer reconnects transparently and continues after the last printed offset.
With --reference the offset is stored on the broker and --resume continues from it.`),
		Args: cobra.ExactArgs(1),
		RunE: runConsume,
	}
)

func init() {
	// Add flags
	key := "offset"
	ConsumeCmd.Flags().String(key, "next", util.WrapString("where to start (first, last, next or an absolute offset)"))
	key = "since"
	ConsumeCmd.Flags().Duration(key, 0, util.WrapString("start at the first chunk written within this duration, overrides --offset"))
	key = "reference"
	ConsumeCmd.Flags().String(key, "", util.WrapString("consumer reference for storing offsets on the broker"))
	key = "resume"
	ConsumeCmd.Flags().Bool(key, false, util.WrapString("continue after the offset stored for --reference"))
	key = "store-every"
	ConsumeCmd.Flags().Int(key, 100, util.WrapString("store the offset after this many messages (needs --reference, 0 = only on exit)"))
	key = "count"
	ConsumeCmd.Flags().Int(key, 0, util.WrapString("exit after this many messages (0 = run until interrupted)"))
	key = "raw"
	ConsumeCmd.Flags().Bool(key, false, util.WrapString("print only the payload"))
}

// parseOffset converts the offset flags to an offset specification
func parseOffset(offset string, since time.Duration) (protocol.OffsetSpec, error) {
	if since > 0 {
		return protocol.OffsetTimestamp(time.Now().Add(-since)), nil
	}
	switch offset {
	case "first":
		return protocol.OffsetFirst(), nil
	case "last":
		return protocol.OffsetLast(), nil
	case "next":
		return protocol.OffsetNext(), nil
	}
	n, err := strconv.ParseUint(offset, 10, 64)
	if err != nil {
		return protocol.OffsetSpec{}, fmt.Errorf("offset must be first, last, next or a number: %w", err)
	}
	return protocol.OffsetAt(n), nil
}

// resumeOffset looks up the stored offset of the reference and returns the offset after it.
// Without a stored offset the fallback is used.
func resumeOffset(ctx context.Context, conn *client.Connection, reference, stream string, fallback protocol.OffsetSpec) (protocol.OffsetSpec, error) {
	stored, err := conn.QueryOffset(ctx, reference, stream)
	if client.IsResponseCode(err, protocol.ResponseCodeOffsetNotFound) {
		return fallback, nil
	}
	if err != nil {
		return protocol.OffsetSpec{}, err
	}
	return protocol.OffsetAt(stored + 1), nil
}

func runConsume(cmd *cobra.Command, args []string) error {
	config, connector, err := util.Setup(cmd)
	if err != nil {
		return err
	}
	stream := args[0]
	reference := viper.GetString("reference")
	storeEvery := viper.GetInt("store-every")
	count := viper.GetInt("count")
	raw := viper.GetBool("raw")

	offset, err := parseOffset(viper.GetString("offset"), viper.GetDuration("since"))
	if err != nil {
		return err
	}
	if viper.GetBool("resume") && reference == "" {
		return fmt.Errorf("--resume needs --reference")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("resume") {
		conn, err := client.Connect(ctx, *config, connector)
		if err != nil {
			return err
		}
		offset, err = resumeOffset(ctx, conn, reference, stream, offset)
		_ = conn.Close(ctx)
		if err != nil {
			return err
		}
	}

	out := bufio.NewWriter(os.Stdout)
	var (
		mu       sync.Mutex
		received int
		unstored int
		last     uint64
		consumer *reliable.Consumer
	)
	finished := make(chan struct{})
	var finishOnce sync.Once

	onMessage := func(msg protocol.MsgEntry) {
		mu.Lock()
		defer mu.Unlock()

		if count > 0 && received >= count {
			return
		}
		if raw {
			out.Write(msg.Data)
			out.WriteByte('\n')
		} else {
			fmt.Fprintf(out, "%d\t%s\n", msg.Offset, msg.Data)
		}
		received++
		unstored++
		last = msg.Offset

		if reference != "" && storeEvery > 0 && unstored >= storeEvery && consumer != nil {
			if err := consumer.StoreOffset(msg.Offset); err == nil {
				unstored = 0
			}
		}
		if count > 0 && received >= count {
			_ = out.Flush()
			finishOnce.Do(func() { close(finished) })
		} else if out.Buffered() > 32*1024 {
			_ = out.Flush()
		}
	}

	c, err := reliable.NewConsumer(ctx, *config, connector, reliable.ConsumerConfig{
		Stream:    stream,
		Reference: reference,
		Offset:    offset,
		OnMessage: onMessage,
	})
	if err != nil {
		return err
	}
	mu.Lock()
	consumer = c
	mu.Unlock()

	// flush periodically so slow streams show up promptly
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			mu.Lock()
			_ = out.Flush()
			mu.Unlock()
		case <-finished:
			break loop
		case <-ctx.Done():
			break loop
		case <-c.Done():
			break loop
		}
	}

	// store the last printed offset before closing, the consumer may be ahead of it
	mu.Lock()
	if reference != "" && received > 0 && unstored > 0 {
		if err := c.StoreOffset(last); err != nil {
			fmt.Fprintf(os.Stderr, "failed to store offset %d: %v\n", last, err)
		}
	}
	_ = out.Flush()
	mu.Unlock()

	closeErr := c.Close(context.Background())

	if err := c.Err(); err != nil {
		return err
	}
	return closeErr
}
