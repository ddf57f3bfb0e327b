package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/route-beacon/bmp-proxy/internal/bmp"
	"github.com/route-beacon/bmp-proxy/internal/kafka"
)

func main() {
	broker := "localhost:29092"
	topic := "bmp.raw"
	if len(os.Args) > 1 {
		broker = os.Args[1]
	}
	if len(os.Args) > 2 {
		topic = os.Args[2]
	}

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.ConsumerGroup(fmt.Sprintf("debug-raw-%d", time.Now().UnixNano())),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kafka client: %v\n", err)
		os.Exit(1)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgNum := 0
	for {
		fetches := cl.PollRecords(ctx, 100)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			msgNum++
			fmt.Printf("=== Kafka msg %d (partition=%d offset=%d key=%q, %d bytes) ===\n",
				msgNum, rec.Partition, rec.Offset, rec.Key, len(rec.Value))

			analyzeRecord(rec)
			fmt.Println()
		})

		if msgNum > 0 && len(fetches.Records()) == 0 {
			break
		}
	}

	fmt.Printf("Total Kafka messages: %d\n", msgNum)
}

func analyzeRecord(rec *kgo.Record) {
	value, err := kafka.RawValue(rec)
	if err != nil {
		fmt.Printf("  RawValue error: %v\n", err)
		return
	}

	frame, err := bmp.DecodeOpenBMPFrame(value, 16*1024*1024)
	if err != nil {
		fmt.Printf("  DecodeOpenBMPFrame error: %v\n", err)
		return
	}
	fmt.Printf("  BMP payload: %d bytes (collector hash %08x)\n", len(frame.BMPBytes), frame.CollectorHash)

	frames, err := bmp.SplitMessages(frame.BMPBytes)
	if err != nil {
		fmt.Printf("  SplitMessages error: %v\n", err)
	}
	fmt.Printf("  BMP messages in payload: %d\n", len(frames))

	for i, f := range frames {
		data := f.Bytes(frame.BMPBytes)
		fmt.Printf("\n  --- BMP msg %d (offset=%d) ---\n", i, f.Offset)

		m, err := bmp.DecodeMessage(data, bmp.SinkFunc(func(d bmp.Diagnostic) {
			fmt.Printf("    diagnostic: stage=%s field=%q offset=%d err=%v\n", d.Stage, d.Field, d.Offset, d.Err)
		}))
		if m == nil {
			fmt.Printf("    DecodeMessage error: %v\n", err)
			fmt.Printf("    Header hex: %s\n", hex.EncodeToString(data[:min(len(data), bmp.PayloadOffset)]))
			continue
		}
		fmt.Printf("    MsgType:    %d (%s)\n", m.Type, bmp.MsgTypeName(m.Type))

		if p := m.Peer; p != nil {
			fmt.Printf("    PeerType:   %d (LocRIB=%v)\n", p.Type, p.IsLocRIB())
			fmt.Printf("    PeerFlags:  0x%02x (PostPolicy=%v)\n", p.Flags, p.IsPostPolicy())
			fmt.Printf("    Peer:       %s AS%d bgp-id %s\n", p.AddressString(), p.AS, p.BGPIDString())
			fmt.Printf("    RouterID:   %q\n", p.RouterID())
		}
		if name := m.TableName(); name != "" {
			fmt.Printf("    TableName:  %q\n", name)
		}
		if name := m.SysName(); name != "" {
			fmt.Printf("    SysName:    %q\n", name)
		}
		if err != nil {
			fmt.Printf("    DecodeMessage error: %v\n", err)
		}

		if m.BGP == nil || m.BGP.Update == nil {
			continue
		}
		u := m.BGP.Update
		if u.IsEndOfRIB() {
			fmt.Println("    EOR")
			continue
		}
		fmt.Printf("    Withdrawn: %d, NLRI: %d\n", len(u.Withdrawn), len(u.NLRI))
		for j, p := range u.NLRI {
			if j < 5 || j == len(u.NLRI)-1 {
				fmt.Printf("      [%d] %s\n", j, p)
			} else if j == 5 {
				fmt.Printf("      ... (%d more) ...\n", len(u.NLRI)-6)
			}
		}
	}
}
