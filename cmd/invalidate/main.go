// Command invalidate publishes one dataset invalidation event so every
// running api replica drops its cached brewery set.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/brewery-cache/internal/cache/keys"
	"github.com/mohammed-shakir/brewery-cache/internal/core/config"
	"github.com/mohammed-shakir/brewery-cache/internal/invalidation"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		brokers = flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma separated kafka brokers")
		topic   = flag.String("topic", getenv("KAFKA_TOPIC", "brewery-invalidation"), "invalidation topic")
		op      = flag.String("op", invalidation.OpPurge, "purge or refresh")
		version = flag.Uint64("version", uint64(time.Now().Unix()), "event version; older or equal versions are ignored by consumers")
		key     = flag.String("key", "", "dataset key; empty targets every dataset")
		base    = flag.String("upstream", "", "derive the dataset key from this upstream base url")
		perPage = flag.Int("per-page", 100, "page size used with -upstream")
		source  = flag.String("source", "cli", "free-form origin recorded on the event")
	)
	flag.Parse()

	if *key == "" && *base != "" {
		*key = keys.DatasetKey(strings.TrimRight(*base, "/"), *perPage)
	}

	ev := invalidation.Event{
		Key:     *key,
		Version: *version,
		Op:      strings.ToLower(strings.TrimSpace(*op)),
		TS:      time.Now().UTC(),
		Source:  *source,
	}
	if err := ev.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid event:", err)
		os.Exit(2)
	}

	if err := publish(config.SplitList(*brokers), *topic, ev); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func publish(brokers []string, topic string, ev invalidation.Event) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers given")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(b)}
	if ev.Key != "" {
		msg.Key = sarama.StringEncoder(ev.Key)
	}
	part, off, err := prod.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("published %s version=%d key=%q partition=%d offset=%d\n", ev.Op, ev.Version, ev.Key, part, off)
	return nil
}
