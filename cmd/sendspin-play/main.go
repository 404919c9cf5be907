// Command sendspin-play is a minimal headless embedder: it connects a
// Session to a server, logs every emitted event, and plays until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"sendspin"
)

const defaultServerPort = "8927"

// normalizeServerAddr accepts host, host:port, IPv6, and ws(s):// URLs and
// returns a canonical ws:// URL (wss:// for wss:// input) for
// Session.Connect.
func normalizeServerAddr(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("server address is required")
	}

	scheme := "ws"
	if strings.HasPrefix(s, "wss://") {
		scheme = "wss"
		s = strings.TrimPrefix(s, "wss://")
	} else if strings.HasPrefix(s, "ws://") {
		s = strings.TrimPrefix(s, "ws://")
	} else if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid server address: %w", err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid server address: missing host")
		}
		s = u.Host
	}

	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}

	host := s
	port := defaultServerPort
	if h, p, err := net.SplitHostPort(s); err == nil {
		host, port = h, p
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if host == "" {
		return "", fmt.Errorf("invalid server address: missing host")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid server port: %q", port)
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(n))), nil
}

func main() {
	var (
		addr     = flag.String("addr", "", "server address (host, host:port, or ws(s):// URL)")
		name     = flag.String("name", "sendspin-play", "display name advertised in client/hello")
		token    = flag.String("token", "", "auth token, if the server requires one")
		volume   = flag.Float64("volume", 1.0, "initial volume, 0.0-1.0")
	)
	flag.Parse()

	target, err := normalizeServerAddr(*addr)
	if err != nil {
		log.Fatalf("[sendspin-play] %v", err)
	}

	cfg := sendspin.DefaultConfig()
	cfg.ClientID = uuid.NewString()
	cfg.DisplayName = *name
	cfg.AuthToken = *token
	cfg.Player.SupportedFormats = []sendspin.AudioFormat{
		{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24},
		{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16},
		{Codec: "flac", SampleRate: 48000, Channels: 2, BitDepth: 16},
		{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16},
	}

	sess := sendspin.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Connect(ctx, target); err != nil {
		log.Fatalf("[sendspin-play] connect: %v", err)
	}
	sess.SetVolume(*volume)

	log.Printf("[sendspin-play] connected to %s", target)

	go func() {
		for ev := range sess.Events() {
			switch ev.Kind {
			case sendspin.EventMetadataReceived:
				log.Printf("[sendspin-play] now playing: %s - %s", ev.Metadata.Artist, ev.Metadata.Title)
			case sendspin.EventStreamStarted:
				log.Printf("[sendspin-play] stream started: %s %dHz/%dch/%dbit",
					ev.Format.Codec, ev.Format.SampleRate, ev.Format.Channels, ev.Format.BitDepth)
			case sendspin.EventStreamEnded:
				log.Printf("[sendspin-play] stream ended")
			case sendspin.EventError:
				log.Printf("[sendspin-play] error: %v", ev.Err)
			default:
				log.Printf("[sendspin-play] event: %s", ev.Kind)
			}
		}
	}()

	<-ctx.Done()
	log.Printf("[sendspin-play] shutting down")
	sess.Disconnect()
}
