package chanscan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// NoOpLogger discards every message. It is the default when no logger
// is configured.
type NoOpLogger struct{}

func (NoOpLogger) Log(ChannelMessage) {}

// DebugLogger writes every message to the standard logger, selected by
// logger type "debug".
type DebugLogger struct{}

func (DebugLogger) Log(msg ChannelMessage) {
	log.Printf("chanscan: channel event: %+v", msg)
}

// FixedFieldLogger appends one fixed-width text record per message to a
// file, matching ham2mon's FixedField format exactly:
//
//	YYYY-MM-DD, HH:MM:SS.ffffff: SSSS<4>FFFFFFFFFF<10>CC<2>
type FixedFieldLogger struct {
	Path string
}

// NewFixedFieldLogger returns a logger bound to path; it does not touch
// the file. Each Log call opens the file for append (creating it if
// necessary) and closes it again, matching the source's open-per-write
// semantics, so external rotation is safe.
func NewFixedFieldLogger(path string) *FixedFieldLogger {
	return &FixedFieldLogger{Path: path}
}

func (l *FixedFieldLogger) Log(msg ChannelMessage) {
	now := time.Now()
	line := fmt.Sprintf("%s: %-4s%-10v%-2d\n",
		now.Format("2006-01-02, 15:04:05.000000"),
		msg.State, msg.RF, msg.Channel)

	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("chanscan: fixed-field logger: open %s: %v", l.Path, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		log.Printf("chanscan: fixed-field logger: write %s: %v", l.Path, err)
	}
}

// jsonHTTPClientTimeout bounds one post-and-wait-for-response round trip.
// It is unrelated to ChannelLoggerConfig.Timeout (the §4.6 act-repeat
// interval, consumed by ActivityPipeline) — ham2mon's JsonToServer has no
// request timeout of its own either, so there is no source value to pull
// this from; a fixed sane bound stands in for it.
const jsonHTTPClientTimeout = 10 * time.Second

// JSONHTTPLogger posts each message as a JSON body to a remote HTTP
// endpoint, matching ham2mon's JsonToServer logger. Delivery failures of
// any kind (connection, timeout, non-2xx) are logged and dropped.
type JSONHTTPLogger struct {
	Endpoint string
	Client   *http.Client
}

// NewJSONHTTPLogger builds a logger posting to endpoint.
func NewJSONHTTPLogger(endpoint string) *JSONHTTPLogger {
	return &JSONHTTPLogger{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: jsonHTTPClientTimeout},
	}
}

func (l *JSONHTTPLogger) Log(msg ChannelMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		log.Printf("chanscan: json-http logger: marshal: %v", err)
		return
	}

	resp, err := l.Client.Post(l.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("chanscan: json-http logger: post to %s: %v", l.Endpoint, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("chanscan: json-http logger: %s returned %s", l.Endpoint, resp.Status)
	}
}

// MultiLogger fans a single ChannelMessage out to several loggers, for
// running e.g. a json-http logger and the MQTT publisher side by side.
type MultiLogger []ChannelLogger

func (m MultiLogger) Log(msg ChannelMessage) {
	for _, l := range m {
		l.Log(msg)
	}
}

// ChannelLoggerConfig mirrors ham2mon's ChannelLogParams: the command
// line / config shape selecting a logger. ChannelLogParams.timeout in the
// original is the §4.6 act-repeat interval, not a property of any one
// logger type — it is threaded through to ActivityPipeline.LogTimeout
// instead of being consumed here.
type ChannelLoggerConfig struct {
	Type   string // "fixed-field", "json-http", "debug", "" (no-op)
	Target string
}

// NewChannelLogger is the factory matching ChannelLogger.get_logger.
func NewChannelLogger(cfg ChannelLoggerConfig) ChannelLogger {
	switch cfg.Type {
	case "fixed-field":
		return NewFixedFieldLogger(cfg.Target)
	case "json-http":
		return NewJSONHTTPLogger(cfg.Target)
	case "debug":
		return DebugLogger{}
	default:
		return NoOpLogger{}
	}
}
