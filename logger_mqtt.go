package chanscan

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTLoggerConfigTLS mirrors the teacher's MQTTTLSConfig shape
// (mqtt_publisher.go), trimmed to what a single-topic publisher needs.
type MQTTLoggerConfigTLS struct {
	Enabled            bool
	CACert             string
	ClientCert         string
	ClientKey          string
	InsecureSkipVerify bool
}

// MQTTLogger is a ChannelLogger variant that publishes each
// ChannelMessage as a JSON payload to one MQTT topic, adapted from the
// teacher's MQTTPublisher client setup (mqtt_publisher.go) down to a
// single-purpose publisher rather than a metrics fan-out.
type MQTTLogger struct {
	client mqtt.Client
	topic  string
	qos    byte
	retain bool
}

func generateMQTTClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "chanscand_" + hex.EncodeToString(b)
}

func loadMQTTTLSConfig(cfg MQTTLoggerConfigTLS) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// NewMQTTLogger connects to broker and returns a logger bound to topic.
func NewMQTTLogger(broker, clientID, username, password, topic string, qos byte, retain bool, tlsCfg MQTTLoggerConfigTLS) (*MQTTLogger, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if clientID == "" {
		clientID = generateMQTTClientID()
	}
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if tlsCfg.Enabled {
		tc, err := loadMQTTTLSConfig(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tc)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("chanscan: mqtt logger connected to %s", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("chanscan: mqtt logger connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}

	return &MQTTLogger{client: client, topic: topic, qos: qos, retain: retain}, nil
}

func (l *MQTTLogger) Log(msg ChannelMessage) {
	if !l.client.IsConnected() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("chanscan: mqtt logger: marshal: %v", err)
		return
	}
	token := l.client.Publish(l.topic, l.qos, l.retain, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("chanscan: mqtt logger: publish to %s: %v", l.topic, token.Error())
		}
	}()
}

// Disconnect gracefully closes the MQTT connection.
func (l *MQTTLogger) Disconnect() {
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
	}
}
