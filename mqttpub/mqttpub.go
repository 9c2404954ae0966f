// Package mqttpub publishes tracker output to an MQTT broker
package mqttpub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/syringelab/flowtrack/adns3080"
	"github.com/syringelab/flowtrack/tracker"
)

// QoS is the quality of service used for every message
const QoS = 1

// ConnectTimeout bounds the initial connection to the broker
const ConnectTimeout = 5 * time.Second

// ErrNoBroker is generated when New is called without a broker address
var ErrNoBroker = errors.New("mqttpub: no broker configured")

// Config describes the broker connection
type Config struct {
	// Broker is a URL such as tcp://localhost:1883.  Empty disables MQTT.
	Broker   string `yaml:"broker" koanf:"broker"`
	ClientID string `yaml:"client_id" koanf:"client_id"`

	// Topic is the prefix for every topic published
	Topic string `yaml:"topic" koanf:"topic"`
}

// DefaultConfig publishes under flowtrack/ once a broker is set
func DefaultConfig() Config {
	return Config{ClientID: "flowtrack", Topic: "flowtrack"}
}

type position struct {
	Session string    `json:"session"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	DX      int       `json:"dx"`
	DY      int       `json:"dy"`
	Quality byte      `json:"quality"`
	Time    time.Time `json:"time"`
}

type frame struct {
	Session  string    `json:"session"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Pixels   []uint8   `json:"pixels"`
	Checksum uint16    `json:"checksum"`
	Time     time.Time `json:"time"`
}

type mode struct {
	Session string    `json:"session"`
	Mode    string    `json:"mode"`
	Time    time.Time `json:"time"`
}

// Publisher is a tracker.Display that sends everything it is shown to a broker
type Publisher struct {
	topic   string
	session string
	client  mqtt.Client
	publish func(topic string, payload []byte) error

	mu       sync.Mutex
	lastCRC  uint16
	haveCRC  bool
	sent     uint64
	dropped  uint64
	lastWarn time.Time
}

func newPublisher(topic, session string, publish func(string, []byte) error) *Publisher {
	return &Publisher{topic: topic, session: session, publish: publish}
}

// New connects to the broker.  Publishing never blocks the caller; delivery
// failures are logged.
func New(cfg Config, session string) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqttpub: connection lost: %v", err)
	})
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		return nil, fmt.Errorf("mqttpub: connecting to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttpub: connecting to %s: %w", cfg.Broker, err)
	}
	log.Printf("mqttpub: connected to %s as %s", cfg.Broker, cfg.ClientID)
	p := newPublisher(cfg.Topic, session, nil)
	p.client = c
	p.publish = func(topic string, payload []byte) error {
		// async; the token is checked only for an immediate failure
		t := c.Publish(topic, QoS, false, payload)
		select {
		case <-t.Done():
			return t.Error()
		default:
			return nil
		}
	}
	return p, nil
}

// OnModeRequest subscribes to <topic>/mode/set.  A payload of image or motion calls fn.
func (p *Publisher) OnModeRequest(fn func(tracker.Mode)) error {
	if p.client == nil {
		return ErrNoBroker
	}
	t := p.client.Subscribe(p.topic+"/mode/set", QoS, func(_ mqtt.Client, msg mqtt.Message) {
		m, err := tracker.ParseMode(string(msg.Payload()))
		if err != nil {
			log.Printf("mqttpub: %s: %v", msg.Topic(), err)
			return
		}
		fn(m)
	})
	t.WaitTimeout(ConnectTimeout)
	return t.Error()
}

func (p *Publisher) send(sub string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("mqttpub: encoding %s: %v", sub, err)
		return
	}
	err = p.publish(p.topic+"/"+sub, b)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.dropped++
		// one line per second at most while the broker is away
		if time.Since(p.lastWarn) > time.Second {
			log.Printf("mqttpub: publish %s: %v (%d dropped)", sub, err, p.dropped)
			p.lastWarn = time.Now()
		}
		return
	}
	p.sent++
}

// ShowFrame implements tracker.Display.  Frames identical to the previous one are not sent.
func (p *Publisher) ShowFrame(f adns3080.Frame) {
	sum := f.Checksum()
	p.mu.Lock()
	if p.haveCRC && sum == p.lastCRC {
		p.mu.Unlock()
		return
	}
	p.lastCRC, p.haveCRC = sum, true
	p.mu.Unlock()
	p.send("frame", frame{
		Session:  p.session,
		Width:    adns3080.PixelsX,
		Height:   adns3080.PixelsY,
		Pixels:   f.Flat(),
		Checksum: sum,
		Time:     f.Captured,
	})
}

// ShowPosition implements tracker.Display
func (p *Publisher) ShowPosition(pos tracker.Position, s adns3080.MotionSample) {
	p.send("position", position{
		Session: p.session,
		X:       pos.X,
		Y:       pos.Y,
		DX:      s.DX,
		DY:      s.DY,
		Quality: s.SurfaceQuality,
		Time:    time.Now(),
	})
}

// ShowMode implements tracker.Display
func (p *Publisher) ShowMode(m tracker.Mode) {
	p.mu.Lock()
	p.haveCRC = false
	p.mu.Unlock()
	p.send("mode", mode{Session: p.session, Mode: m.String(), Time: time.Now()})
}

// Sent returns the number of messages handed to the broker and the number that failed
func (p *Publisher) Sent() (sent, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.dropped
}

// Close disconnects from the broker
func (p *Publisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	return nil
}
