package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

// recordingWriter captures points instead of batching them to a server.
type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

func (w *recordingWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.points))
	for _, p := range w.points {
		out = append(out, write.PointToLineProtocol(p, time.Nanosecond))
	}
	return out
}

func newRecordingClient() (*Client, *recordingWriter) {
	w := &recordingWriter{}
	c := &Client{writer: w}
	c.connected.Store(true)
	return c, w
}

// fakeInflux answers /ping and accepts writes, keeping the request bodies.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/write") {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeInflux) received() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "devicehub-test-token",
		Org:           "devicehub",
		Bucket:        "telemetry",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := Connect(testConfig(url)); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_WritesReachServer(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BatchSize = 0 // defaults apply
	cfg.FlushInterval = -1

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.WriteDriverCount("cooler", 3, time.Unix(1700000000, 0))
	client.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(fake.received(), "driver_registry,category=cooler count=3i") {
		if time.Now().After(deadline) {
			t.Fatalf("server never received point; got %q", fake.received())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWriters_LineProtocol(t *testing.T) {
	at := time.Unix(1700000000, 0)
	power := uint8(40)

	tests := []struct {
		name  string
		write func(*Client)
		want  []string
		not   []string
	}{
		{
			name:  "cooling with power",
			write: func(c *Client) { c.WriteCoolingUpdate("dev-1", "pump", "manual", &power, at) },
			want:  []string{"cooling,cooler_id=pump,device_id=dev-1", `mode="manual"`, "power_percent=40i"},
		},
		{
			name:  "cooling without power",
			write: func(c *Client) { c.WriteCoolingUpdate("dev-1", "fan", "automatic", nil, at) },
			want:  []string{"cooler_id=fan", `mode="automatic"`},
			not:   []string{"power_percent"},
		},
		{
			name:  "power setting",
			write: func(c *Client) { c.WritePowerSetting("mouse", "idle_timer_seconds", 300, at) },
			want:  []string{"power_settings,device_id=mouse,setting=idle_timer_seconds", "value=300"},
		},
		{
			name:  "sensor configuration",
			write: func(c *Client) { c.WriteSensorConfiguration("psu", "temp", true, at) },
			want:  []string{"sensor_configuration,device_id=psu,sensor_id=temp", "favorite=true"},
		},
		{
			name:  "archive version",
			write: func(c *Client) { c.WriteArchiveVersion("Sensors", "vendor", 7, at) },
			want:  []string{"metadata_archives,category=Sensors,source=vendor", "version=7i"},
		},
		{
			name:  "queue drops",
			write: func(c *Client) { c.WriteQueueDrops("drivers", 12, at) },
			want:  []string{"notify_queue,channel=drivers", "dropped=12i"},
		},
		{
			name: "custom point",
			write: func(c *Client) {
				c.WritePointWithTime("system_stats", map[string]string{"host": "hub"}, map[string]any{"goroutines": 9}, at)
			},
			want: []string{"system_stats,host=hub", "goroutines=9i"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, w := newRecordingClient()
			tt.write(client)

			lines := w.lines()
			if len(lines) != 1 {
				t.Fatalf("got %d points, want 1", len(lines))
			}
			for _, s := range tt.want {
				if !strings.Contains(lines[0], s) {
					t.Errorf("line %q missing %q", lines[0], s)
				}
			}
			for _, s := range tt.not {
				if strings.Contains(lines[0], s) {
					t.Errorf("line %q should not contain %q", lines[0], s)
				}
			}
		})
	}
}

func TestClose_StopsWrites(t *testing.T) {
	client, w := newRecordingClient()

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes on close = %d, want 1", w.flushes)
	}

	client.WriteQueueDrops("drivers", 1, time.Now())
	client.Flush()
	if len(w.lines()) != 0 {
		t.Error("write after Close() should be dropped")
	}
	if w.flushes != 1 {
		t.Error("Flush() after Close() should be a no-op")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	// Second close is harmless.
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on empty client error = %v", err)
	}
}

func TestSetOnError(t *testing.T) {
	client, _ := newRecordingClient()

	got := make(chan error, 1)
	client.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("write rejected")
	close(errs)
	client.forwardErrors(errs)

	select {
	case err := <-got:
		if err.Error() != "write rejected" {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Error("error callback not invoked")
	}
}
