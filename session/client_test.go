package session

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/earshot/blocksource"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/transfer/transfertest"
	"github.com/justapithecus/earshot/types"
)

func newTestClient(t *testing.T, sender *transfertest.Sender, c *metrics.Collector) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Sender:        sender,
		BlockSize:     64,
		ProbeInterval: 5 * time.Millisecond,
		MinBackoff:    time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		Collector:     c,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClient_ConnectEmitsEvent(t *testing.T) {
	sender := transfertest.NewSender()
	c := metrics.NewCollector("test", "", "memory", "")
	client := newTestClient(t, sender, c)

	connected := NewSignal()
	client.OnEvent(func(e Event) {
		if e.State == types.ConnectionConnected {
			connected.Fire()
		}
	})

	if client.IsConnected() {
		t.Fatal("connected before Connect")
	}
	if err := client.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := connected.Wait(t.Context()); err != nil {
		t.Fatal(err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after connected event")
	}
	if c.Snapshot().ConnectEvents != 1 {
		t.Errorf("ConnectEvents = %d, want 1", c.Snapshot().ConnectEvents)
	}
}

func TestClient_DisconnectAndReconnect(t *testing.T) {
	sender := transfertest.NewSender()
	client := newTestClient(t, sender, nil)

	var mu sync.Mutex
	var states []types.ConnectionState
	client.OnEvent(func(e Event) {
		mu.Lock()
		states = append(states, e.State)
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(states)
	}

	if err := client.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return count() >= 1 })

	sender.SetProbeErr(errors.New("endpoint down"))
	waitFor(t, func() bool { return count() >= 2 })
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed probe")
	}

	sender.SetProbeErr(nil)
	waitFor(t, func() bool { return count() >= 3 })

	mu.Lock()
	defer mu.Unlock()
	want := []types.ConnectionState{types.ConnectionConnected, types.ConnectionDisconnected, types.ConnectionConnected}
	for i, s := range want {
		if states[i] != s {
			t.Errorf("states[%d] = %v, want %v", i, states[i], s)
		}
	}
}

func TestClient_UploadRequiresConnection(t *testing.T) {
	sender := transfertest.NewSender()
	sender.ProbeErr = errors.New("down")
	client := newTestClient(t, sender, nil)

	src := blocksource.New(io.NopCloser(bytes.NewReader([]byte("x"))))
	if _, err := client.UploadBlockwise(t.Context(), "a.wav", "application/octet-stream", src); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if len(sender.Uploads()) != 0 {
		t.Error("upload started while disconnected")
	}
}

func TestClient_UploadBlockwise(t *testing.T) {
	sender := transfertest.NewSender()
	client := newTestClient(t, sender, nil)
	if err := client.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, client.IsConnected)

	data := bytes.Repeat([]byte{1}, 200)
	res, err := client.UploadBlockwise(t.Context(), "a.wav", "application/octet-stream", blocksource.New(io.NopCloser(bytes.NewReader(data))))
	if err != nil {
		t.Fatalf("UploadBlockwise() error = %v", err)
	}
	if res.Blocks != 4 || res.Bytes != 200 {
		t.Errorf("Result = %+v", res)
	}
	if u := sender.Uploads()[0]; !u.Committed || u.BlockSize != 64 {
		t.Errorf("upload = %+v", u)
	}
}

func TestClient_Close(t *testing.T) {
	sender := transfertest.NewSender()
	client := newTestClient(t, sender, nil)
	if err := client.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if err := client.Connect(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
	probes := sender.Probes()
	time.Sleep(20 * time.Millisecond)
	if sender.Probes() != probes {
		t.Error("probe loop still running after Close")
	}
}
