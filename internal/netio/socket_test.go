package netio

import (
	"testing"
	"time"

	"github.com/edgemesh/minmaxk/internal/wire"
)

// openLoopback opens a Socket on an ephemeral port against the loopback
// multicast-capable path; it skips the test if the sandbox lacks IPv6
// multicast support rather than failing the whole suite.
func openLoopback(t *testing.T) *Socket {
	t.Helper()
	sock, err := Open(Config{
		Port:           0,
		MulticastGroup: "ff02::1",
		PollTimeout:    50 * time.Millisecond,
	})
	if err != nil {
		t.Skipf("skipping: environment lacks IPv6 multicast support: %v", err)
	}
	t.Cleanup(func() { _ = sock.Close() })
	return sock
}

func TestSendUnicastAndPoll(t *testing.T) {
	a := openLoopback(t)
	b := openLoopback(t)

	if err := a.SendUnicast(b.LocalAddr(), wire.KindPing); err != nil {
		t.Fatalf("SendUnicast error: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		received, err := b.Poll()
		if err != nil {
			t.Fatalf("Poll error: %v", err)
		}
		for _, r := range received {
			if r.Frame.Kind == wire.KindPing {
				return
			}
		}
	}
	t.Fatalf("did not receive ping frame within deadline")
}
