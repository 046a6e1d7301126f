package stomptest

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/madflojo/testcerts"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// NewWebSocketServer serves b over WebSocket until the test ends.
// It returns the ws:// URL of the broker.
func NewWebSocketServer(t testing.TB, b *Broker) string {
	ts := httptest.NewServer(b)
	t.Cleanup(func() {
		b.CloseAll()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// NewWebTransportServer serves b over WebTransport until the test ends.
// The certificate is self-signed; clients must skip verification.
// It returns the https:// URL of the broker.
func NewWebTransportServer(t testing.TB, b *Broker) string {
	certFile, keyFile, err := testcerts.GenerateCertsToTempFile(os.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewUnstartedServer(b)
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatal(err)
	}

	// HTTP/3 listens on UDP, on the same port as the TLS listener.
	wtServer := &webtransport.Server{
		H3:          http3.Server{Addr: ts.Listener.Addr().String(), Handler: b},
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	b.wtServer = wtServer

	ts.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	ts.StartTLS()
	// Returns once the server is closed.
	go wtServer.ListenAndServeTLS(certFile, keyFile)

	t.Cleanup(func() {
		b.CloseAll()
		wtServer.Close()
		ts.Close()
		os.Remove(certFile)
		os.Remove(keyFile)
	})
	return "https://" + ts.Listener.Addr().String()
}
