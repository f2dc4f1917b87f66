package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/logger"
)

// fakeRelay принимает одно соединение и отвечает на команды как релей
// без STARTTLS и авторизации. Полученные команды уходят в канал.
func fakeRelay(t *testing.T) (host, port string, cmds <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		w := bufio.NewWriter(conn)
		reply := func(s string) {
			w.WriteString(s + "\r\n")
			w.Flush()
		}
		reply("220 relay.local ESMTP")
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.Fields(line + " x")[0])
			out <- cmd
			switch cmd {
			case "EHLO":
				reply("250-relay.local")
				reply("250 8BITMIME")
			case "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()

	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port, out
}

func TestTransport_From(t *testing.T) {
	tr := NewTransport(config.SMTP{User: "robot@example.com"}, logger.Discard())
	assert.Equal(t, "robot@example.com", tr.From())

	tr = NewTransport(config.SMTP{User: "robot@example.com", From: "noreply@example.com"}, logger.Discard())
	assert.Equal(t, "noreply@example.com", tr.From())
}

func TestTransport_ConnectPlainRelay(t *testing.T) {
	host, port, cmds := fakeRelay(t)
	tr := NewTransport(config.SMTP{Host: host, Port: port, Security: config.SMTPNone, Timeout: time.Second}, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := tr.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Mail("noreply@example.com"))
	assert.Equal(t, "EHLO", <-cmds)
	assert.Equal(t, "MAIL", <-cmds)
	require.NoError(t, client.Quit())
}

func TestTransport_StartTLSRequired(t *testing.T) {
	host, port, _ := fakeRelay(t)
	tr := NewTransport(config.SMTP{Host: host, Port: port, Security: config.SMTPStartTLS, Timeout: time.Second}, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := tr.Connect(ctx)
	assert.ErrorIs(t, err, errNoStartTLS)
}

func TestTransport_CancelledContext(t *testing.T) {
	tr := NewTransport(config.SMTP{Host: "127.0.0.1", Port: "1", Security: config.SMTPNone, Timeout: time.Second}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Connect(ctx)
	assert.Error(t, err)
}
