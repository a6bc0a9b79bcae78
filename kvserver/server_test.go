package kvserver_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kvs "github.com/lucasalj/kvs"
	"github.com/lucasalj/kvs/kvserver"
	"github.com/lucasalj/kvs/pool"
	"github.com/lucasalj/kvs/wire"
)

func startTestServer(t *testing.T) (addr string, trigger *kvserver.ShutdownTrigger) {
	t.Helper()
	dir := t.TempDir()
	engine, err := kvs.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	p := pool.NewSharedQueue(4)
	t.Cleanup(p.Close)

	srv, trig, err := kvserver.New("127.0.0.1:0", engine, p, kvserver.WithTickPeriod(20*time.Millisecond))
	require.NoError(t, err)

	go func() {
		_ = srv.Serve(trig)
	}()
	t.Cleanup(trig.Trigger)

	return srv.Addr().String(), trig
}

func sendFrame(t *testing.T, addr string, m wire.Message) wire.Message {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, wire.HeaderLen+m.EncodedLen())
	_, err = wire.EncodeFrame(buf, m)
	require.NoError(t, err)
	_, err = conn.Write(buf)
	require.NoError(t, err)

	hdrBuf := make([]byte, wire.HeaderLen)
	_, err = readFull(conn, hdrBuf)
	require.NoError(t, err)
	hdr, err := wire.DecodeHeader(hdrBuf)
	require.NoError(t, err)

	payload := make([]byte, hdr.PayloadLength)
	_, err = readFull(conn, payload)
	require.NoError(t, err)

	resp, err := wire.DecodePayload(payload)
	require.NoError(t, err)
	return resp
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServerSetGetRemove(t *testing.T) {
	addr, _ := startTestServer(t)

	resp := sendFrame(t, addr, wire.ReqSetMsg{Key: "k", Value: "v"})
	require.Equal(t, wire.RespSetMsg{Status: wire.StatusOk}, resp)

	resp = sendFrame(t, addr, wire.ReqGetMsg{Key: "k"})
	v := "v"
	require.Equal(t, wire.RespGetMsg{Status: wire.StatusOk, Value: &v}, resp)

	resp = sendFrame(t, addr, wire.ReqGetMsg{Key: "absent"})
	require.Equal(t, wire.RespGetMsg{Status: wire.StatusOk, Value: nil}, resp)

	resp = sendFrame(t, addr, wire.ReqRemoveMsg{Key: "k"})
	require.Equal(t, wire.RespRemoveMsg{Status: wire.StatusOk}, resp)

	resp = sendFrame(t, addr, wire.ReqRemoveMsg{Key: "k"})
	require.Equal(t, wire.RespRemoveMsg{Status: wire.StatusKeyNotFound}, resp)
}

func TestServerRejectsResponseShapedPayload(t *testing.T) {
	addr, _ := startTestServer(t)
	resp := sendFrame(t, addr, wire.RespSetMsg{Status: wire.StatusOk})
	require.Equal(t, wire.RespSetMsg{Status: wire.StatusFatalError}, resp)
}

func TestServerShutdownStopsAcceptingConnections(t *testing.T) {
	addr, trig := startTestServer(t)
	trig.Trigger()
	time.Sleep(100 * time.Millisecond)

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	require.Error(t, err)
}
