package main

import (
	"net"
	"time"

	"github.com/lanefold/proxyproto"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	conn, err := net.DialTimeout("tcp", "127.0.0.1:9090", time.Second*5)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	addresses := proxyproto.NewIPv4(
		[4]byte{127, 0, 0, 1},
		[4]byte{127, 0, 0, 2},
		12345, 9090,
	)

	client := proxyproto.NewClientProxyConn(conn, proxyproto.SOCK_STREAM, addresses)
	if _, err := client.Write([]byte("hello through the proxy\n")); err != nil {
		logger.Fatal("write", zap.Error(err))
	}

	buf := make([]byte, 512)
	n, err := client.Read(buf)
	if err != nil {
		logger.Fatal("read", zap.Error(err))
	}
	logger.Info("echoed", zap.ByteString("payload", buf[:n]))
}
