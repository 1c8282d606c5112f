package main

import (
	"io"
	"net"

	"github.com/lanefold/proxyproto"
	"github.com/sirupsen/logrus"
)

func main() {
	ln, err := net.Listen("tcp", "127.0.0.1:9090")
	if err != nil {
		logrus.Fatal(err)
	}

	proxyListener := proxyproto.NewListener(ln,
		proxyproto.WithPostReadHeader(func(result proxyproto.HeaderResult, err error) {
			if err != nil {
				logrus.WithError(err).Warn("read header")
			}
		}),
	)
	for {
		conn, err := proxyListener.Accept()
		if err != nil {
			logrus.Println(err)
			continue
		}

		go serve(conn.(*proxyproto.Conn))
	}
}

func serve(conn *proxyproto.Conn) {
	defer conn.Close()

	if err := conn.Err(); err != nil {
		logrus.WithError(err).Warn("drop connection")
		return
	}
	logrus.WithFields(conn.LogrusFields()).Info("accepted")

	// echo the application bytes back to the true client
	if _, err := io.Copy(conn, conn); err != nil {
		logrus.WithError(err).Warn("echo")
	}
}
