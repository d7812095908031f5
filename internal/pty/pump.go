package pty

import (
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const pumpChunkSize = 1024

// startPump relays r into q until EOF or a read error. The returned
// channel is closed when the pump has exited.
func startPump(r io.Reader, q *outputQueue, log *logrus.Logger, id string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		buf := make([]byte, pumpChunkSize)
		var carry []byte
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...)
				data, carry = splitIncomplete(data)
				if len(data) > 0 {
					q.push(decodeLossy(data))
				}
			}
			if err != nil {
				if len(carry) > 0 {
					q.push(decodeLossy(carry))
				}
				if isHangup(err) {
					log.Debugf("pty: session %s output closed", id)
				} else {
					log.Warnf("pty: session %s read error: %v", id, err)
				}
				return
			}
		}
	}()
	return done
}

// splitIncomplete holds back a trailing, not yet complete UTF-8 sequence
// so that a rune split across two reads is decoded once it is whole.
func splitIncomplete(b []byte) (whole, tail []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		tail = make([]byte, len(b)-i)
		copy(tail, b[i:])
		return b[:i], tail
	}
	return b, nil
}

func decodeLossy(b []byte) string {
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// isHangup reports the ways a PTY master signals that the slave side is
// gone: EOF, or EIO on Linux once the last slave descriptor closes.
func isHangup(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}
