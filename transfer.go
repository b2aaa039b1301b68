package pycluster

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/krishnasharma0101/pycluster/msg"
	"github.com/krishnasharma0101/pycluster/wire"
)

// SendFile copies a file over the channel: a file_transfer_start message,
// the content as raw encrypted chunk frames, then a file_transfer_end.
func SendFile(ch *wire.Channel, path string, chunkSize int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	err = ch.Send(&msg.FileTransferStart{
		Filename: filepath.Base(path),
		Size:     info.Size(),
	})
	if err != nil {
		return err
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if err := ch.SendRaw(buf[:n]); err != nil {
				return err
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return ch.Send(&msg.FileTransferEnd{})
}

// ReceiveFile receives one file sent with SendFile and writes it to
// savePath. The counterpart's announced size bounds the chunk loop.
func ReceiveFile(ch *wire.Channel, savePath string) error {
	m, err := ch.Receive()
	if err != nil {
		return err
	}
	start, ok := m.(*msg.FileTransferStart)
	if !ok {
		return fmt.Errorf("pycluster: expected file transfer start, got %q", string(m.Kind()))
	}

	f, err := os.Create(savePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var received int64
	for received < start.Size {
		chunk, err := ch.ReceiveRaw()
		if err != nil {
			return err
		}
		if _, err := f.Write(chunk); err != nil {
			return err
		}
		received += int64(len(chunk))
	}

	m, err = ch.Receive()
	if err != nil {
		return err
	}
	if _, ok := m.(*msg.FileTransferEnd); !ok {
		return errors.New("pycluster: expected file transfer end")
	}
	return nil
}
