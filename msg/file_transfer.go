package msg

// FileTransferStart announces an incoming file. Size raw chunk frames
// follow, then a FileTransferEnd.
type FileTransferStart struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (*FileTransferStart) Kind() Type { return TypeFileTransferStart }

// FileTransferEnd closes a file transfer.
type FileTransferEnd struct{}

func (*FileTransferEnd) Kind() Type { return TypeFileTransferEnd }
